package types

import "time"

// Severity classifies findings and alerts. Ordered: low < medium < high.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns the ordinal position of a severity for escalation comparison.
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Alert type identifiers.
const (
	AlertDomainExpiry    = "domain_expiry"
	AlertSSLExpiry       = "ssl_expiry"
	AlertUptimeDown      = "uptime_down"
	AlertRenewalReminder = "renewal_reminder"
	AlertHeartbeatMissed = "heartbeat_missed"
)

// ServiceType describes what kind of thing a service record points at.
type ServiceType string

const (
	ServiceDomain  ServiceType = "domain"
	ServiceSSL     ServiceType = "ssl-certificate"
	ServiceWebsite ServiceType = "website"
	ServiceEmail   ServiceType = "email"
	ServiceOther   ServiceType = "other"
)

// Service status values, set by the operator in the record-management layer.
const (
	StatusActive = "active"
	StatusPaused = "paused"
	StatusDown   = "down"
)

// Service is a read-only descriptor of a monitored billable service.
// Records are owned by the CRUD collaborator; the monitoring core never
// mutates them.
type Service struct {
	ID           string      `json:"id"`
	Type         ServiceType `json:"type"`
	Target       string      `json:"target"`
	URL          string      `json:"url,omitempty"`
	Status       string      `json:"status"`
	SSLExpiry    *time.Time  `json:"ssl_expiry,omitempty"`
	DomainExpiry *time.Time  `json:"domain_expiry,omitempty"`
}

// Subject identifies what an alert is about: a service, optionally narrowed
// to a sub-resource such as a heartbeat monitor.
type Subject struct {
	ServiceID string `json:"service_id"`
	MonitorID string `json:"monitor_id,omitempty"`
}

// Key returns the deduplication key fragment for this subject.
func (s Subject) Key() string {
	if s.MonitorID == "" {
		return s.ServiceID
	}
	return s.ServiceID + "/" + s.MonitorID
}

// Finding is an ephemeral evaluation result. It is consumed immediately by
// the alert store and never persisted on its own.
type Finding struct {
	Subject   Subject   `json:"subject"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert states.
const (
	AlertOpen     = "open"
	AlertResolved = "resolved"
)

// Alert is a persisted, deduplicated record of a problem. At most one open
// alert exists per (subject, type) pair at any time.
type Alert struct {
	ID         string     `json:"id"`
	Subject    Subject    `json:"subject"`
	Type       string     `json:"type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	State      string     `json:"state"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
