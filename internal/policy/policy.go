// Package policy holds the pure threshold evaluators that turn a
// point-in-time fact (an expiry date) into zero or one finding.
package policy

import (
	"fmt"
	"time"

	"github.com/watchpost/watchpost/internal/types"
)

// Family selects which expiry alert a date belongs to.
type Family string

const (
	FamilyDomain Family = "domain"
	FamilySSL    Family = "ssl"
)

// Expiry thresholds in days.
const (
	expiryHighDays   = 7
	expiryMediumDays = 30
)

// reminderDays are the exact day offsets on which a renewal reminder fires.
// This is a one-shot reminder, not a range: day 8 is silent.
var reminderDays = map[int]struct{}{7: {}, 14: {}, 30: {}}

// DaysUntil returns the number of days from now to target, rounded up.
// A target equal to now counts as day 0 (expired).
func DaysUntil(now, target time.Time) int {
	d := target.Sub(now)
	days := int(d / (24 * time.Hour))
	if d > 0 && d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// EvaluateExpiry checks an expiry date against the alerting thresholds.
// It returns nil when the date is unset or more than 30 days away.
func EvaluateExpiry(subject types.Subject, label string, target *time.Time, family Family, now time.Time) *types.Finding {
	if target == nil {
		return nil
	}

	days := DaysUntil(now, *target)
	if days > expiryMediumDays {
		return nil
	}

	alertType := types.AlertDomainExpiry
	noun := "Domain " + label
	if family == FamilySSL {
		alertType = types.AlertSSLExpiry
		noun = "SSL certificate for " + label
	}

	f := &types.Finding{
		Subject:   subject,
		Type:      alertType,
		Timestamp: now,
	}

	switch {
	case days <= 0:
		f.Severity = types.SeverityHigh
		f.Message = fmt.Sprintf("%s has expired", noun)
	case days <= expiryHighDays:
		f.Severity = types.SeverityHigh
		f.Message = fmt.Sprintf("%s will expire in %d days", noun, days)
	default:
		f.Severity = types.SeverityMedium
		f.Message = fmt.Sprintf("%s will expire in %d days", noun, days)
	}
	return f
}

// EvaluateRenewalReminder emits a low-severity informational finding only
// when the renewal date is exactly 7, 14 or 30 days out. Repeated calls on
// the same day produce the same finding; deduplication is the alert store's
// concern.
func EvaluateRenewalReminder(subject types.Subject, label string, target *time.Time, now time.Time) *types.Finding {
	if target == nil {
		return nil
	}

	days := DaysUntil(now, *target)
	if _, ok := reminderDays[days]; !ok {
		return nil
	}

	return &types.Finding{
		Subject:   subject,
		Type:      types.AlertRenewalReminder,
		Severity:  types.SeverityLow,
		Message:   fmt.Sprintf("Reminder: %s renewal is due in %d days", label, days),
		Timestamp: now,
	}
}
