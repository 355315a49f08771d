// Package heartbeat implements the dead-man's-switch for external jobs:
// each registered monitor must check in within its expected interval, with a
// grace period absorbing normal jitter.
package heartbeat

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/types"
)

// State is the derived liveness of a monitor, computed lazily from elapsed
// time since the last check-in.
type State string

const (
	StatePaused  State = "paused"
	StateHealthy State = "healthy"
	StateLate    State = "late"
	StateMissed  State = "missed"
)

var (
	// ErrNotFound is returned for unknown monitor ids.
	ErrNotFound = errors.New("monitor not found")
	// ErrInvalidToken is deliberately generic: a failed ping discloses
	// nothing that would aid token guessing.
	ErrInvalidToken = errors.New("invalid token")
)

// Monitor is an operator-declared heartbeat job.
type Monitor struct {
	ID          string        `json:"id"`
	ServiceID   string        `json:"service_id"`
	Name        string        `json:"name"`
	Interval    time.Duration `json:"expected_interval"`
	Grace       time.Duration `json:"grace_period"`
	LastCheckIn *time.Time    `json:"last_check_in,omitempty"`
	Paused      bool          `json:"paused"`
}

// Subject returns the alert subject for this monitor.
func (m Monitor) Subject() types.Subject {
	return types.Subject{ServiceID: m.ServiceID, MonitorID: m.ID}
}

// AlertResolver clears the open heartbeat_missed alert when a monitor
// recovers. Satisfied by the alert store.
type AlertResolver interface {
	ResolveOpen(ctx context.Context, subject types.Subject, alertType string) error
}

// entry pairs a monitor with its own lock: ping and token rotation race, so
// each monitor is single-writer. Pings on different monitors are independent.
type entry struct {
	mu    sync.Mutex
	m     Monitor
	token string
}

// Registry tracks heartbeat monitors and evaluates their liveness.
type Registry struct {
	log      zerolog.Logger
	resolver AlertResolver
	now      func() time.Time

	mu       sync.RWMutex
	monitors map[string]*entry
}

// NewRegistry creates a Registry. resolver may be nil, in which case
// recoveries do not clear alerts (useful in tests).
func NewRegistry(log zerolog.Logger, resolver AlertResolver) *Registry {
	return &Registry{
		log:      log.With().Str("component", "heartbeat").Logger(),
		resolver: resolver,
		now:      time.Now,
		monitors: make(map[string]*entry),
	}
}

// Register adds a monitor and returns its check-in token. A monitor with no
// token gets a freshly generated one.
func (r *Registry) Register(m Monitor) (string, error) {
	if m.ID == "" || m.ServiceID == "" {
		return "", fmt.Errorf("monitor id and service id are required")
	}
	if m.Interval <= 0 {
		return "", fmt.Errorf("monitor %s: expected interval must be positive", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.monitors[m.ID]; exists {
		return "", fmt.Errorf("monitor %s already registered", m.ID)
	}

	token := newToken()
	r.monitors[m.ID] = &entry{m: m, token: token}
	r.log.Info().Str("monitor", m.ID).Str("service", m.ServiceID).
		Dur("interval", m.Interval).Dur("grace", m.Grace).Msg("monitor registered")
	return token, nil
}

// Get returns a snapshot of a monitor.
func (r *Registry) Get(id string) (Monitor, error) {
	e, err := r.entry(id)
	if err != nil {
		return Monitor{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, nil
}

// List returns snapshots of all monitors.
func (r *Registry) List() []Monitor {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.monitors))
	for _, e := range r.monitors {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Monitor, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.m)
		e.mu.Unlock()
	}
	return out
}

// StateOf derives the liveness state of a monitor at the current time.
func (r *Registry) StateOf(id string) (State, error) {
	e, err := r.entry(id)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return stateAt(e.m, r.now()), nil
}

// Evaluate derives a monitor's state and, when it is MISSED, the matching
// finding. LATE is exposed for display but produces no finding.
func (r *Registry) Evaluate(id string) (State, *types.Finding, error) {
	e, err := r.entry(id)
	if err != nil {
		return "", nil, err
	}
	e.mu.Lock()
	m := e.m
	e.mu.Unlock()

	now := r.now()
	state := stateAt(m, now)
	if state != StateMissed {
		return state, nil, nil
	}
	return state, &types.Finding{
		Subject:   m.Subject(),
		Type:      types.AlertHeartbeatMissed,
		Severity:  types.SeverityHigh,
		Message:   fmt.Sprintf("Job '%s' has not reported in time", m.Name),
		Timestamp: now,
	}, nil
}

// EvaluateAll evaluates every monitor and returns the findings for those
// that have missed their window.
func (r *Registry) EvaluateAll() []types.Finding {
	var findings []types.Finding
	for _, m := range r.List() {
		_, f, err := r.Evaluate(m.ID)
		if err != nil {
			continue
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings
}

// Ping records a check-in presented with a bearer token. On an exact token
// match it sets last-check-in to now and clears any open heartbeat_missed
// alert for the monitor. On mismatch nothing is mutated.
func (r *Registry) Ping(ctx context.Context, token string) (Monitor, error) {
	e := r.findByToken(token)
	if e == nil {
		return Monitor{}, ErrInvalidToken
	}

	e.mu.Lock()
	// Re-check under the entry lock: the token may have rotated between
	// lookup and lock acquisition.
	if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) != 1 {
		e.mu.Unlock()
		return Monitor{}, ErrInvalidToken
	}
	now := r.now()
	e.m.LastCheckIn = &now
	m := e.m
	e.mu.Unlock()

	r.log.Debug().Str("monitor", m.ID).Msg("heartbeat received")

	if r.resolver != nil {
		if err := r.resolver.ResolveOpen(ctx, m.Subject(), types.AlertHeartbeatMissed); err != nil {
			r.log.Error().Err(err).Str("monitor", m.ID).Msg("failed to clear heartbeat alert")
		}
	}
	return m, nil
}

// RotateToken replaces a monitor's secret, invalidating the previous one
// immediately. Last-check-in and alert state are untouched. The new token is
// returned once, for display only.
func (r *Registry) RotateToken(id string) (string, error) {
	e, err := r.entry(id)
	if err != nil {
		return "", err
	}
	token := newToken()
	e.mu.Lock()
	e.token = token
	e.mu.Unlock()
	r.log.Info().Str("monitor", id).Msg("token rotated")
	return token, nil
}

// SetPaused flips the operator pause flag. Paused monitors are never
// evaluated.
func (r *Registry) SetPaused(id string, paused bool) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.m.Paused = paused
	e.mu.Unlock()
	return nil
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.monitors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (r *Registry) findByToken(token string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *entry
	// Compare against every entry so lookup time does not depend on which
	// monitor, if any, the token belongs to.
	for _, e := range r.monitors {
		e.mu.Lock()
		if subtle.ConstantTimeCompare([]byte(e.token), []byte(token)) == 1 {
			found = e
		}
		e.mu.Unlock()
	}
	return found
}

// stateAt derives liveness from elapsed time. A monitor that has never
// checked in counts as elapsed forever, hence missed.
func stateAt(m Monitor, now time.Time) State {
	if m.Paused {
		return StatePaused
	}
	if m.LastCheckIn == nil {
		return StateMissed
	}
	elapsed := now.Sub(*m.LastCheckIn)
	switch {
	case elapsed <= m.Interval:
		return StateHealthy
	case elapsed <= m.Interval+m.Grace:
		return StateLate
	default:
		return StateMissed
	}
}

func newToken() string {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(b)
}
