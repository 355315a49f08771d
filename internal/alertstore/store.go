// Package alertstore owns alert records: deduplicated creation, in-place
// updates for re-detected conditions, and resolution transitions. No other
// component mutates alert state.
package alertstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/watchpost/watchpost/internal/types"
)

// ErrNotFound is returned when an alert id does not exist.
var ErrNotFound = errors.New("alert not found")

// UpsertResult reports what an upsert did. Only fresh creations and severity
// escalations should trigger a new notification.
type UpsertResult struct {
	Alert     types.Alert
	Created   bool
	Escalated bool
}

// Store holds alert records keyed by (subject, alert type). Implementations
// must guarantee at most one open alert per key under concurrent upserts.
type Store interface {
	// Upsert updates the open alert for the finding's (subject, type) in
	// place, or creates one if none is open.
	Upsert(ctx context.Context, f types.Finding) (UpsertResult, error)

	// Resolve marks an alert resolved. Resolving an already-resolved alert
	// is a no-op, not an error.
	Resolve(ctx context.Context, id string) (types.Alert, error)

	// ResolveOpen resolves the open alert for (subject, alertType), if any.
	ResolveOpen(ctx context.Context, subject types.Subject, alertType string) error

	// ListOpen returns open alerts, optionally filtered by subject.
	ListOpen(ctx context.Context, subject *types.Subject) ([]types.Alert, error)

	// ListBySeverity returns open alerts of the given severity.
	ListBySeverity(ctx context.Context, severity types.Severity) ([]types.Alert, error)

	// Get returns an alert by id.
	Get(ctx context.Context, id string) (types.Alert, error)
}

// dedupKey is the map/index key enforcing the one-open-alert invariant.
func dedupKey(subject types.Subject, alertType string) string {
	return subject.Key() + "|" + alertType
}

func newAlertID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "al_" + time.Now().UTC().Format("20060102150405.000000000")
	}
	return "al_" + hex.EncodeToString(b)
}
