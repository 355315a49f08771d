package alertstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/watchpost/watchpost/internal/types"
)

// SQLite is a Store backed by a sqlite database file, so alert history
// survives restarts. Writes go through a single mutex rather than relying on
// ON CONFLICT semantics: the one-open-alert invariant holds the same way it
// does for the in-memory store.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLite opens (and if needed creates) the database at path.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path))
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS alerts (
	id          TEXT PRIMARY KEY,
	service_id  TEXT NOT NULL,
	monitor_id  TEXT NOT NULL DEFAULT '',
	alert_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	state       TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	resolved_at TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_key
	ON alerts (service_id, monitor_id, alert_type) WHERE state = 'open';
CREATE INDEX IF NOT EXISTS idx_alerts_service ON alerts (service_id, created_at DESC);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLite) Upsert(ctx context.Context, f types.Finding) (UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()

	existing, err := s.openAlert(ctx, f.Subject, f.Type)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return UpsertResult{}, err
	}

	if err == nil {
		escalated := f.Severity.Rank() > existing.Severity.Rank()
		existing.Severity = f.Severity
		existing.Message = f.Message
		existing.UpdatedAt = now
		_, err = s.db.ExecContext(ctx,
			`UPDATE alerts SET severity = ?, message = ?, updated_at = ? WHERE id = ?`,
			string(f.Severity), f.Message, fmtTime(now), existing.ID)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to update alert: %w", err)
		}
		return UpsertResult{Alert: existing, Escalated: escalated}, nil
	}

	a := types.Alert{
		ID:        newAlertID(),
		Subject:   f.Subject,
		Type:      f.Type,
		Severity:  f.Severity,
		Message:   f.Message,
		State:     types.AlertOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, service_id, monitor_id, alert_type, severity, message, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Subject.ServiceID, a.Subject.MonitorID, a.Type, string(a.Severity), a.Message, a.State,
		fmtTime(a.CreatedAt), fmtTime(a.UpdatedAt))
	if err != nil {
		return UpsertResult{}, fmt.Errorf("failed to insert alert: %w", err)
	}
	return UpsertResult{Alert: a, Created: true}, nil
}

func (s *SQLite) Resolve(ctx context.Context, id string) (types.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.get(ctx, id)
	if err != nil {
		return types.Alert{}, err
	}
	if a.State == types.AlertResolved {
		return a, nil
	}

	now := s.now().UTC()
	a.State = types.AlertResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`UPDATE alerts SET state = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		a.State, fmtTime(now), fmtTime(now), id)
	if err != nil {
		return types.Alert{}, fmt.Errorf("failed to resolve alert: %w", err)
	}
	return a, nil
}

func (s *SQLite) ResolveOpen(ctx context.Context, subject types.Subject, alertType string) error {
	s.mu.Lock()
	a, err := s.openAlert(ctx, subject, alertType)
	s.mu.Unlock()
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.Resolve(ctx, a.ID)
	return err
}

func (s *SQLite) ListOpen(ctx context.Context, subject *types.Subject) ([]types.Alert, error) {
	query := `SELECT id, service_id, monitor_id, alert_type, severity, message, state, created_at, updated_at, resolved_at
		FROM alerts WHERE state = 'open'`
	args := []any{}
	if subject != nil {
		query += ` AND service_id = ? AND monitor_id = ?`
		args = append(args, subject.ServiceID, subject.MonitorID)
	}
	query += ` ORDER BY created_at DESC`
	return s.queryAlerts(ctx, query, args...)
}

func (s *SQLite) ListBySeverity(ctx context.Context, severity types.Severity) ([]types.Alert, error) {
	return s.queryAlerts(ctx,
		`SELECT id, service_id, monitor_id, alert_type, severity, message, state, created_at, updated_at, resolved_at
		 FROM alerts WHERE state = 'open' AND severity = ? ORDER BY created_at DESC`,
		string(severity))
}

func (s *SQLite) Get(ctx context.Context, id string) (types.Alert, error) {
	return s.get(ctx, id)
}

func (s *SQLite) openAlert(ctx context.Context, subject types.Subject, alertType string) (types.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, monitor_id, alert_type, severity, message, state, created_at, updated_at, resolved_at
		 FROM alerts WHERE service_id = ? AND monitor_id = ? AND alert_type = ? AND state = 'open'`,
		subject.ServiceID, subject.MonitorID, alertType)
	return scanAlert(row)
}

func (s *SQLite) get(ctx context.Context, id string) (types.Alert, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, service_id, monitor_id, alert_type, severity, message, state, created_at, updated_at, resolved_at
		 FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

func (s *SQLite) queryAlerts(ctx context.Context, query string, args ...any) ([]types.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (types.Alert, error) {
	var a types.Alert
	var severity, createdAt, updatedAt string
	var resolvedAt sql.NullString
	err := row.Scan(&a.ID, &a.Subject.ServiceID, &a.Subject.MonitorID, &a.Type,
		&severity, &a.Message, &a.State, &createdAt, &updatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Alert{}, ErrNotFound
	}
	if err != nil {
		return types.Alert{}, fmt.Errorf("failed to scan alert: %w", err)
	}
	a.Severity = types.Severity(severity)
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	if resolvedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, resolvedAt.String)
		a.ResolvedAt = &t
	}
	return a, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
