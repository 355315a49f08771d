package alertstore

import (
	"context"
	"sync"
	"time"

	"github.com/watchpost/watchpost/internal/types"
)

// Memory is an in-memory Store. The single mutex makes every upsert atomic
// per key: the first concurrent writer creates, the rest update.
type Memory struct {
	mu        sync.RWMutex
	alerts    map[string]*types.Alert // by id
	openByKey map[string]string       // dedup key -> open alert id
	now       func() time.Time        // injectable for deterministic tests
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		alerts:    make(map[string]*types.Alert),
		openByKey: make(map[string]string),
		now:       time.Now,
	}
}

func (m *Memory) Upsert(_ context.Context, f types.Finding) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey(f.Subject, f.Type)
	now := m.now()

	if id, ok := m.openByKey[key]; ok {
		a := m.alerts[id]
		escalated := f.Severity.Rank() > a.Severity.Rank()
		a.Severity = f.Severity
		a.Message = f.Message
		a.UpdatedAt = now
		return UpsertResult{Alert: *a, Escalated: escalated}, nil
	}

	a := &types.Alert{
		ID:        newAlertID(),
		Subject:   f.Subject,
		Type:      f.Type,
		Severity:  f.Severity,
		Message:   f.Message,
		State:     types.AlertOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.alerts[a.ID] = a
	m.openByKey[key] = a.ID
	return UpsertResult{Alert: *a, Created: true}, nil
}

func (m *Memory) Resolve(_ context.Context, id string) (types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return types.Alert{}, ErrNotFound
	}
	if a.State == types.AlertResolved {
		return *a, nil
	}

	now := m.now()
	a.State = types.AlertResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	delete(m.openByKey, dedupKey(a.Subject, a.Type))
	return *a, nil
}

func (m *Memory) ResolveOpen(ctx context.Context, subject types.Subject, alertType string) error {
	m.mu.RLock()
	id, ok := m.openByKey[dedupKey(subject, alertType)]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	_, err := m.Resolve(ctx, id)
	return err
}

func (m *Memory) ListOpen(_ context.Context, subject *types.Subject) ([]types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.Alert, 0, len(m.openByKey))
	for _, id := range m.openByKey {
		a := m.alerts[id]
		if subject != nil && a.Subject != *subject {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (m *Memory) ListBySeverity(_ context.Context, severity types.Severity) ([]types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Alert
	for _, id := range m.openByKey {
		a := m.alerts[id]
		if a.Severity == severity {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (types.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return types.Alert{}, ErrNotFound
	}
	return *a, nil
}
