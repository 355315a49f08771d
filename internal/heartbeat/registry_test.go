package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/types"
)

// fakeResolver records ResolveOpen calls.
type fakeResolver struct {
	mu    sync.Mutex
	calls []types.Subject
}

func (f *fakeResolver) ResolveOpen(_ context.Context, subject types.Subject, alertType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if alertType == types.AlertHeartbeatMissed {
		f.calls = append(f.calls, subject)
	}
	return nil
}

func (f *fakeResolver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestRegistry(t *testing.T, resolver AlertResolver) (*Registry, string) {
	t.Helper()
	r := NewRegistry(zerolog.Nop(), resolver)
	token, err := r.Register(Monitor{
		ID:        "hb-1",
		ServiceID: "svc-1",
		Name:      "nightly-backup",
		Interval:  300 * time.Second,
		Grace:     60 * time.Second,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r, token
}

func checkIn(t *testing.T, r *Registry, token string, at time.Time) {
	t.Helper()
	r.now = fixedClock(at)
	if _, err := r.Ping(context.Background(), token); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestStateTransitions(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    State
	}{
		{"within interval", 200 * time.Second, StateHealthy},
		{"exactly at interval", 300 * time.Second, StateHealthy},
		{"inside grace", 350 * time.Second, StateLate},
		{"exactly at grace boundary", 360 * time.Second, StateLate},
		{"past grace", 400 * time.Second, StateMissed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, token := newTestRegistry(t, nil)
			checkIn(t, r, token, base)

			r.now = fixedClock(base.Add(tt.elapsed))
			state, err := r.StateOf("hb-1")
			if err != nil {
				t.Fatalf("StateOf: %v", err)
			}
			if state != tt.want {
				t.Errorf("state at +%s: got %s, want %s", tt.elapsed, state, tt.want)
			}
		})
	}
}

func TestEvaluate_MissedProducesFinding(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, token := newTestRegistry(t, nil)
	checkIn(t, r, token, base)

	r.now = fixedClock(base.Add(400 * time.Second))
	state, f, err := r.Evaluate("hb-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateMissed {
		t.Fatalf("state: got %s, want missed", state)
	}
	if f == nil {
		t.Fatal("missed monitor must produce a finding")
	}
	if f.Type != types.AlertHeartbeatMissed || f.Severity != types.SeverityHigh {
		t.Errorf("finding: type=%s severity=%s", f.Type, f.Severity)
	}
	if f.Subject.ServiceID != "svc-1" || f.Subject.MonitorID != "hb-1" {
		t.Errorf("subject: %+v", f.Subject)
	}
}

func TestEvaluate_LateIsSilent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r, token := newTestRegistry(t, nil)
	checkIn(t, r, token, base)

	r.now = fixedClock(base.Add(350 * time.Second))
	state, f, err := r.Evaluate("hb-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateLate {
		t.Errorf("state: got %s, want late", state)
	}
	if f != nil {
		t.Errorf("late monitor must not produce a finding, got %+v", f)
	}
}

func TestEvaluate_NeverCheckedInIsMissed(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	state, f, err := r.Evaluate("hb-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StateMissed {
		t.Errorf("state: got %s, want missed", state)
	}
	if f == nil {
		t.Error("never-checked-in monitor must produce a finding")
	}
}

func TestEvaluate_PausedIsSkipped(t *testing.T) {
	r, _ := newTestRegistry(t, nil)
	if err := r.SetPaused("hb-1", true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	state, f, err := r.Evaluate("hb-1")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if state != StatePaused {
		t.Errorf("state: got %s, want paused", state)
	}
	if f != nil {
		t.Errorf("paused monitor must not produce a finding, got %+v", f)
	}
}

func TestPing_CorrectTokenRecovers(t *testing.T) {
	resolver := &fakeResolver{}
	r, token := newTestRegistry(t, resolver)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = fixedClock(now)
	m, err := r.Ping(context.Background(), token)
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if m.LastCheckIn == nil || !m.LastCheckIn.Equal(now) {
		t.Errorf("last check-in: got %v, want %v", m.LastCheckIn, now)
	}
	if resolver.count() != 1 {
		t.Errorf("resolver calls: got %d, want 1", resolver.count())
	}
	if resolver.calls[0] != (types.Subject{ServiceID: "svc-1", MonitorID: "hb-1"}) {
		t.Errorf("resolved subject: %+v", resolver.calls[0])
	}
}

func TestPing_WrongTokenMutatesNothing(t *testing.T) {
	resolver := &fakeResolver{}
	r, _ := newTestRegistry(t, resolver)

	_, err := r.Ping(context.Background(), "not-the-token")
	if err != ErrInvalidToken {
		t.Fatalf("Ping with wrong token: got %v, want ErrInvalidToken", err)
	}
	m, _ := r.Get("hb-1")
	if m.LastCheckIn != nil {
		t.Errorf("last check-in mutated on failed ping: %v", m.LastCheckIn)
	}
	if resolver.count() != 0 {
		t.Errorf("resolver called on failed ping")
	}
}

func TestRotateToken_InvalidatesOldImmediately(t *testing.T) {
	r, oldToken := newTestRegistry(t, nil)

	before, _ := r.Get("hb-1")
	newToken, err := r.RotateToken("hb-1")
	if err != nil {
		t.Fatalf("RotateToken: %v", err)
	}
	if newToken == oldToken {
		t.Fatal("rotation returned the same token")
	}

	if _, err := r.Ping(context.Background(), oldToken); err != ErrInvalidToken {
		t.Errorf("old token after rotation: got %v, want ErrInvalidToken", err)
	}
	if _, err := r.Ping(context.Background(), newToken); err != nil {
		t.Errorf("new token: %v", err)
	}

	after, _ := r.Get("hb-1")
	if before.Paused != after.Paused {
		t.Error("rotation must not touch monitor state")
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), nil)
	if _, err := r.Register(Monitor{ID: "hb-1"}); err == nil {
		t.Error("missing service id should be rejected")
	}
	if _, err := r.Register(Monitor{ID: "hb-1", ServiceID: "svc-1"}); err == nil {
		t.Error("non-positive interval should be rejected")
	}
	if _, err := r.Register(Monitor{ID: "hb-1", ServiceID: "svc-1", Interval: time.Minute}); err != nil {
		t.Errorf("valid monitor rejected: %v", err)
	}
	if _, err := r.Register(Monitor{ID: "hb-1", ServiceID: "svc-1", Interval: time.Minute}); err == nil {
		t.Error("duplicate id should be rejected")
	}
}

func TestPing_ConcurrentMonitorsIndependent(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), nil)
	tokens := make([]string, 10)
	for i := range tokens {
		tok, err := r.Register(Monitor{
			ID:        "hb-" + string(rune('a'+i)),
			ServiceID: "svc-1",
			Interval:  time.Minute,
		})
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		tokens[i] = tok
	}

	var wg sync.WaitGroup
	for _, tok := range tokens {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(tok string) {
				defer wg.Done()
				_, _ = r.Ping(context.Background(), tok)
			}(tok)
		}
	}
	wg.Wait()

	for _, m := range r.List() {
		if m.LastCheckIn == nil {
			t.Errorf("monitor %s never recorded a check-in", m.ID)
		}
	}
}
