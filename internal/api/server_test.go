package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/alertstore"
	"github.com/watchpost/watchpost/internal/heartbeat"
	"github.com/watchpost/watchpost/internal/logring"
	"github.com/watchpost/watchpost/internal/notifier"
	"github.com/watchpost/watchpost/internal/orchestrator"
	"github.com/watchpost/watchpost/internal/types"
)

type recordingTelegram struct {
	messages []string
}

func (r *recordingTelegram) SendTelegram(_ context.Context, text string) bool {
	r.messages = append(r.messages, text)
	return true
}

type fixture struct {
	store    alertstore.Store
	registry *heartbeat.Registry
	telegram *recordingTelegram
	srv      *httptest.Server
}

func newFixture(t *testing.T, services []types.Service) *fixture {
	t.Helper()
	store := alertstore.NewMemory()
	registry := heartbeat.NewRegistry(zerolog.Nop(), store)
	telegram := &recordingTelegram{}
	dispatcher := notifier.NewDispatcher(zerolog.Nop(), nil, "", telegram)
	orch := orchestrator.New(zerolog.Nop(), store, dispatcher, nil, registry, 4)

	s := New(zerolog.Nop(), orch, store, registry, dispatcher,
		func() []types.Service { return services }, logring.New(64))
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &fixture{store: store, registry: registry, telegram: telegram, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp, respBody
}

func datePtr(t time.Time) *time.Time { return &t }

func TestRunChecksEndpoint(t *testing.T) {
	f := newFixture(t, []types.Service{{
		ID:        "svc-1",
		Type:      types.ServiceSSL,
		Target:    "example.com",
		Status:    types.StatusActive,
		SSLExpiry: datePtr(time.Now().AddDate(0, 0, -1)),
	}})

	resp, body := f.do(t, http.MethodPost, "/v1/checks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var out struct {
		ServicesChecked int             `json:"services_checked"`
		Findings        []types.Finding `json:"findings"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.ServicesChecked != 1 || len(out.Findings) != 1 {
		t.Errorf("response: %+v", out)
	}
	if len(f.telegram.messages) != 1 {
		t.Errorf("telegram messages: %d", len(f.telegram.messages))
	}
}

func TestAlertListAndResolve(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.store.Upsert(context.Background(), types.Finding{
		Subject:   types.Subject{ServiceID: "svc-1"},
		Type:      types.AlertDomainExpiry,
		Severity:  types.SeverityMedium,
		Message:   "Domain example.com will expire in 20 days",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	resp, body := f.do(t, http.MethodGet, "/v1/alerts?service_id=svc-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status: %d", resp.StatusCode)
	}
	var alerts []types.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(alerts) != 1 || alerts[0].ID != res.Alert.ID {
		t.Fatalf("alerts: %+v", alerts)
	}

	resp, body = f.do(t, http.MethodPost, "/v1/alerts/"+res.Alert.ID+"/resolve", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status: %d", resp.StatusCode)
	}
	var resolved types.Alert
	if err := json.Unmarshal(body, &resolved); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resolved.State != types.AlertResolved {
		t.Errorf("state: %q", resolved.State)
	}

	// Resolving again is idempotent.
	resp, _ = f.do(t, http.MethodPost, "/v1/alerts/"+res.Alert.ID+"/resolve", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("second resolve status: %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/alerts/nope/resolve", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown alert status: %d", resp.StatusCode)
	}
}

func TestAlertListBySeverity(t *testing.T) {
	f := newFixture(t, nil)
	for _, sev := range []types.Severity{types.SeverityLow, types.SeverityHigh} {
		_, err := f.store.Upsert(context.Background(), types.Finding{
			Subject:   types.Subject{ServiceID: "svc-" + string(sev)},
			Type:      types.AlertUptimeDown,
			Severity:  sev,
			Message:   "down",
			Timestamp: time.Now(),
		})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	resp, body := f.do(t, http.MethodGet, "/v1/alerts?severity=high", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var alerts []types.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Severity != types.SeverityHigh {
		t.Errorf("alerts: %+v", alerts)
	}

	resp, _ = f.do(t, http.MethodGet, "/v1/alerts?severity=critical", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad severity status: %d", resp.StatusCode)
	}
}

func TestHeartbeatPingEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	token, err := f.registry.Register(heartbeat.Monitor{
		ID:        "hb-1",
		ServiceID: "svc-1",
		Name:      "nightly-backup",
		Interval:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, body := f.do(t, http.MethodPost, "/v1/heartbeats/ping/"+token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ping status: %d", resp.StatusCode)
	}
	var out struct {
		MonitorID string `json:"monitor_id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.MonitorID != "hb-1" {
		t.Errorf("monitor id: %q", out.MonitorID)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/heartbeats/ping/wrong-token", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bad token status: %d", resp.StatusCode)
	}
}

func TestHeartbeatRotateEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	oldToken, err := f.registry.Register(heartbeat.Monitor{
		ID:        "hb-1",
		ServiceID: "svc-1",
		Name:      "sync",
		Interval:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, body := f.do(t, http.MethodPost, "/v1/heartbeats/hb-1/rotate", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate status: %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.Token == "" || out.Token == oldToken {
		t.Errorf("token not rotated: %q", out.Token)
	}

	// Old token is dead immediately.
	resp, _ = f.do(t, http.MethodPost, "/v1/heartbeats/ping/"+oldToken, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("old token status: %d", resp.StatusCode)
	}
	resp, _ = f.do(t, http.MethodPost, "/v1/heartbeats/ping/"+out.Token, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("new token status: %d", resp.StatusCode)
	}
}

func TestHeartbeatListAndPause(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.registry.Register(heartbeat.Monitor{
		ID:        "hb-1",
		ServiceID: "svc-1",
		Name:      "sync",
		Interval:  time.Minute,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, _ := f.do(t, http.MethodPost, "/v1/heartbeats/hb-1/pause", `{"paused":true}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status: %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/v1/heartbeats/hb-1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status: %d", resp.StatusCode)
	}
	var view struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(body, &view); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if view.State != string(heartbeat.StatePaused) {
		t.Errorf("state: %q", view.State)
	}
}

func TestNotificationSendEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/v1/notifications/send",
		`{"channel":"telegram","type":"ssl_expiry","severity":"high","message":"test alert"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var out struct {
		Delivered bool `json:"delivered"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !out.Delivered {
		t.Error("expected delivery")
	}
	if len(f.telegram.messages) != 1 || !strings.Contains(f.telegram.messages[0], "test alert") {
		t.Errorf("messages: %v", f.telegram.messages)
	}

	// Email has no transport in this fixture.
	resp, _ = f.do(t, http.MethodPost, "/v1/notifications/send",
		`{"channel":"email","message":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unconfigured channel status: %d", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/v1/notifications/send",
		`{"channel":"pager","message":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown channel status: %d", resp.StatusCode)
	}
}

func TestHealthAndStatus(t *testing.T) {
	f := newFixture(t, []types.Service{{ID: "svc-1", Type: types.ServiceWebsite, Target: "example.com", Status: types.StatusActive}})

	resp, _ := f.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}

	resp, body := f.do(t, http.MethodGet, "/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status status: %d", resp.StatusCode)
	}
	var out struct {
		Version    string `json:"version"`
		OpenAlerts int    `json:"open_alerts"`
		Services   int    `json:"services"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if out.Version == "" || out.Services != 1 {
		t.Errorf("status: %+v", out)
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/api/logs", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var entries []logring.Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/logs?limit=bogus", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status: %d", resp.StatusCode)
	}
}
