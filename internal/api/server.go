// Package api exposes the monitoring engine over HTTP: on-demand sweeps,
// heartbeat check-ins, alert queries and manual resolution, plus the
// operational endpoints (health, status, recent logs).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/watchpost/watchpost/internal/alertstore"
	"github.com/watchpost/watchpost/internal/heartbeat"
	"github.com/watchpost/watchpost/internal/logring"
	"github.com/watchpost/watchpost/internal/notifier"
	"github.com/watchpost/watchpost/internal/orchestrator"
	"github.com/watchpost/watchpost/internal/types"
	"github.com/watchpost/watchpost/internal/version"
)

// ServiceSource supplies the current service batch for a sweep. The config
// layer implements this so hot reloads take effect on the next check.
type ServiceSource func() []types.Service

// Server is the HTTP front of the engine.
type Server struct {
	log        zerolog.Logger
	orch       *orchestrator.Orchestrator
	store      alertstore.Store
	heartbeats *heartbeat.Registry
	dispatcher *notifier.Dispatcher
	services   ServiceSource
	logs       *logring.Buffer

	startTime time.Time
	mux       *http.ServeMux
}

// New wires the routes. Any collaborator except the store may be nil; the
// matching endpoints then report 503.
func New(log zerolog.Logger, orch *orchestrator.Orchestrator, store alertstore.Store, hb *heartbeat.Registry, dispatcher *notifier.Dispatcher, services ServiceSource, logs *logring.Buffer) *Server {
	s := &Server{
		log:        log.With().Str("component", "api").Logger(),
		orch:       orch,
		store:      store,
		heartbeats: hb,
		dispatcher: dispatcher,
		services:   services,
		logs:       logs,
		startTime:  time.Now(),
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /v1/checks", s.handleRunChecks)
	s.mux.HandleFunc("POST /v1/heartbeats/ping/{token}", s.handleHeartbeatPing)
	s.mux.HandleFunc("GET /v1/heartbeats", s.handleHeartbeatList)
	s.mux.HandleFunc("GET /v1/heartbeats/{id}", s.handleHeartbeatGet)
	s.mux.HandleFunc("POST /v1/heartbeats/{id}/rotate", s.handleHeartbeatRotate)
	s.mux.HandleFunc("POST /v1/heartbeats/{id}/pause", s.handleHeartbeatPause)
	s.mux.HandleFunc("GET /v1/alerts", s.handleAlertList)
	s.mux.HandleFunc("GET /v1/alerts/{id}", s.handleAlertGet)
	s.mux.HandleFunc("POST /v1/alerts/{id}/resolve", s.handleAlertResolve)
	s.mux.HandleFunc("POST /v1/notifications/send", s.handleNotificationSend)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /api/logs", s.handleLogs)

	return s
}

// Handler returns the root handler for the HTTP server.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleRunChecks runs one sweep over the current service batch and returns
// the findings it produced.
func (s *Server) handleRunChecks(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil {
		s.writeError(w, http.StatusServiceUnavailable, "checks are not enabled")
		return
	}

	var batch []types.Service
	if s.services != nil {
		batch = s.services()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	findings, err := s.orch.Sweep(ctx, batch)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("sweep interrupted: %v", err))
		return
	}
	if findings == nil {
		findings = []types.Finding{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"services_checked": len(batch),
		"findings":         findings,
	})
}

func (s *Server) handleHeartbeatPing(w http.ResponseWriter, r *http.Request) {
	if s.heartbeats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "heartbeats are not enabled")
		return
	}
	token := r.PathValue("token")
	m, err := s.heartbeats.Ping(r.Context(), token)
	if err != nil {
		// One generic response for every bad token, so a probe learns nothing.
		s.writeError(w, http.StatusNotFound, "unknown token")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"monitor_id":    m.ID,
		"last_check_in": m.LastCheckIn,
	})
}

func (s *Server) handleHeartbeatList(w http.ResponseWriter, r *http.Request) {
	if s.heartbeats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "heartbeats are not enabled")
		return
	}
	monitors := s.heartbeats.List()
	out := make([]map[string]any, 0, len(monitors))
	for _, m := range monitors {
		state, _ := s.heartbeats.StateOf(m.ID)
		out = append(out, monitorView(m, state))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHeartbeatGet(w http.ResponseWriter, r *http.Request) {
	if s.heartbeats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "heartbeats are not enabled")
		return
	}
	id := r.PathValue("id")
	m, err := s.heartbeats.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	state, _ := s.heartbeats.StateOf(id)
	s.writeJSON(w, http.StatusOK, monitorView(m, state))
}

func (s *Server) handleHeartbeatRotate(w http.ResponseWriter, r *http.Request) {
	if s.heartbeats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "heartbeats are not enabled")
		return
	}
	id := r.PathValue("id")
	token, err := s.heartbeats.RotateToken(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	// The only place the new token is ever shown.
	s.writeJSON(w, http.StatusOK, map[string]string{"monitor_id": id, "token": token})
}

func (s *Server) handleHeartbeatPause(w http.ResponseWriter, r *http.Request) {
	if s.heartbeats == nil {
		s.writeError(w, http.StatusServiceUnavailable, "heartbeats are not enabled")
		return
	}
	var req struct {
		Paused bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := r.PathValue("id")
	if err := s.heartbeats.SetPaused(id, req.Paused); err != nil {
		s.writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"monitor_id": id, "paused": req.Paused})
}

func monitorView(m heartbeat.Monitor, state heartbeat.State) map[string]any {
	return map[string]any{
		"id":                        m.ID,
		"service_id":                m.ServiceID,
		"name":                      m.Name,
		"expected_interval_seconds": int(m.Interval.Seconds()),
		"grace_seconds":             int(m.Grace.Seconds()),
		"last_check_in":             m.LastCheckIn,
		"paused":                    m.Paused,
		"state":                     state,
	}
}

func (s *Server) handleAlertList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var alerts []types.Alert
	var err error
	if sev := q.Get("severity"); sev != "" {
		severity := types.Severity(sev)
		if severity.Rank() == 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown severity %q", sev))
			return
		}
		alerts, err = s.store.ListBySeverity(r.Context(), severity)
	} else {
		var subject *types.Subject
		if svcID := q.Get("service_id"); svcID != "" {
			subject = &types.Subject{ServiceID: svcID, MonitorID: q.Get("monitor_id")}
		}
		alerts, err = s.store.ListOpen(r.Context(), subject)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAlertGet(w http.ResponseWriter, r *http.Request) {
	alert, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, alertstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load alert")
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	alert, err := s.store.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, alertstore.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to resolve alert")
		return
	}
	s.writeJSON(w, http.StatusOK, alert)
}

// handleNotificationSend delivers an ad-hoc notification on one named
// channel, mainly for verifying channel configuration.
func (s *Server) handleNotificationSend(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "notifications are not enabled")
		return
	}

	var req struct {
		Channel   string `json:"channel"`
		Recipient string `json:"recipient"`
		AlertID   string `json:"alert_id"`
		Type      string `json:"type"`
		Severity  string `json:"severity"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var alert types.Alert
	if req.AlertID != "" {
		var err error
		alert, err = s.store.Get(r.Context(), req.AlertID)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "alert not found")
			return
		}
	} else {
		if req.Message == "" {
			s.writeError(w, http.StatusBadRequest, "alert_id or message is required")
			return
		}
		alert = types.Alert{
			Type:     req.Type,
			Severity: types.Severity(req.Severity),
			Message:  req.Message,
		}
		if alert.Type == "" {
			alert.Type = "manual"
		}
		if alert.Severity.Rank() == 0 {
			alert.Severity = types.SeverityLow
		}
	}

	ok, err := s.dispatcher.Send(r.Context(), req.Channel, req.Recipient, alert)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"channel": req.Channel, "delivered": ok})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	open, err := s.store.ListOpen(r.Context(), nil)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read alert store")
		return
	}
	bySeverity := map[string]int{}
	for _, a := range open {
		bySeverity[string(a.Severity)]++
	}

	status := map[string]any{
		"version":        version.GetFullVersion(),
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"open_alerts":    len(open),
		"by_severity":    bySeverity,
	}
	if s.heartbeats != nil {
		status["heartbeat_monitors"] = len(s.heartbeats.List())
	}
	if s.services != nil {
		status["services"] = len(s.services())
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		s.writeJSON(w, http.StatusOK, []logring.Entry{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, s.logs.Recent(limit))
}
