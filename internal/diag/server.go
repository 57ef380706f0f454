// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

// Package diag serves the loopback-only HTTP surface: liveness,
// Prometheus metrics, a snapshot of the connection state, and the
// user-action endpoints that drive the connection machine. It is never
// exposed off-device and carries no authentication.
package diag

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/config"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/conn"
	"github.com/oseer-algo/oseer-healthbridge-sub001/internal/logging"
)

// StateSource yields the current connection state snapshot.
type StateSource interface {
	State() conn.ConnectionState
}

// Controller is the slice of the connection machine the server drives.
// All action methods are asynchronous posts; the machine applies them
// on its own loop. Satisfied by *conn.Machine.
type Controller interface {
	StateSource
	ConnectToWeb()
	Connect(token string)
	PerformSync()
	ContinueHistorical()
	Disconnect()
}

// Server is the local HTTP server. Implements suture.Service.
type Server struct {
	cfg     config.DiagConfig
	machine Controller
}

// NewServer builds the diagnostics server around the machine.
func NewServer(cfg config.DiagConfig, machine Controller) *Server {
	return &Server{cfg: cfg, machine: machine}
}

// Routes assembles the chi router. Split out so tests can exercise the
// handlers without binding a socket.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(httprate.LimitByIP(100, time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/connect", s.handleConnect)
	r.Post("/sync", s.handleSync)
	r.Post("/continue", s.handleContinue)
	r.Post("/disconnect", s.handleDisconnect)

	return r
}

// Serve binds the listener and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info().Str("addr", s.cfg.Addr).Msg("diagnostics server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("diagnostics server shutdown")
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) String() string { return "diag-server" }

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type connectRequest struct {
	Token string `json:"token"`
}

// handleConnect starts a connection. With a token in the body the
// machine validates and installs it; without one it starts the
// out-of-band web handoff.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
			return
		}
	}
	if req.Token != "" {
		s.machine.Connect(req.Token)
	} else {
		s.machine.ConnectToWeb()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSync(w http.ResponseWriter, _ *http.Request) {
	s.machine.PerformSync()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleContinue(w http.ResponseWriter, _ *http.Request) {
	s.machine.ContinueHistorical()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.machine.Disconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleStatus reports the connection snapshot. Progress is included
// only while a sync is active so idle polls stay small.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.machine.State()

	body := map[string]any{
		"status":          string(st.Status),
		"realtime_status": st.RealtimeStatus,
		"is_syncing":      st.IsSyncing,
	}
	if st.UserID != "" {
		body["user_id"] = st.UserID
	}
	if st.DeviceID != "" {
		body["device_id"] = st.DeviceID
	}
	if !st.LastSyncTime.IsZero() {
		body["last_sync_time"] = st.LastSyncTime.UTC().Format(time.RFC3339)
	}
	if st.WellnessPhase != "" {
		body["wellness_phase"] = st.WellnessPhase
	}
	if st.ErrorMessage != "" {
		body["error"] = st.ErrorMessage
	}
	if st.Progress.Phase != "" {
		body["progress"] = st.Progress
	}

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Debug().Err(err).Msg("encode diagnostics response")
	}
}
