// Package server exposes the status engine over HTTP: the status-page
// API, monitor administration, heartbeat ingestion, incidents, metrics,
// and the websocket event stream.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marcus-qen/statuswatch/internal/config"
	"github.com/marcus-qen/statuswatch/internal/engine"
	"github.com/marcus-qen/statuswatch/internal/webhook"
)

// Version info injected at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// Server is the assembled HTTP front end.
type Server struct {
	cfg      config.Config
	logger   *zap.Logger
	engine   *engine.Engine
	notifier *webhook.Notifier

	httpServer *http.Server
}

// New builds a server around an assembled engine.
func New(cfg config.Config, eng *engine.Engine, notifier *webhook.Notifier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		engine:   eng,
		notifier: notifier,
	}
	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Status page
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)

	// Monitor administration
	mux.HandleFunc("GET /api/v1/monitors", s.handleListMonitors)
	mux.HandleFunc("POST /api/v1/monitors", s.handleCreateMonitor)
	mux.HandleFunc("GET /api/v1/monitors/{id}", s.handleGetMonitor)
	mux.HandleFunc("PUT /api/v1/monitors/{id}", s.handleUpdateMonitor)
	mux.HandleFunc("DELETE /api/v1/monitors/{id}", s.handleDeleteMonitor)
	mux.HandleFunc("POST /api/v1/monitors/{id}/check", s.handleTriggerCheck)
	mux.HandleFunc("PUT /api/v1/monitors/{id}/maintenance", s.handleMaintenance)

	// Heartbeat ingestion; the short path matches what reporter SDKs use.
	mux.HandleFunc("POST /heartbeat/{id}", s.handleHeartbeat)

	// Incidents
	mux.HandleFunc("GET /api/v1/incidents", s.handleListIncidents)
	mux.HandleFunc("GET /api/v1/incidents/{id}", s.handleGetIncident)

	// Webhook administration
	mux.HandleFunc("GET /api/v1/webhooks", s.handleListWebhooks)
	mux.HandleFunc("POST /api/v1/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("DELETE /api/v1/webhooks/{id}", s.handleDeleteWebhook)

	// Live event stream
	mux.HandleFunc("GET /api/v1/events/ws", s.handleEventsWS)

	return mux
}

// ListenAndServe blocks serving HTTP until the listener fails or Shutdown
// is called.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.cfg.ListenAddr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version, "commit": Commit})
}
