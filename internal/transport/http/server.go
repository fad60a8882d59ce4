// Package http exposes the device and management APIs.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"fleet-monitor/telematics/internal/analytics"
	"fleet-monitor/telematics/internal/command"
	"fleet-monitor/telematics/internal/firmware"
	"fleet-monitor/telematics/internal/ingest"
	"fleet-monitor/telematics/internal/log"
	"fleet-monitor/telematics/internal/metrics"
	"fleet-monitor/telematics/internal/violation"
	"fleet-monitor/telematics/internal/zone"
)

// Services bundles the domain services behind the API.
type Services struct {
	Ingest     *ingest.Service
	Commands   *command.Queue
	Zones      *zone.Manager
	Violations *violation.Detector
	Analytics  *analytics.Engine
	Firmware   *firmware.Service
	Live       LiveFeed
}

type Handler struct {
	ingest          *ingest.Service
	commands        *command.Queue
	zones           *zone.Manager
	violations      *violation.Detector
	analyticsEngine *analytics.Engine
	firmware        *firmware.Service
	live            LiveFeed
	logger          log.Logger
}

func NewHandler(svc Services, logger log.Logger) *Handler {
	return &Handler{
		ingest:          svc.Ingest,
		commands:        svc.Commands,
		zones:           svc.Zones,
		violations:      svc.Violations,
		analyticsEngine: svc.Analytics,
		firmware:        svc.Firmware,
		live:            svc.Live,
		logger:          logger.WithName("api"),
	}
}

// NewRouter mounts every route. Device and management endpoints share some
// paths, so auth is applied per route rather than per subrouter.
func NewRouter(h *Handler, auth *AuthMiddleware, ready func(context.Context) error, logger log.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(Instrument(logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	device := func(path string, fn http.HandlerFunc, methods ...string) {
		api.Handle(path, auth.Device(fn)).Methods(methods...)
	}
	user := func(path string, fn http.HandlerFunc, methods ...string) {
		api.Handle(path, auth.User(fn)).Methods(methods...)
	}

	// controllers
	device("/telemetry", h.postTelemetry, http.MethodPost)
	device("/commands", h.pollCommands, http.MethodGet)
	device("/violations", h.postViolations, http.MethodPost)
	device("/sos-alerts", h.postSOSAlert, http.MethodPost)
	device("/sketch", h.downloadSketch, http.MethodGet)

	// dashboard
	user("/vehicles/{id}/commands", h.createCommand, http.MethodPost)
	user("/commands/{id}", h.cancelCommand, http.MethodDelete)
	user("/vehicles/{plate}/commands", h.listCommands, http.MethodGet)
	user("/vehicles/{plate}/commands/pending", h.pendingCommands, http.MethodGet)
	user("/vehicles/{id}/zone", h.applyZone, http.MethodPost)
	user("/vehicles/{id}/violation-settings", h.updateViolationSettings, http.MethodPut)
	user("/vehicles/{id}/force-unlock", h.forceUnlock, http.MethodPost)
	user("/vehicles/{id}/analytics", h.analytics, http.MethodGet)
	user("/vehicles/{id}/history", h.history, http.MethodGet)
	user("/violations", h.listViolations, http.MethodGet)
	user("/sos-alerts", h.listSOSAlerts, http.MethodGet)
	user("/sos-alerts/{id}", h.patchSOSAlert, http.MethodPatch)
	user("/routes", h.listRoutes, http.MethodGet)
	user("/routes", h.createRoute, http.MethodPost)
	user("/routes/{id}", h.updateRoute, http.MethodPatch)
	user("/routes/{id}", h.deleteRoute, http.MethodDelete)
	user("/sketch", h.uploadSketch, http.MethodPost)
	user("/sketch/info", h.sketchInfo, http.MethodGet)

	if h.live != nil {
		api.Handle("/live", auth.UserOrQuery(http.HandlerFunc(h.liveFeed))).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Success: false, Message: "Method not allowed"})
	})
	return r
}

type Server struct {
	server *http.Server
	logger log.Logger
}

func NewServer(addr string, handler http.Handler, logger log.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.WithName("http-server"),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("starting HTTP server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("shutting down HTTP server")
		return s.server.Shutdown(shutdownCtx)
	}
}
