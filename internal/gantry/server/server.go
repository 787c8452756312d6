// Package server exposes the orchestrator over a JSON HTTP API: pipeline
// ingestion and control for clients, registration/poll/report endpoints
// for workers, and a per-run event stream for UIs.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gantryci/gantry/api"
	"github.com/gantryci/gantry/internal/gantry/engine"
	"github.com/gantryci/gantry/pkg/config"
	"github.com/gantryci/gantry/pkg/errors"
	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/version"
)

// Server is the HTTP front of the engine
type Server struct {
	engine *engine.Engine
	cfg    *config.Config
	logger *logger.Logger
	http   *http.Server
}

// New builds the server around an engine. The listener is not opened
// until Start.
func New(eng *engine.Engine, cfg *config.Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.New()
	}
	s := &Server{
		engine: eng,
		cfg:    cfg,
		logger: log.WithField("component", "http-server"),
	}

	s.http = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           s.router(),
		ReadHeaderTimeout: cfg.Server.Timeout,
		// WriteTimeout stays zero: worker polls and event streams hold
		// the response open past any fixed window
		IdleTimeout: 2 * cfg.Server.Timeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/pipelines", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Route("/{runID}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/archive", s.handleGetArchivedRun)
				r.Post("/cancel", s.handleCancelRun)
				r.Get("/events", s.handleWatchRun)
				r.Route("/jobs/{job}", func(r chi.Router) {
					r.Post("/play", s.handlePlayJob)
					r.Post("/retry", s.handleRetryJob)
					r.Get("/artifacts", s.handleJobArtifacts)
				})
			})
		})
		r.Route("/workers", func(r chi.Router) {
			r.Post("/", s.handleRegisterWorker)
			r.Get("/", s.handleListWorkers)
			r.Route("/{workerID}", func(r chi.Router) {
				r.Post("/heartbeat", s.handleHeartbeat)
				r.Post("/poll", s.handlePoll)
				r.Post("/result", s.handleResult)
				r.Delete("/", s.handleDeregisterWorker)
			})
		})
	})

	return r
}

// Start opens the listener and serves in the background. TLS is enabled
// when the security section carries embedded server certificates.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		s.logger.Error("failed to create listener", "address", s.http.Addr, "error", err)
		return fmt.Errorf("failed to listen: %w", err)
	}

	scheme := "http"
	if s.cfg.TLSEnabled() {
		tlsConfig, tlsErr := s.cfg.GetServerTLSConfig()
		if tlsErr != nil {
			_ = lis.Close()
			s.logger.Error("failed to create TLS config from embedded certificates", "error", tlsErr)
			return fmt.Errorf("failed to create TLS config: %w", tlsErr)
		}
		lis = tls.NewListener(lis, tlsConfig)
		scheme = "https"
	}

	go func() {
		s.logger.Info("starting HTTP server", "address", s.http.Addr, "scheme", scheme)

		if serveErr := s.http.Serve(lis); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped with error", "error", serveErr)
		} else {
			s.logger.Info("HTTP server stopped gracefully")
		}
	}()

	return nil
}

// Stop refuses new connections and drains in-flight requests until the
// context ends. Open event streams are released when the engine's watch
// channels close during engine shutdown.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Health(r.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, api.Error{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, api.Health{
		Status:  "ok",
		Version: version.GetVersion(),
	})
}
