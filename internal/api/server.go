package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-analytics/harrier/internal/assignment"
	"github.com/opensource-analytics/harrier/internal/domain"
	"github.com/opensource-analytics/harrier/internal/drift"
	"github.com/opensource-analytics/harrier/internal/scores"
	"github.com/opensource-analytics/harrier/internal/worker"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, assigner *assignment.Service, drifter *drift.Service, runner *worker.DiscoveryRunner, snapshots *worker.SnapshotRunner, scoreEngine *scores.Engine, version string, async bool) *Server {
	handler := NewHandler(repo, cache, bus, assigner, drifter, runner, snapshots, scoreEngine, version, async)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)

		// Subject history and assignment
		r.Post("/subjects/{id}/events", handler.IngestEvent)
		r.Post("/subjects/{id}/assign", handler.AssignSubject)
		r.Get("/subjects/{id}/profile", handler.GetProfile)

		// Drift
		r.Get("/subjects/{id}/drift", handler.ListDriftReports)
		r.Post("/subjects/{id}/drift", handler.ComputeDrift)

		// Discovery
		r.Post("/discovery/run", handler.RunDiscovery)
		r.Get("/discovery/runs/{id}", handler.GetDiscoveryRun)

		// Axis models
		r.Get("/axes", handler.ListAxes)
		r.Get("/axes/{name}", handler.GetAxis)

		// Archetypes
		r.Get("/archetypes", handler.ListArchetypes)
		r.Get("/archetypes/{id}", handler.GetArchetype)

		// Score management
		r.Get("/scores", handler.ListScores)
		r.Get("/scores/{id}", handler.GetScore)
		r.Post("/scores", handler.CreateScore)
		r.Delete("/scores/{id}", handler.DeleteScore)
		r.Post("/scores/reload", handler.ReloadScores)

		// Snapshot maintenance
		r.Post("/snapshots/run", handler.RunSnapshots)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
