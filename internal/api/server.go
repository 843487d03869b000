// Package api is the HTTP surface the operator UI talks to: contact
// upload, selection, export and dispatch.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wablast/wablast/internal/config"
	"github.com/wablast/wablast/internal/dispatch"
	"github.com/wablast/wablast/internal/metrics"
	"github.com/wablast/wablast/internal/ratelimit"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	cfg        *config.Config
	transport  dispatch.Transport
	limiter    dispatch.Limiter
	metrics    *metrics.Metrics
	sessions   *sessionStore
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server. Transport may be nil when no
// credentials are configured; live dispatch then fails fast while
// dry runs keep working.
func NewServer(cfg *config.Config, transport dispatch.Transport, limiter dispatch.Limiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		transport: transport,
		limiter:   limiter,
		metrics:   m,
		sessions:  newSessionStore(cfg.API.SessionTTL),
		logger:    logger.With("component", "api"),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/contacts", s.handleContactsUpload)
		r.Post("/contacts/sample", s.handleContactsSample)
		r.Get("/contacts/{session}", s.handleContactsList)
		r.Post("/contacts/{session}/select", s.handleSelect)
		r.Get("/contacts/{session}/export", s.handleExport)

		r.Post("/dispatch/{session}/text", s.handleDispatchText)
		r.Post("/dispatch/{session}/image", s.handleDispatchImage)
	})
}

// Handler returns the root handler (used in tests).
func (s *Server) Handler() http.Handler {
	return s.router
}

// newEngine builds a dispatch engine for one run.
func (s *Server) newEngine(dryRun bool) *dispatch.Engine {
	pacer := ratelimit.NewPacer(
		s.cfg.Dispatch.DelayBetweenMessages,
		s.cfg.Dispatch.DelayBetweenBatches,
	)

	var recorder dispatch.Recorder
	if s.metrics != nil {
		recorder = s.metrics
	}

	return dispatch.New(s.transport, pacer, s.limiter, recorder, s.logger, dispatch.Options{
		BatchSize:   s.cfg.Dispatch.BatchSize,
		Concurrency: s.cfg.Dispatch.Concurrency,
		DryRun:      dryRun,
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.API.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // dispatch runs block the response
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP API server", "addr", s.cfg.API.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	s.sessions.stop()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
