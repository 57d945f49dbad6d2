// Package web exposes the export lifecycle over HTTP.
//
//	POST   /api/exports                     begin an export
//	POST   /api/exports/{id}/pages/{page}   store one page
//	GET    /api/exports/{id}/complete       download xlsx, or zip with ?zip=true
//	POST   /api/exports/{id}/complete       same as GET
//	GET    /api/exports/{id}                status
//	DELETE /api/exports/{id}                release stored segments
//	GET    /healthz                         liveness and database check
//	GET    /metrics                         Prometheus metrics
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/metrics"
	"github.com/JonMunkholm/segexport/internal/web/middleware"
)

// Options configures a Server. Zero timeouts select the defaults.
type Options struct {
	RequestTimeout  time.Duration
	CompleteTimeout time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	TrustedProxies  []string

	// APIKeys guard /api/exports. Empty disables the check.
	APIKeys []string

	// Health reports whether dependencies are reachable. Nil means healthy.
	Health func(ctx context.Context) error
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 60 * time.Second
	}
	if o.CompleteTimeout <= 0 {
		o.CompleteTimeout = 10 * time.Minute
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
}

// Server is the HTTP front end of one export orchestrator.
type Server struct {
	exports *download.Orchestrator[uuid.UUID]
	metrics *metrics.Metrics
	opts    Options
	router  *chi.Mux
	server  *http.Server
}

// NewServer wires routes and middleware around exports.
func NewServer(exports *download.Orchestrator[uuid.UUID], m *metrics.Metrics, opts Options) (*Server, error) {
	opts.applyDefaults()

	realIP, err := middleware.TrustedRealIP(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		exports: exports,
		metrics: m,
		opts:    opts,
		router:  chi.NewRouter(),
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(realIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/exports", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.opts.APIKeys))

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.opts.RequestTimeout))
			r.Post("/", s.handleBegin)
			r.Post("/{id}/pages/{page}", s.handleContinue)
			r.Get("/{id}", s.handleStatus)
			r.Delete("/{id}", s.handleCleanup)
		})

		// Assembly of a large export outlives the ordinary request timeout.
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.opts.CompleteTimeout))
			r.Get("/{id}/complete", s.handleComplete)
			r.Post("/{id}/complete", s.handleComplete)
		})
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  s.opts.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
