// Package api serves a read-only view of test runs while they execute
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/QTest-hq/qtest-engine/internal/reporting"
)

// RunSource is the reporter view the server reads from
type RunSource interface {
	Runs() []*reporting.TestRun
	Run(runID string) (*reporting.TestRun, error)
	Tests(runID string) ([]reporting.Test, error)
}

// HealthChecker is a dependency that must be healthy for /ready
type HealthChecker interface {
	HealthCheck() error
}

// Option configures a Server
type Option func(*Server)

// WithHealthCheck adds a named dependency to the readiness check
func WithHealthCheck(name string, hc HealthChecker) Option {
	return func(s *Server) {
		s.checks = append(s.checks, namedCheck{name: name, check: hc})
	}
}

// WithLogger sets the request logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

type namedCheck struct {
	name  string
	check HealthChecker
}

// Server represents the status server
type Server struct {
	runs   RunSource
	checks []namedCheck
	logger zerolog.Logger
	router *chi.Mux
}

// NewServer creates a status server over runs
func NewServer(runs RunSource, opts ...Option) (*Server, error) {
	if runs == nil {
		return nil, errors.New("run source is required")
	}

	s := &Server{
		runs:   runs,
		logger: zerolog.Nop(),
		router: chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.healthCheck)
	s.router.Get("/ready", s.readyCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{runID}", s.getRun)
			r.Get("/{runID}/tests", s.getRunTests)
			r.Get("/{runID}/report", s.getRunReport)
		})
	})
}

// requestLogger logs each request through zerolog
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting status server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("status server failed: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("could not gracefully shutdown the status server: %w", err)
	}
	s.logger.Info().Msg("status server stopped")
	return nil
}
