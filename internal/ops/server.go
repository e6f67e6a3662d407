// Package ops serves the operator endpoints: health, Prometheus metrics and
// pprof. It listens on its own port so the public API stays clean.
package ops

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check reports whether one dependency is reachable
type Check func(ctx context.Context) error

// Server is the ops router
type Server struct {
	router  *chi.Mux
	checks  map[string]Check
	timeout time.Duration
}

// NewServer builds the router with the named health checks
func NewServer(checks map[string]Check) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		checks:  checks,
		timeout: 2 * time.Second,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Mount("/debug", middleware.Profiler())
}

// handleHealth runs every check and answers 503 when any fails
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	lines := make([]string, 0, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			lines = append(lines, name+": "+err.Error())
			continue
		}
		lines = append(lines, name+": ok")
	}
	w.WriteHeader(status)
	for _, line := range lines {
		_, _ = w.Write([]byte(line + "\n"))
	}
}
