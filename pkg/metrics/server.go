package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/dittomft/internal/logger"
)

// Health is the body of /health.
type Health struct {
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Service   string        `json:"service"`
	StartedAt time.Time     `json:"started_at"`
	Uptime    time.Duration `json:"uptime_ns"`
}

// Healthy reports whether the node answered healthy.
func (h Health) Healthy() bool { return h.Status == "healthy" }

// HealthFunc reports whether a dependency is healthy.
type HealthFunc func(ctx context.Context) error

// Server exposes /metrics and /health over HTTP.
type Server struct {
	srv *http.Server
}

// NewServer builds the HTTP server on port. check backs /health and may be nil.
func NewServer(port int, check HealthFunc) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	if reg := GetRegistry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	started := time.Now()
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		resp := Health{
			Status:    "healthy",
			Service:   "dittomft",
			StartedAt: started.UTC(),
			Uptime:    time.Since(started).Round(time.Second),
		}
		code := http.StatusOK
		if check != nil {
			if err := check(req.Context()); err != nil {
				resp.Status = "unhealthy"
				resp.Error = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	})

	return &Server{srv: &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Serve listens until ctx is cancelled, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
