// Package admin serves the operator HTTP surface: liveness, readiness, metrics
// and a view of the handshake this process answers with.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const readHeaderTimeout = 5 * time.Second

type Config struct {
	Gatherer prometheus.Gatherer
	// Ready reports whether the gRPC listener is accepting calls.
	Ready func() bool
	// Describe returns the JSON document served on /discovery.
	Describe func(ctx context.Context) (any, error)
	Logger   *slog.Logger
}

func NewHandler(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if cfg.Ready != nil && !cfg.Ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.Describe != nil {
		logger := cfg.Logger
		if logger == nil {
			logger = slog.Default()
		}
		r.Get("/discovery", func(w http.ResponseWriter, req *http.Request) {
			doc, err := cfg.Describe(req.Context())
			if err != nil {
				logger.Warn("admin discovery view failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, doc)
		})
	}
	return r
}

// Server runs the admin handler on its own listener.
type Server struct {
	http *http.Server
}

func NewServer(handler http.Handler) *Server {
	return &Server{http: &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}}
}

// Serve blocks until Shutdown; a shutdown is not an error.
func (s *Server) Serve(lis net.Listener) error {
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
