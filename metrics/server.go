package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimte/mmate-policy/health"
)

// Server exposes a collector's registry over HTTP
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a metrics server listening on addr. checks may be nil.
func NewServer(addr string, c *Collector, checks *health.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      Handler(c, checks),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the HTTP handler serving /metrics and /health. Without
// checks /health only reports liveness.
func Handler(c *Collector, checks *health.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	if checks != nil {
		mux.Handle("/health", health.Handler(checks, 5*time.Second))
	} else {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("OK"))
		})
	}
	return mux
}

// Start serves until the server is stopped
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting metrics server", "addr", s.httpServer.Addr)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen: %w", err)
	}
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.InfoContext(ctx, "stopping metrics server")
	return s.httpServer.Shutdown(ctx)
}
