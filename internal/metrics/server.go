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
)

// Serve starts an HTTP server on the provided listener that exposes
// Prometheus metrics at /metrics and, when status is non-nil, the relay
// status at /healthz. It blocks until the context is cancelled, then
// shuts down gracefully.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener, status func() string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	if status != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			s := status()
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			if s != "connected" {
				w.WriteHeader(http.StatusServiceUnavailable)
			}
			fmt.Fprintln(w, s)
		})
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		close(shutdownDone)
	}()

	logger.Info("metrics server listening", "addr", ln.Addr())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if ctx.Err() != nil {
		<-shutdownDone
	}
	return nil
}
