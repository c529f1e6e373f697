package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/evanofslack/dnsup/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

type httpServer struct {
	addr    string
	handler http.Handler
	log     *slog.Logger
}

func newMux(m *metrics.Metrics, s *scheduler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		last := s.Last()
		body := map[string]any{"status": "ok"}
		status := http.StatusOK
		if !last.At.IsZero() {
			body["lastRun"] = last.At.UTC().Format(time.RFC3339)
			body["runId"] = last.RunID
			body["exitCode"] = last.ExitCode
		}
		if last.Err != nil {
			body["status"] = "error"
			body["error"] = last.Err.Error()
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

func (h *httpServer) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              h.addr,
		Handler:           h.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.log.Info("Starting metrics server", "address", h.addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		h.log.Error("Metrics server shutdown error", "error", err)
	}
	return ctx.Err()
}

func (h *httpServer) String() string { return "http" }
