// Package httpapi serves read-only daemon status over local HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rbright/vcd/internal/daemon"
	"github.com/rbright/vcd/internal/version"
)

// Source provides the snapshots served by the API.
type Source interface {
	Status(ctx context.Context) (daemon.Status, error)
	Clients(ctx context.Context) (daemon.Clients, error)
	EngineStatus(ctx context.Context) (daemon.EngineStatus, error)
}

const readTimeout = 2 * time.Second

// NewRouter builds the status routes.
func NewRouter(src Source, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Current(),
		})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", snapshot(logger, src.Status))
		r.Get("/clients", snapshot(logger, src.Clients))
		r.Get("/engine", snapshot(logger, src.EngineStatus))
	})
	return r
}

// snapshot serves the value read by fn, bounding the wait on the daemon loop.
func snapshot[T any](logger *slog.Logger, fn func(context.Context) (T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readTimeout)
		defer cancel()

		out, err := fn(ctx)
		if err != nil {
			logger.Warn("status snapshot failed", "path", req.URL.Path, "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Serve runs handler on listener until ctx is cancelled.
func Serve(ctx context.Context, listener net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("status api started", "addr", listener.Addr().String())
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("status api shutdown failed", "error", err.Error())
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
