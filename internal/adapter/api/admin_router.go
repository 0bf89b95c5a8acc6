package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/api/handler"
	"github.com/jsanchez-sales-hub/sht-4502/internal/adapter/api/middleware"
)

const shutdownTimeout = 5 * time.Second

// NewAdminRouter creates the router for the metrics and status endpoints.
func NewAdminRouter(gatherer prometheus.Gatherer, status *handler.RunStatus, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	statusHandler := handler.NewStatusHandler(status, logger)

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", statusHandler.HealthCheck)
	mux.HandleFunc("GET /status", statusHandler.Status)

	return middleware.Logging(logger)(mux)
}

// Serve runs the admin server on addr until ctx is done. Listen failures
// are logged and never stop the command being observed.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) {
	logger = logger.With("component", "admin_server")
	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		logger.Info("starting admin server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin server shutdown failed", "error", err)
		}
	}()
}
