// Command vidgate runs the video generation gateway: a single HTTP
// surface dispatching generation requests across multiple providers
// with fallback, caching, and health monitoring.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidgate/config"
	"vidgate/internal/app"
	"vidgate/internal/logging"
	"vidgate/internal/server"

	// Adapter packages self-register with the factory.
	_ "vidgate/internal/providers/luma"
	_ "vidgate/internal/providers/pika"
	_ "vidgate/internal/providers/runway"
	_ "vidgate/internal/providers/stability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level)

	slog.Info("starting vidgate",
		"routing_mode", cfg.Routing.Mode,
		"cache_backend", cfg.Cache.Backend,
		"providers", cfg.ConfiguredProviders(),
	)

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	srv := server.New(application, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	// Handle graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if err := application.Close(); err != nil {
			slog.Error("application shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr)

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}
