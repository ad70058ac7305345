// Package main runs the swarm scheduler: the worker-facing HTTP API, the
// priority engine and the maintenance loops that reclaim stalled work.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/redact"
)

func main() {
	if err := run(); err != nil {
		slog.Error("scheduler exited with error", redact.Attr(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("server configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("store_backend", cfg.Store.Backend),
		slog.Bool("redis_index", cfg.Redis.URL != ""),
		slog.Bool("coherence_reasoner", cfg.LLM.GeminiAPIKey != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}
