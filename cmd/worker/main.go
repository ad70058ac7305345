// Package main runs a reference swarm worker: it registers with the
// scheduler, pulls analysis tasks, generates components with Gemini and
// submits the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-swarm/internal/agent"
	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/gemini"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/redact"
)

const defaultServerURL = "http://localhost:8080"

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", redact.Attr(err))
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
	if cfg.LLM.GeminiAPIKey == "" {
		return errors.New("SWARM_LLM_GEMINI_API_KEY is required to run a worker")
	}

	agentCfg := agentConfig(cfg.Agent, os.Hostname)
	serverURL := cfg.Agent.ServerURL
	if serverURL == "" {
		serverURL = defaultServerURL
	}
	log.Info("worker configuration loaded",
		slog.String("server_url", serverURL),
		slog.String("worker_id", agentCfg.WorkerID),
		slog.Bool("gpu_available", agentCfg.Capabilities.GPUAvailable),
		slog.Int("ram_gb", agentCfg.Capabilities.RAMGB),
		slog.Int("max_tasks", agentCfg.MaxTasks))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := gemini.NewClient(ctx, cfg.LLM, log)
	if err != nil {
		return fmt.Errorf("failed to create gemini client: %w", err)
	}
	generator := gemini.NewGenerator(client, cfg.LLM.ModelName)

	a, err := agent.New(agent.NewClient(serverURL, cfg.Agent.RequestTimeout), generator, agentCfg, log)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	err = a.Run(ctx)
	stats := a.Stats()
	log.Info("worker stopped",
		slog.Int64("tasks_submitted", stats.TasksSubmitted),
		slog.Int64("tasks_failed", stats.TasksFailed),
		slog.Int64("tasks_conflicted", stats.TasksConflicted),
		slog.Int64("components", stats.Components))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// agentConfig maps loaded settings onto the agent, naming the worker after
// the host when no ID is configured.
func agentConfig(cfg config.AgentConfig, hostname func() (string, error)) agent.Config {
	id := cfg.WorkerID
	if id == "" {
		if h, err := hostname(); err == nil && h != "" {
			id = "worker-" + h
		}
	}
	return agent.Config{
		WorkerID: id,
		Capabilities: domain.CapabilityProfile{
			GPUAvailable: cfg.GPUAvailable,
			RAMGB:        cfg.RAMGB,
			CPUCores:     cfg.CPUCores,
			Models:       cfg.Models,
		},
		MaxTasks:          cfg.MaxTasks,
		PollInterval:      cfg.PollInterval,
		MaxBackoff:        cfg.MaxBackoff,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}
}
