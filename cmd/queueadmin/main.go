// Package main is the operator CLI for the swarm task queue. It talks to
// the store directly, so it works while the scheduler is down.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/platform/memory"
	"github.com/phrazzld/scry-swarm/internal/platform/postgres"
	"github.com/phrazzld/scry-swarm/internal/platform/redisindex"
	"github.com/phrazzld/scry-swarm/internal/priority"
	"github.com/phrazzld/scry-swarm/internal/redact"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/redis/go-redis/v9"
)

const usage = `usage: queueadmin <command> [flags]

commands:
  migrate [up|down|status]     apply or inspect database migrations
  status                       print queue, subject and worker statistics
  enqueue --subject ID         queue one subject (--priority F --components a,b)
  bulk-queue --limit N         queue the best-ranked subjects that need work
  reset-stuck --hours H        return long-assigned tasks to pending
  cleanup --days D             delete completed and failed tasks older than D days
  retry-failed                 requeue failed tasks with a fresh attempt budget
  rebuild-priority             recompute the whole priority index
  monitor --refresh 5s         live dashboard
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if errors.Is(err, errUsage) {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("queueadmin failed", redact.Attr(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	if args[0] == "migrate" {
		return runMigrate(ctx, cfg, args[1:], log)
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close(log)

	if args[0] == "monitor" {
		return runMonitor(ctx, b.admin, args[1:], out)
	}
	return runCommand(ctx, b.admin, args[0], args[1:], out)
}

func runMigrate(ctx context.Context, cfg *config.Config, args []string, log *slog.Logger) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	dbCfg := cfg.Database
	dbCfg.AutoMigrate = false
	db, err := postgres.Open(ctx, dbCfg, log)
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db, command, log)
}

// backend is the store, index and admin the CLI operates on.
type backend struct {
	admin *maintenance.Admin
	db    *sql.DB
	redis *redis.Client
}

func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backend, error) {
	b := &backend{}
	var repos store.Repositories
	switch cfg.Store.Backend {
	case "memory":
		log.Warn("the in-memory backend is private to this process, commands will not affect a running scheduler")
		repos = memory.New(log).Repositories()
	default:
		db, err := postgres.Open(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		b.db = db
		repos = postgres.NewTransactor(db, log).Repositories()
	}

	var index store.PriorityIndex = memory.NewPriorityIndex()
	if cfg.Redis.URL != "" {
		idx, rdb, err := redisindex.Open(ctx, cfg.Redis.URL, cfg.Redis.Key, log)
		if err != nil {
			b.close(log)
			return nil, err
		}
		index, b.redis = idx, rdb
	}

	engine := priority.NewEngine(repos.Subjects, index, cfg.Priority, nil, log)
	b.admin = maintenance.NewAdmin(repos, index, engine, maintenance.AdminConfig{
		MaxAttempts:           cfg.Task.MaxAttempts,
		HighPriorityThreshold: cfg.Priority.HighPriorityThreshold,
		Liveness: domain.LivenessPolicy{
			ActiveWindow: cfg.Worker.ActiveWindow,
			OfflineAfter: cfg.Worker.OfflineAfter,
		},
	}, log)
	return b, nil
}

func (b *backend) close(log *slog.Logger) {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.Error("error closing redis client", "error", err)
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			log.Error("error closing database connection", "error", err)
		}
	}
}
