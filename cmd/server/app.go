package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-swarm/internal/coherence"
	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/dispatch"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/events"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"github.com/phrazzld/scry-swarm/internal/ingest"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
	"github.com/phrazzld/scry-swarm/internal/metrics"
	"github.com/phrazzld/scry-swarm/internal/platform/gemini"
	"github.com/phrazzld/scry-swarm/internal/platform/memory"
	"github.com/phrazzld/scry-swarm/internal/platform/postgres"
	"github.com/phrazzld/scry-swarm/internal/platform/redisindex"
	"github.com/phrazzld/scry-swarm/internal/priority"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/redis/go-redis/v9"
)

// application holds the wired scheduler and the resources to release on
// shutdown.
type application struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	db    *sql.DB
	redis *redis.Client

	repos      store.Repositories
	transactor store.Transactor
	index      store.PriorityIndex
	engine     *priority.Engine
	emitter    *events.InMemoryEventEmitter

	dispatch dispatch.Service
	ingest   ingest.Service
	admin    *maintenance.Admin
	runner   *maintenance.Runner
}

// newApplication builds every component from cfg. Nothing is started.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config:  cfg,
		logger:  logger,
		metrics: metrics.New(),
	}
	ok := false
	defer func() {
		if !ok {
			app.cleanup()
		}
	}()

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}
	if err := app.openIndex(ctx); err != nil {
		return nil, err
	}

	catalog := generation.DefaultCatalog()
	if cfg.LLM.CatalogPath != "" {
		var err error
		if catalog, err = generation.LoadCatalog(cfg.LLM.CatalogPath); err != nil {
			return nil, fmt.Errorf("failed to load generation catalog: %w", err)
		}
	}

	var reasoner generation.Reasoner
	if cfg.LLM.GeminiAPIKey != "" {
		client, err := gemini.NewClient(ctx, cfg.LLM, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		reasoner = gemini.NewReasoner(client, cfg.LLM.CoherenceModel)
		logger.Info("coherence reasoner enabled", slog.String("model", cfg.LLM.CoherenceModel))
	} else {
		logger.Warn("no gemini api key configured, coherence checks run offline")
	}
	validator := coherence.NewValidator(reasoner, cfg.Coherence.MinConfidence, logger)

	app.engine = priority.NewEngine(app.repos.Subjects, app.index, cfg.Priority, app.metrics, logger)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.emitter.Subscribe(app.engine, events.SubjectProgressed, events.SubjectCompleted)

	liveness := domain.LivenessPolicy{
		ActiveWindow: cfg.Worker.ActiveWindow,
		OfflineAfter: cfg.Worker.OfflineAfter,
	}

	var err error
	app.dispatch, err = dispatch.NewService(dispatch.Deps{
		Tasks:    app.repos.Tasks,
		Subjects: app.repos.Subjects,
		Workers:  app.repos.Workers,
		Index:    app.index,
		Catalog:  catalog,
		Metrics:  app.metrics,
		Logger:   logger,
	}, dispatch.Config{
		MaxTasksPerRequest:   cfg.Dispatch.MaxTasksPerRequest,
		PlanWindow:           cfg.Dispatch.PlanWindow,
		MaxComponentsPerTask: cfg.Task.MaxComponentsPerTask,
		MaxAttempts:          cfg.Task.MaxAttempts,
		Liveness:             liveness,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch service: %w", err)
	}

	app.ingest, err = ingest.NewService(ingest.Deps{
		Transactor: app.transactor,
		Tasks:      app.repos.Tasks,
		Subjects:   app.repos.Subjects,
		Validator:  validator,
		Events:     app.emitter,
		Metrics:    app.metrics,
		Logger:     logger,
	}, ingest.Config{MaxAttempts: cfg.Task.MaxAttempts})
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest service: %w", err)
	}

	app.admin = maintenance.NewAdmin(app.repos, app.index, app.engine, maintenance.AdminConfig{
		MaxAttempts:           cfg.Task.MaxAttempts,
		HighPriorityThreshold: cfg.Priority.HighPriorityThreshold,
		Liveness:              liveness,
	}, logger)

	app.runner = maintenance.NewRunner(app.admin, app.emitter, app.metrics, maintenance.RunnerConfig{
		ReclaimInterval: cfg.Maintenance.ReclaimInterval,
		StaleAfter:      cfg.Task.StaleAfter,
		RebuildInterval: cfg.Priority.RebuildInterval,
		GaugeInterval:   cfg.Maintenance.GaugeInterval,
	}, logger)

	ok = true
	logger.Info("application initialized")
	return app, nil
}

func (app *application) openStore(ctx context.Context) error {
	switch app.config.Store.Backend {
	case "memory":
		st := memory.New(app.logger)
		app.repos = st.Repositories()
		app.transactor = st
		app.logger.Warn("using the in-memory store, state is lost on restart")
	default:
		db, err := postgres.Open(ctx, app.config.Database, app.logger)
		if err != nil {
			return err
		}
		app.db = db
		tx := postgres.NewTransactor(db, app.logger)
		app.repos = tx.Repositories()
		app.transactor = tx
	}
	return nil
}

func (app *application) openIndex(ctx context.Context) error {
	if app.config.Redis.URL == "" {
		app.index = memory.NewPriorityIndex()
		return nil
	}
	idx, rdb, err := redisindex.Open(ctx, app.config.Redis.URL, app.config.Redis.Key, app.logger)
	if err != nil {
		return err
	}
	app.index = idx
	app.redis = rdb
	return nil
}

// Run starts the maintenance loops and serves HTTP until ctx is done.
func (app *application) Run(ctx context.Context) error {
	app.runner.Start()
	if err := app.startHTTPServer(ctx, app.setupRouter()); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup releases resources in reverse order of acquisition.
func (app *application) cleanup() {
	if app.runner != nil {
		app.runner.Stop()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis client", "error", err)
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("error closing database connection", "error", err)
		}
	}
	app.logger.Info("application shutdown completed")
}
