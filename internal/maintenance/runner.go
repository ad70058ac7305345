package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/events"
	"github.com/phrazzld/scry-swarm/internal/metrics"
)

// RunnerConfig holds the loop intervals.
type RunnerConfig struct {
	// ReclaimInterval is how often stale assignments are swept.
	ReclaimInterval time.Duration

	// StaleAfter is how long a task may stay assigned before the sweep
	// takes it back.
	StaleAfter time.Duration

	// RebuildInterval is how often the priority index is rebuilt. The
	// first rebuild runs at Start.
	RebuildInterval time.Duration

	// GaugeInterval is how often queue and worker gauges are refreshed.
	GaugeInterval time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with the standard intervals.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ReclaimInterval: time.Minute,
		StaleAfter:      30 * time.Minute,
		RebuildInterval: 10 * time.Minute,
		GaugeInterval:   30 * time.Second,
	}
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	d := DefaultRunnerConfig()
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = d.ReclaimInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.RebuildInterval <= 0 {
		c.RebuildInterval = d.RebuildInterval
	}
	if c.GaugeInterval <= 0 {
		c.GaugeInterval = d.GaugeInterval
	}
	return c
}

// Runner drives the background maintenance loops.
type Runner struct {
	admin   *Admin
	events  events.EventEmitter
	metrics *metrics.Metrics
	config  RunnerConfig
	logger  *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
}

// NewRunner creates a Runner over admin. emitter and m may be nil.
func NewRunner(admin *Admin, emitter events.EventEmitter, m *metrics.Metrics, config RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		admin:      admin,
		events:     emitter,
		metrics:    m,
		config:     config.withDefaults(),
		logger:     logger.With(slog.String("component", "maintenance_runner")),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the loops. Calling it twice has no further effect.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.logger.Info("starting maintenance runner",
			"reclaim_interval", r.config.ReclaimInterval,
			"stale_after", r.config.StaleAfter,
			"rebuild_interval", r.config.RebuildInterval,
			"gauge_interval", r.config.GaugeInterval)

		r.loop("reclaim", r.config.ReclaimInterval, false, r.Reclaim)
		r.loop("priority_rebuild", r.config.RebuildInterval, true, r.Rebuild)
		r.loop("gauges", r.config.GaugeInterval, true, r.RefreshGauges)
	})
}

// Stop cancels the loops and waits for them to return.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancelFunc()
		r.wg.Wait()
		r.logger.Info("maintenance runner stopped")
	})
}

func (r *Runner) loop(name string, interval time.Duration, immediate bool, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		run := func() {
			if err := fn(r.ctx); err != nil && r.ctx.Err() == nil {
				r.logger.Error("maintenance step failed", "step", name, "error", err)
			}
		}
		if immediate {
			run()
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// Reclaim sweeps stale assignments once.
func (r *Runner) Reclaim(ctx context.Context) error {
	res, err := r.admin.ResetStuck(ctx, r.config.StaleAfter)
	if err != nil {
		return err
	}
	r.metrics.Reclaimed(res.Requeued, res.Failed)
	if res.Requeued == 0 && res.Failed == 0 {
		return nil
	}

	r.logger.InfoContext(ctx, "reclaimed stale tasks",
		"requeued", res.Requeued,
		"failed", res.Failed)
	if r.events != nil {
		event, err := events.NewEvent(events.TaskReclaimed, "", events.ReclaimPayload{
			Requeued: res.Requeued,
			Failed:   res.Failed,
		})
		if err != nil {
			return err
		}
		if err := r.events.EmitEvent(ctx, event); err != nil {
			r.logger.WarnContext(ctx, "reclaim event handler failed", "error", err)
		}
	}
	return nil
}

// Rebuild recomputes the priority index once.
func (r *Runner) Rebuild(ctx context.Context) error {
	_, err := r.admin.RebuildPriority(ctx)
	return err
}

// RefreshGauges publishes queue depth, worker liveness and index size.
func (r *Runner) RefreshGauges(ctx context.Context) error {
	stats, err := r.admin.Stats(ctx)
	if err != nil {
		return err
	}
	r.metrics.SetQueueDepth(stats.Tasks)
	r.metrics.SetWorkers(map[domain.WorkerStatus]int{
		domain.WorkerStatusActive:  stats.Workers.Active,
		domain.WorkerStatusStale:   stats.Workers.Stale,
		domain.WorkerStatusOffline: stats.Workers.Offline,
	})
	r.metrics.SetPriorityIndexSize(stats.PriorityIndexSize)
	return nil
}

