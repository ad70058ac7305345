package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/priority"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// DefaultHighPriorityThreshold is the score at which a pending task counts
// as high priority in QueueStats.
const DefaultHighPriorityThreshold = 0.7

// ErrNothingToQueue is returned by Enqueue when the subject has no missing
// components.
var ErrNothingToQueue = errors.New("subject has nothing left to analyze")

// SubjectStats summarizes analysis progress.
type SubjectStats struct {
	Total         int64   `json:"total"`
	Analyzed      int64   `json:"analyzed"`
	CompletionPct float64 `json:"completion_pct"`
}

// WorkerStats counts workers by derived liveness.
type WorkerStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Stale   int `json:"stale"`
	Offline int `json:"offline"`
}

// QueueStats is the operator view of the scheduler.
type QueueStats struct {
	Tasks               map[domain.TaskStatus]int64 `json:"tasks"`
	Subjects            SubjectStats                `json:"subjects"`
	Workers             WorkerStats                 `json:"workers"`
	HighPriorityPending int64                       `json:"high_priority_pending"`
	PriorityIndexSize   int64                       `json:"priority_index_size"`
}

// WorkerView is one row of the worker table.
type WorkerView struct {
	ID             string                  `json:"id"`
	Status         domain.WorkerStatus     `json:"status"`
	Classes        []domain.ComponentClass `json:"classes"`
	TasksCompleted int                     `json:"tasks_completed"`
	TasksFailed    int                     `json:"tasks_failed"`
	Outstanding    int64                   `json:"outstanding"`
	LastHeartbeat  time.Time               `json:"last_heartbeat"`
	LastStatus     string                  `json:"last_status,omitempty"`
}

// BulkResult reports what BulkEnqueue did.
type BulkResult struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// AdminConfig tunes the operator primitives.
type AdminConfig struct {
	MaxAttempts           int
	HighPriorityThreshold float64
	Liveness              domain.LivenessPolicy
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Admin implements the operator primitives.
type Admin struct {
	tasks    store.TaskStore
	subjects store.SubjectStore
	workers  store.WorkerRegistry
	index    store.PriorityIndex
	engine   *priority.Engine
	cfg      AdminConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewAdmin creates an Admin. A nil engine is built from the subject store
// and index with default weights.
func NewAdmin(
	repos store.Repositories,
	index store.PriorityIndex,
	engine *priority.Engine,
	cfg AdminConfig,
	log *slog.Logger,
) *Admin {
	if log == nil {
		log = slog.Default()
	}
	if engine == nil {
		engine = priority.NewEngine(repos.Subjects, index, config.PriorityConfig{}, nil, log)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.HighPriorityThreshold <= 0 {
		cfg.HighPriorityThreshold = DefaultHighPriorityThreshold
	}
	if cfg.Liveness == (domain.LivenessPolicy{}) {
		cfg.Liveness = domain.DefaultLivenessPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Admin{
		tasks:    repos.Tasks,
		subjects: repos.Subjects,
		workers:  repos.Workers,
		index:    index,
		engine:   engine,
		cfg:      cfg,
		now:      cfg.Now,
		logger:   log.With(slog.String("component", "queue_admin")),
	}
}

// Enqueue queues a pending task for subjectID. Empty components means
// every missing component; a nil override uses the subject's index score.
func (a *Admin) Enqueue(ctx context.Context, subjectID string, components []domain.ComponentType, override *float64) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, a.logger)

	subject, err := a.subjects.Get(ctx, subjectID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}
	if len(components) == 0 {
		components = subject.Missing()
	}
	if len(components) == 0 {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNothingToQueue, subjectID)
	}

	var score float64
	if override != nil {
		score = *override
	} else if score, err = a.engine.Lookup(ctx, subject); err != nil {
		return uuid.Nil, fmt.Errorf("failed to look up priority for %s: %w", subjectID, err)
	}

	id, err := a.tasks.Enqueue(ctx, subjectID, components, score)
	if err != nil {
		return uuid.Nil, err
	}
	log.InfoContext(ctx, "task enqueued",
		"task_id", id,
		"subject_id", subjectID,
		"components", len(components),
		"priority", score)
	return id, nil
}

// BulkEnqueue queues up to limit of the best-ranked subjects that still
// need work and have no live task.
func (a *Admin) BulkEnqueue(ctx context.Context, limit int) (BulkResult, error) {
	var res BulkResult
	if limit <= 0 {
		return res, nil
	}
	candidates, err := a.index.Top(ctx, 0)
	if err != nil {
		return res, fmt.Errorf("failed to read priority index: %w", err)
	}

	for _, c := range candidates {
		if res.Queued >= limit || ctx.Err() != nil {
			break
		}
		subject, err := a.subjects.Get(ctx, c.SubjectID)
		if errors.Is(err, store.ErrSubjectNotFound) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to load subject %s: %w", c.SubjectID, err)
		}
		missing := subject.Missing()
		if subject.Analysis.FullyAnalyzed || len(missing) == 0 {
			res.Skipped++
			continue
		}
		_, err = a.tasks.Enqueue(ctx, subject.ID, missing, c.Score)
		if errors.Is(err, domain.ErrDuplicateSubjectWork) {
			res.Skipped++
			continue
		}
		if err != nil {
			return res, fmt.Errorf("failed to enqueue %s: %w", subject.ID, err)
		}
		res.Queued++
	}

	a.logger.InfoContext(ctx, "bulk enqueue finished", "queued", res.Queued, "skipped", res.Skipped)
	return res, nil
}

// Stats gathers QueueStats.
func (a *Admin) Stats(ctx context.Context) (QueueStats, error) {
	var stats QueueStats
	var err error

	if stats.Tasks, err = a.tasks.CountByStatus(ctx); err != nil {
		return stats, fmt.Errorf("failed to count tasks: %w", err)
	}

	counts, err := a.subjects.Counts(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to count subjects: %w", err)
	}
	stats.Subjects = SubjectStats{Total: counts.Total, Analyzed: counts.Analyzed}
	if counts.Total > 0 {
		stats.Subjects.CompletionPct = float64(counts.Analyzed) / float64(counts.Total) * 100
	}

	workers, err := a.workers.List(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list workers: %w", err)
	}
	now := a.now()
	for _, w := range workers {
		stats.Workers.Total++
		switch a.cfg.Liveness.Status(w.LastHeartbeat, now) {
		case domain.WorkerStatusActive:
			stats.Workers.Active++
		case domain.WorkerStatusStale:
			stats.Workers.Stale++
		default:
			stats.Workers.Offline++
		}
	}

	if stats.HighPriorityPending, err = a.tasks.CountHighPriorityPending(ctx, a.cfg.HighPriorityThreshold); err != nil {
		return stats, fmt.Errorf("failed to count high priority tasks: %w", err)
	}
	if stats.PriorityIndexSize, err = a.index.Len(ctx); err != nil {
		return stats, fmt.Errorf("failed to size priority index: %w", err)
	}
	return stats, nil
}

// Workers lists registered workers with their derived status and load.
func (a *Admin) Workers(ctx context.Context) ([]WorkerView, error) {
	workers, err := a.workers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	now := a.now()
	out := make([]WorkerView, 0, len(workers))
	for _, w := range workers {
		outstanding, err := a.tasks.CountAssignedTo(ctx, w.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to count tasks for %s: %w", w.ID, err)
		}
		out = append(out, WorkerView{
			ID:             w.ID,
			Status:         a.cfg.Liveness.Status(w.LastHeartbeat, now),
			Classes:        w.Capabilities.EligibleClasses(),
			TasksCompleted: w.TasksCompleted,
			TasksFailed:    w.TasksFailed,
			Outstanding:    outstanding,
			LastHeartbeat:  w.LastHeartbeat,
			LastStatus:     w.LastStatus,
		})
	}
	return out, nil
}

// ResetStuck returns tasks assigned longer than age to pending, failing
// those that have used their attempt budget.
func (a *Admin) ResetStuck(ctx context.Context, age time.Duration) (store.ReclaimResult, error) {
	res, err := a.tasks.ReclaimStale(ctx, a.now().Add(-age), a.cfg.MaxAttempts)
	if err != nil {
		return res, fmt.Errorf("failed to reclaim stale tasks: %w", err)
	}
	return res, nil
}

// CleanupTerminal deletes completed and failed tasks older than age.
func (a *Admin) CleanupTerminal(ctx context.Context, age time.Duration) (int64, error) {
	n, err := a.tasks.DeleteTerminalBefore(ctx, a.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tasks: %w", err)
	}
	a.logger.InfoContext(ctx, "terminal tasks removed", "count", n, "older_than", age)
	return n, nil
}

// RetryFailed requeues failed tasks with a fresh attempt budget.
func (a *Admin) RetryFailed(ctx context.Context) (int64, error) {
	n, err := a.tasks.RetryFailed(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed tasks: %w", err)
	}
	a.logger.InfoContext(ctx, "failed tasks requeued", "count", n)
	return n, nil
}

// RebuildPriority recomputes the whole priority index.
func (a *Admin) RebuildPriority(ctx context.Context) (priority.RebuildStats, error) {
	return a.engine.RebuildAll(ctx)
}
