// Package priority scores subjects for analysis and maintains the cached
// ranking the dispatcher plans from.
package priority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/events"
	"github.com/phrazzld/scry-swarm/internal/metrics"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// Normalization ceilings for the score factors.
const (
	PopularityCeiling = 50000
	ValueCeiling      = 100
	ActivityCeiling   = 100
	// RecentViewWeight is how many lifetime views one recent view is worth.
	RecentViewWeight = 5
	// completionSaturation is the component count at which the
	// completion bonus peaks.
	completionSaturation = 10
	defaultPageSize      = 500
)

// DefaultWeights returns the standard blend.
func DefaultWeights() config.PriorityWeights {
	return config.PriorityWeights{Popularity: 0.4, Value: 0.3, Activity: 0.2, Completion: 0.1}
}

// RebuildStats describes one full rebuild.
type RebuildStats struct {
	Scanned  int
	Indexed  int
	Duration time.Duration
}

// Engine computes scores and keeps the PriorityIndex in sync with the
// subject store.
type Engine struct {
	subjects store.SubjectStore
	index    store.PriorityIndex
	weights  config.PriorityWeights
	pageSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ events.EventHandler = (*Engine)(nil)

// NewEngine creates an engine. Zero weights select DefaultWeights.
func NewEngine(
	subjects store.SubjectStore,
	index store.PriorityIndex,
	cfg config.PriorityConfig,
	m *metrics.Metrics,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	weights := cfg.Weights
	if weights.Sum() == 0 {
		weights = DefaultWeights()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Engine{
		subjects: subjects,
		index:    index,
		weights:  weights,
		pageSize: pageSize,
		metrics:  m,
		logger:   log.With(slog.String("component", "priority_engine")),
	}
}

// Score returns the subject's priority in [0, 1].
func (e *Engine) Score(s *domain.Subject) float64 {
	return Score(s, e.weights)
}

// Score blends popularity, value, activity and partial completion using w.
func Score(s *domain.Subject, w config.PriorityWeights) float64 {
	var popularity float64
	if s.PopularityRank != nil {
		popularity = math.Max(0, 1-float64(*s.PopularityRank)/PopularityCeiling)
	}

	var value float64
	if s.Value != nil && *s.Value > 0 {
		value = math.Min(1, *s.Value/ValueCeiling)
	}

	views := float64(max(s.ViewCount, 0) + RecentViewWeight*max(s.RecentViews, 0))
	activity := math.Min(1, views/ActivityCeiling)

	var completion float64
	count := domain.CountRequired(s.ComponentSet())
	if count == 0 {
		count = s.Analysis.ComponentCount
	}
	if count > 0 && count < len(domain.RequiredComponents) {
		completion = math.Min(1, float64(count)/completionSaturation)
	}

	score := w.Popularity*popularity + w.Value*value + w.Activity*activity + w.Completion*completion
	return math.Max(0, math.Min(1, score))
}

// RebuildAll scores every incomplete subject and swaps the index to the
// new ranking in one step.
func (e *Engine) RebuildAll(ctx context.Context) (RebuildStats, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)
	start := time.Now()

	var (
		stats  RebuildStats
		scores []store.ScoredSubject
		after  string
	)
	for {
		page, err := e.subjects.ListIncomplete(ctx, after, e.pageSize)
		if err != nil {
			e.metrics.PriorityRebuilt(err, 0)
			return stats, fmt.Errorf("failed to list incomplete subjects: %w", err)
		}
		for _, s := range page {
			stats.Scanned++
			if s.Analysis.FullyAnalyzed {
				continue
			}
			scores = append(scores, store.ScoredSubject{SubjectID: s.ID, Score: e.Score(s)})
		}
		if len(page) < e.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if err := e.index.Replace(ctx, scores); err != nil {
		e.metrics.PriorityRebuilt(err, 0)
		return stats, fmt.Errorf("failed to replace priority index: %w", err)
	}

	stats.Indexed = len(scores)
	stats.Duration = time.Since(start)
	e.metrics.PriorityRebuilt(nil, stats.Indexed)
	log.InfoContext(ctx, "priority index rebuilt",
		"scanned", stats.Scanned,
		"indexed", stats.Indexed,
		"duration_ms", stats.Duration.Milliseconds())
	return stats, nil
}

// Refresh re-scores one subject, dropping it from the index once it is
// fully analyzed or no longer exists.
func (e *Engine) Refresh(ctx context.Context, subjectID string) error {
	s, err := e.subjects.Get(ctx, subjectID)
	if errors.Is(err, store.ErrSubjectNotFound) {
		return e.index.Remove(ctx, subjectID)
	}
	if err != nil {
		return fmt.Errorf("failed to load subject %s: %w", subjectID, err)
	}
	if s.Analysis.FullyAnalyzed {
		return e.index.Remove(ctx, subjectID)
	}
	return e.index.Set(ctx, subjectID, e.Score(s))
}

// Lookup returns the indexed score for a subject, scoring it on the fly
// when it is not indexed.
func (e *Engine) Lookup(ctx context.Context, s *domain.Subject) (float64, error) {
	score, ok, err := e.index.Score(ctx, s.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to read priority for %s: %w", s.ID, err)
	}
	if ok {
		return score, nil
	}
	return e.Score(s), nil
}

// HandleEvent refreshes the subject named by subject progress events.
func (e *Engine) HandleEvent(ctx context.Context, event *events.Event) error {
	switch event.Type {
	case events.SubjectProgressed, events.SubjectCompleted:
		if event.SubjectID == "" {
			return nil
		}
		return e.Refresh(ctx, event.SubjectID)
	}
	return nil
}
