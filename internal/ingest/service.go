package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/coherence"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/events"
	"github.com/phrazzld/scry-swarm/internal/metrics"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/service"
	"github.com/phrazzld/scry-swarm/internal/store"
)

const serviceName = "ingest"

// DefaultMaxAttempts is used when Config.MaxAttempts is zero.
const DefaultMaxAttempts = 3

// Submission is what a worker reports for one assigned task.
type Submission struct {
	TaskID    uuid.UUID
	WorkerID  string
	SubjectID string
	Results   map[domain.ComponentType]string
	// Failed marks the task as failed. Any results are still stored.
	Failed    bool
	Error     string
	ModelInfo map[string]string
}

// Warning reports a component the coherence check did not accept.
type Warning struct {
	Component  domain.ComponentType `json:"component_type"`
	Confidence float64              `json:"confidence"`
	Conflicts  []string             `json:"conflicts,omitempty"`
	Method     coherence.Method     `json:"method"`
}

// Receipt summarizes a recorded submission.
type Receipt struct {
	Accepted       bool
	Written        int
	Warnings       []Warning
	ComponentCount int
	FullyAnalyzed  bool
	TaskStatus     domain.TaskStatus
}

// Service ingests worker results.
type Service interface {
	// Submit validates and records a submission. It returns
	// domain.ErrTaskMismatch when the task is not assigned to the worker
	// (including after a reclaim) and domain.ErrInvalidSubmission for
	// malformed results.
	Submit(ctx context.Context, sub Submission) (Receipt, error)
}

// Config bounds ingestion behaviour.
type Config struct {
	MaxAttempts int
}

// Deps are the collaborators of the ingest service.
type Deps struct {
	Transactor store.Transactor
	Tasks      store.TaskStore
	Subjects   store.SubjectStore
	Validator  *coherence.Validator
	Events     events.EventEmitter
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

type ingestService struct {
	tx          store.Transactor
	tasks       store.TaskStore
	subjects    store.SubjectStore
	validator   *coherence.Validator
	events      events.EventEmitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	maxAttempts int
}

// NewService creates the ingest service. A nil validator runs coherence
// checks in offline mode.
func NewService(deps Deps, cfg Config) (Service, error) {
	if deps.Transactor == nil || deps.Tasks == nil || deps.Subjects == nil {
		return nil, errors.New("ingest: transactor, task and subject stores are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = coherence.NewValidator(nil, coherence.DefaultMinConfidence, deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &ingestService{
		tx:          deps.Transactor,
		tasks:       deps.Tasks,
		subjects:    deps.Subjects,
		validator:   deps.Validator,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      deps.Logger.With(slog.String("component", "ingest_service")),
		now:         deps.Now,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Submit implements Service.Submit.
func (s *ingestService) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSubmission(time.Since(start)) }()
	log := logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("task_id", sub.TaskID.String()),
		slog.String("worker_id", sub.WorkerID))

	task, err := s.tasks.Get(ctx, sub.TaskID)
	if err != nil {
		return Receipt{}, service.NewError(serviceName, "submit", "failed to load task", err)
	}
	if err := verifyAssignment(task, sub); err != nil {
		return Receipt{}, err
	}
	types, err := validateResults(task, sub)
	if err != nil {
		return Receipt{}, err
	}

	subject, err := s.subjects.Get(ctx, task.SubjectID)
	if err != nil {
		return Receipt{}, service.NewError(serviceName, "submit", "failed to load subject", err)
	}
	wasComplete := subject.Analysis.FullyAnalyzed

	components, warnings := s.checkCoherence(ctx, subject, types, sub)

	var (
		progress store.SubjectProgress
		status   domain.TaskStatus
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		locked, err := repos.Tasks.GetForUpdate(ctx, sub.TaskID)
		if err != nil {
			return err
		}
		if err := verifyAssignment(locked, sub); err != nil {
			return err
		}

		if len(components) > 0 {
			progress, err = repos.Subjects.SaveComponents(ctx, task.SubjectID, components)
			if err != nil {
				return err
			}
		}

		status, err = repos.Tasks.Complete(ctx, store.Completion{
			TaskID:      sub.TaskID,
			WorkerID:    sub.WorkerID,
			Success:     !sub.Failed,
			Error:       sub.Error,
			MaxAttempts: s.maxAttempts,
		})
		if err != nil {
			return err
		}
		return repos.Workers.RecordOutcome(ctx, sub.WorkerID, !sub.Failed)
	})
	if err != nil {
		if errors.Is(err, domain.ErrTaskMismatch) {
			log.WarnContext(ctx, "task reassigned before results were stored")
		}
		return Receipt{}, service.NewError(serviceName, "submit", "failed to record results", err)
	}
	if len(components) == 0 {
		progress.ComponentCount = subject.Analysis.ComponentCount
		progress.FullyAnalyzed = subject.Analysis.FullyAnalyzed
	}

	s.metrics.TaskOutcome(status)
	for _, t := range types {
		s.metrics.ComponentWritten(t)
	}
	completedNow := progress.FullyAnalyzed && !wasComplete
	if completedNow {
		s.metrics.SubjectCompleted()
	}
	if len(components) > 0 {
		s.emitProgress(ctx, log, task.SubjectID, completedNow, events.ProgressPayload{
			TaskID:         sub.TaskID,
			WorkerID:       sub.WorkerID,
			Written:        len(components),
			ComponentCount: progress.ComponentCount,
			FullyAnalyzed:  progress.FullyAnalyzed,
		})
	}

	log.InfoContext(ctx, "results recorded",
		"subject_id", task.SubjectID,
		"written", len(components),
		"warnings", len(warnings),
		"component_count", progress.ComponentCount,
		"fully_analyzed", progress.FullyAnalyzed,
		"task_status", status)

	return Receipt{
		Accepted:       true,
		Written:        len(components),
		Warnings:       warnings,
		ComponentCount: progress.ComponentCount,
		FullyAnalyzed:  progress.FullyAnalyzed,
		TaskStatus:     status,
	}, nil
}

func verifyAssignment(task *domain.Task, sub Submission) error {
	if !task.IsAssignedTo(sub.WorkerID) {
		return fmt.Errorf("%w: task %s is %s", domain.ErrTaskMismatch, task.ID, task.Status)
	}
	if sub.SubjectID != "" && sub.SubjectID != task.SubjectID {
		return fmt.Errorf("%w: task %s belongs to subject %s", domain.ErrTaskMismatch, task.ID, task.SubjectID)
	}
	return nil
}

// validateResults returns the submitted component types in canonical order.
func validateResults(task *domain.Task, sub Submission) ([]domain.ComponentType, error) {
	if !sub.Failed && len(sub.Results) == 0 {
		return nil, fmt.Errorf("%w: no results", domain.ErrInvalidSubmission)
	}
	types := make([]domain.ComponentType, 0, len(sub.Results))
	for t, text := range sub.Results {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %w %q", domain.ErrInvalidSubmission, domain.ErrUnknownComponent, t)
		}
		if !task.Covers(t) {
			return nil, fmt.Errorf("%w: %s is not part of task %s", domain.ErrInvalidSubmission, t, task.ID)
		}
		if text == "" {
			return nil, fmt.Errorf("%w: %w for %s", domain.ErrInvalidSubmission, domain.ErrEmptyContent, t)
		}
		types = append(types, t)
	}
	domain.SortComponents(types)
	return types, nil
}

// checkCoherence builds the components to store. Each result is checked
// against the stored components and the results accepted before it.
func (s *ingestService) checkCoherence(
	ctx context.Context,
	subject *domain.Subject,
	types []domain.ComponentType,
	sub Submission,
) (map[domain.ComponentType]domain.Component, []Warning) {
	siblings := make(map[domain.ComponentType]string, len(subject.Analysis.Components)+len(types))
	for t, c := range subject.Analysis.Components {
		siblings[t] = c.Content
	}

	now := s.now()
	components := make(map[domain.ComponentType]domain.Component, len(types))
	var warnings []Warning
	for _, t := range types {
		text := sub.Results[t]
		verdict := s.validator.Check(ctx, subject.ID, t, text, siblings)
		s.metrics.CoherenceVerdict(string(verdict.Method), verdict.Accepted)

		components[t] = domain.Component{
			Content:            text,
			GeneratedBy:        sub.WorkerID,
			ModelInfo:          sub.ModelInfo,
			GeneratedAt:        now,
			CoherenceScore:     verdict.Confidence,
			CoherenceConflicts: verdict.Conflicts,
		}
		if verdict.Accepted {
			siblings[t] = text
			continue
		}
		warnings = append(warnings, Warning{
			Component:  t,
			Confidence: verdict.Confidence,
			Conflicts:  verdict.Conflicts,
			Method:     verdict.Method,
		})
	}
	return components, warnings
}

func (s *ingestService) emitProgress(ctx context.Context, log *slog.Logger, subjectID string, completed bool, payload events.ProgressPayload) {
	if s.events == nil {
		return
	}
	eventType := events.SubjectProgressed
	if completed {
		eventType = events.SubjectCompleted
	}
	event, err := events.NewEvent(eventType, subjectID, payload)
	if err != nil {
		log.ErrorContext(ctx, "failed to build event", "event_type", eventType, "error", err)
		return
	}
	if err := s.events.EmitEvent(ctx, event); err != nil {
		log.WarnContext(ctx, "event handler failed", "event_type", eventType, "error", err)
	}
}
