// Package dispatch registers workers, tracks their liveness and hands them
// work. Every cross-request decision rests on the task store's atomic claim
// and its one-live-task-per-subject guarantee; the dispatcher itself keeps
// no shared state.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"github.com/phrazzld/scry-swarm/internal/metrics"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/service"
	"github.com/phrazzld/scry-swarm/internal/store"
)

const serviceName = "dispatch"

// Defaults applied to zero Config fields.
const (
	DefaultMaxTasksPerRequest = 5
	DefaultPlanWindow         = 50
	DefaultMaxAttempts        = 3
)

// RegisterResult tells a worker what it may generate.
type RegisterResult struct {
	WorkerID   string
	Classes    []domain.ComponentClass
	Components []domain.ComponentType
}

// HeartbeatResult reports a worker's derived status and current load.
type HeartbeatResult struct {
	Status      domain.WorkerStatus
	Outstanding int64
}

// DispatchedTask is a claimed task with everything a worker needs to
// generate it.
type DispatchedTask struct {
	Task        *domain.Task
	SubjectName string
	Context     json.RawMessage
	Params      map[domain.ComponentType]generation.Params
	// Existing holds stored component text the worker may use as context.
	Existing map[domain.ComponentType]string
}

// Config bounds dispatch behaviour.
type Config struct {
	MaxTasksPerRequest   int
	PlanWindow           int
	MaxComponentsPerTask int
	MaxAttempts          int
	Liveness             domain.LivenessPolicy
}

func (c Config) withDefaults() Config {
	if c.MaxTasksPerRequest <= 0 {
		c.MaxTasksPerRequest = DefaultMaxTasksPerRequest
	}
	if c.PlanWindow <= 0 {
		c.PlanWindow = DefaultPlanWindow
	}
	if c.MaxComponentsPerTask <= 0 || c.MaxComponentsPerTask > domain.MaxComponentsPerTask {
		c.MaxComponentsPerTask = domain.MaxComponentsPerTask
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Liveness == (domain.LivenessPolicy{}) {
		c.Liveness = domain.DefaultLivenessPolicy()
	}
	return c
}

// Service is the worker-facing scheduling API.
type Service interface {
	// Register creates or refreshes a worker and returns its eligibility.
	Register(ctx context.Context, workerID string, caps domain.CapabilityProfile) (RegisterResult, error)

	// Heartbeat records a sign of life. The returned status is derived from
	// the previous heartbeat, so a worker learns it had gone stale or
	// offline. Unknown workers get domain.ErrUnknownWorker.
	Heartbeat(ctx context.Context, workerID, status string) (HeartbeatResult, error)

	// Dispatch claims up to maxTasks tasks for workerID, creating new work
	// from the priority index when no pending task fits. It returns an
	// empty slice when there is nothing to do.
	Dispatch(ctx context.Context, workerID string, maxTasks int) ([]DispatchedTask, error)
}

// Deps are the collaborators of the dispatch service.
type Deps struct {
	Tasks    store.TaskStore
	Subjects store.SubjectStore
	Workers  store.WorkerRegistry
	Index    store.PriorityIndex
	Catalog  *generation.Catalog
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

type dispatchService struct {
	tasks    store.TaskStore
	subjects store.SubjectStore
	workers  store.WorkerRegistry
	index    store.PriorityIndex
	catalog  *generation.Catalog
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	cfg      Config
}

// NewService creates the dispatch service.
func NewService(deps Deps, cfg Config) (Service, error) {
	if deps.Tasks == nil || deps.Subjects == nil || deps.Workers == nil || deps.Index == nil {
		return nil, errors.New("dispatch: task, subject, worker stores and priority index are required")
	}
	if deps.Catalog == nil {
		deps.Catalog = generation.DefaultCatalog()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	return &dispatchService{
		tasks:    deps.Tasks,
		subjects: deps.Subjects,
		workers:  deps.Workers,
		index:    deps.Index,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(slog.String("component", "dispatch_service")),
		now:      deps.Now,
		cfg:      cfg.withDefaults(),
	}, nil
}

// Register implements Service.Register.
func (s *dispatchService) Register(ctx context.Context, workerID string, caps domain.CapabilityProfile) (RegisterResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	w, err := domain.NewWorker(workerID, caps, s.now())
	if err != nil {
		return RegisterResult{}, err
	}
	stored, err := s.workers.Upsert(ctx, w)
	if err != nil {
		return RegisterResult{}, service.NewError(serviceName, "register", "failed to save worker", err)
	}

	res := RegisterResult{
		WorkerID:   stored.ID,
		Classes:    stored.Capabilities.EligibleClasses(),
		Components: stored.Capabilities.EligibleComponents(),
	}
	log.InfoContext(ctx, "worker registered",
		"worker_id", stored.ID,
		"gpu_available", stored.Capabilities.GPUAvailable,
		"ram_gb", stored.Capabilities.RAMGB,
		"classes", res.Classes)
	return res, nil
}

// Heartbeat implements Service.Heartbeat.
func (s *dispatchService) Heartbeat(ctx context.Context, workerID, status string) (HeartbeatResult, error) {
	w, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return HeartbeatResult{}, service.NewError(serviceName, "heartbeat", "failed to load worker", err)
	}
	now := s.now()
	if err := s.workers.Touch(ctx, workerID, status, now); err != nil {
		return HeartbeatResult{}, service.NewError(serviceName, "heartbeat", "failed to record heartbeat", err)
	}
	outstanding, err := s.tasks.CountAssignedTo(ctx, workerID)
	if err != nil {
		return HeartbeatResult{}, service.NewError(serviceName, "heartbeat", "failed to count assigned tasks", err)
	}
	return HeartbeatResult{
		Status:      s.cfg.Liveness.Status(w.LastHeartbeat, now),
		Outstanding: outstanding,
	}, nil
}

// Dispatch implements Service.Dispatch.
func (s *dispatchService) Dispatch(ctx context.Context, workerID string, maxTasks int) ([]DispatchedTask, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDispatch(time.Since(start)) }()
	log := logger.FromContextOrDefault(ctx, s.logger).With(slog.String("worker_id", workerID))

	w, err := s.workers.Get(ctx, workerID)
	if err != nil {
		return nil, service.NewError(serviceName, "get_work", "failed to load worker", err)
	}
	if err := s.workers.Touch(ctx, workerID, w.LastStatus, s.now()); err != nil {
		return nil, service.NewError(serviceName, "get_work", "failed to record heartbeat", err)
	}

	limit := clamp(maxTasks, 1, s.cfg.MaxTasksPerRequest)
	eligible := w.Capabilities.EligibleComponents()
	p := &planner{seen: make(map[string]bool)}
	out := make([]DispatchedTask, 0, limit)
	claimed, planned := 0, 0

	for len(out) < limit {
		if ctx.Err() != nil {
			break
		}

		task, err := s.tasks.ClaimNext(ctx, workerID, eligible)
		if err != nil {
			return s.partial(ctx, log, out, service.NewError(serviceName, "get_work", "failed to claim task", err))
		}
		if task != nil {
			p.seen[task.SubjectID] = true
			dt, ok, err := s.prepareClaimed(ctx, task)
			if err != nil {
				return s.partial(ctx, log, out, err)
			}
			if ok {
				out = append(out, dt)
				claimed++
			}
			continue
		}

		task, subject, err := s.plan(ctx, p, workerID, eligible)
		if err != nil {
			return s.partial(ctx, log, out, err)
		}
		if task == nil {
			break
		}
		out = append(out, s.describe(task, subject))
		planned++
	}

	s.metrics.Dispatched("claimed", claimed)
	s.metrics.Dispatched("planned", planned)
	if len(out) > 0 {
		log.InfoContext(ctx, "work dispatched",
			"tasks", len(out),
			"claimed", claimed,
			"planned", planned)
	}
	return out, nil
}

// partial returns the tasks already claimed when a later step fails. The
// worker holds them now; dropping them would leave them assigned until
// the stale sweep.
func (s *dispatchService) partial(ctx context.Context, log *slog.Logger, out []DispatchedTask, err error) ([]DispatchedTask, error) {
	if len(out) == 0 {
		return nil, err
	}
	log.WarnContext(ctx, "dispatch stopped early", "tasks", len(out), "error", err)
	return out, nil
}

// prepareClaimed loads the claimed task's subject. Tasks with nothing left
// to generate are completed on the spot and reported as not ok.
func (s *dispatchService) prepareClaimed(ctx context.Context, task *domain.Task) (DispatchedTask, bool, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	subject, err := s.subjects.Get(ctx, task.SubjectID)
	if errors.Is(err, store.ErrSubjectNotFound) {
		log.WarnContext(ctx, "claimed task for unknown subject, failing it",
			"task_id", task.ID, "subject_id", task.SubjectID)
		if _, err := s.tasks.Complete(ctx, store.Completion{
			TaskID:      task.ID,
			WorkerID:    task.AssignedTo,
			Error:       "subject not found",
			MaxAttempts: 0,
		}); err != nil {
			return DispatchedTask{}, false, service.NewError(serviceName, "get_work", "failed to fail orphaned task", err)
		}
		return DispatchedTask{}, false, nil
	}
	if err != nil {
		return DispatchedTask{}, false, service.NewError(serviceName, "get_work", "failed to load subject", err)
	}

	if subject.Analysis.FullyAnalyzed || len(domain.Intersect(task.Components, subject.Missing(), 0)) == 0 {
		if _, err := s.tasks.Complete(ctx, store.Completion{
			TaskID:      task.ID,
			WorkerID:    task.AssignedTo,
			Success:     true,
			MaxAttempts: s.cfg.MaxAttempts,
		}); err != nil {
			return DispatchedTask{}, false, service.NewError(serviceName, "get_work", "failed to complete redundant task", err)
		}
		log.DebugContext(ctx, "completed redundant task",
			"task_id", task.ID, "subject_id", task.SubjectID)
		return DispatchedTask{}, false, nil
	}

	return s.describe(task, subject), true, nil
}

// planner walks the priority index for one request. It reads PlanWindow
// entries first and doubles the read whenever a page yields nothing, so a
// worker reaches low-ranked subjects once the top of the index no longer
// needs its classes.
type planner struct {
	candidates []store.ScoredSubject
	cursor     int
	window     int
	exhausted  bool
	seen       map[string]bool
}

// plan creates an assigned task for the best-ranked subject that still
// needs components this worker can produce. It returns a nil task once the
// whole index has been walked.
func (s *dispatchService) plan(ctx context.Context, p *planner, workerID string, eligible []domain.ComponentType) (*domain.Task, *domain.Subject, error) {
	for {
		task, subject, err := s.planPage(ctx, p, workerID, eligible)
		if err != nil || task != nil || ctx.Err() != nil {
			return task, subject, err
		}
		if p.exhausted {
			return nil, nil, nil
		}

		window := s.cfg.PlanWindow
		if p.window > 0 {
			window = p.window * 2
		}
		top, err := s.index.Top(ctx, window)
		if err != nil {
			return nil, nil, service.NewError(serviceName, "get_work", "failed to read priority index", err)
		}
		p.candidates, p.cursor, p.window = top, 0, window
		p.exhausted = len(top) < window
	}
}

// planPage tries the unvisited candidates of the current page.
func (s *dispatchService) planPage(ctx context.Context, p *planner, workerID string, eligible []domain.ComponentType) (*domain.Task, *domain.Subject, error) {
	for p.cursor < len(p.candidates) {
		if ctx.Err() != nil {
			return nil, nil, nil
		}
		c := p.candidates[p.cursor]
		p.cursor++
		if p.seen[c.SubjectID] {
			continue
		}
		p.seen[c.SubjectID] = true

		subject, err := s.subjects.Get(ctx, c.SubjectID)
		if errors.Is(err, store.ErrSubjectNotFound) {
			_ = s.index.Remove(ctx, c.SubjectID)
			continue
		}
		if err != nil {
			return nil, nil, service.NewError(serviceName, "get_work", "failed to load subject", err)
		}
		if subject.Analysis.FullyAnalyzed {
			_ = s.index.Remove(ctx, c.SubjectID)
			continue
		}

		components := domain.Intersect(subject.Missing(), eligible, s.cfg.MaxComponentsPerTask)
		if len(components) == 0 {
			continue
		}

		task, err := s.tasks.CreateAssigned(ctx, subject.ID, components, workerID, c.Score)
		if errors.Is(err, domain.ErrDuplicateSubjectWork) {
			continue
		}
		if err != nil {
			return nil, nil, service.NewError(serviceName, "get_work", "failed to create task", err)
		}
		return task, subject, nil
	}
	return nil, nil, nil
}

func (s *dispatchService) describe(task *domain.Task, subject *domain.Subject) DispatchedTask {
	existing := make(map[domain.ComponentType]string, len(subject.Analysis.Components))
	for t, c := range subject.Analysis.Components {
		existing[t] = c.Content
	}
	return DispatchedTask{
		Task:        task,
		SubjectName: subject.Name,
		Context:     subject.Context,
		Params:      s.catalog.ParamsFor(task.Components),
		Existing:    existing,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

