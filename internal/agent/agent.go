package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/phrazzld/scry-swarm/internal/api"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/redact"
)

// State is where the agent is in its work cycle.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateGenerating State = "generating"
	StateSubmitting State = "submitting"
	StateStopped    State = "stopped"
)

// Defaults applied to zero Config fields.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultMaxTasks          = 1
)

// Config describes the worker and its pacing.
type Config struct {
	WorkerID          string
	Capabilities      domain.CapabilityProfile
	MaxTasks          int
	PollInterval      time.Duration
	MaxBackoff        time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxTasks <= 0 {
		c.MaxTasks = DefaultMaxTasks
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxBackoff < c.PollInterval {
		c.MaxBackoff = DefaultMaxBackoff
		if c.MaxBackoff < c.PollInterval {
			c.MaxBackoff = c.PollInterval
		}
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// Stats counts what the agent has done since it started.
type Stats struct {
	TasksSubmitted  int64
	TasksFailed     int64
	TasksConflicted int64
	Components      int64
}

// Agent runs the worker loop.
type Agent struct {
	server    Server
	generator generation.Generator
	cfg       Config
	logger    *slog.Logger

	mu    sync.Mutex
	state State

	cycle      atomic.Int64
	submitted  atomic.Int64
	failed     atomic.Int64
	conflicted atomic.Int64
	written    atomic.Int64

	// wait is swapped in tests.
	wait func(ctx context.Context, d time.Duration) error
}

// New creates an Agent.
func New(server Server, generator generation.Generator, cfg Config, log *slog.Logger) (*Agent, error) {
	if server == nil || generator == nil {
		return nil, errors.New("agent: server and generator are required")
	}
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("agent: %w: worker ID is required", domain.ErrInvalidWorker)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		server:    server,
		generator: generator,
		cfg:       cfg.withDefaults(),
		logger:    log.With(slog.String("component", "agent"), slog.String("worker_id", cfg.WorkerID)),
		state:     StateIdle,
		wait:      sleepContext,
	}, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// State returns the current cycle state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (a *Agent) Stats() Stats {
	return Stats{
		TasksSubmitted:  a.submitted.Load(),
		TasksFailed:     a.failed.Load(),
		TasksConflicted: a.conflicted.Load(),
		Components:      a.written.Load(),
	}
}

// Register announces the worker and records what it may generate.
func (a *Agent) Register(ctx context.Context) error {
	resp, err := a.server.Register(ctx, api.RegisterRequest{
		WorkerID:     a.cfg.WorkerID,
		Capabilities: a.cfg.Capabilities,
	})
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	a.logger.Info("registered with scheduler",
		slog.Any("classes", resp.Classes),
		slog.Int("components", len(resp.Components)))
	return nil
}

// Run registers, starts the heartbeat and loops until ctx is cancelled.
// It only returns ctx's error.
func (a *Agent) Run(ctx context.Context) error {
	defer a.setState(StateStopped)

	delay := newBackoff(a.cfg.PollInterval, a.cfg.MaxBackoff)
	for {
		err := a.Register(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d := delay.next()
		a.logger.Warn("registration failed, retrying", redact.Attr(err), slog.Duration("retry_in", d))
		if err := a.wait(ctx, d); err != nil {
			return err
		}
	}
	delay.reset()

	var wg sync.WaitGroup
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(hbCtx)
	}()
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	for {
		n, err := a.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, ErrNotRegistered):
			a.logger.Warn("scheduler forgot this worker, registering again")
			if err := a.Register(ctx); err != nil {
				a.logger.Error("re-registration failed", redact.Attr(err))
			}
		case err != nil:
			a.logger.Error("work cycle failed", redact.Attr(err))
		case n > 0:
			delay.reset()
			continue
		}

		d := delay.next()
		a.logger.Debug("backing off", slog.Duration("delay", d))
		if err := a.wait(ctx, d); err != nil {
			return err
		}
	}
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.SendHeartbeat(ctx)
		}
	}
}

// SendHeartbeat reports the current state. Failures are logged only.
func (a *Agent) SendHeartbeat(ctx context.Context) {
	resp, err := a.server.Heartbeat(ctx, api.HeartbeatRequest{
		WorkerID: a.cfg.WorkerID,
		Status:   string(a.State()),
	})
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("heartbeat failed", redact.Attr(err))
		}
		return
	}
	a.logger.Debug("heartbeat acknowledged",
		slog.String("worker_status", string(resp.WorkerStatus)),
		slog.Int64("outstanding", resp.Outstanding))
}

// RunOnce performs one requesting → generating → submitting cycle and
// returns how many tasks it submitted. A failed submission does not stop
// the batch; the failures are joined into the returned error.
func (a *Agent) RunOnce(ctx context.Context) (int, error) {
	defer a.setState(StateIdle)

	cycle := a.cycle.Add(1)
	ctx = WithTrace(ctx, fmt.Sprintf("%s-%d", a.cfg.WorkerID, cycle))
	log := a.logger.With(slog.Int64("cycle", cycle))
	ctx = logger.WithLogger(ctx, log)

	a.setState(StateRequesting)
	work, err := a.server.GetWork(ctx, api.GetWorkRequest{WorkerID: a.cfg.WorkerID, MaxTasks: a.cfg.MaxTasks})
	if err != nil {
		return 0, fmt.Errorf("failed to get work: %w", err)
	}
	if len(work.Tasks) == 0 {
		log.Debug("no work available")
		return 0, nil
	}

	done := 0
	var errs []error
	for _, task := range work.Tasks {
		if ctx.Err() != nil {
			return done, errors.Join(append(errs, ctx.Err())...)
		}
		a.setState(StateGenerating)
		req := a.generate(ctx, task)

		a.setState(StateSubmitting)
		if err := a.submit(ctx, req); err != nil {
			if errors.Is(err, ErrTaskConflict) {
				a.conflicted.Add(1)
				log.Warn("task was reassigned before submission", slog.String("task_id", task.TaskID.String()))
				continue
			}
			log.Error("submission failed", slog.String("task_id", task.TaskID.String()), redact.Attr(err))
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// generate writes every component of task. Failed components are left out
// and the submission is marked failed so the task is retried.
func (a *Agent) generate(ctx context.Context, task api.WorkTask) api.SubmitResultsRequest {
	log := logger.FromContextOrDefault(ctx, a.logger).With(
		slog.String("task_id", task.TaskID.String()),
		slog.String("subject_id", task.SubjectID))

	req := api.SubmitResultsRequest{
		WorkerID:  a.cfg.WorkerID,
		TaskID:    task.TaskID,
		SubjectID: task.SubjectID,
		Results:   make(map[string]string, len(task.Components)),
		ModelInfo: map[string]string{},
	}

	existing := make(map[domain.ComponentType]string, len(task.Existing)+len(task.Components))
	for k, v := range task.Existing {
		existing[k] = v
	}

	var failures []string
	for _, c := range task.Components {
		start := time.Now()
		out, err := a.generator.Generate(ctx, generation.Request{
			SubjectName: task.SubjectName,
			Context:     task.Context,
			Component:   c,
			Params:      task.Params[c],
			Existing:    existing,
		})
		if err != nil {
			log.Warn("component generation failed", slog.String("component_type", string(c)), redact.Attr(err))
			failures = append(failures, fmt.Sprintf("%s: %s", c, redact.Error(err)))
			continue
		}
		req.Results[string(c)] = out.Text
		existing[c] = out.Text
		for k, v := range out.ModelInfo {
			req.ModelInfo[k] = v
		}
		log.Debug("component generated",
			slog.String("component_type", string(c)),
			slog.Duration("elapsed", time.Since(start)))
	}

	if len(failures) > 0 {
		req.Failed = true
		req.Error = truncate(fmt.Sprintf("%d of %d components failed: %v", len(failures), len(task.Components), failures), 4096)
	}
	return req
}

func (a *Agent) submit(ctx context.Context, req api.SubmitResultsRequest) error {
	resp, err := a.server.SubmitResults(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to submit task %s: %w", req.TaskID, err)
	}
	a.submitted.Add(1)
	a.written.Add(int64(resp.Written))
	if req.Failed {
		a.failed.Add(1)
	}

	log := logger.FromContextOrDefault(ctx, a.logger)
	for _, w := range resp.Warnings {
		log.Info("coherence warning",
			slog.String("component_type", string(w.Component)),
			slog.Float64("confidence", w.Confidence),
			slog.Any("conflicts", w.Conflicts))
	}
	log.Info("results submitted",
		slog.String("task_id", req.TaskID.String()),
		slog.Int("written", resp.Written),
		slog.Int("component_count", resp.ComponentCount),
		slog.Bool("fully_analyzed", resp.FullyAnalyzed),
		slog.String("task_status", string(resp.TaskStatus)))
	return nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// backoff doubles from initial up to max.
type backoff struct {
	initial, max, current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max, current: initial}
}

func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

func (b *backoff) reset() { b.current = b.initial }
