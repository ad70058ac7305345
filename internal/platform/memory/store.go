// Package memory provides in-process implementations of the store
// interfaces. All state sits behind one mutex, which makes every operation,
// including the task claim, trivially atomic. It backs zero-infrastructure
// runs and the service-level tests.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// Store holds tasks, subjects and workers in memory.
type Store struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*domain.Task
	subjects map[string]*domain.Subject
	workers  map[string]*domain.Worker
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Tests use it to age assignments.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		tasks:    make(map[uuid.UUID]*domain.Task),
		subjects: make(map[string]*domain.Subject),
		workers:  make(map[string]*domain.Worker),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "memory_store")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Transactor = (*Store)(nil)

// Tasks returns the task store view.
func (s *Store) Tasks() *TaskStore { return &TaskStore{s: s} }

// Subjects returns the subject store view.
func (s *Store) Subjects() *SubjectStore { return &SubjectStore{s: s} }

// Workers returns the worker registry view.
func (s *Store) Workers() *WorkerRegistry { return &WorkerRegistry{s: s} }

// Repositories bundles the three views.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{Tasks: s.Tasks(), Subjects: s.Subjects(), Workers: s.Workers()}
}

// WithinTx implements store.Transactor. The mutex is held for the whole of
// fn, and the state is restored if fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	repos := store.Repositories{
		Tasks:    &TaskStore{s: s, locked: true},
		Subjects: &SubjectStore{s: s, locked: true},
		Workers:  &WorkerRegistry{s: s, locked: true},
	}
	if err := fn(ctx, repos); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

type state struct {
	tasks    map[uuid.UUID]*domain.Task
	subjects map[string]*domain.Subject
	workers  map[string]*domain.Worker
}

func (s *Store) snapshot() state {
	st := state{
		tasks:    make(map[uuid.UUID]*domain.Task, len(s.tasks)),
		subjects: make(map[string]*domain.Subject, len(s.subjects)),
		workers:  make(map[string]*domain.Worker, len(s.workers)),
	}
	for id, t := range s.tasks {
		st.tasks[id] = cloneTask(t)
	}
	for id, subj := range s.subjects {
		st.subjects[id] = cloneSubject(subj, true)
	}
	for id, w := range s.workers {
		st.workers[id] = cloneWorker(w)
	}
	return st
}

func (s *Store) restore(st state) {
	s.tasks = st.tasks
	s.subjects = st.subjects
	s.workers = st.workers
}

// guard locks the store unless the caller already holds it.
func (s *Store) guard(locked bool) func() {
	if locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func cloneTask(t *domain.Task) *domain.Task {
	c := *t
	c.Components = append([]domain.ComponentType(nil), t.Components...)
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		c.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		c.CompletedAt = &ct
	}
	return &c
}

func cloneSubject(s *domain.Subject, withComponents bool) *domain.Subject {
	c := *s
	if s.PopularityRank != nil {
		r := *s.PopularityRank
		c.PopularityRank = &r
	}
	if s.Value != nil {
		v := *s.Value
		c.Value = &v
	}
	c.Context = append([]byte(nil), s.Context...)
	if s.Analysis.CompletedAt != nil {
		ct := *s.Analysis.CompletedAt
		c.Analysis.CompletedAt = &ct
	}
	c.Analysis.Components = nil
	if withComponents {
		c.Analysis.Components = make(map[domain.ComponentType]domain.Component, len(s.Analysis.Components))
		for t, comp := range s.Analysis.Components {
			comp.CoherenceConflicts = append([]string(nil), comp.CoherenceConflicts...)
			if comp.ModelInfo != nil {
				info := make(map[string]string, len(comp.ModelInfo))
				for k, v := range comp.ModelInfo {
					info[k] = v
				}
				comp.ModelInfo = info
			}
			c.Analysis.Components[t] = comp
		}
	}
	return &c
}

func cloneWorker(w *domain.Worker) *domain.Worker {
	c := *w
	c.Capabilities.Models = append([]string(nil), w.Capabilities.Models...)
	if w.Capabilities.Extra != nil {
		extra := make(map[string]string, len(w.Capabilities.Extra))
		for k, v := range w.Capabilities.Extra {
			extra[k] = v
		}
		c.Capabilities.Extra = extra
	}
	return &c
}
