package memory

import (
	"context"
	"sort"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// WorkerRegistry implements store.WorkerRegistry over a Store.
type WorkerRegistry struct {
	s      *Store
	locked bool
}

var _ store.WorkerRegistry = (*WorkerRegistry)(nil)

// Upsert implements store.WorkerRegistry.Upsert.
func (v *WorkerRegistry) Upsert(ctx context.Context, worker *domain.Worker) (*domain.Worker, error) {
	defer v.s.guard(v.locked)()

	next := cloneWorker(worker)
	if existing, ok := v.s.workers[worker.ID]; ok {
		next.RegisteredAt = existing.RegisteredAt
		next.TasksCompleted = existing.TasksCompleted
		next.TasksFailed = existing.TasksFailed
	}
	v.s.workers[worker.ID] = next
	return cloneWorker(next), nil
}

// Get implements store.WorkerRegistry.Get.
func (v *WorkerRegistry) Get(ctx context.Context, id string) (*domain.Worker, error) {
	defer v.s.guard(v.locked)()

	w, ok := v.s.workers[id]
	if !ok {
		return nil, store.ErrWorkerNotFound
	}
	return cloneWorker(w), nil
}

// Touch implements store.WorkerRegistry.Touch.
func (v *WorkerRegistry) Touch(ctx context.Context, id string, status string, at time.Time) error {
	defer v.s.guard(v.locked)()

	w, ok := v.s.workers[id]
	if !ok {
		return store.ErrWorkerNotFound
	}
	w.LastHeartbeat = at
	if status != "" {
		w.LastStatus = status
	}
	return nil
}

// RecordOutcome implements store.WorkerRegistry.RecordOutcome.
func (v *WorkerRegistry) RecordOutcome(ctx context.Context, id string, success bool) error {
	defer v.s.guard(v.locked)()

	w, ok := v.s.workers[id]
	if !ok {
		return store.ErrWorkerNotFound
	}
	if success {
		w.TasksCompleted++
	} else {
		w.TasksFailed++
	}
	return nil
}

// List implements store.WorkerRegistry.List.
func (v *WorkerRegistry) List(ctx context.Context) ([]*domain.Worker, error) {
	defer v.s.guard(v.locked)()

	out := make([]*domain.Worker, 0, len(v.s.workers))
	for _, w := range v.s.workers {
		out = append(out, cloneWorker(w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
