package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// TaskStore implements store.TaskStore over a Store.
type TaskStore struct {
	s      *Store
	locked bool
}

var _ store.TaskStore = (*TaskStore)(nil)

func (v *TaskStore) liveTaskFor(subjectID string) bool {
	for _, t := range v.s.tasks {
		if t.SubjectID == subjectID && t.Status.IsLive() {
			return true
		}
	}
	return false
}

func (v *TaskStore) insert(subjectID string, components []domain.ComponentType, priority float64) (*domain.Task, error) {
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: task needs at least one component", store.ErrInvalidEntity)
	}
	task, err := domain.NewTask(subjectID, components, priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if _, ok := v.s.subjects[subjectID]; !ok {
		return nil, store.ErrSubjectNotFound
	}
	if v.liveTaskFor(subjectID) {
		return nil, fmt.Errorf("%w: subject %s", domain.ErrDuplicateSubjectWork, subjectID)
	}
	now := v.s.now()
	task.CreatedAt = now
	task.UpdatedAt = now
	v.s.tasks[task.ID] = task
	return task, nil
}

// Enqueue implements store.TaskStore.Enqueue.
func (v *TaskStore) Enqueue(
	ctx context.Context,
	subjectID string,
	components []domain.ComponentType,
	priority float64,
) (uuid.UUID, error) {
	defer v.s.guard(v.locked)()

	task, err := v.insert(subjectID, components, priority)
	if err != nil {
		return uuid.Nil, err
	}
	v.s.logger.Debug("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("subject_id", subjectID))
	return task.ID, nil
}

// claimsBefore orders pending tasks for claiming.
func claimsBefore(a, b *domain.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// ClaimNext implements store.TaskStore.ClaimNext.
func (v *TaskStore) ClaimNext(
	ctx context.Context,
	workerID string,
	eligible []domain.ComponentType,
) (*domain.Task, error) {
	defer v.s.guard(v.locked)()

	var best *domain.Task
	var narrowed []domain.ComponentType
	for _, t := range v.s.tasks {
		if t.Status != domain.TaskStatusPending {
			continue
		}
		overlap := domain.Intersect(t.Components, eligible, domain.MaxComponentsPerTask)
		if len(overlap) == 0 {
			continue
		}
		if best == nil || claimsBefore(t, best) {
			best, narrowed = t, overlap
		}
	}
	if best == nil {
		return nil, nil
	}

	now := v.s.now()
	best.Status = domain.TaskStatusAssigned
	best.AssignedTo = workerID
	best.AssignedAt = &now
	best.Attempts++
	best.Components = narrowed
	best.UpdatedAt = now
	return cloneTask(best), nil
}

// CreateAssigned implements store.TaskStore.CreateAssigned.
func (v *TaskStore) CreateAssigned(
	ctx context.Context,
	subjectID string,
	components []domain.ComponentType,
	workerID string,
	priority float64,
) (*domain.Task, error) {
	defer v.s.guard(v.locked)()

	if workerID == "" {
		return nil, fmt.Errorf("%w: assigned task needs a worker", store.ErrInvalidEntity)
	}
	task, err := v.insert(subjectID, components, priority)
	if err != nil {
		return nil, err
	}
	at := task.CreatedAt
	task.Status = domain.TaskStatusAssigned
	task.AssignedTo = workerID
	task.AssignedAt = &at
	task.Attempts = 1
	return cloneTask(task), nil
}

// Complete implements store.TaskStore.Complete.
func (v *TaskStore) Complete(ctx context.Context, c store.Completion) (domain.TaskStatus, error) {
	defer v.s.guard(v.locked)()

	t, ok := v.s.tasks[c.TaskID]
	if !ok {
		return "", store.ErrTaskNotFound
	}
	if t.Status != domain.TaskStatusAssigned || (c.WorkerID != "" && t.AssignedTo != c.WorkerID) {
		return "", fmt.Errorf("%w: task %s", domain.ErrTaskMismatch, c.TaskID)
	}

	now := v.s.now()
	t.UpdatedAt = now
	switch {
	case c.Success:
		t.Status = domain.TaskStatusCompleted
		t.ErrorMessage = ""
		t.CompletedAt = &now
	case t.Attempts < c.MaxAttempts:
		t.Status = domain.TaskStatusPending
		t.AssignedTo = ""
		t.AssignedAt = nil
		t.ErrorMessage = c.Error
	default:
		t.Status = domain.TaskStatusFailed
		t.ErrorMessage = c.Error
		t.CompletedAt = &now
	}
	return t.Status, nil
}

// ReclaimStale implements store.TaskStore.ReclaimStale.
func (v *TaskStore) ReclaimStale(ctx context.Context, olderThan time.Time, maxAttempts int) (store.ReclaimResult, error) {
	defer v.s.guard(v.locked)()

	var result store.ReclaimResult
	now := v.s.now()
	for _, t := range v.s.tasks {
		if t.Status != domain.TaskStatusAssigned || t.AssignedAt == nil || !t.AssignedAt.Before(olderThan) {
			continue
		}
		t.UpdatedAt = now
		if t.Attempts >= maxAttempts {
			t.Status = domain.TaskStatusFailed
			t.ErrorMessage = "attempt budget exhausted"
			t.CompletedAt = &now
			result.Failed++
			continue
		}
		t.Status = domain.TaskStatusPending
		t.AssignedTo = ""
		t.AssignedAt = nil
		t.ErrorMessage = "reclaimed after stale assignment"
		result.Requeued++
	}
	return result, nil
}

// Get implements store.TaskStore.Get.
func (v *TaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	defer v.s.guard(v.locked)()

	t, ok := v.s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

// GetForUpdate implements store.TaskStore.GetForUpdate. Inside WithinTx the
// store lock is already held, so it is the same as Get.
func (v *TaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return v.Get(ctx, id)
}

// List implements store.TaskStore.List.
func (v *TaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	defer v.s.guard(v.locked)()

	var out []*domain.Task
	for _, t := range v.s.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.SubjectID != "" && t.SubjectID != filter.SubjectID {
			continue
		}
		if filter.AssignedTo != "" && t.AssignedTo != filter.AssignedTo {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountByStatus implements store.TaskStore.CountByStatus.
func (v *TaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	defer v.s.guard(v.locked)()

	counts := make(map[domain.TaskStatus]int64, len(domain.AllTaskStatuses))
	for _, st := range domain.AllTaskStatuses {
		counts[st] = 0
	}
	for _, t := range v.s.tasks {
		counts[t.Status]++
	}
	return counts, nil
}

// CountAssignedTo implements store.TaskStore.CountAssignedTo.
func (v *TaskStore) CountAssignedTo(ctx context.Context, workerID string) (int64, error) {
	defer v.s.guard(v.locked)()

	var n int64
	for _, t := range v.s.tasks {
		if t.IsAssignedTo(workerID) {
			n++
		}
	}
	return n, nil
}

// CountHighPriorityPending implements store.TaskStore.CountHighPriorityPending.
func (v *TaskStore) CountHighPriorityPending(ctx context.Context, threshold float64) (int64, error) {
	defer v.s.guard(v.locked)()

	var n int64
	for _, t := range v.s.tasks {
		if t.Status == domain.TaskStatusPending && t.Priority >= threshold {
			n++
		}
	}
	return n, nil
}

// DeleteTerminalBefore implements store.TaskStore.DeleteTerminalBefore.
func (v *TaskStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	defer v.s.guard(v.locked)()

	var n int64
	for id, t := range v.s.tasks {
		if t.Status.IsTerminal() && t.UpdatedAt.Before(before) {
			delete(v.s.tasks, id)
			n++
		}
	}
	return n, nil
}

// RetryFailed implements store.TaskStore.RetryFailed.
func (v *TaskStore) RetryFailed(ctx context.Context) (int64, error) {
	defer v.s.guard(v.locked)()

	latest := make(map[string]*domain.Task)
	for _, t := range v.s.tasks {
		if t.Status != domain.TaskStatusFailed {
			continue
		}
		if cur, ok := latest[t.SubjectID]; !ok || t.UpdatedAt.After(cur.UpdatedAt) {
			latest[t.SubjectID] = t
		}
	}

	var n int64
	now := v.s.now()
	for subjectID, t := range latest {
		if v.liveTaskFor(subjectID) {
			continue
		}
		t.Status = domain.TaskStatusPending
		t.Attempts = 0
		t.AssignedTo = ""
		t.AssignedAt = nil
		t.ErrorMessage = ""
		t.CompletedAt = nil
		t.UpdatedAt = now
		n++
	}
	return n, nil
}
