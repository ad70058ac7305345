package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
)

// Completion describes the outcome a worker reports for an assigned task.
type Completion struct {
	TaskID uuid.UUID
	// WorkerID must match the current assignee. Empty skips the check,
	// which only operator tooling should do.
	WorkerID string
	Success  bool
	Error    string
	// MaxAttempts is the retry budget. A failed task with fewer attempts
	// goes back to pending; otherwise it becomes terminally failed.
	MaxAttempts int
}

// ReclaimResult reports what a stale-task sweep did.
type ReclaimResult struct {
	Requeued int64
	Failed   int64
}

// TaskFilter narrows List results. Zero values mean "any".
type TaskFilter struct {
	Status     domain.TaskStatus
	SubjectID  string
	AssignedTo string
	Limit      uint64
}

// TaskStore defines the interface for durable task records and the
// atomic claiming protocol.
type TaskStore interface {
	// Enqueue inserts a pending task. It returns domain.ErrDuplicateSubjectWork
	// if the subject already has a pending or assigned task. components
	// must not be empty.
	Enqueue(ctx context.Context, subjectID string, components []domain.ComponentType, priority float64) (uuid.UUID, error)

	// ClaimNext atomically selects the highest-priority pending task whose
	// components overlap eligible, marks it
	// assigned to workerID, increments its attempt counter and narrows its
	// components to the eligible intersection. Ties break on creation time.
	// It returns (nil, nil) when no eligible task exists.
	ClaimNext(ctx context.Context, workerID string, eligible []domain.ComponentType) (*domain.Task, error)

	// CreateAssigned inserts a task directly in the assigned state. This is
	// how the dispatcher creates work at assignment time. It returns
	// domain.ErrDuplicateSubjectWork if the subject already has live work.
	CreateAssigned(ctx context.Context, subjectID string, components []domain.ComponentType, workerID string, priority float64) (*domain.Task, error)

	// Complete records the outcome of an assigned task. It returns the
	// resulting status, or domain.ErrTaskMismatch if the task is not
	// assigned to c.WorkerID.
	Complete(ctx context.Context, c Completion) (domain.TaskStatus, error)

	// ReclaimStale returns assigned tasks whose assigned_at predates
	// olderThan to pending, clearing the assignment. Tasks that have used
	// their whole attempt budget are failed instead.
	ReclaimStale(ctx context.Context, olderThan time.Time, maxAttempts int) (ReclaimResult, error)

	// Get retrieves a task by ID. Returns ErrTaskNotFound if it does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// GetForUpdate retrieves a task and locks it for the rest of the
	// surrounding transaction. Outside a transaction it behaves like Get.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error)

	// List returns tasks matching filter, newest first.
	List(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CountByStatus returns the number of tasks in each status.
	CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error)

	// CountAssignedTo returns how many tasks workerID currently holds.
	CountAssignedTo(ctx context.Context, workerID string) (int64, error)

	// CountHighPriorityPending counts pending tasks at or above threshold.
	CountHighPriorityPending(ctx context.Context, threshold float64) (int64, error)

	// DeleteTerminalBefore removes completed and failed tasks last updated
	// before t. It returns the number of deleted tasks.
	DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error)

	// RetryFailed moves failed tasks back to pending with a fresh attempt
	// budget, skipping subjects that already have live work.
	RetryFailed(ctx context.Context) (int64, error)
}
