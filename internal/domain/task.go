package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is waiting to be claimed.
	TaskStatusPending TaskStatus = "pending"

	// TaskStatusAssigned indicates a worker has claimed the task.
	TaskStatusAssigned TaskStatus = "assigned"

	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"

	// TaskStatusFailed indicates the task exhausted its attempt budget.
	TaskStatusFailed TaskStatus = "failed"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusAssigned,
	TaskStatusCompleted,
	TaskStatusFailed,
}

// ParseTaskStatus converts s into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	for _, st := range AllTaskStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTaskStatus, s)
}

// IsTerminal reports whether no further transitions happen from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsLive reports whether s counts against the one-live-task-per-subject rule.
func (s TaskStatus) IsLive() bool {
	return s == TaskStatusPending || s == TaskStatusAssigned
}

// Task is a unit of dispatched work: one subject and a subset of its
// component types.
type Task struct {
	ID           uuid.UUID       `json:"id"`
	SubjectID    string          `json:"subject_id"`
	Components   []ComponentType `json:"components"`
	Status       TaskStatus      `json:"status"`
	AssignedTo   string          `json:"assigned_to,omitempty"`
	AssignedAt   *time.Time      `json:"assigned_at,omitempty"`
	Attempts     int             `json:"attempts"`
	Priority     float64         `json:"priority"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// NewTask creates a pending task for subjectID.
func NewTask(subjectID string, components []ComponentType, priority float64) (*Task, error) {
	if subjectID == "" {
		return nil, ErrSubjectIDEmpty
	}
	for _, c := range components {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownComponent, c)
		}
	}
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New(),
		SubjectID:  subjectID,
		Components: append([]ComponentType(nil), components...),
		Status:     TaskStatusPending,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// IsAssignedTo reports whether the task is currently held by workerID.
func (t *Task) IsAssignedTo(workerID string) bool {
	return t.Status == TaskStatusAssigned && t.AssignedTo == workerID
}

// Covers reports whether c is one of the task's components.
func (t *Task) Covers(c ComponentType) bool {
	for _, tc := range t.Components {
		if tc == c {
			return true
		}
	}
	return false
}
