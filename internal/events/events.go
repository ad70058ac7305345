package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the scheduler.
const (
	// SubjectProgressed is emitted when components were written for a
	// subject that is not yet fully analyzed.
	SubjectProgressed = "subject.progressed"

	// SubjectCompleted is emitted when a write made a subject fully analyzed.
	SubjectCompleted = "subject.completed"

	// TaskReclaimed is emitted after a stale-task sweep changed something.
	TaskReclaimed = "task.reclaimed"
)

// Event is a lifecycle notification.
type Event struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the constants above
	Type string `json:"type"`

	// SubjectID is set for subject events
	SubjectID string `json:"subject_id,omitempty"`

	// Payload contains the type-specific data serialized as JSON
	Payload json.RawMessage `json:"payload,omitempty"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// ProgressPayload accompanies SubjectProgressed and SubjectCompleted.
type ProgressPayload struct {
	TaskID         uuid.UUID `json:"task_id"`
	WorkerID       string    `json:"worker_id"`
	Written        int       `json:"written"`
	ComponentCount int       `json:"component_count"`
	FullyAnalyzed  bool      `json:"fully_analyzed"`
}

// ReclaimPayload accompanies TaskReclaimed.
type ReclaimPayload struct {
	Requeued int64 `json:"requeued"`
	Failed   int64 `json:"failed"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *Event) UnmarshalPayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates an Event with the specified type, subject and payload.
// A nil payload produces an event without one.
func NewEvent(eventType, subjectID string, payload any) (*Event, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		SubjectID: subjectID,
		Payload:   raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *Event) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *Event) error
}
