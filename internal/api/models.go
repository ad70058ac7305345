package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"github.com/phrazzld/scry-swarm/internal/ingest"
)

// RegisterRequest is the body of POST /api/swarm/register.
type RegisterRequest struct {
	WorkerID     string                   `json:"worker_id"    validate:"required,max=128"`
	Capabilities domain.CapabilityProfile `json:"capabilities"`
}

// RegisterResponse tells a worker what it may generate.
type RegisterResponse struct {
	WorkerID   string                  `json:"worker_id"`
	Classes    []domain.ComponentClass `json:"classes"`
	Components []domain.ComponentType  `json:"components"`
}

// GetWorkRequest is the body of POST /api/swarm/get_work. A zero MaxTasks
// asks for one task.
type GetWorkRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
	MaxTasks int    `json:"max_tasks" validate:"gte=0"`
}

// WorkTask is one dispatched task on the wire.
type WorkTask struct {
	TaskID      uuid.UUID                                   `json:"task_id"`
	SubjectID   string                                      `json:"subject_id"`
	SubjectName string                                      `json:"subject_name"`
	Components  []domain.ComponentType                      `json:"components"`
	Attempts    int                                         `json:"attempts"`
	Priority    float64                                     `json:"priority"`
	AssignedAt  *time.Time                                  `json:"assigned_at,omitempty"`
	Context     json.RawMessage                             `json:"context,omitempty"`
	Params      map[domain.ComponentType]generation.Params `json:"params"`
	Existing    map[domain.ComponentType]string             `json:"existing,omitempty"`
}

// GetWorkResponse lists the tasks claimed for the worker.
type GetWorkResponse struct {
	Tasks []WorkTask `json:"tasks"`
	Count int        `json:"count"`
}

// SubmitResultsRequest is the body of POST /api/swarm/submit_results.
// Results map component type names to generated text.
type SubmitResultsRequest struct {
	WorkerID  string            `json:"worker_id"  validate:"required"`
	TaskID    uuid.UUID         `json:"task_id"`
	SubjectID string            `json:"subject_id" validate:"required"`
	Results   map[string]string `json:"results"`
	Failed    bool              `json:"failed"`
	Error     string            `json:"error,omitempty"      validate:"max=4096"`
	ModelInfo map[string]string `json:"model_info,omitempty"`
}

// Validate checks what struct tags cannot.
func (r SubmitResultsRequest) Validate() error {
	if r.TaskID == uuid.Nil {
		return fmt.Errorf("%w: task_id is required", domain.ErrValidation)
	}
	if !r.Failed && len(r.Results) == 0 {
		return fmt.Errorf("%w: results are required unless failed is set", domain.ErrInvalidSubmission)
	}
	return nil
}

// Submission converts the request, rejecting unknown component names.
func (r SubmitResultsRequest) Submission() (ingest.Submission, error) {
	results := make(map[domain.ComponentType]string, len(r.Results))
	for name, text := range r.Results {
		ct, err := domain.ParseComponentType(name)
		if err != nil {
			return ingest.Submission{}, fmt.Errorf("%w: %w", domain.ErrInvalidSubmission, err)
		}
		results[ct] = text
	}
	return ingest.Submission{
		TaskID:    r.TaskID,
		WorkerID:  r.WorkerID,
		SubjectID: r.SubjectID,
		Results:   results,
		Failed:    r.Failed,
		Error:     r.Error,
		ModelInfo: r.ModelInfo,
	}, nil
}

// SubmitResultsResponse is the ingestion receipt.
type SubmitResultsResponse struct {
	Accepted       bool              `json:"accepted"`
	Written        int               `json:"written"`
	Warnings       []ingest.Warning  `json:"warnings"`
	ComponentCount int               `json:"component_count"`
	FullyAnalyzed  bool              `json:"fully_analyzed"`
	TaskStatus     domain.TaskStatus `json:"task_status"`
}

// HeartbeatRequest is the body of POST /api/swarm/heartbeat.
type HeartbeatRequest struct {
	WorkerID string `json:"worker_id" validate:"required"`
	Status   string `json:"status"    validate:"max=256"`
}

// HeartbeatResponse acknowledges a heartbeat.
type HeartbeatResponse struct {
	Ack          bool                `json:"ack"`
	WorkerStatus domain.WorkerStatus `json:"worker_status"`
	Outstanding  int64               `json:"outstanding"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
