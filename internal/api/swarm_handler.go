package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/scry-swarm/internal/api/shared"
	"github.com/phrazzld/scry-swarm/internal/dispatch"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/ingest"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
)

// StatsProvider reports queue statistics for the status endpoint.
type StatsProvider interface {
	Stats(ctx context.Context) (maintenance.QueueStats, error)
}

// SwarmHandler serves the worker-facing endpoints under /api/swarm.
type SwarmHandler struct {
	dispatch dispatch.Service
	ingest   ingest.Service
	stats    StatsProvider
	logger   *slog.Logger
}

// NewSwarmHandler creates a SwarmHandler. All collaborators are required.
func NewSwarmHandler(d dispatch.Service, i ingest.Service, stats StatsProvider, logger *slog.Logger) *SwarmHandler {
	if d == nil || i == nil || stats == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("dispatch, ingest and stats are required for SwarmHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SwarmHandler{
		dispatch: d,
		ingest:   i,
		stats:    stats,
		logger:   logger.With(slog.String("component", "swarm_handler")),
	}
}

// Routes mounts the handler's endpoints on r.
func (h *SwarmHandler) Routes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/get_work", h.GetWork)
	r.Post("/submit_results", h.SubmitResults)
	r.Post("/heartbeat", h.Heartbeat)
	r.Get("/status", h.Status)
}

// decode reads and validates the body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(w, r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.DescribeDecodeError(err), err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		msg := GetSafeErrorMessage(err)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msg = SanitizeValidationError(err)
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, msg, err)
		return false
	}
	return true
}

// Register handles POST /api/swarm/register.
func (h *SwarmHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.dispatch.Register(r.Context(), req.WorkerID, req.Capabilities)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to register worker")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("worker registered",
		slog.String("worker_id", res.WorkerID),
		slog.Any("classes", res.Classes))
	shared.RespondWithJSON(w, r, http.StatusOK, RegisterResponse{
		WorkerID:   res.WorkerID,
		Classes:    res.Classes,
		Components: res.Components,
	})
}

// GetWork handles POST /api/swarm/get_work.
func (h *SwarmHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	var req GetWorkRequest
	if !decode(w, r, &req) {
		return
	}

	tasks, err := h.dispatch.Dispatch(r.Context(), req.WorkerID, req.MaxTasks)
	if err != nil && len(tasks) == 0 {
		HandleAPIError(w, r, err, "Failed to get work")
		return
	}
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	if err != nil {
		// claimed tasks must reach the worker or they sit until reclaimed
		log.Warn("returning partial dispatch", slog.Int("count", len(tasks)), slog.String("worker_id", req.WorkerID))
	}

	resp := GetWorkResponse{Tasks: make([]WorkTask, 0, len(tasks)), Count: len(tasks)}
	for _, t := range tasks {
		resp.Tasks = append(resp.Tasks, toWorkTask(t))
	}
	log.Debug("work dispatched", slog.String("worker_id", req.WorkerID), slog.Int("count", resp.Count))
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

func toWorkTask(t dispatch.DispatchedTask) WorkTask {
	return WorkTask{
		TaskID:      t.Task.ID,
		SubjectID:   t.Task.SubjectID,
		SubjectName: t.SubjectName,
		Components:  t.Task.Components,
		Attempts:    t.Task.Attempts,
		Priority:    t.Task.Priority,
		AssignedAt:  t.Task.AssignedAt,
		Context:     t.Context,
		Params:      t.Params,
		Existing:    t.Existing,
	}
}

// SubmitResults handles POST /api/swarm/submit_results.
func (h *SwarmHandler) SubmitResults(w http.ResponseWriter, r *http.Request) {
	var req SubmitResultsRequest
	if !decode(w, r, &req) {
		return
	}

	sub, err := req.Submission()
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	receipt, err := h.ingest.Submit(r.Context(), sub)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit results")
		return
	}

	warnings := receipt.Warnings
	if warnings == nil {
		warnings = []ingest.Warning{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, SubmitResultsResponse{
		Accepted:       receipt.Accepted,
		Written:        receipt.Written,
		Warnings:       warnings,
		ComponentCount: receipt.ComponentCount,
		FullyAnalyzed:  receipt.FullyAnalyzed,
		TaskStatus:     receipt.TaskStatus,
	})
}

// Heartbeat handles POST /api/swarm/heartbeat.
func (h *SwarmHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.dispatch.Heartbeat(r.Context(), req.WorkerID, req.Status)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to record heartbeat")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HeartbeatResponse{
		Ack:          true,
		WorkerStatus: res.Status,
		Outstanding:  res.Outstanding,
	})
}

// Status handles GET /api/swarm/status.
func (h *SwarmHandler) Status(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read queue status")
		return
	}
	if stats.Tasks == nil {
		stats.Tasks = map[domain.TaskStatus]int64{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// Health handles GET /health.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok"})
}
