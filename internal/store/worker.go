package store

import (
	"context"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
)

// WorkerRegistry defines the interface for registered worker records.
type WorkerRegistry interface {
	// Upsert creates the worker or replaces its capabilities, refreshing
	// its heartbeat. Counters and registration time are preserved.
	Upsert(ctx context.Context, worker *domain.Worker) (*domain.Worker, error)

	// Get retrieves a worker. Returns ErrWorkerNotFound if it never registered.
	Get(ctx context.Context, id string) (*domain.Worker, error)

	// Touch records a heartbeat. Returns ErrWorkerNotFound for unknown workers.
	Touch(ctx context.Context, id string, status string, at time.Time) error

	// RecordOutcome increments the worker's completed or failed counter.
	RecordOutcome(ctx context.Context, id string, success bool) error

	// List returns every registered worker.
	List(ctx context.Context) ([]*domain.Worker, error)
}
