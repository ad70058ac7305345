package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/store"
)

const workerColumns = `id, capabilities, tasks_completed, tasks_failed, registered_at, last_heartbeat, last_status`

// PostgresWorkerStore implements the store.WorkerRegistry interface using PostgreSQL.
type PostgresWorkerStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresWorkerStore creates a new PostgresWorkerStore.
// If logger is nil, a default logger will be used.
func NewPostgresWorkerStore(db store.DBTX, logger *slog.Logger) *PostgresWorkerStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresWorkerStore{
		db:     db,
		logger: logger.With(slog.String("component", "worker_store")),
	}
}

// Ensure PostgresWorkerStore implements store.WorkerRegistry interface
var _ store.WorkerRegistry = (*PostgresWorkerStore)(nil)

// Upsert implements store.WorkerRegistry.Upsert.
func (s *PostgresWorkerStore) Upsert(ctx context.Context, worker *domain.Worker) (*domain.Worker, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	caps, err := json.Marshal(worker.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to encode capabilities: %w", err)
	}

	query := `
		INSERT INTO workers (id, capabilities, registered_at, last_heartbeat, last_status)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			capabilities = EXCLUDED.capabilities,
			last_heartbeat = EXCLUDED.last_heartbeat,
			last_status = EXCLUDED.last_status
		RETURNING ` + workerColumns

	saved, err := scanWorker(s.db.QueryRowContext(ctx, query,
		worker.ID,
		string(caps),
		worker.LastHeartbeat.UTC(),
		worker.LastStatus,
	))
	if err != nil {
		log.Error("failed to upsert worker",
			slog.String("worker_id", worker.ID),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("worker", "upsert", "upsert failed", MapError(err))
	}
	return saved, nil
}

// Get implements store.WorkerRegistry.Get.
func (s *PostgresWorkerStore) Get(ctx context.Context, id string) (*domain.Worker, error) {
	worker, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrWorkerNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("worker", "get", "query failed", MapError(err))
	}
	return worker, nil
}

// Touch implements store.WorkerRegistry.Touch.
func (s *PostgresWorkerStore) Touch(ctx context.Context, id string, status string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE workers SET last_heartbeat = $2, last_status = COALESCE(NULLIF($3, ''), last_status) WHERE id = $1`,
		id, at.UTC(), status)
	if err != nil {
		return store.NewStoreError("worker", "touch", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrWorkerNotFound)
}

// RecordOutcome implements store.WorkerRegistry.RecordOutcome.
func (s *PostgresWorkerStore) RecordOutcome(ctx context.Context, id string, success bool) error {
	query := `UPDATE workers SET tasks_failed = tasks_failed + 1 WHERE id = $1`
	if success {
		query = `UPDATE workers SET tasks_completed = tasks_completed + 1 WHERE id = $1`
	}
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return store.NewStoreError("worker", "record_outcome", "update failed", MapError(err))
	}
	return CheckRowsAffected(result, store.ErrWorkerNotFound)
}

// List implements store.WorkerRegistry.List.
func (s *PostgresWorkerStore) List(ctx context.Context) ([]*domain.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workerColumns+` FROM workers ORDER BY id`)
	if err != nil {
		return nil, store.NewStoreError("worker", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var workers []*domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker row: %w", err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker rows: %w", err)
	}
	return workers, nil
}

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var (
		w    domain.Worker
		caps []byte
	)
	if err := row.Scan(
		&w.ID,
		&caps,
		&w.TasksCompleted,
		&w.TasksFailed,
		&w.RegisteredAt,
		&w.LastHeartbeat,
		&w.LastStatus,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(caps, &w.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities: %w", err)
	}
	return &w, nil
}
