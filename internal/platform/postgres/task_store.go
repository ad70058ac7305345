package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// psql builds queries with PostgreSQL placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// taskColumns is the projection every task query returns. Components are
// read back as JSON so database/sql can scan them without array support.
const taskColumns = `id, subject_id, to_json(components), status, assigned_to, assigned_at,
	attempts, priority, error_message, created_at, updated_at, completed_at`

var taskColumnList = []string{
	"id", "subject_id", "to_json(components)", "status", "assigned_to", "assigned_at",
	"attempts", "priority", "error_message", "created_at", "updated_at", "completed_at",
}

// Messages recorded on tasks moved by the stale sweep.
const (
	reclaimedMessage = "reclaimed after stale assignment"
	exhaustedMessage = "attempt budget exhausted"
)

// PostgresTaskStore implements the store.TaskStore interface using PostgreSQL.
// Claiming relies on a single UPDATE over a FOR UPDATE SKIP LOCKED subselect,
// so concurrent claimers never receive the same row.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a new PostgresTaskStore.
// If logger is nil, a default logger will be used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

// Ensure PostgresTaskStore implements store.TaskStore interface
var _ store.TaskStore = (*PostgresTaskStore)(nil)

// Enqueue implements store.TaskStore.Enqueue.
func (s *PostgresTaskStore) Enqueue(
	ctx context.Context,
	subjectID string,
	components []domain.ComponentType,
	priority float64,
) (uuid.UUID, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(subjectID, components, priority)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if len(components) == 0 {
		return uuid.Nil, fmt.Errorf("%w: task needs at least one component", store.ErrInvalidEntity)
	}

	query := `
		INSERT INTO tasks (id, subject_id, components, status, attempts, priority, created_at, updated_at)
		VALUES ($1, $2, $3, 'pending', 0, $4, $5, $5)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.SubjectID,
		domain.ComponentStrings(task.Components),
		task.Priority,
		task.CreatedAt,
	)
	if err != nil {
		err = MapError(err)
		if errors.Is(err, domain.ErrDuplicateSubjectWork) {
			log.Debug("subject already has live work",
				slog.String("subject_id", subjectID))
			return uuid.Nil, err
		}
		log.Error("failed to enqueue task",
			slog.String("subject_id", subjectID),
			slog.String("error", err.Error()))
		return uuid.Nil, store.NewStoreError("task", "enqueue", "insert failed", err)
	}

	log.Info("task enqueued",
		slog.String("task_id", task.ID.String()),
		slog.String("subject_id", subjectID),
		slog.Int("component_count", len(components)),
		slog.Float64("priority", priority))
	return task.ID, nil
}

// ClaimNext implements store.TaskStore.ClaimNext.
func (s *PostgresTaskStore) ClaimNext(
	ctx context.Context,
	workerID string,
	eligible []domain.ComponentType,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(eligible) == 0 {
		return nil, nil
	}

	query := `
		UPDATE tasks t
		SET status = 'assigned',
			assigned_to = $1,
			assigned_at = $2,
			attempts = t.attempts + 1,
			components = (ARRAY(
				SELECT u.c FROM unnest(t.components) WITH ORDINALITY AS u(c, ord)
				WHERE u.c = ANY($3::text[])
				ORDER BY u.ord
			))[1:$4::int],
			updated_at = $2
		WHERE t.id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND components && $3::text[]
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + taskColumns

	now := time.Now().UTC()
	task, err := scanTask(s.db.QueryRowContext(ctx, query,
		workerID,
		now,
		domain.ComponentStrings(eligible),
		domain.MaxComponentsPerTask,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		log.Error("failed to claim task",
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "claim", "claim failed", MapError(err))
	}

	log.Debug("task claimed",
		slog.String("task_id", task.ID.String()),
		slog.String("subject_id", task.SubjectID),
		slog.String("worker_id", workerID),
		slog.Int("attempts", task.Attempts))
	return task, nil
}

// CreateAssigned implements store.TaskStore.CreateAssigned.
func (s *PostgresTaskStore) CreateAssigned(
	ctx context.Context,
	subjectID string,
	components []domain.ComponentType,
	workerID string,
	priority float64,
) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	task, err := domain.NewTask(subjectID, components, priority)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	if len(components) == 0 || workerID == "" {
		return nil, fmt.Errorf("%w: assigned task needs components and a worker", store.ErrInvalidEntity)
	}

	query := `
		INSERT INTO tasks (id, subject_id, components, status, assigned_to, assigned_at,
			attempts, priority, created_at, updated_at)
		VALUES ($1, $2, $3, 'assigned', $4, $5, 1, $6, $5, $5)
		RETURNING ` + taskColumns

	created, err := scanTask(s.db.QueryRowContext(ctx, query,
		task.ID,
		subjectID,
		domain.ComponentStrings(components),
		workerID,
		task.CreatedAt,
		priority,
	))
	if err != nil {
		err = MapError(err)
		if errors.Is(err, domain.ErrDuplicateSubjectWork) {
			return nil, err
		}
		log.Error("failed to create assigned task",
			slog.String("subject_id", subjectID),
			slog.String("worker_id", workerID),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "create_assigned", "insert failed", err)
	}

	log.Debug("task created at assignment",
		slog.String("task_id", created.ID.String()),
		slog.String("subject_id", subjectID),
		slog.String("worker_id", workerID))
	return created, nil
}

// Complete implements store.TaskStore.Complete.
func (s *PostgresTaskStore) Complete(ctx context.Context, c store.Completion) (domain.TaskStatus, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = CASE
				WHEN $3::boolean THEN 'completed'
				WHEN attempts < $5 THEN 'pending'
				ELSE 'failed'
			END,
			assigned_to = CASE WHEN NOT $3 AND attempts < $5 THEN NULL ELSE assigned_to END,
			assigned_at = CASE WHEN NOT $3 AND attempts < $5 THEN NULL ELSE assigned_at END,
			error_message = CASE WHEN $3 THEN NULL ELSE NULLIF($4::text, '') END,
			completed_at = CASE WHEN $3 OR attempts >= $5 THEN $6::timestamptz ELSE NULL END,
			updated_at = $6
		WHERE id = $1
			AND status = 'assigned'
			AND ($2::text = '' OR assigned_to = $2::text)
		RETURNING status
	`

	var status string
	err := s.db.QueryRowContext(ctx, query,
		c.TaskID,
		c.WorkerID,
		c.Success,
		c.Error,
		c.MaxAttempts,
		time.Now().UTC(),
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing task from one that moved on without us.
		if _, getErr := s.Get(ctx, c.TaskID); getErr != nil {
			return "", getErr
		}
		log.Warn("completion rejected, task not assigned to worker",
			slog.String("task_id", c.TaskID.String()),
			slog.String("worker_id", c.WorkerID))
		return "", fmt.Errorf("%w: task %s", domain.ErrTaskMismatch, c.TaskID)
	}
	if err != nil {
		log.Error("failed to complete task",
			slog.String("task_id", c.TaskID.String()),
			slog.String("error", err.Error()))
		return "", store.NewStoreError("task", "complete", "update failed", MapError(err))
	}

	result := domain.TaskStatus(status)
	log.Info("task outcome recorded",
		slog.String("task_id", c.TaskID.String()),
		slog.String("worker_id", c.WorkerID),
		slog.Bool("success", c.Success),
		slog.String("status", status))
	return result, nil
}

// ReclaimStale implements store.TaskStore.ReclaimStale.
func (s *PostgresTaskStore) ReclaimStale(
	ctx context.Context,
	olderThan time.Time,
	maxAttempts int,
) (store.ReclaimResult, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	query := `
		UPDATE tasks
		SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
			assigned_to = CASE WHEN attempts >= $2 THEN assigned_to ELSE NULL END,
			assigned_at = CASE WHEN attempts >= $2 THEN assigned_at ELSE NULL END,
			error_message = CASE WHEN attempts >= $2 THEN $4::text ELSE $5::text END,
			completed_at = CASE WHEN attempts >= $2 THEN $3::timestamptz ELSE NULL END,
			updated_at = $3
		WHERE status = 'assigned' AND assigned_at < $1
		RETURNING status
	`

	rows, err := s.db.QueryContext(ctx, query,
		olderThan.UTC(),
		maxAttempts,
		time.Now().UTC(),
		exhaustedMessage,
		reclaimedMessage,
	)
	if err != nil {
		log.Error("failed to reclaim stale tasks", slog.String("error", err.Error()))
		return store.ReclaimResult{}, store.NewStoreError("task", "reclaim", "update failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var result store.ReclaimResult
	for rows.Next() {
		var status string
		if err := rows.Scan(&status); err != nil {
			return result, fmt.Errorf("failed to scan reclaimed task: %w", err)
		}
		if domain.TaskStatus(status) == domain.TaskStatusFailed {
			result.Failed++
		} else {
			result.Requeued++
		}
	}
	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("error iterating reclaimed tasks: %w", err)
	}

	if result.Requeued > 0 || result.Failed > 0 {
		log.Info("reclaimed stale tasks",
			slog.Int64("requeued", result.Requeued),
			slog.Int64("failed", result.Failed),
			slog.Time("older_than", olderThan))
	}
	return result, nil
}

// Get implements store.TaskStore.Get.
func (s *PostgresTaskStore) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, id, false)
}

// GetForUpdate implements store.TaskStore.GetForUpdate.
func (s *PostgresTaskStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.get(ctx, id, true)
}

func (s *PostgresTaskStore) get(ctx context.Context, id uuid.UUID, lock bool) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		logger.FromContextOrDefault(ctx, s.logger).Error("failed to get task",
			slog.String("task_id", id.String()),
			slog.String("error", err.Error()))
		return nil, store.NewStoreError("task", "get", "query failed", MapError(err))
	}
	return task, nil
}

// List implements store.TaskStore.List.
func (s *PostgresTaskStore) List(ctx context.Context, filter store.TaskFilter) ([]*domain.Task, error) {
	q := psql.Select(taskColumnList...).From("tasks").OrderBy("created_at DESC", "id")
	if filter.Status != "" {
		q = q.Where(sq.Eq{"status": string(filter.Status)})
	}
	if filter.SubjectID != "" {
		q = q.Where(sq.Eq{"subject_id": filter.SubjectID})
	}
	if filter.AssignedTo != "" {
		q = q.Where(sq.Eq{"assigned_to": filter.AssignedTo})
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "list", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// CountByStatus implements store.TaskStore.CountByStatus.
func (s *PostgresTaskStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int64, error) {
	query, args, err := psql.Select("status", "COUNT(*)").From("tasks").GroupBy("status").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build count query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, store.NewStoreError("task", "count", "query failed", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.TaskStatus]int64, len(domain.AllTaskStatuses))
	for _, st := range domain.AllTaskStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[domain.TaskStatus(status)] = n
	}
	return counts, rows.Err()
}

// CountAssignedTo implements store.TaskStore.CountAssignedTo.
func (s *PostgresTaskStore) CountAssignedTo(ctx context.Context, workerID string) (int64, error) {
	return s.count(ctx, sq.Eq{"status": string(domain.TaskStatusAssigned), "assigned_to": workerID})
}

// CountHighPriorityPending implements store.TaskStore.CountHighPriorityPending.
func (s *PostgresTaskStore) CountHighPriorityPending(ctx context.Context, threshold float64) (int64, error) {
	return s.count(ctx, sq.And{
		sq.Eq{"status": string(domain.TaskStatusPending)},
		sq.GtOrEq{"priority": threshold},
	})
}

func (s *PostgresTaskStore) count(ctx context.Context, pred sq.Sqlizer) (int64, error) {
	query, args, err := psql.Select("COUNT(*)").From("tasks").Where(pred).ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, store.NewStoreError("task", "count", "query failed", MapError(err))
	}
	return n, nil
}

// DeleteTerminalBefore implements store.TaskStore.DeleteTerminalBefore.
func (s *PostgresTaskStore) DeleteTerminalBefore(ctx context.Context, t time.Time) (int64, error) {
	query, args, err := psql.Delete("tasks").
		Where(sq.Eq{"status": []string{string(domain.TaskStatusCompleted), string(domain.TaskStatusFailed)}}).
		Where(sq.Lt{"updated_at": t.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build cleanup query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, store.NewStoreError("task", "cleanup", "delete failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("deleted terminal tasks",
		slog.Int64("deleted", n),
		slog.Time("before", t))
	return n, nil
}

// RetryFailed implements store.TaskStore.RetryFailed. Only the most
// recently failed task of each subject is revived so the one-live-task
// rule holds.
func (s *PostgresTaskStore) RetryFailed(ctx context.Context) (int64, error) {
	query := `
		UPDATE tasks t
		SET status = 'pending',
			attempts = 0,
			assigned_to = NULL,
			assigned_at = NULL,
			error_message = NULL,
			completed_at = NULL,
			updated_at = $1
		WHERE t.id IN (
			SELECT DISTINCT ON (f.subject_id) f.id
			FROM tasks f
			WHERE f.status = 'failed'
			ORDER BY f.subject_id, f.updated_at DESC
		)
		AND NOT EXISTS (
			SELECT 1 FROM tasks live
			WHERE live.subject_id = t.subject_id
				AND live.status IN ('pending', 'assigned')
		)
	`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, store.NewStoreError("task", "retry_failed", "update failed", MapError(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	logger.FromContextOrDefault(ctx, s.logger).Info("failed tasks requeued", slog.Int64("count", n))
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t            domain.Task
		components   []byte
		status       string
		assignedTo   sql.NullString
		assignedAt   sql.NullTime
		errorMessage sql.NullString
		completedAt  sql.NullTime
	)

	err := row.Scan(
		&t.ID,
		&t.SubjectID,
		&components,
		&status,
		&assignedTo,
		&assignedAt,
		&t.Attempts,
		&t.Priority,
		&errorMessage,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(components, &names); err != nil {
		return nil, fmt.Errorf("failed to decode task components: %w", err)
	}
	t.Components = make([]domain.ComponentType, 0, len(names))
	for _, n := range names {
		t.Components = append(t.Components, domain.ComponentType(n))
	}

	t.Status = domain.TaskStatus(status)
	t.AssignedTo = assignedTo.String
	t.ErrorMessage = errorMessage.String
	if assignedAt.Valid {
		at := assignedAt.Time
		t.AssignedAt = &at
	}
	if completedAt.Valid {
		ct := completedAt.Time
		t.CompletedAt = &ct
	}
	return &t, nil
}
