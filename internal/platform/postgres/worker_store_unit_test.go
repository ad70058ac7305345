package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var workerRowColumns = []string{
	"id", "capabilities", "tasks_completed", "tasks_failed", "registered_at", "last_heartbeat", "last_status",
}

func TestNewPostgresWorkerStore_PanicsOnNilDB(t *testing.T) {
	assert.Panics(t, func() { NewPostgresWorkerStore(nil, nil) })
}

func TestWorkerStore_Upsert(t *testing.T) {
	db, mock := newMock(t)
	s := NewPostgresWorkerStore(db, discardLogger())
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	caps := `{"gpu_available":true,"ram_gb":64}`

	mock.ExpectQuery(`INSERT INTO workers`).
		WithArgs("gpu-1", caps, now, "").
		WillReturnRows(sqlmock.NewRows(workerRowColumns).
			AddRow("gpu-1", []byte(caps), int64(4), int64(1), now.Add(-time.Hour), now, ""))

	saved, err := s.Upsert(context.Background(), &domain.Worker{
		ID:            "gpu-1",
		Capabilities:  domain.CapabilityProfile{GPUAvailable: true, RAMGB: 64},
		LastHeartbeat: now,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, saved.TasksCompleted)
	assert.Equal(t, 1, saved.TasksFailed)
	assert.True(t, saved.Capabilities.GPUAvailable)
	assert.Equal(t, now.Add(-time.Hour), saved.RegisteredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerStore_UpsertMapsConstraintErrors(t *testing.T) {
	db, mock := newMock(t)
	s := NewPostgresWorkerStore(db, discardLogger())

	mock.ExpectQuery(`INSERT INTO workers`).
		WillReturnError(&pgconn.PgError{Code: notNullViolationCode, ColumnName: "id"})

	_, err := s.Upsert(context.Background(), &domain.Worker{ID: "w"})
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerStore_GetNotFound(t *testing.T) {
	db, mock := newMock(t)
	s := NewPostgresWorkerStore(db, discardLogger())

	mock.ExpectQuery(`FROM workers WHERE id = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(workerRowColumns))

	_, err := s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrWorkerNotFound)
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerStore_TouchAndRecordOutcome(t *testing.T) {
	db, mock := newMock(t)
	s := NewPostgresWorkerStore(db, discardLogger())
	ctx := context.Background()
	at := time.Date(2026, 2, 1, 10, 5, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE workers SET last_heartbeat`).
		WithArgs("w1", at, "generating").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE workers SET last_heartbeat`).
		WithArgs("ghost", at, "").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`tasks_completed = tasks_completed \+ 1`).
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`tasks_failed = tasks_failed \+ 1`).
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Touch(ctx, "w1", "generating", at))
	assert.ErrorIs(t, s.Touch(ctx, "ghost", "", at), store.ErrWorkerNotFound)
	require.NoError(t, s.RecordOutcome(ctx, "w1", true))
	require.NoError(t, s.RecordOutcome(ctx, "w1", false))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerStore_List(t *testing.T) {
	db, mock := newMock(t)
	s := NewPostgresWorkerStore(db, discardLogger())
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM workers ORDER BY id`).
		WillReturnRows(sqlmock.NewRows(workerRowColumns).
			AddRow("a", []byte(`{"ram_gb":8}`), int64(0), int64(0), now, now, "idle").
			AddRow("b", []byte(`{"ram_gb":32,"models":["m1"]}`), int64(2), int64(0), now, now, ""))

	workers, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, "idle", workers[0].LastStatus)
	assert.Equal(t, []string{"m1"}, workers[1].Capabilities.Models)
	require.NoError(t, mock.ExpectationsWereMet())
}
