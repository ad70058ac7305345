package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/postgres"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/phrazzld/scry-swarm/internal/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSubject(t *testing.T, db store.DBTX, id string) {
	t.Helper()
	rank := 100
	require.NoError(t, postgres.NewPostgresSubjectStore(db, nil).Save(context.Background(), &domain.Subject{
		ID:             id,
		Name:           "Subject " + id,
		PopularityRank: &rank,
		ViewCount:      10,
	}))
}

func component(text string) domain.Component {
	return domain.Component{
		Content:        text,
		GeneratedBy:    "w1",
		GeneratedAt:    time.Now().UTC(),
		CoherenceScore: 1,
	}
}

func TestTaskStore_ClaimOrderingIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		tasks := postgres.NewPostgresTaskStore(tx, nil)
		low := testdb.UniqueID(t, "low")
		high := testdb.UniqueID(t, "high")
		seedSubject(t, tx, low)
		seedSubject(t, tx, high)

		_, err := tasks.Enqueue(ctx, low, []domain.ComponentType{domain.PlayTips}, 0.1)
		require.NoError(t, err)
		highID, err := tasks.Enqueue(ctx, high, []domain.ComponentType{domain.PlayTips, domain.ThematicAnalysis}, 0.9)
		require.NoError(t, err)

		claimed, err := tasks.ClaimNext(ctx, "w1", domain.ComponentsInClasses([]domain.ComponentClass{domain.ClassFast}))
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, highID, claimed.ID)
		assert.Equal(t, domain.TaskStatusAssigned, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)
		assert.Equal(t, []domain.ComponentType{domain.PlayTips}, claimed.Components, "narrowed to eligible")
		held, err := tasks.CountAssignedTo(ctx, "w1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), held)
	})
}

func TestTaskStore_OneLiveTaskPerSubjectIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		tasks := postgres.NewPostgresTaskStore(tx, nil)
		subject := testdb.UniqueID(t, "subj")
		seedSubject(t, tx, subject)

		_, err := tasks.Enqueue(ctx, subject, []domain.ComponentType{domain.PlayTips}, 0.5)
		require.NoError(t, err)

		// The failed insert aborts the transaction, so run it under a savepoint.
		_, err = tx.ExecContext(ctx, "SAVEPOINT dup")
		require.NoError(t, err)
		_, err = tasks.CreateAssigned(ctx, subject, []domain.ComponentType{domain.ComboSuggestions}, "w1", 0.5)
		assert.ErrorIs(t, err, domain.ErrDuplicateSubjectWork)
		_, err = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT dup")
		require.NoError(t, err)

		_, err = tasks.Enqueue(ctx, "no-such-subject", []domain.ComponentType{domain.PlayTips}, 0.5)
		assert.ErrorIs(t, err, store.ErrSubjectNotFound)
	})
}

func TestTaskStore_CompleteAndReclaimIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		tasks := postgres.NewPostgresTaskStore(tx, nil)
		subject := testdb.UniqueID(t, "subj")
		seedSubject(t, tx, subject)

		id, err := tasks.Enqueue(ctx, subject, []domain.ComponentType{domain.BudgetAlternatives}, 0.5)
		require.NoError(t, err)
		claimed, err := tasks.ClaimNext(ctx, "w1", []domain.ComponentType{domain.BudgetAlternatives})
		require.NoError(t, err)
		require.Equal(t, id, claimed.ID)

		// Crash: nobody reports back. Sweep with a cutoff in the future.
		result, err := tasks.ReclaimStale(ctx, time.Now().Add(time.Minute), 3)
		require.NoError(t, err)
		assert.Equal(t, store.ReclaimResult{Requeued: 1}, result)

		_, err = tasks.Complete(ctx, store.Completion{TaskID: id, WorkerID: "w1", Success: true, MaxAttempts: 3})
		assert.ErrorIs(t, err, domain.ErrTaskMismatch, "late submit from the crashed worker")

		again, err := tasks.ClaimNext(ctx, "w2", []domain.ComponentType{domain.BudgetAlternatives})
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, id, again.ID)
		assert.Equal(t, 2, again.Attempts)

		status, err := tasks.Complete(ctx, store.Completion{TaskID: id, WorkerID: "w2", Success: true, MaxAttempts: 3})
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, status)

		final, err := tasks.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, final.Status)
		assert.Equal(t, 2, final.Attempts)
		assert.NotNil(t, final.CompletedAt)
	})
}

func TestTaskStore_FailureBudgetAndRetryIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		tasks := postgres.NewPostgresTaskStore(tx, nil)
		subject := testdb.UniqueID(t, "subj")
		seedSubject(t, tx, subject)
		eligible := []domain.ComponentType{domain.DeckArchetypes}

		id, err := tasks.Enqueue(ctx, subject, eligible, 0.5)
		require.NoError(t, err)

		for attempt := 1; attempt <= 2; attempt++ {
			_, err := tasks.ClaimNext(ctx, "w1", eligible)
			require.NoError(t, err)
			status, err := tasks.Complete(ctx, store.Completion{
				TaskID: id, WorkerID: "w1", Error: fmt.Sprintf("attempt %d failed", attempt), MaxAttempts: 2,
			})
			require.NoError(t, err)
			if attempt == 1 {
				assert.Equal(t, domain.TaskStatusPending, status)
			} else {
				assert.Equal(t, domain.TaskStatusFailed, status)
			}
		}

		n, err := tasks.RetryFailed(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		revived, err := tasks.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusPending, revived.Status)
		assert.Equal(t, 0, revived.Attempts)
		assert.Empty(t, revived.ErrorMessage)
	})
}

func TestSubjectStore_SaveComponentsIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		subjects := postgres.NewPostgresSubjectStore(tx, nil)
		subject := testdb.UniqueID(t, "subj")
		seedSubject(t, tx, subject)

		first := map[domain.ComponentType]domain.Component{
			domain.PlayTips:         component("attack early"),
			domain.ComboSuggestions: component("pairs with haste"),
		}
		progress, err := subjects.SaveComponents(ctx, subject, first)
		require.NoError(t, err)
		assert.Equal(t, 2, progress.Added)
		assert.Equal(t, 2, progress.ComponentCount)
		assert.False(t, progress.FullyAnalyzed)

		// Same types again: replaced, not counted twice.
		progress, err = subjects.SaveComponents(ctx, subject, first)
		require.NoError(t, err)
		assert.Equal(t, 0, progress.Added)
		assert.Equal(t, 2, progress.ComponentCount)

		rest := make(map[domain.ComponentType]domain.Component)
		for _, c := range domain.RequiredComponents {
			if _, ok := first[c]; !ok {
				rest[c] = component("text for " + string(c))
			}
		}
		progress, err = subjects.SaveComponents(ctx, subject, rest)
		require.NoError(t, err)
		assert.True(t, progress.FullyAnalyzed)
		assert.Equal(t, len(domain.RequiredComponents), progress.ComponentCount)

		loaded, err := subjects.Get(ctx, subject)
		require.NoError(t, err)
		assert.True(t, loaded.Analysis.FullyAnalyzed)
		require.NotNil(t, loaded.Analysis.CompletedAt)
		assert.Len(t, loaded.Analysis.Components, len(domain.RequiredComponents))
		assert.Equal(t, "attack early", loaded.Analysis.Components[domain.PlayTips].Content)

		completedAt := *loaded.Analysis.CompletedAt
		_, err = subjects.SaveComponents(ctx, subject, first)
		require.NoError(t, err)
		reloaded, err := subjects.Get(ctx, subject)
		require.NoError(t, err)
		assert.True(t, reloaded.Analysis.FullyAnalyzed, "completion is monotonic")
		assert.True(t, completedAt.Equal(*reloaded.Analysis.CompletedAt))

		incomplete, err := subjects.ListIncomplete(ctx, "", 1000)
		require.NoError(t, err)
		for _, s := range incomplete {
			assert.NotEqual(t, subject, s.ID)
		}

		_, err = subjects.Get(ctx, "no-such-subject")
		assert.ErrorIs(t, err, store.ErrSubjectNotFound)
	})
}

func TestWorkerStore_Integration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)

	testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
		ctx := context.Background()
		workers := postgres.NewPostgresWorkerStore(tx, nil)
		id := testdb.UniqueID(t, "worker")
		now := time.Now().UTC().Truncate(time.Microsecond)

		w, err := domain.NewWorker(id, domain.CapabilityProfile{GPUAvailable: true, RAMGB: 48}, now)
		require.NoError(t, err)
		saved, err := workers.Upsert(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, 48, saved.Capabilities.RAMGB)

		require.NoError(t, workers.RecordOutcome(ctx, id, true))
		require.NoError(t, workers.RecordOutcome(ctx, id, false))
		require.NoError(t, workers.Touch(ctx, id, "generating", now.Add(time.Minute)))

		// Re-registering replaces capabilities but keeps counters.
		w.Capabilities = domain.CapabilityProfile{RAMGB: 128}
		saved, err = workers.Upsert(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, 128, saved.Capabilities.RAMGB)
		assert.Equal(t, 1, saved.TasksCompleted)
		assert.Equal(t, 1, saved.TasksFailed)

		assert.ErrorIs(t, workers.Touch(ctx, "ghost", "", now), store.ErrWorkerNotFound)
		_, err = workers.Get(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrWorkerNotFound)
	})
}

// TestTaskStore_ConcurrentClaimsIntegration needs committed rows visible to
// many connections, so it truncates instead of using WithTx.
func TestTaskStore_ConcurrentClaimsIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.Truncate(t, db)
	t.Cleanup(func() { testdb.Truncate(t, db) })

	ctx := context.Background()
	tasks := postgres.NewPostgresTaskStore(db, nil)
	const subjects = 20
	for i := 0; i < subjects; i++ {
		id := fmt.Sprintf("race-%02d", i)
		seedSubject(t, db, id)
		_, err := tasks.Enqueue(ctx, id, []domain.ComponentType{domain.NewPlayerGuide}, float64(i)/subjects)
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]string)
		wg      sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		workerID := fmt.Sprintf("w%d", w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := tasks.ClaimNext(ctx, workerID, []domain.ComponentType{domain.NewPlayerGuide})
				if err != nil || task == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[task.ID]; dup {
					t.Errorf("task %s claimed by %s and %s", task.ID, prev, workerID)
				}
				claimed[task.ID] = workerID
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, subjects)
	counts, err := tasks.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(subjects), counts[domain.TaskStatusAssigned])
	assert.Equal(t, int64(0), counts[domain.TaskStatusPending])
}

func TestTransactor_RollsBackIntegration(t *testing.T) {
	db := testdb.GetTestDBWithT(t)
	testdb.Truncate(t, db)
	t.Cleanup(func() { testdb.Truncate(t, db) })

	ctx := context.Background()
	seedSubject(t, db, "tx-subject")
	txr := postgres.NewTransactor(db, nil)

	err := txr.WithinTx(ctx, func(ctx context.Context, repos store.Repositories) error {
		if _, err := repos.Subjects.SaveComponents(ctx, "tx-subject", map[domain.ComponentType]domain.Component{
			domain.PlayTips: component("never committed"),
		}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	subject, err := txr.Repositories().Subjects.Get(ctx, "tx-subject")
	require.NoError(t, err)
	assert.Empty(t, subject.Analysis.Components)
}
