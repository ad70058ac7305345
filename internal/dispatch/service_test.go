package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/platform/memory"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fastProfile    = domain.CapabilityProfile{GPUAvailable: true, RAMGB: 32}
	deepProfile    = domain.CapabilityProfile{RAMGB: 64}
	generalProfile = domain.CapabilityProfile{RAMGB: 16}
)

type fixture struct {
	svc   Service
	store *memory.Store
	index *memory.PriorityIndex
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureAt(t, cfg, nil)
}

func newFixtureAt(t *testing.T, cfg Config, now func() time.Time) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New(logger)
	idx := memory.NewPriorityIndex()
	svc, err := NewService(Deps{
		Tasks:    st.Tasks(),
		Subjects: st.Subjects(),
		Workers:  st.Workers(),
		Index:    idx,
		Logger:   logger,
		Now:      now,
	}, cfg)
	require.NoError(t, err)
	return &fixture{svc: svc, store: st, index: idx}
}

func (f *fixture) subject(t *testing.T, id string, score float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.Subjects().Save(ctx, &domain.Subject{
		ID:      id,
		Name:    "Subject " + id,
		Context: json.RawMessage(`{"set":"alpha"}`),
	}))
	require.NoError(t, f.index.Set(ctx, id, score))
}

func (f *fixture) register(t *testing.T, id string, caps domain.CapabilityProfile) {
	t.Helper()
	_, err := f.svc.Register(context.Background(), id, caps)
	require.NoError(t, err)
}

func TestNewService_RequiresStores(t *testing.T) {
	_, err := NewService(Deps{}, Config{})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "  ", fastProfile)
	assert.ErrorIs(t, err, domain.ErrInvalidWorker)

	tests := []struct {
		name    string
		caps    domain.CapabilityProfile
		classes []domain.ComponentClass
		count   int
	}{
		{"accelerated", fastProfile, []domain.ComponentClass{domain.ClassFast, domain.ClassGeneral}, 14},
		{"high memory", deepProfile, []domain.ComponentClass{domain.ClassDeep, domain.ClassGeneral}, 12},
		{"both", domain.CapabilityProfile{GPUAvailable: true, RAMGB: 128}, []domain.ComponentClass{domain.ClassFast, domain.ClassDeep, domain.ClassGeneral}, 20},
		{"undeclared memory", domain.CapabilityProfile{GPUAvailable: true}, []domain.ComponentClass{domain.ClassGeneral}, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.svc.Register(ctx, "w-"+tt.name, tt.caps)
			require.NoError(t, err)
			assert.Equal(t, "w-"+tt.name, res.WorkerID)
			assert.Equal(t, tt.classes, res.Classes)
			assert.Len(t, res.Components, tt.count)
		})
	}
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.svc.Heartbeat(ctx, "ghost", "idle")
	assert.ErrorIs(t, err, domain.ErrUnknownWorker)

	f.register(t, "w1", generalProfile)
	f.subject(t, "s1", 0.5)
	_, err = f.svc.Dispatch(ctx, "w1", 1)
	require.NoError(t, err)

	res, err := f.svc.Heartbeat(ctx, "w1", "generating")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, res.Status)
	assert.Equal(t, int64(1), res.Outstanding)

	w, err := f.store.Workers().Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "generating", w.LastStatus)
}

func TestHeartbeat_ReportsStatusBeforeThisBeat(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixtureAt(t, Config{}, func() time.Time { return clock })
	ctx := context.Background()
	f.register(t, "w1", generalProfile)

	clock = clock.Add(10 * time.Minute)
	res, err := f.svc.Heartbeat(ctx, "w1", "back")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusStale, res.Status)

	clock = clock.Add(time.Minute)
	res, err = f.svc.Heartbeat(ctx, "w1", "idle")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusActive, res.Status)

	clock = clock.Add(3 * time.Hour)
	res, err = f.svc.Heartbeat(ctx, "w1", "idle")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerStatusOffline, res.Status)
}

func TestDispatch_UnknownWorker(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Dispatch(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, domain.ErrUnknownWorker)
}

func TestDispatch_NoWork(t *testing.T) {
	f := newFixture(t, Config{})
	f.register(t, "w1", generalProfile)

	tasks, err := f.svc.Dispatch(context.Background(), "w1", 3)
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestDispatch_ClaimsByPriority(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "w1", generalProfile)
	for _, id := range []string{"low", "high"} {
		require.NoError(t, f.store.Subjects().Save(ctx, &domain.Subject{ID: id, Name: id}))
	}
	_, err := f.store.Tasks().Enqueue(ctx, "low", []domain.ComponentType{domain.NewPlayerGuide}, 0.1)
	require.NoError(t, err)
	_, err = f.store.Tasks().Enqueue(ctx, "high", []domain.ComponentType{domain.NewPlayerGuide}, 0.9)
	require.NoError(t, err)

	tasks, err := f.svc.Dispatch(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "high", tasks[0].Task.SubjectID)
	assert.Equal(t, domain.TaskStatusAssigned, tasks[0].Task.Status)
	assert.Equal(t, 1, tasks[0].Task.Attempts)
}

func TestDispatch_PlansFromIndex(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "w1", deepProfile)
	f.subject(t, "s1", 0.4)
	f.subject(t, "s2", 0.8)

	_, err := f.store.Subjects().SaveComponents(ctx, "s2", map[domain.ComponentType]domain.Component{
		domain.ThematicAnalysis: {Content: "themes", GeneratedBy: "w0", GeneratedAt: time.Now()},
	})
	require.NoError(t, err)

	tasks, err := f.svc.Dispatch(ctx, "w1", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	dt := tasks[0]
	assert.Equal(t, "s2", dt.Task.SubjectID, "highest-ranked subject is planned first")
	assert.Equal(t, []domain.ComponentType{
		domain.HistoricalContext, domain.ArtFlavorAnalysis, domain.DesignPhilosophy,
	}, dt.Task.Components, "missing eligible components in canonical order, capped")
	assert.Equal(t, "w1", dt.Task.AssignedTo)
	assert.Equal(t, 0.8, dt.Task.Priority)
	assert.Equal(t, "Subject s2", dt.SubjectName)
	assert.JSONEq(t, `{"set":"alpha"}`, string(dt.Context))
	assert.Len(t, dt.Params, 3)
	assert.NotEmpty(t, dt.Params[domain.HistoricalContext].Prompt)
	assert.Equal(t, map[domain.ComponentType]string{domain.ThematicAnalysis: "themes"}, dt.Existing)
}

func TestDispatch_SkipsSubjectsWithLiveWork(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "fast", fastProfile)
	f.register(t, "deep", deepProfile)
	f.subject(t, "s1", 0.9)
	f.subject(t, "s2", 0.5)

	first, err := f.svc.Dispatch(ctx, "fast", 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "s1", first[0].Task.SubjectID)

	second, err := f.svc.Dispatch(ctx, "deep", 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "s2", second[0].Task.SubjectID, "s1 already has a live task")
}

func TestDispatch_ClampsMaxTasks(t *testing.T) {
	f := newFixture(t, Config{MaxTasksPerRequest: 4})
	ctx := context.Background()
	f.register(t, "w1", generalProfile)
	for i := 0; i < 10; i++ {
		f.subject(t, fmt.Sprintf("s%d", i), float64(i)/10)
	}

	tasks, err := f.svc.Dispatch(ctx, "w1", 100)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)

	tasks, err = f.svc.Dispatch(ctx, "w1", 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	seen := map[string]bool{}
	all, err := f.store.Tasks().List(ctx, store.TaskFilter{AssignedTo: "w1"})
	require.NoError(t, err)
	for _, task := range all {
		assert.False(t, seen[task.SubjectID], "one live task per subject")
		seen[task.SubjectID] = true
	}
	assert.Len(t, all, 5)
}

func TestDispatch_CompletesRedundantClaims(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "w1", generalProfile)
	require.NoError(t, f.store.Subjects().Save(ctx, &domain.Subject{ID: "s1"}))
	_, err := f.store.Subjects().SaveComponents(ctx, "s1", map[domain.ComponentType]domain.Component{
		domain.NewPlayerGuide: {Content: "already here", GeneratedBy: "w0", GeneratedAt: time.Now()},
	})
	require.NoError(t, err)
	id, err := f.store.Tasks().Enqueue(ctx, "s1", []domain.ComponentType{domain.NewPlayerGuide}, 0.5)
	require.NoError(t, err)

	tasks, err := f.svc.Dispatch(ctx, "w1", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	task, err := f.store.Tasks().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
}

// hiddenSubjects simulates a subject deleted after its task was queued.
type hiddenSubjects struct {
	store.SubjectStore
	hidden string
}

func (h hiddenSubjects) Get(ctx context.Context, id string) (*domain.Subject, error) {
	if id == h.hidden {
		return nil, store.ErrSubjectNotFound
	}
	return h.SubjectStore.Get(ctx, id)
}

func TestDispatch_FailsTasksForMissingSubjects(t *testing.T) {
	ctx := context.Background()
	st := memory.New(nil)
	require.NoError(t, st.Subjects().Save(ctx, &domain.Subject{ID: "gone"}))
	id, err := st.Tasks().Enqueue(ctx, "gone", []domain.ComponentType{domain.SideboardGuide}, 0.5)
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Tasks:    st.Tasks(),
		Subjects: hiddenSubjects{SubjectStore: st.Subjects(), hidden: "gone"},
		Workers:  st.Workers(),
		Index:    memory.NewPriorityIndex(),
	}, Config{})
	require.NoError(t, err)
	_, err = svc.Register(ctx, "w1", generalProfile)
	require.NoError(t, err)

	tasks, err := svc.Dispatch(ctx, "w1", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	task, err := st.Tasks().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.Equal(t, "subject not found", task.ErrorMessage)
}

func TestDispatch_RespectsCapabilities(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.register(t, "cpu", generalProfile)
	require.NoError(t, f.store.Subjects().Save(ctx, &domain.Subject{ID: "s1"}))
	_, err := f.store.Tasks().Enqueue(ctx, "s1", []domain.ComponentType{domain.PlayTips, domain.ThematicAnalysis}, 0.9)
	require.NoError(t, err)

	tasks, err := f.svc.Dispatch(ctx, "cpu", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks, "no general component in the only pending task, and s1 has live work")
}

func TestDispatch_ReachesSubjectsBelowPlanWindow(t *testing.T) {
	f := newFixture(t, Config{PlanWindow: 5})
	ctx := context.Background()
	f.register(t, "cpu", generalProfile)

	general := domain.ComponentsInClasses([]domain.ComponentClass{domain.ClassGeneral})
	done := make(map[domain.ComponentType]domain.Component, len(general))
	for _, c := range general {
		done[c] = domain.Component{Content: "done", GeneratedBy: "w0", GeneratedAt: time.Now()}
	}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("served-%02d", i)
		f.subject(t, id, 0.9)
		_, err := f.store.Subjects().SaveComponents(ctx, id, done)
		require.NoError(t, err)
	}
	f.subject(t, "needs-general", 0.1)

	tasks, err := f.svc.Dispatch(ctx, "cpu", 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1, "the top of the index only needs fast and deep components")
	assert.Equal(t, "needs-general", tasks[0].Task.SubjectID)
	for _, c := range tasks[0].Task.Components {
		assert.Equal(t, domain.ClassGeneral, c.Class())
	}

	tasks, err = f.svc.Dispatch(ctx, "cpu", 1)
	require.NoError(t, err)
	assert.Empty(t, tasks, "walking the whole index ends without work")
}
