package main

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/maintenance"
	"github.com/phrazzld/scry-swarm/internal/priority"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdmin struct {
	stats    maintenance.QueueStats
	workers  []maintenance.WorkerView
	statsErr error
	calls    int
}

func (s *stubAdmin) Enqueue(context.Context, string, []domain.ComponentType, *float64) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *stubAdmin) BulkEnqueue(context.Context, int) (maintenance.BulkResult, error) {
	return maintenance.BulkResult{}, nil
}
func (s *stubAdmin) Stats(context.Context) (maintenance.QueueStats, error) {
	s.calls++
	return s.stats, s.statsErr
}
func (s *stubAdmin) Workers(context.Context) ([]maintenance.WorkerView, error) {
	return s.workers, nil
}
func (s *stubAdmin) ResetStuck(context.Context, time.Duration) (store.ReclaimResult, error) {
	return store.ReclaimResult{}, nil
}
func (s *stubAdmin) CleanupTerminal(context.Context, time.Duration) (int64, error) { return 0, nil }
func (s *stubAdmin) RetryFailed(context.Context) (int64, error)                    { return 0, nil }
func (s *stubAdmin) RebuildPriority(context.Context) (priority.RebuildStats, error) {
	return priority.RebuildStats{}, nil
}

func newStubMonitor(admin *stubAdmin) monitorModel {
	m := newMonitorModel(context.Background(), admin, time.Second)
	m.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return m
}

func TestMonitor_RefreshRendersSnapshot(t *testing.T) {
	admin := &stubAdmin{
		stats: maintenance.QueueStats{
			Tasks: map[domain.TaskStatus]int64{
				domain.TaskStatusPending:  7,
				domain.TaskStatusAssigned: 2,
			},
			Subjects: maintenance.SubjectStats{Total: 10, Analyzed: 4, CompletionPct: 40},
			Workers:  maintenance.WorkerStats{Total: 2, Active: 1, Offline: 1},
		},
		workers: []maintenance.WorkerView{
			{ID: "gpu-1", Status: domain.WorkerStatusActive, Outstanding: 2},
		},
	}
	m := newStubMonitor(admin)
	assert.Contains(t, m.View(), "loading")

	msg := m.Init()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	require.NoError(t, snap.err)

	model, cmd := m.Update(snap)
	require.NotNil(t, cmd, "a background refresh schedules the next tick")
	m = model.(monitorModel)

	view := m.View()
	assert.Contains(t, view, "pending")
	assert.Contains(t, view, "7")
	assert.Contains(t, view, "4 (40.0%)")
	assert.Contains(t, view, "1/2 active")
	assert.Contains(t, view, "gpu-1")
	assert.Contains(t, view, "updated 09:30:00")
	assert.Len(t, m.workers.Rows(), 1)
}

func TestMonitor_TickAndManualRefresh(t *testing.T) {
	admin := &stubAdmin{}
	m := newStubMonitor(admin)

	_, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	bg, ok := cmd().(snapshotMsg)
	require.True(t, ok)
	assert.False(t, bg.manual)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	snap := cmd().(snapshotMsg)
	assert.True(t, snap.manual)
	assert.Equal(t, 2, admin.calls)

	_, next := m.Update(snap)
	assert.Nil(t, next, "a manual refresh does not start a second tick chain")
}

func TestMonitor_ShowsRefreshError(t *testing.T) {
	admin := &stubAdmin{statsErr: errors.New("connection refused")}
	m := newStubMonitor(admin)

	model, _ := m.Update(m.Init()())
	view := model.(monitorModel).View()
	assert.Contains(t, view, "refresh failed: connection refused")
}

func TestMonitor_Quit(t *testing.T) {
	m := newStubMonitor(&stubAdmin{})
	for _, key := range []tea.KeyMsg{
		{Type: tea.KeyRunes, Runes: []rune("q")},
		{Type: tea.KeyEsc},
		{Type: tea.KeyCtrlC},
	} {
		_, cmd := m.Update(key)
		require.NotNil(t, cmd)
		_, ok := cmd().(tea.QuitMsg)
		assert.True(t, ok, key.String())
	}
}
