package redisindex

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *PriorityIndex {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set - skipping redis integration test")
	}
	key := "swarm:test:" + uuid.NewString()
	idx, rdb, err := Open(context.Background(), url, key, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rdb.Del(context.Background(), key).Err()
		_ = rdb.Close()
	})
	return idx
}

func TestPriorityIndex_SetTopRemove(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Set(ctx, "b", 0.5))
	require.NoError(t, idx.Set(ctx, "a", 0.5))
	require.NoError(t, idx.Set(ctx, "c", 0.5))
	require.NoError(t, idx.Set(ctx, "z", 0.9))

	top, err := idx.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []store.ScoredSubject{
		{SubjectID: "z", Score: 0.9},
		{SubjectID: "a", Score: 0.5},
	}, top, "ties break by ascending subject ID")

	score, ok, err := idx.Score(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0.5, score)

	require.NoError(t, idx.Remove(ctx, "c"))
	_, ok, err = idx.Score(ctx, "c")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPriorityIndex_Replace(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Set(ctx, "stale", 1))
	require.NoError(t, idx.Replace(ctx, []store.ScoredSubject{
		{SubjectID: "x", Score: 0.2},
		{SubjectID: "y", Score: 0.8},
	}))

	top, err := idx.Top(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []store.ScoredSubject{
		{SubjectID: "y", Score: 0.8},
		{SubjectID: "x", Score: 0.2},
	}, top)

	require.NoError(t, idx.Replace(ctx, nil))
	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
