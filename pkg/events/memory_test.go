package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndSince(t *testing.T) {
	store := NewMemoryStore(100, time.Hour)
	ctx := context.Background()

	id1, err := store.Append(ctx, "job-1", TypeJobStarted, map[string]any{"job_id": "job-1"})
	require.NoError(t, err)
	id2, err := store.Append(ctx, "job-1", TypeStatusUpdate, map[string]any{"status": "running"})
	require.NoError(t, err)
	id3, err := store.Append(ctx, "job-1", TypeComplete, nil)
	require.NoError(t, err)

	assert.Greater(t, id2, id1, "IDs must be strictly increasing")
	assert.Greater(t, id3, id2)

	all, err := store.Since(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, TypeJobStarted, all[0].Type)
	assert.Equal(t, TypeStatusUpdate, all[1].Type)
	assert.Equal(t, TypeComplete, all[2].Type)

	tail, err := store.Since(ctx, "job-1", id2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, id3, tail[0].ID)

	none, err := store.Since(ctx, "job-1", id3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreIsolatesJobs(t *testing.T) {
	store := NewMemoryStore(100, time.Hour)
	ctx := context.Background()

	_, err := store.Append(ctx, "job-a", TypeJobStarted, nil)
	require.NoError(t, err)

	other, err := store.Since(ctx, "job-b", 0)
	require.NoError(t, err)
	assert.Empty(t, other)

	latest, err := store.LatestID(ctx, "job-b")
	require.NoError(t, err)
	assert.Zero(t, latest)
}

func TestMemoryStoreWindowTrim(t *testing.T) {
	store := NewMemoryStore(5, time.Hour)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 8; i++ {
		id, err := store.Append(ctx, "job-1", TypeContent, map[string]any{"chunk_num": i})
		require.NoError(t, err)
		lastID = id
	}

	all, err := store.Since(ctx, "job-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 5, "window keeps only the newest events")
	assert.Equal(t, lastID, all[len(all)-1].ID)

	latest, err := store.LatestID(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, lastID, latest)
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore(100, time.Hour)
	ctx := context.Background()

	_, err := store.Append(ctx, "job-1", TypeJobStarted, nil)
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, "job-1"))

	all, err := store.Since(ctx, "job-1", 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStoreTTLPrune(t *testing.T) {
	store := NewMemoryStore(100, time.Millisecond)
	ctx := context.Background()

	_, err := store.Append(ctx, "stale-job", TypeJobStarted, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// Appending to another job triggers the prune pass.
	_, err = store.Append(ctx, "fresh-job", TypeJobStarted, nil)
	require.NoError(t, err)

	stale, err := store.Since(ctx, "stale-job", 0)
	require.NoError(t, err)
	assert.Empty(t, stale, "expired logs are pruned")
}

func TestIDGeneratorMonotonic(t *testing.T) {
	var gen idGenerator
	prev := gen.next()
	for i := 0; i < 1000; i++ {
		id := gen.next()
		require.Greater(t, id, prev)
		prev = id
	}
}
