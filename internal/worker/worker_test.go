package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memory/internal/embedding"
	"eve.evalgo.org/memory/internal/graphstore/memstore"
	"eve.evalgo.org/memory/internal/jobqueue/memqueue"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/ratelimiter"
	"eve.evalgo.org/memory/internal/vectorindex"
	"eve.evalgo.org/memory/internal/vectorindex/memvector"
)

type fakeEmbedder struct {
	vector embedding.Vector
	err    error
	calls  int
}

func (f *fakeEmbedder) Generate(_ context.Context, _ string) (embedding.Vector, error) {
	f.calls++
	return f.vector, f.err
}

func newTestWorker(t *testing.T, embedder embedding.Provider, limiter *ratelimiter.Limiter) (*Worker, *memstore.Store, *memqueue.Queue) {
	t.Helper()
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	store := memstore.New(clock, nil)
	queue := memqueue.New(clock)
	idx := memvector.New(store, vectorindex.Cosine)
	cache, err := embedding.NewCache(100, time.Hour)
	require.NoError(t, err)

	cfg := DefaultConfig("worker-1")
	cfg.ProcessInterval = time.Hour // disable automatic ticking; tests call processBatch directly
	w := New(cfg, queue, store, idx, embedder, cache, limiter, nil)
	w.now = clock
	return w, store, queue
}

func TestProcessOneUpsertsVectorAndCompletesJob(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(20, time.Minute)
	w, store, queue := newTestWorker(t, &fakeEmbedder{vector: embedding.Vector{1, 0, 0}}, limiter)

	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice", EntityType: "Person"}})
	require.NoError(t, err)
	jobID, err := queue.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)

	w.processBatch(ctx)

	status, _ := queue.Status(ctx)
	assert.Equal(t, 1, status.Completed)
	assert.NotEmpty(t, jobID)

	snapshot := w.Health()
	assert.Equal(t, Healthy, snapshot.State)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
}

func TestProcessOneFailsPermanentlyWhenEntityMissing(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(20, time.Minute)
	w, _, queue := newTestWorker(t, &fakeEmbedder{vector: embedding.Vector{1, 0}}, limiter)

	_, err := queue.Enqueue(ctx, "Ghost", "m", "v1", 0, 1)
	require.NoError(t, err)

	w.processBatch(ctx)

	status, _ := queue.Status(ctx)
	assert.Equal(t, 1, status.Failed)
	snapshot := w.Health()
	assert.Equal(t, 1, snapshot.ConsecutiveFailures)
}

func TestRateLimitReleasesRemainingJobs(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(1, time.Minute) // only 1 token available
	w, store, queue := newTestWorker(t, &fakeEmbedder{vector: embedding.Vector{1, 0}}, limiter)

	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "A"}, {Name: "B"}, {Name: "C"}})
	require.NoError(t, err)
	for _, name := range []string{"A", "B", "C"} {
		_, err := queue.Enqueue(ctx, name, "m", "v1", 0, 3)
		require.NoError(t, err)
	}

	w.processBatch(ctx)

	status, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 2, status.Pending, "jobs beyond the rate limit must be released back to pending")
	assert.Equal(t, 0, status.Processing)
}

func TestEmbeddingCacheAvoidsSecondProviderCall(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(20, time.Minute)
	embedder := &fakeEmbedder{vector: embedding.Vector{1, 0}}
	w, store, queue := newTestWorker(t, embedder, limiter)

	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice", EntityType: "Person"}})
	require.NoError(t, err)
	_, err = queue.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)
	w.processBatch(ctx)
	assert.Equal(t, 1, embedder.calls)

	_, err = queue.Enqueue(ctx, "Alice", "m", "v2", 0, 3)
	require.NoError(t, err)
	w.processBatch(ctx)
	assert.Equal(t, 1, embedder.calls, "identical canonical text should hit the cache, not call the provider again")
}

func TestConsecutiveFailuresReachCritical(t *testing.T) {
	ctx := context.Background()
	limiter := ratelimiter.New(20, time.Minute)
	w, _, queue := newTestWorker(t, &fakeEmbedder{err: errors.New("boom")}, limiter)

	for i := 0; i < 10; i++ {
		_, err := queue.Enqueue(ctx, "name", "m", "v"+string(rune('0'+i)), 0, 100)
		require.NoError(t, err)
		w.processBatch(ctx)
	}

	snapshot := w.Health()
	assert.Equal(t, Critical, snapshot.State)
	assert.Equal(t, 10, snapshot.ConsecutiveFailures)
}
