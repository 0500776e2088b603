package mcpserver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memory/internal/graphstore/memstore"
	"eve.evalgo.org/memory/internal/jobqueue/memqueue"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/search"
	"eve.evalgo.org/memory/internal/vectorindex"
	"eve.evalgo.org/memory/internal/vectorindex/memvector"
)

func newTestFacade(t *testing.T) (*KnowledgeGraph, *memqueue.Queue) {
	t.Helper()
	now := time.Unix(2000, 0)
	clock := func() time.Time { return now }

	store := memstore.New(clock, nil)
	queue := memqueue.New(clock)
	index := memvector.New(store, vectorindex.Cosine)
	searchService := search.New(store, index, nil)

	policy := EnqueuePolicy{Model: "text-embedding-3-small", Priority: 0, MaxAttempts: 3}
	return New(store, index, searchService, queue, policy), queue
}

func TestCreateEntitiesEnqueuesEmbedJob(t *testing.T) {
	ctx := context.Background()
	kg, queue := newTestFacade(t)

	created, err := kg.CreateEntities(ctx, []model.EntityInput{{Name: "Alice", EntityType: "Person", Observations: []string{"likes tea"}}})
	require.NoError(t, err)
	require.Len(t, created, 1)

	status, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestAddObservationsEnqueuesEmbedJobOnlyWhenChanged(t *testing.T) {
	ctx := context.Background()
	kg, queue := newTestFacade(t)

	_, err := kg.CreateEntities(ctx, []model.EntityInput{{Name: "Bob", EntityType: "Person"}})
	require.NoError(t, err)
	initialStatus, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, initialStatus.Pending)

	_, err = kg.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Bob", Observations: []string{"new fact"}}})
	require.NoError(t, err)
	afterAdd, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, afterAdd.Pending, "a changed entity should enqueue a second embed job")

	_, err = kg.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Bob", Observations: []string{"new fact"}}})
	require.NoError(t, err)
	afterNoop, err := queue.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, afterNoop.Pending, "a no-op AddObservations call must not enqueue another job")
}

func TestGetEntityEmbeddingReturnsErrWhenMissingVector(t *testing.T) {
	ctx := context.Background()
	kg, _ := newTestFacade(t)

	_, err := kg.CreateEntities(ctx, []model.EntityInput{{Name: "Carol", EntityType: "Person"}})
	require.NoError(t, err)

	_, err = kg.GetEntityEmbedding(ctx, "Carol")
	assert.ErrorIs(t, err, ErrNoEmbedding)
}

func TestReadGraphAndSearchNodesDelegateToStore(t *testing.T) {
	ctx := context.Background()
	kg, _ := newTestFacade(t)

	_, err := kg.CreateEntities(ctx, []model.EntityInput{{Name: "Dana", EntityType: "Person", Observations: []string{"plays chess"}}})
	require.NoError(t, err)

	graph, err := kg.ReadGraph(ctx)
	require.NoError(t, err)
	assert.Len(t, graph.Entities, 1)

	found, err := kg.SearchNodes(ctx, "chess")
	require.NoError(t, err)
	assert.Len(t, found.Entities, 1)
	assert.Equal(t, "Dana", found.Entities[0].Name)
}
