package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memory/internal/embedding"
	"eve.evalgo.org/memory/internal/graphstore/memstore"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/vectorindex"
	"eve.evalgo.org/memory/internal/vectorindex/memvector"
)

type fakeEmbedder struct {
	vector embedding.Vector
	err    error
}

func (f *fakeEmbedder) Generate(_ context.Context, _ string) (embedding.Vector, error) {
	return f.vector, f.err
}

func setup(t *testing.T) (*memstore.Store, *memvector.Index) {
	t.Helper()
	now := time.Unix(1000, 0)
	store := memstore.New(func() time.Time { return now }, nil)
	idx := memvector.New(store, vectorindex.Cosine)
	return store, idx
}

func TestKeywordSearchReturnsActualKeyword(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice", Observations: []string{"likes tea"}}})
	require.NoError(t, err)

	svc := New(store, idx, nil)
	result, err := svc.Search(ctx, "tea", Options{})
	require.NoError(t, err)
	assert.Equal(t, Keyword, result.Diagnostics.RequestedSearchType)
	assert.Equal(t, Keyword, result.Diagnostics.ActualSearchType)
	assert.Len(t, result.Graph.Entities, 1)
}

func TestSemanticFallsBackWhenNoProviderConfigured(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}})
	require.NoError(t, err)

	svc := New(store, idx, nil)
	result, err := svc.Search(ctx, "Alice", Options{Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, Semantic, result.Diagnostics.RequestedSearchType)
	assert.Equal(t, Keyword, result.Diagnostics.ActualSearchType)
	assert.Equal(t, FallbackEmbeddingNotConfigured, result.Diagnostics.FallbackReason)
}

func TestSemanticStrictModeRaisesWhenNoProviderConfigured(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	svc := New(store, idx, nil)

	_, err := svc.Search(ctx, "Alice", Options{Semantic: true, StrictMode: true})
	require.Error(t, err)
	var unavailable *SemanticUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, FallbackEmbeddingNotConfigured, unavailable.Reason)
}

func TestSemanticFallsBackOnQueryEmbeddingFailure(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}})
	require.NoError(t, err)

	svc := New(store, idx, &fakeEmbedder{err: errors.New("provider down")})
	result, err := svc.Search(ctx, "Alice", Options{Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackQueryEmbeddingFailed, result.Diagnostics.FallbackReason)
}

func TestSemanticFallsBackWhenNoEmbeddingsAvailable(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}})
	require.NoError(t, err)

	svc := New(store, idx, &fakeEmbedder{vector: embedding.Vector{1, 0}})
	result, err := svc.Search(ctx, "Alice", Options{Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, FallbackNoEmbeddingsAvailable, result.Diagnostics.FallbackReason)
}

func TestStrictSemanticFallbackErrorScenario(t *testing.T) {
	// Scenario 4 from : zero entities with embeddings, strict mode.
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}})
	require.NoError(t, err)

	svc := New(store, idx, &fakeEmbedder{vector: embedding.Vector{1, 0}})
	_, err = svc.Search(ctx, "Alice", Options{Semantic: true, StrictMode: true})
	require.Error(t, err)
	var unavailable *SemanticUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, FallbackNoEmbeddingsAvailable, unavailable.Reason)
}

func TestSemanticSearchSucceedsWithEmbeddings(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}, {Name: "Bob"}})
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, "Alice", []float32{1, 0}, "m", time.Unix(1000, 0)))

	svc := New(store, idx, &fakeEmbedder{vector: embedding.Vector{1, 0}})
	result, err := svc.Search(ctx, "Alice", Options{Semantic: true})
	require.NoError(t, err)
	assert.Equal(t, Semantic, result.Diagnostics.ActualSearchType)
	assert.Equal(t, FallbackNone, result.Diagnostics.FallbackReason)
	require.Len(t, result.Graph.Entities, 1)
	assert.Equal(t, "Alice", result.Graph.Entities[0].Name)
}

func TestEntityTypeFilterAppliesToKeywordResults(t *testing.T) {
	ctx := context.Background()
	store, idx := setup(t)
	_, err := store.CreateEntities(ctx, []model.EntityInput{
		{Name: "Alice", EntityType: "Person"},
		{Name: "Acme", EntityType: "Company"},
	})
	require.NoError(t, err)

	svc := New(store, idx, nil)
	result, err := svc.Search(ctx, "A", Options{EntityTypes: []string{"Person"}})
	require.NoError(t, err)
	require.Len(t, result.Graph.Entities, 1)
	assert.Equal(t, "Alice", result.Graph.Entities[0].Name)
}
