// Package memvector is an in-memory vectorindex.Index test double backed
// by a memstore.Store's own vector fields, so tests can exercise
// SearchService without a live Neo4j vector index.
package memvector

import (
	"context"
	"math"
	"sort"
	"time"

	"eve.evalgo.org/memory/internal/graphstore/memstore"
	"eve.evalgo.org/memory/internal/vectorindex"
)

// Index implements vectorindex.Index over a memstore.Store.
type Index struct {
	store *memstore.Store
	sim   vectorindex.Similarity
}

// New wraps store; sim selects the scoring function used by Search.
func New(store *memstore.Store, sim vectorindex.Similarity) *Index {
	if sim == "" {
		sim = vectorindex.Cosine
	}
	return &Index{store: store, sim: sim}
}

var _ vectorindex.Index = (*Index)(nil)

// Upsert implements vectorindex.Index.
func (i *Index) Upsert(_ context.Context, name string, vector []float32, model string, at time.Time) error {
	i.store.UpsertVector(name, vector, model, at)
	return nil
}

// Remove implements vectorindex.Index.
func (i *Index) Remove(_ context.Context, name string) error {
	i.store.RemoveVector(name)
	return nil
}

// Search implements vectorindex.Index.
func (i *Index) Search(_ context.Context, queryVector []float32, k int, minSimilarity float64) ([]vectorindex.Match, error) {
	vectors := i.store.CurrentVectors()
	matches := make([]vectorindex.Match, 0, len(vectors))
	for name, v := range vectors {
		score := i.score(queryVector, v)
		if score < minSimilarity {
			continue
		}
		matches = append(matches, vectorindex.Match{Name: name, Score: score})
	}
	sort.Slice(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Diagnostics implements vectorindex.Index. A memvector index is always
// online and reports the length of one of its stored current vectors
// (0 when none is stored).
func (i *Index) Diagnostics(ctx context.Context) (vectorindex.Diagnostics, error) {
	total, withEmbeddings, err := i.store.EntityStats(ctx)
	if err != nil {
		return vectorindex.Diagnostics{}, err
	}
	dims := 0
	for _, v := range i.store.CurrentVectors() {
		dims = len(v)
		break
	}
	var coverage float64
	if total > 0 {
		coverage = float64(withEmbeddings) / float64(total)
	}
	return vectorindex.Diagnostics{
		State:       vectorindex.StateOnline,
		Dimensions:  dims,
		EntityCount: total,
		Coverage:    coverage,
	}, nil
}

func (i *Index) score(a, b []float32) float64 {
	switch i.sim {
	case vectorindex.Euclidean:
		return 1 / (1 + euclideanDistance(a, b))
	default:
		return cosineSimilarity(a, b)
	}
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for idx := range a {
		dot += float64(a[idx]) * float64(b[idx])
		normA += float64(a[idx]) * float64(a[idx])
		normB += float64(b[idx]) * float64(b[idx])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclideanDistance(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for idx := range a {
		d := float64(a[idx]) - float64(b[idx])
		sum += d * d
	}
	return math.Sqrt(sum)
}
