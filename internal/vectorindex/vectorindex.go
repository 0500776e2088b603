// Package vectorindex stores one embedding per current entity version and
// answers top-k similarity queries. Grounded on the same Neo4j database
// as graphstore: Upsert/Remove are plain SET/REMOVE Cypher on the
// current-version node, and Search uses Neo4j's native vector index
// procedure db.index.vector.queryNodes.
package vectorindex

import (
	"context"
	"time"
)

// Similarity selects the distance function the underlying index was
// created with.
type Similarity string

const (
	Cosine    Similarity = "cosine"
	Euclidean Similarity = "euclidean"
)

// Config parameterizes the index
type Config struct {
	IndexName  string
	Dimensions int
	Similarity Similarity
}

// DefaultConfig returns the standard defaults: 1536 dimensions, cosine
// similarity.
func DefaultConfig() Config {
	return Config{IndexName: "entity_embeddings", Dimensions: 1536, Similarity: Cosine}
}

// Match is one hit of a similarity search.
type Match struct {
	Name  string
	Score float64
}

// IndexState summarizes whether the underlying index is ready to serve
// queries.
type IndexState string

const (
	StateOnline     IndexState = "ONLINE"
	StateOffline    IndexState = "OFFLINE"
	StatePopulating IndexState = "POPULATING"
	StateFailed     IndexState = "FAILED"
	StateUnknown    IndexState = "UNKNOWN"
)

// Diagnostics reports the operational state of a vector index: whether
// it's online, the dimension it was created with, how many current
// entities exist, and what fraction of them carry an embedding.
type Diagnostics struct {
	State       IndexState
	Dimensions  int
	EntityCount int
	Coverage    float64
}

// Index is the public contract of a vector similarity backend.
type Index interface {
	// Upsert writes vector on the current-version row named name, along
	// with its provenance metadata. No effect if no current row exists.
	Upsert(ctx context.Context, name string, vector []float32, model string, at time.Time) error

	// Remove clears the embedding on the current-version row named name.
	Remove(ctx context.Context, name string) error

	// Search returns up to k current entities nearest to queryVector,
	// dropping any result whose score is below minSimilarity.
	Search(ctx context.Context, queryVector []float32, k int, minSimilarity float64) ([]Match, error)

	// Diagnostics reports index state, configured dimension, current
	// entity count, and embedding coverage.
	Diagnostics(ctx context.Context) (Diagnostics, error)
}
