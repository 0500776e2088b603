// Package graphstore defines the bitemporal graph engine's public
// contract: one interface, pluggable backends. Generalized from
// eve.evalgo.org's GraphRepository/DocumentRepository/MetricsRepository/
// CacheRepository split in db/repository/interfaces.go into a single
// interface matching this domain's one storage concern.
package graphstore

import (
	"context"
	"time"

	"eve.evalgo.org/memory/internal/model"
)

// Graph is the result shape returned by every read operation that
// returns a set of entities and relations together.
type Graph struct {
	Entities  []model.Entity
	Relations []model.Relation
}

// DecayOptions parameterizes GetDecayedGraph.
type DecayOptions struct {
	HalfLifeDays float64
	MinFloor     float64
}

// DefaultDecayOptions returns the default half-life (30 days) and floor
// (0.1).
func DefaultDecayOptions() DecayOptions {
	return DecayOptions{HalfLifeDays: 30, MinFloor: 0.1}
}

// Store is the single interface carrying every graph operation.
// Implementations: neo4jstore.Store (production) and memstore.Store
// (in-memory, for tests that don't need a live database).
type Store interface {
	CreateEntities(ctx context.Context, inputs []model.EntityInput) ([]model.Entity, error)
	AddObservations(ctx context.Context, deltas []model.ObservationDelta) ([]model.ObservationResult, error)
	DeleteObservations(ctx context.Context, deletions []model.ObservationDelta) error
	DeleteEntities(ctx context.Context, names []string) error

	CreateRelations(ctx context.Context, relations []model.RelationInput) ([]model.Relation, error)
	GetRelation(ctx context.Context, from, to, relationType string) (*model.Relation, error)
	UpdateRelation(ctx context.Context, relation model.RelationInput) (model.Relation, error)
	DeleteRelations(ctx context.Context, relations []model.RelationInput) error

	LoadGraph(ctx context.Context) (Graph, error)
	GetEntity(ctx context.Context, name string) (*model.Entity, error)
	SearchNodes(ctx context.Context, substring string) (Graph, error)
	OpenNodes(ctx context.Context, names []string) (Graph, error)

	GetEntityHistory(ctx context.Context, name string) ([]model.Entity, error)
	GetRelationHistory(ctx context.Context, from, to, relationType string) ([]model.Relation, error)
	GetGraphAtTime(ctx context.Context, at time.Time) (Graph, error)
	GetDecayedGraph(ctx context.Context, opts DecayOptions) (Graph, error)

	PurgeArchivedEntities(ctx context.Context, cutoff time.Time) (int, error)
	PurgeArchivedRelations(ctx context.Context, cutoff time.Time) (int, error)

	// EntityStats backs search.Service's 60s stats cache without
	// requiring a full LoadGraph scan.
	EntityStats(ctx context.Context) (total, withEmbeddings int, err error)
}
