// Package mcpserver binds graphstore.Store, vectorindex.Index,
// search.Service, and jobqueue.Queue behind a flat named-operation
// surface: the KnowledgeGraph facade. Transport.go layers line-delimited
// JSON-RPC dispatch on top of it; this file is the orchestration layer
// underneath, independent of how a caller reaches it.
package mcpserver

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/jobqueue"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/search"
	"eve.evalgo.org/memory/internal/vectorindex"
)

// EnqueuePolicy parameterizes how the facade enqueues embedding jobs for
// entities whose observation text changed.
type EnqueuePolicy struct {
	Model       string
	Priority    int
	MaxAttempts int
}

// KnowledgeGraph is the facade the dataflow paragraph describes:
// "the facade forwards each operation to GraphStore; mutations that
// change observation text enqueue an EmbedJob in JobQueue."
type KnowledgeGraph struct {
	store  graphstore.Store
	index  vectorindex.Index
	search *search.Service
	queue  jobqueue.Queue
	policy EnqueuePolicy
}

// New creates a KnowledgeGraph facade over its four collaborators.
func New(store graphstore.Store, index vectorindex.Index, searchService *search.Service, queue jobqueue.Queue, policy EnqueuePolicy) *KnowledgeGraph {
	return &KnowledgeGraph{store: store, index: index, search: searchService, queue: queue, policy: policy}
}

func (k *KnowledgeGraph) enqueueEmbedJob(ctx context.Context, entityName string, version int) {
	if k.queue == nil {
		return
	}
	_, _ = k.queue.Enqueue(ctx, entityName, k.policy.Model, strconv.Itoa(version), k.policy.Priority, k.policy.MaxAttempts)
}

// CreateEntities binds the create_entities tool.
func (k *KnowledgeGraph) CreateEntities(ctx context.Context, inputs []model.EntityInput) ([]model.Entity, error) {
	created, err := k.store.CreateEntities(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, e := range created {
		k.enqueueEmbedJob(ctx, e.Name, e.Version)
	}
	return created, nil
}

// AddObservations binds the add_observations tool.
func (k *KnowledgeGraph) AddObservations(ctx context.Context, deltas []model.ObservationDelta) ([]model.ObservationResult, error) {
	results, err := k.store.AddObservations(ctx, deltas)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		if len(r.AddedObservations) == 0 {
			continue
		}
		entity, err := k.store.GetEntity(ctx, r.EntityName)
		if err != nil || entity == nil {
			continue
		}
		k.enqueueEmbedJob(ctx, entity.Name, entity.Version)
	}
	return results, nil
}

// DeleteEntities binds the delete_entities tool.
func (k *KnowledgeGraph) DeleteEntities(ctx context.Context, names []string) error {
	return k.store.DeleteEntities(ctx, names)
}

// DeleteObservations binds the delete_observations tool. Deletions also
// change observation text, so they re-enqueue an embedding job the same
// way AddObservations does.
func (k *KnowledgeGraph) DeleteObservations(ctx context.Context, deletions []model.ObservationDelta) error {
	if err := k.store.DeleteObservations(ctx, deletions); err != nil {
		return err
	}
	for _, d := range deletions {
		entity, err := k.store.GetEntity(ctx, d.EntityName)
		if err != nil || entity == nil {
			continue
		}
		k.enqueueEmbedJob(ctx, entity.Name, entity.Version)
	}
	return nil
}

// CreateRelations binds the create_relations tool.
func (k *KnowledgeGraph) CreateRelations(ctx context.Context, relations []model.RelationInput) ([]model.Relation, error) {
	return k.store.CreateRelations(ctx, relations)
}

// GetRelation binds the get_relation tool.
func (k *KnowledgeGraph) GetRelation(ctx context.Context, from, to, relationType string) (*model.Relation, error) {
	return k.store.GetRelation(ctx, from, to, relationType)
}

// UpdateRelation binds the update_relation tool.
func (k *KnowledgeGraph) UpdateRelation(ctx context.Context, relation model.RelationInput) (model.Relation, error) {
	return k.store.UpdateRelation(ctx, relation)
}

// DeleteRelations binds the delete_relations tool.
func (k *KnowledgeGraph) DeleteRelations(ctx context.Context, relations []model.RelationInput) error {
	return k.store.DeleteRelations(ctx, relations)
}

// ReadGraph binds the read_graph tool.
func (k *KnowledgeGraph) ReadGraph(ctx context.Context) (graphstore.Graph, error) {
	return k.store.LoadGraph(ctx)
}

// SearchNodes binds the search_nodes tool.
func (k *KnowledgeGraph) SearchNodes(ctx context.Context, query string) (graphstore.Graph, error) {
	return k.store.SearchNodes(ctx, query)
}

// OpenNodes binds the open_nodes tool.
func (k *KnowledgeGraph) OpenNodes(ctx context.Context, names []string) (graphstore.Graph, error) {
	return k.store.OpenNodes(ctx, names)
}

// SemanticSearch binds the semantic_search tool.
func (k *KnowledgeGraph) SemanticSearch(ctx context.Context, query string, opts search.Options) (search.Result, error) {
	return k.search.Search(ctx, query, opts)
}

// EntityEmbedding is the result shape of the get_entity_embedding tool.
type EntityEmbedding struct {
	EntityName  string
	Vector      []float32
	Model       string
	LastUpdated *time.Time
}

// ErrNoEmbedding is returned by GetEntityEmbedding when the entity exists
// but carries no vector yet.
var ErrNoEmbedding = fmt.Errorf("mcpserver: entity has no embedding")

// GetEntityEmbedding binds the get_entity_embedding tool.
func (k *KnowledgeGraph) GetEntityEmbedding(ctx context.Context, entityName string) (*EntityEmbedding, error) {
	entity, err := k.store.GetEntity(ctx, entityName)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, &graphstore.EntityNotFoundError{Name: entityName}
	}
	if entity.Vector == nil {
		return nil, ErrNoEmbedding
	}
	return &EntityEmbedding{EntityName: entity.Name, Vector: entity.Vector, Model: entity.Model, LastUpdated: entity.LastUpdated}, nil
}

// GetEntityHistory binds the get_entity_history tool.
func (k *KnowledgeGraph) GetEntityHistory(ctx context.Context, name string) ([]model.Entity, error) {
	return k.store.GetEntityHistory(ctx, name)
}

// GetRelationHistory binds the get_relation_history tool.
func (k *KnowledgeGraph) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]model.Relation, error) {
	return k.store.GetRelationHistory(ctx, from, to, relationType)
}

// GetGraphAtTime binds the get_graph_at_time tool.
func (k *KnowledgeGraph) GetGraphAtTime(ctx context.Context, at time.Time) (graphstore.Graph, error) {
	return k.store.GetGraphAtTime(ctx, at)
}

// GetDecayedGraph binds the get_decayed_graph tool.
func (k *KnowledgeGraph) GetDecayedGraph(ctx context.Context, opts graphstore.DecayOptions) (graphstore.Graph, error) {
	return k.store.GetDecayedGraph(ctx, opts)
}
