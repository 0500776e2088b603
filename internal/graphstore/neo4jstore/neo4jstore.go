// Package neo4jstore implements graphstore.Store against a Neo4j
// property-graph database, grounded on eve.evalgo.org/db/repository's
// Neo4jRepository (neo4j-go-driver/v5, session.ExecuteWrite/ExecuteRead,
// parameterized Cypher MATCH/MERGE/SET). Entities are :Entity nodes;
// relations are :RELATION edges carrying a relationType property (Neo4j
// relationship types cannot be parameterized without APOC, which this
// module does not depend on).
package neo4jstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/metadata"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/obslog"
)

// Store implements graphstore.Store against one Neo4j database.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	now      func() time.Time
	logger   *logrus.Logger
}

// New creates a Store and verifies connectivity, following
// NewNeo4jRepository's construction pattern. logger defaults to
// obslog.New(obslog.DefaultConfig("neo4jstore")) if nil.
func New(uri, username, password, database string, logger *logrus.Logger) (*Store, error) {
	ctx := context.Background()

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4jstore: failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4jstore: failed to connect: %w", err)
	}
	if logger == nil {
		logger = obslog.New(obslog.DefaultConfig("neo4jstore"))
	}

	return &Store{driver: driver, database: database, now: time.Now, logger: logger}, nil
}

// Close releases the underlying driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Driver exposes the underlying connection pool so sibling components
// that operate on the same database (schema bootstrap, vector index) can
// share it instead of opening a second pool.
func (s *Store) Driver() neo4j.DriverWithContext {
	return s.driver
}

// Database returns the graph database name this Store is bound to.
func (s *Store) Database() string {
	return s.database
}

var _ graphstore.Store = (*Store)(nil)

func (s *Store) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: s.database})
}

func (s *Store) readSession(ctx context.Context) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead, DatabaseName: s.database})
}

// entityProps extracts an Entity from a Cypher node's property map.
func entityProps(props map[string]interface{}) model.Entity {
	e := model.Entity{}
	e.ID, _ = props["id"].(string)
	e.Name, _ = props["name"].(string)
	e.EntityType, _ = props["entityType"].(string)
	if raw, ok := props["observations"].([]interface{}); ok {
		for _, o := range raw {
			if s, ok := o.(string); ok {
				e.Observations = append(e.Observations, s)
			}
		}
	} else if raw, ok := props["observations"].(string); ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &e.Observations)
	}
	if raw, ok := props["vector"].([]interface{}); ok {
		for _, v := range raw {
			if f, ok := v.(float64); ok {
				e.Vector = append(e.Vector, float32(f))
			}
		}
	}
	e.Model, _ = props["model"].(string)
	if v, ok := props["version"].(int64); ok {
		e.Version = int(v)
	}
	e.CreatedAt, _ = props["createdAt"].(time.Time)
	e.UpdatedAt, _ = props["updatedAt"].(time.Time)
	e.ValidFrom, _ = props["validFrom"].(time.Time)
	if vt, ok := props["validTo"].(time.Time); ok {
		e.ValidTo = &vt
	}
	if lu, ok := props["lastUpdated"].(time.Time); ok {
		e.LastUpdated = &lu
	}
	return e
}

func relationProps(props map[string]interface{}) model.Relation {
	r := model.Relation{}
	r.ID, _ = props["id"].(string)
	r.From, _ = props["from"].(string)
	r.To, _ = props["to"].(string)
	r.RelationType, _ = props["relationType"].(string)
	r.Strength, _ = props["strength"].(float64)
	r.Confidence, _ = props["confidence"].(float64)
	if raw, ok := props["metadata"].(string); ok && raw != "" {
		var v metadata.Value
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			r.Metadata = v
		}
	}
	if v, ok := props["version"].(int64); ok {
		r.Version = int(v)
	}
	r.CreatedAt, _ = props["createdAt"].(time.Time)
	r.UpdatedAt, _ = props["updatedAt"].(time.Time)
	r.ValidFrom, _ = props["validFrom"].(time.Time)
	if vt, ok := props["validTo"].(time.Time); ok {
		r.ValidTo = &vt
	}
	return r
}

func marshalMetadata(v metadata.Value) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

func withDefaults(strength, confidence float64) (float64, float64) {
	if strength == 0 {
		strength = model.DefaultStrength
	}
	if confidence == 0 {
		confidence = model.DefaultConfidence
	}
	return strength, confidence
}

// loadCurrentEntity returns the current version of name, or nil if none
// exists, within an already-open transaction.
func loadCurrentEntity(ctx context.Context, tx neo4j.ManagedTransaction, name string) (*model.Entity, error) {
	result, err := tx.Run(ctx, `
		MATCH (e:Entity {name: $name})
		WHERE e.validTo IS NULL
		RETURN e
	`, map[string]interface{}{"name": name})
	if err != nil {
		return nil, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, nil // no current row
	}
	node, _ := record.Get("e")
	n, ok := node.(neo4j.Node)
	if !ok {
		return nil, nil
	}
	e := entityProps(n.Props)
	return &e, nil
}

func currentRelationsFrom(ctx context.Context, tx neo4j.ManagedTransaction, name string) ([]model.Relation, error) {
	return currentRelationsBy(ctx, tx, "from", name)
}

func currentRelationsTo(ctx context.Context, tx neo4j.ManagedTransaction, name string) ([]model.Relation, error) {
	return currentRelationsBy(ctx, tx, "to", name)
}

func currentRelationsBy(ctx context.Context, tx neo4j.ManagedTransaction, field, name string) ([]model.Relation, error) {
	query := fmt.Sprintf(`
		MATCH (:Entity)-[r:RELATION]->(:Entity)
		WHERE r.%s = $name AND r.validTo IS NULL
		RETURN r
	`, field)
	result, err := tx.Run(ctx, query, map[string]interface{}{"name": name})
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Relation
	for _, rec := range records {
		rel, _ := rec.Get("r")
		if r, ok := rel.(neo4j.Relationship); ok {
			out = append(out, relationProps(r.Props))
		}
	}
	return out, nil
}

func entityExistsCurrentTx(ctx context.Context, tx neo4j.ManagedTransaction, name string) (bool, error) {
	e, err := loadCurrentEntity(ctx, tx, name)
	if err != nil {
		return false, err
	}
	return e != nil, nil
}

func insertEntityVersionTx(ctx context.Context, tx neo4j.ManagedTransaction, e model.Entity) error {
	_, err := tx.Run(ctx, `
		CREATE (e:Entity {
			id: $id, name: $name, entityType: $entityType, observations: $observations,
			vector: $vector, model: $model, version: $version,
			createdAt: $createdAt, updatedAt: $updatedAt, validFrom: $validFrom
		})
	`, map[string]interface{}{
		"id": e.ID, "name": e.Name, "entityType": e.EntityType, "observations": e.Observations,
		"vector": e.Vector, "model": e.Model, "version": int64(e.Version),
		"createdAt": e.CreatedAt, "updatedAt": e.UpdatedAt, "validFrom": e.ValidFrom,
	})
	return err
}

func invalidateEntityTx(ctx context.Context, tx neo4j.ManagedTransaction, name string, now time.Time) error {
	_, err := tx.Run(ctx, `
		MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
		SET e.validTo = $now
	`, map[string]interface{}{"name": name, "now": now})
	return err
}

func invalidateRelationTx(ctx context.Context, tx neo4j.ManagedTransaction, id string, now time.Time) error {
	_, err := tx.Run(ctx, `
		MATCH (:Entity)-[r:RELATION {id: $id}]->(:Entity)
		SET r.validTo = $now
	`, map[string]interface{}{"id": id, "now": now})
	return err
}

func createRelationTx(ctx context.Context, tx neo4j.ManagedTransaction, r model.Relation) error {
	_, err := tx.Run(ctx, `
		MATCH (a:Entity {name: $from}), (b:Entity {name: $to})
		WHERE a.validTo IS NULL AND b.validTo IS NULL
		CREATE (a)-[r:RELATION {
			id: $id, from: $from, to: $to, relationType: $relationType,
			strength: $strength, confidence: $confidence, metadata: $metadata,
			version: $version, createdAt: $createdAt, updatedAt: $updatedAt, validFrom: $validFrom
		}]->(b)
	`, map[string]interface{}{
		"from": r.From, "to": r.To, "id": r.ID, "relationType": r.RelationType,
		"strength": r.Strength, "confidence": r.Confidence, "metadata": marshalMetadata(r.Metadata),
		"version": int64(r.Version), "createdAt": r.CreatedAt, "updatedAt": r.UpdatedAt, "validFrom": r.ValidFrom,
	})
	return err
}

// createNewEntityVersionTx is the single chokepoint every mutation path
// funnels through, executed inside one write transaction so every step
// commits or rolls back together.
func createNewEntityVersionTx(ctx context.Context, tx neo4j.ManagedTransaction, logger *logrus.Logger, name string, newObservations []string, now time.Time) (*model.Entity, error) {
	cur, err := loadCurrentEntity(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, &graphstore.EntityNotFoundError{Name: name}
	}

	outgoing, err := currentRelationsFrom(ctx, tx, name)
	if err != nil {
		return nil, err
	}
	incoming, err := currentRelationsTo(ctx, tx, name)
	if err != nil {
		return nil, err
	}

	if err := invalidateEntityTx(ctx, tx, name, now); err != nil {
		return nil, err
	}
	for _, r := range outgoing {
		if err := invalidateRelationTx(ctx, tx, r.ID, now); err != nil {
			return nil, err
		}
	}
	for _, r := range incoming {
		if err := invalidateRelationTx(ctx, tx, r.ID, now); err != nil {
			return nil, err
		}
	}

	newEntity := model.Entity{
		ID: uuid.NewString(), Name: name, EntityType: cur.EntityType, Observations: newObservations,
		Vector: cur.Vector, Model: cur.Model, Version: cur.Version + 1,
		CreatedAt: cur.CreatedAt, UpdatedAt: now, ValidFrom: now,
	}
	if err := insertEntityVersionTx(ctx, tx, newEntity); err != nil {
		return nil, err
	}

	for _, r := range outgoing {
		exists, err := entityExistsCurrentTx(ctx, tx, r.To)
		if err != nil {
			return nil, err
		}
		if !exists {
			logger.WithField("target", r.To).Warn("neo4jstore: outgoing relation target no longer current, skipping re-creation")
			continue // target deleted meanwhile: skip, never create a dangling edge
		}
		if err := createRelationTx(ctx, tx, model.Relation{
			ID: uuid.NewString(), From: name, To: r.To, RelationType: r.RelationType,
			Strength: r.Strength, Confidence: r.Confidence, Metadata: r.Metadata,
			Version: r.Version + 1, CreatedAt: r.CreatedAt, UpdatedAt: now, ValidFrom: now,
		}); err != nil {
			return nil, err
		}
	}
	for _, r := range incoming {
		exists, err := entityExistsCurrentTx(ctx, tx, r.From)
		if err != nil {
			return nil, err
		}
		if !exists {
			logger.WithField("source", r.From).Warn("neo4jstore: incoming relation source no longer current, skipping re-creation")
			continue
		}
		if err := createRelationTx(ctx, tx, model.Relation{
			ID: uuid.NewString(), From: r.From, To: name, RelationType: r.RelationType,
			Strength: r.Strength, Confidence: r.Confidence, Metadata: r.Metadata,
			Version: r.Version + 1, CreatedAt: r.CreatedAt, UpdatedAt: now, ValidFrom: now,
		}); err != nil {
			return nil, err
		}
	}

	return &newEntity, nil
}

func dedupeOrdered(existing, additions []string) (merged, novel []string) {
	seen := make(map[string]bool, len(existing))
	merged = append(merged, existing...)
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range additions {
		if seen[s] {
			continue
		}
		seen[s] = true
		merged = append(merged, s)
		novel = append(novel, s)
	}
	return merged, novel
}

func subtractOrdered(existing, removals []string) []string {
	remove := make(map[string]bool, len(removals))
	for _, s := range removals {
		remove[s] = true
	}
	var remaining []string
	for _, s := range existing {
		if !remove[s] {
			remaining = append(remaining, s)
		}
	}
	return remaining
}

// CreateEntities implements graphstore.Store.
func (s *Store) CreateEntities(ctx context.Context, inputs []model.EntityInput) ([]model.Entity, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	var created []model.Entity
	for _, in := range inputs {
		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			cur, err := loadCurrentEntity(ctx, tx, in.Name)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				merged, _ := dedupeOrdered(nil, in.Observations)
				e := model.Entity{ID: uuid.NewString(), Name: in.Name, EntityType: in.EntityType, Observations: merged, Version: 1, CreatedAt: now, UpdatedAt: now, ValidFrom: now}
				if err := insertEntityVersionTx(ctx, tx, e); err != nil {
					return nil, err
				}
				return &e, nil
			}
			merged, novel := dedupeOrdered(cur.Observations, in.Observations)
			if len(novel) == 0 {
				return nil, nil
			}
			return createNewEntityVersionTx(ctx, tx, s.logger, in.Name, merged, now)
		})
		if err != nil {
			return created, err
		}
		if e, ok := result.(*model.Entity); ok && e != nil {
			created = append(created, *e)
		}
	}
	return created, nil
}

// AddObservations implements graphstore.Store.
func (s *Store) AddObservations(ctx context.Context, deltas []model.ObservationDelta) ([]model.ObservationResult, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	var results []model.ObservationResult
	for _, d := range deltas {
		novelResult, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			cur, err := loadCurrentEntity(ctx, tx, d.EntityName)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				s.logger.WithField("entity_name", d.EntityName).Warn("neo4jstore: add_observations target not found, skipping")
				return nil, nil
			}
			merged, novel := dedupeOrdered(cur.Observations, d.Observations)
			if len(novel) == 0 {
				return []string{}, nil
			}
			if _, err := createNewEntityVersionTx(ctx, tx, s.logger, d.EntityName, merged, now); err != nil {
				return nil, err
			}
			return novel, nil
		})
		if err != nil {
			return results, err
		}
		if novel, ok := novelResult.([]string); ok {
			results = append(results, model.ObservationResult{EntityName: d.EntityName, AddedObservations: novel})
		}
	}
	return results, nil
}

// DeleteObservations implements graphstore.Store.
func (s *Store) DeleteObservations(ctx context.Context, deletions []model.ObservationDelta) error {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	for _, d := range deletions {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			cur, err := loadCurrentEntity(ctx, tx, d.EntityName)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				s.logger.WithField("entity_name", d.EntityName).Warn("neo4jstore: delete_observations target not found, skipping")
				return nil, nil
			}
			remaining := subtractOrdered(cur.Observations, d.Observations)
			if len(remaining) == len(cur.Observations) {
				return nil, nil
			}
			return createNewEntityVersionTx(ctx, tx, s.logger, d.EntityName, remaining, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// DeleteEntities implements graphstore.Store.
func (s *Store) DeleteEntities(ctx context.Context, names []string) error {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	for _, name := range names {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			cur, err := loadCurrentEntity(ctx, tx, name)
			if err != nil {
				return nil, err
			}
			if cur == nil {
				s.logger.WithField("entity_name", name).Warn("neo4jstore: delete_entities target not found, skipping")
				return nil, nil
			}
			if err := invalidateEntityTx(ctx, tx, name, now); err != nil {
				return nil, err
			}
			_, err = tx.Run(ctx, `
				MATCH (:Entity)-[r:RELATION]->(:Entity)
				WHERE (r.from = $name OR r.to = $name) AND r.validTo IS NULL
				SET r.validTo = $now
			`, map[string]interface{}{"name": name, "now": now})
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateRelations implements graphstore.Store.
func (s *Store) CreateRelations(ctx context.Context, relations []model.RelationInput) ([]model.Relation, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	var created []model.Relation
	for _, in := range relations {
		result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			fromOK, err := entityExistsCurrentTx(ctx, tx, in.From)
			if err != nil {
				return nil, err
			}
			toOK, err := entityExistsCurrentTx(ctx, tx, in.To)
			if err != nil {
				return nil, err
			}
			if !fromOK || !toOK {
				s.logger.WithFields(logrus.Fields{"from": in.From, "to": in.To}).Warn("neo4jstore: create_relations endpoint not current, skipping")
				return nil, nil
			}
			existing, err := findCurrentRelationTx(ctx, tx, in.From, in.To, in.RelationType)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				return nil, nil
			}
			strength, confidence := withDefaults(in.Strength, in.Confidence)
			r := model.Relation{ID: uuid.NewString(), From: in.From, To: in.To, RelationType: in.RelationType, Strength: strength, Confidence: confidence, Metadata: in.Metadata, Version: 1, CreatedAt: now, UpdatedAt: now, ValidFrom: now}
			if err := createRelationTx(ctx, tx, r); err != nil {
				return nil, err
			}
			return &r, nil
		})
		if err != nil {
			return created, err
		}
		if r, ok := result.(*model.Relation); ok && r != nil {
			created = append(created, *r)
		}
	}
	return created, nil
}

func findCurrentRelationTx(ctx context.Context, tx neo4j.ManagedTransaction, from, to, relationType string) (*model.Relation, error) {
	result, err := tx.Run(ctx, `
		MATCH (:Entity)-[r:RELATION {from: $from, to: $to, relationType: $relationType}]->(:Entity)
		WHERE r.validTo IS NULL
		RETURN r
	`, map[string]interface{}{"from": from, "to": to, "relationType": relationType})
	if err != nil {
		return nil, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, nil
	}
	rel, _ := record.Get("r")
	r, ok := rel.(neo4j.Relationship)
	if !ok {
		return nil, nil
	}
	out := relationProps(r.Props)
	return &out, nil
}

// GetRelation implements graphstore.Store.
func (s *Store) GetRelation(ctx context.Context, from, to, relationType string) (*model.Relation, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return findCurrentRelationTx(ctx, tx, from, to, relationType)
	})
	if err != nil {
		return nil, err
	}
	r, _ := result.(*model.Relation)
	return r, nil
}

// UpdateRelation implements graphstore.Store.
func (s *Store) UpdateRelation(ctx context.Context, relation model.RelationInput) (model.Relation, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		now := s.now()
		fromOK, err := entityExistsCurrentTx(ctx, tx, relation.From)
		if err != nil {
			return nil, err
		}
		toOK, err := entityExistsCurrentTx(ctx, tx, relation.To)
		if err != nil {
			return nil, err
		}
		if !fromOK {
			return nil, &graphstore.EntityNotCurrentError{Name: relation.From}
		}
		if !toOK {
			return nil, &graphstore.EntityNotCurrentError{Name: relation.To}
		}

		existing, err := findCurrentRelationTx(ctx, tx, relation.From, relation.To, relation.RelationType)
		if err != nil {
			return nil, err
		}
		oldVersion := 0
		createdAt := now
		if existing != nil {
			if err := invalidateRelationTx(ctx, tx, existing.ID, now); err != nil {
				return nil, err
			}
			oldVersion = existing.Version
			createdAt = existing.CreatedAt
		}

		strength, confidence := withDefaults(relation.Strength, relation.Confidence)
		r := model.Relation{ID: uuid.NewString(), From: relation.From, To: relation.To, RelationType: relation.RelationType, Strength: strength, Confidence: confidence, Metadata: relation.Metadata, Version: oldVersion + 1, CreatedAt: createdAt, UpdatedAt: now, ValidFrom: now}
		if err := createRelationTx(ctx, tx, r); err != nil {
			return nil, err
		}
		return &r, nil
	})
	if err != nil {
		return model.Relation{}, err
	}
	r, _ := result.(*model.Relation)
	return *r, nil
}

// DeleteRelations implements graphstore.Store.
func (s *Store) DeleteRelations(ctx context.Context, relations []model.RelationInput) error {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	for _, in := range relations {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			now := s.now()
			existing, err := findCurrentRelationTx(ctx, tx, in.From, in.To, in.RelationType)
			if err != nil || existing == nil {
				return nil, err
			}
			return nil, invalidateRelationTx(ctx, tx, existing.ID, now)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadGraph implements graphstore.Store.
func (s *Store) LoadGraph(ctx context.Context) (graphstore.Graph, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return loadCurrentGraphTx(ctx, tx)
	})
	if err != nil {
		return graphstore.Graph{}, err
	}
	g, _ := result.(graphstore.Graph)
	return g, nil
}

func loadCurrentGraphTx(ctx context.Context, tx neo4j.ManagedTransaction) (graphstore.Graph, error) {
	var g graphstore.Graph

	entResult, err := tx.Run(ctx, `MATCH (e:Entity) WHERE e.validTo IS NULL RETURN e`, nil)
	if err != nil {
		return g, err
	}
	entRecords, err := entResult.Collect(ctx)
	if err != nil {
		return g, err
	}
	for _, rec := range entRecords {
		node, _ := rec.Get("e")
		if n, ok := node.(neo4j.Node); ok {
			g.Entities = append(g.Entities, entityProps(n.Props))
		}
	}

	relResult, err := tx.Run(ctx, `
		MATCH (a:Entity)-[r:RELATION]->(b:Entity)
		WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
		RETURN r
	`, nil)
	if err != nil {
		return g, err
	}
	relRecords, err := relResult.Collect(ctx)
	if err != nil {
		return g, err
	}
	for _, rec := range relRecords {
		rel, _ := rec.Get("r")
		if r, ok := rel.(neo4j.Relationship); ok {
			g.Relations = append(g.Relations, relationProps(r.Props))
		}
	}
	return g, nil
}

// GetEntity implements graphstore.Store.
func (s *Store) GetEntity(ctx context.Context, name string) (*model.Entity, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return loadCurrentEntity(ctx, tx, name)
	})
	if err != nil {
		return nil, err
	}
	e, _ := result.(*model.Entity)
	return e, nil
}

// SearchNodes implements graphstore.Store.
func (s *Store) SearchNodes(ctx context.Context, substring string) (graphstore.Graph, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		var g graphstore.Graph
		entResult, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.validTo IS NULL AND (
				toLower(e.name) CONTAINS toLower($q) OR
				toLower(e.entityType) CONTAINS toLower($q) OR
				any(o IN e.observations WHERE toLower(o) CONTAINS toLower($q))
			)
			RETURN e
		`, map[string]interface{}{"q": substring})
		if err != nil {
			return g, err
		}
		records, err := entResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		names := make(map[string]bool)
		for _, rec := range records {
			node, _ := rec.Get("e")
			if n, ok := node.(neo4j.Node); ok {
				e := entityProps(n.Props)
				g.Entities = append(g.Entities, e)
				names[e.Name] = true
			}
		}
		relResult, err := tx.Run(ctx, `
			MATCH (a:Entity)-[r:RELATION]->(b:Entity)
			WHERE r.validTo IS NULL AND a.validTo IS NULL AND b.validTo IS NULL
			RETURN r
		`, nil)
		if err != nil {
			return g, err
		}
		relRecords, err := relResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		for _, rec := range relRecords {
			rel, _ := rec.Get("r")
			if r, ok := rel.(neo4j.Relationship); ok {
				rp := relationProps(r.Props)
				if names[rp.From] || names[rp.To] {
					g.Relations = append(g.Relations, rp)
				}
			}
		}
		return g, nil
	})
	if err != nil {
		return graphstore.Graph{}, err
	}
	g, _ := result.(graphstore.Graph)
	return g, nil
}

// OpenNodes implements graphstore.Store.
func (s *Store) OpenNodes(ctx context.Context, names []string) (graphstore.Graph, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		var g graphstore.Graph
		entResult, err := tx.Run(ctx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL AND e.name IN $names RETURN e
		`, map[string]interface{}{"names": names})
		if err != nil {
			return g, err
		}
		records, err := entResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		for _, rec := range records {
			node, _ := rec.Get("e")
			if n, ok := node.(neo4j.Node); ok {
				g.Entities = append(g.Entities, entityProps(n.Props))
			}
		}
		relResult, err := tx.Run(ctx, `
			MATCH (a:Entity)-[r:RELATION]->(b:Entity)
			WHERE r.validTo IS NULL AND a.name IN $names AND b.name IN $names
			RETURN r
		`, map[string]interface{}{"names": names})
		if err != nil {
			return g, err
		}
		relRecords, err := relResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		for _, rec := range relRecords {
			rel, _ := rec.Get("r")
			if r, ok := rel.(neo4j.Relationship); ok {
				g.Relations = append(g.Relations, relationProps(r.Props))
			}
		}
		return g, nil
	})
	if err != nil {
		return graphstore.Graph{}, err
	}
	g, _ := result.(graphstore.Graph)
	return g, nil
}

// GetEntityHistory implements graphstore.Store.
func (s *Store) GetEntityHistory(ctx context.Context, name string) ([]model.Entity, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity {name: $name}) RETURN e ORDER BY e.validFrom ASC
		`, map[string]interface{}{"name": name})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var out []model.Entity
		for _, rec := range records {
			node, _ := rec.Get("e")
			if n, ok := node.(neo4j.Node); ok {
				out = append(out, entityProps(n.Props))
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	out, _ := result.([]model.Entity)
	return out, nil
}

// GetRelationHistory implements graphstore.Store.
func (s *Store) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]model.Relation, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (:Entity)-[r:RELATION {from: $from, to: $to, relationType: $relationType}]->(:Entity)
			RETURN r ORDER BY r.validFrom ASC
		`, map[string]interface{}{"from": from, "to": to, "relationType": relationType})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var out []model.Relation
		for _, rec := range records {
			rel, _ := rec.Get("r")
			if r, ok := rel.(neo4j.Relationship); ok {
				out = append(out, relationProps(r.Props))
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	out, _ := result.([]model.Relation)
	return out, nil
}

// GetGraphAtTime implements graphstore.Store.
func (s *Store) GetGraphAtTime(ctx context.Context, at time.Time) (graphstore.Graph, error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		var g graphstore.Graph
		entResult, err := tx.Run(ctx, `
			MATCH (e:Entity)
			WHERE e.validFrom <= $at AND (e.validTo IS NULL OR $at < e.validTo)
			RETURN e
		`, map[string]interface{}{"at": at})
		if err != nil {
			return g, err
		}
		records, err := entResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		for _, rec := range records {
			node, _ := rec.Get("e")
			if n, ok := node.(neo4j.Node); ok {
				g.Entities = append(g.Entities, entityProps(n.Props))
			}
		}

		relResult, err := tx.Run(ctx, `
			MATCH (a:Entity)-[r:RELATION]->(b:Entity)
			WHERE r.validFrom <= $at AND (r.validTo IS NULL OR $at < r.validTo)
			  AND a.name = r.from AND b.name = r.to
			  AND a.validFrom <= $at AND (a.validTo IS NULL OR $at < a.validTo)
			  AND b.validFrom <= $at AND (b.validTo IS NULL OR $at < b.validTo)
			RETURN DISTINCT r
		`, map[string]interface{}{"at": at})
		if err != nil {
			return g, err
		}
		relRecords, err := relResult.Collect(ctx)
		if err != nil {
			return g, err
		}
		for _, rec := range relRecords {
			rel, _ := rec.Get("r")
			if r, ok := rel.(neo4j.Relationship); ok {
				g.Relations = append(g.Relations, relationProps(r.Props))
			}
		}
		return g, nil
	})
	if err != nil {
		return graphstore.Graph{}, err
	}
	g, _ := result.(graphstore.Graph)
	return g, nil
}

// GetDecayedGraph implements graphstore.Store.
func (s *Store) GetDecayedGraph(ctx context.Context, opts graphstore.DecayOptions) (graphstore.Graph, error) {
	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 30
	}
	if opts.MinFloor < 0 {
		opts.MinFloor = 0.1
	}

	g, err := s.LoadGraph(ctx)
	if err != nil {
		return g, err
	}
	now := s.now()
	for i := range g.Relations {
		r := &g.Relations[i]
		ageDays := now.Sub(r.CreatedAt).Hours() / 24
		decayed := r.Confidence * math.Pow(0.5, ageDays/opts.HalfLifeDays)
		if decayed < opts.MinFloor {
			decayed = opts.MinFloor
		}
		r.DecayMetadata = &model.DecayMetadata{OriginalConfidence: r.Confidence, AgeDays: ageDays, HalfLifeDays: opts.HalfLifeDays}
		r.Confidence = decayed
	}
	return g, nil
}

// PurgeArchivedEntities implements graphstore.Store.
func (s *Store) PurgeArchivedEntities(ctx context.Context, cutoff time.Time) (int, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity) WHERE e.validTo IS NOT NULL AND e.validTo < $cutoff
			WITH e, count(e) AS c
			DETACH DELETE e
			RETURN count(*) AS deleted
		`, map[string]interface{}{"cutoff": cutoff})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("deleted")
		if v, ok := n.(int64); ok {
			return int(v), nil
		}
		return 0, nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// PurgeArchivedRelations implements graphstore.Store.
func (s *Store) PurgeArchivedRelations(ctx context.Context, cutoff time.Time) (int, error) {
	session := s.writeSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (:Entity)-[r:RELATION]->(:Entity) WHERE r.validTo IS NOT NULL AND r.validTo < $cutoff
			DELETE r
			RETURN count(*) AS deleted
		`, map[string]interface{}{"cutoff": cutoff})
		if err != nil {
			return 0, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return 0, nil
		}
		n, _ := record.Get("deleted")
		if v, ok := n.(int64); ok {
			return int(v), nil
		}
		return 0, nil
	})
	if err != nil {
		return 0, err
	}
	n, _ := result.(int)
	return n, nil
}

// EntityStats implements graphstore.Store.
func (s *Store) EntityStats(ctx context.Context) (total, withEmbeddings int, err error) {
	session := s.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL
			RETURN count(e) AS total, count(e.vector) AS withEmbeddings
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		t, _ := record.Get("total")
		w, _ := record.Get("withEmbeddings")
		return [2]int64{t.(int64), w.(int64)}, nil
	})
	if err != nil {
		return 0, 0, err
	}
	pair, _ := result.([2]int64)
	return int(pair[0]), int(pair[1]), nil
}
