// Package neo4jvector implements vectorindex.Index against Neo4j's native
// vector index (db.index.vector.queryNodes), grounded on
// eve.evalgo.org/db/repository/neo4j.go's session/ExecuteWrite/ExecuteRead
// idiom. It shares the same database and :Entity nodes as neo4jstore.
package neo4jvector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"eve.evalgo.org/memory/internal/vectorindex"
)

// Index implements vectorindex.Index.
type Index struct {
	driver   neo4j.DriverWithContext
	database string
	cfg      vectorindex.Config
}

// New wraps an existing driver/database pair; callers typically share the
// driver used by neo4jstore.Store.
func New(driver neo4j.DriverWithContext, database string, cfg vectorindex.Config) *Index {
	return &Index{driver: driver, database: database, cfg: cfg}
}

var _ vectorindex.Index = (*Index)(nil)

func (i *Index) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return i.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: i.database})
}

// EnsureIndex creates the native vector index if it does not already
// exist; cmd/memoryd calls it once at startup.
func (i *Index) EnsureIndex(ctx context.Context) error {
	session := i.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	escapedName := strings.ReplaceAll(i.cfg.IndexName, "`", "``")
	stmt := fmt.Sprintf(`
		CREATE VECTOR INDEX `+"`%s`"+` IF NOT EXISTS
		FOR (e:Entity) ON (e.vector)
		OPTIONS {indexConfig: {
			`+"`vector.dimensions`"+`: $dimensions,
			`+"`vector.similarity_function`"+`: $similarity
		}}
	`, escapedName)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		_, err := tx.Run(ctx, stmt, map[string]interface{}{
			"dimensions": int64(i.cfg.Dimensions),
			"similarity": string(i.cfg.Similarity),
		})
		return nil, err
	})
	return err
}

// Upsert implements vectorindex.Index.
func (i *Index) Upsert(ctx context.Context, name string, vector []float32, model string, at time.Time) error {
	session := i.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
			SET e.vector = $vector, e.model = $model, e.lastUpdated = $at
		`, map[string]interface{}{"name": name, "vector": vector, "model": model, "at": at})
	})
	return err
}

// Remove implements vectorindex.Index.
func (i *Index) Remove(ctx context.Context, name string) error {
	session := i.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, `
			MATCH (e:Entity {name: $name}) WHERE e.validTo IS NULL
			REMOVE e.vector, e.model, e.lastUpdated
		`, map[string]interface{}{"name": name})
	})
	return err
}

// Search implements vectorindex.Index. Neo4j's queryNodes procedure
// already ranks by the index's configured similarity function; results
// are filtered to current rows and to minSimilarity here because the
// procedure itself has no "current version" concept.
func (i *Index) Search(ctx context.Context, queryVector []float32, k int, minSimilarity float64) ([]vectorindex.Match, error) {
	session := i.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		res, err := tx.Run(ctx, `
			CALL db.index.vector.queryNodes($indexName, $k, $queryVector)
			YIELD node, score
			WHERE node.validTo IS NULL AND score >= $minSimilarity
			RETURN node.name AS name, score
			ORDER BY score DESC
		`, map[string]interface{}{
			"indexName":     i.cfg.IndexName,
			"k":             int64(k),
			"queryVector":   queryVector,
			"minSimilarity": minSimilarity,
		})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		var matches []vectorindex.Match
		for _, rec := range records {
			name, _ := rec.Get("name")
			score, _ := rec.Get("score")
			n, _ := name.(string)
			var s float64
			switch v := score.(type) {
			case float64:
				s = v
			case int64:
				s = float64(v)
			}
			matches = append(matches, vectorindex.Match{Name: n, Score: s})
		}
		return matches, nil
	})
	if err != nil {
		return nil, err
	}
	matches, _ := result.([]vectorindex.Match)
	return matches, nil
}

// Diagnostics implements vectorindex.Index: index state via SHOW
// INDEXES, entity count and coverage via the same current-version
// aggregation neo4jstore.Store.EntityStats uses.
func (i *Index) Diagnostics(ctx context.Context) (vectorindex.Diagnostics, error) {
	session := i.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		stateRes, err := tx.Run(ctx, `
			SHOW INDEXES YIELD name, state WHERE name = $indexName
			RETURN state
		`, map[string]interface{}{"indexName": i.cfg.IndexName})
		if err != nil {
			return nil, err
		}
		state := vectorindex.StateUnknown
		if record, err := stateRes.Single(ctx); err == nil {
			if s, ok := record.Get("state"); ok {
				if str, ok := s.(string); ok {
					state = vectorindex.IndexState(str)
				}
			}
		}

		statsRes, err := tx.Run(ctx, `
			MATCH (e:Entity) WHERE e.validTo IS NULL
			RETURN count(e) AS total, count(e.vector) AS withEmbeddings
		`, nil)
		if err != nil {
			return nil, err
		}
		record, err := statsRes.Single(ctx)
		if err != nil {
			return nil, err
		}
		total, _ := record.Get("total")
		withEmbeddings, _ := record.Get("withEmbeddings")
		return vectorindex.Diagnostics{
			State:       state,
			Dimensions:  i.cfg.Dimensions,
			EntityCount: int(total.(int64)),
			Coverage:    coverageOf(total.(int64), withEmbeddings.(int64)),
		}, nil
	})
	if err != nil {
		return vectorindex.Diagnostics{}, err
	}
	diag, _ := result.(vectorindex.Diagnostics)
	return diag, nil
}

func coverageOf(total, withEmbeddings int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(withEmbeddings) / float64(total)
}
