// Package schema bootstraps the constraints and indexes the service
// depends on: on startup it ensures the jobs database exists and that
// the graph database's constraints and indexes are present. The vector
// index is created separately by neo4jvector.Index.EnsureIndex.
package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphBootstrapper creates the constraints and indexes the graph
// database needs.
type GraphBootstrapper struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraphBootstrapper wraps an existing driver/database pair.
func NewGraphBootstrapper(driver neo4j.DriverWithContext, database string) *GraphBootstrapper {
	return &GraphBootstrapper{driver: driver, database: database}
}

// EnsureSchema creates the composite uniqueness constraint on
// (Entity.name, Entity.validTo), plus a supporting index on Entity.name
// for the (name, validTo IS NULL) lookup pattern every graph mutation
// uses.
func (b *GraphBootstrapper) EnsureSchema(ctx context.Context) error {
	session := b.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: b.database})
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT entity_name_validto_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.name, e.validTo) IS UNIQUE`,
		`CREATE INDEX entity_name IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
		`CREATE INDEX entity_valid_to IF NOT EXISTS FOR (e:Entity) ON (e.validTo)`,
	}
	for _, stmt := range statements {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			return tx.Run(ctx, stmt, nil)
		})
		if err != nil {
			return fmt.Errorf("schema: failed to apply %q: %w", stmt, err)
		}
	}
	return nil
}

// EnsureJobDatabase creates the isolated job database named dbName if it
// does not already exist, using the system database. Requires the
// configured user to hold admin rights; failure here is a fail-fast
// startup error, not a degraded mode.
func EnsureJobDatabase(ctx context.Context, driver neo4j.DriverWithContext, dbName string) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite, DatabaseName: "system"})
	defer session.Close(ctx)

	escaped := strings.ReplaceAll(dbName, "`", "``")
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return tx.Run(ctx, fmt.Sprintf("CREATE DATABASE `%s` IF NOT EXISTS", escaped), nil)
	})
	if err != nil {
		return fmt.Errorf("schema: failed to ensure job database %q exists (requires admin rights): %w", dbName, err)
	}
	return nil
}
