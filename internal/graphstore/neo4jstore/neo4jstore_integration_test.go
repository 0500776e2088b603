//go:build integration

package neo4jstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/schema"
)

// setupNeo4jContainer starts a Neo4j container for integration testing,
// following postgres_integration_test.go's ContainerRequest/WaitingFor
// shape.
func setupNeo4jContainer(t *testing.T) (uri string, cleanup func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "neo4j:5-community",
		ExposedPorts: []string{"7687/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH": "neo4j/testpassword",
		},
		WaitingFor: wait.ForLog("Bolt enabled").WithStartupTimeout(90 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start neo4j container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err)

	cleanup = func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate neo4j container: %v", err)
		}
	}

	return fmt.Sprintf("bolt://%s:%s", host, port.Port()), cleanup
}

func TestIntegrationCreateEntitiesAndLoadGraph(t *testing.T) {
	uri, cleanup := setupNeo4jContainer(t)
	defer cleanup()

	store, err := New(uri, "neo4j", "testpassword", "neo4j", nil)
	require.NoError(t, err)
	defer store.Close(context.Background())

	require.NoError(t, schema.NewGraphBootstrapper(store.Driver(), store.Database()).EnsureSchema(context.Background()))

	ctx := context.Background()
	created, err := store.CreateEntities(ctx, []model.EntityInput{
		{Name: "Alice", EntityType: "Person", Observations: []string{"likes tea"}},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].Version)

	graph, err := store.LoadGraph(ctx)
	require.NoError(t, err)
	assert.Len(t, graph.Entities, 1)
	assert.Equal(t, "Alice", graph.Entities[0].Name)
}

func TestIntegrationCreateNewEntityVersionPreservesEdgesToCurrentEndpoints(t *testing.T) {
	uri, cleanup := setupNeo4jContainer(t)
	defer cleanup()

	store, err := New(uri, "neo4j", "testpassword", "neo4j", nil)
	require.NoError(t, err)
	defer store.Close(context.Background())
	require.NoError(t, schema.NewGraphBootstrapper(store.Driver(), store.Database()).EnsureSchema(context.Background()))

	ctx := context.Background()
	_, err = store.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}, {Name: "Bob"}})
	require.NoError(t, err)
	_, err = store.CreateRelations(ctx, []model.RelationInput{{From: "Alice", To: "Bob", RelationType: "knows"}})
	require.NoError(t, err)

	_, err = store.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Alice", Observations: []string{"new fact"}}})
	require.NoError(t, err)

	rel, err := store.GetRelation(ctx, "Alice", "Bob", "knows")
	require.NoError(t, err)
	require.NotNil(t, rel, "relation must survive re-versioning of its source entity")
	assert.Equal(t, 2, rel.Version)
}
