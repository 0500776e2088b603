package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/model"
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCreateEntitiesIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)

	in := []model.EntityInput{{Name: "Alice", EntityType: "Person", Observations: []string{"likes tea"}}}
	created, err := s.CreateEntities(ctx, in)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 1, created[0].Version)

	created2, err := s.CreateEntities(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, created2, "second identical call must be a no-op")

	hist, err := s.GetEntityHistory(ctx, "Alice")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "no new version should have been created")
}

func TestAddObservationsAlreadyPresentIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)

	_, err := s.CreateEntities(ctx, []model.EntityInput{{Name: "Alice", Observations: []string{"x"}}})
	require.NoError(t, err)

	results, err := s.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Alice", Observations: []string{"x"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, results[0].AddedObservations)

	hist, _ := s.GetEntityHistory(ctx, "Alice")
	assert.Len(t, hist, 1)
}

func TestDeleteRelationsTwiceIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)

	_, _ = s.CreateEntities(ctx, []model.EntityInput{{Name: "A"}, {Name: "B"}})
	_, err := s.CreateRelations(ctx, []model.RelationInput{{From: "A", To: "B", RelationType: "KNOWS"}})
	require.NoError(t, err)

	err = s.DeleteRelations(ctx, []model.RelationInput{{From: "A", To: "B", RelationType: "KNOWS"}})
	require.NoError(t, err)

	err = s.DeleteRelations(ctx, []model.RelationInput{{From: "A", To: "B", RelationType: "KNOWS"}})
	require.NoError(t, err, "second delete must be a no-op, not an error")

	rel, _ := s.GetRelation(ctx, "A", "B", "KNOWS")
	assert.Nil(t, rel)
}

func TestNoPhantomRelationsAfterObservationDelete(t *testing.T) {
	// Scenario 1 from : Alice-[KNOWS]->Bob, Charlie-[KNOWS]->Alice.
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)

	_, err := s.CreateEntities(ctx, []model.EntityInput{
		{Name: "Alice", Observations: []string{"x"}},
		{Name: "Bob"},
		{Name: "Charlie"},
	})
	require.NoError(t, err)

	_, err = s.CreateRelations(ctx, []model.RelationInput{
		{From: "Alice", To: "Bob", RelationType: "KNOWS"},
		{From: "Charlie", To: "Alice", RelationType: "KNOWS"},
	})
	require.NoError(t, err)

	err = s.DeleteObservations(ctx, []model.ObservationDelta{{EntityName: "Alice", Observations: []string{"x"}}})
	require.NoError(t, err)

	hist, _ := s.GetEntityHistory(ctx, "Alice")
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Version)
	assert.NotNil(t, hist[0].ValidTo)
	assert.Equal(t, 2, hist[1].Version)
	assert.Nil(t, hist[1].ValidTo)

	g, err := s.LoadGraph(ctx)
	require.NoError(t, err)

	byKey := make(map[string]model.Relation)
	for _, r := range g.Relations {
		byKey[r.From+"->"+r.To] = r
	}
	require.Contains(t, byKey, "Alice->Bob")
	require.Contains(t, byKey, "Charlie->Alice")
	assert.Equal(t, 2, byKey["Alice->Bob"].Version)
	assert.Equal(t, 2, byKey["Charlie->Alice"].Version)

	assertNoPhantomRelations(t, s, ctx)
}

func assertNoPhantomRelations(t *testing.T, s *Store, ctx context.Context) {
	t.Helper()
	g, err := s.LoadGraph(ctx)
	require.NoError(t, err)
	for _, r := range g.Relations {
		from, _ := s.GetEntity(ctx, r.From)
		to, _ := s.GetEntity(ctx, r.To)
		assert.NotNil(t, from, "relation %+v has archived source", r)
		assert.NotNil(t, to, "relation %+v has archived target", r)
	}
}

func TestTemporalQueryCorrectness(t *testing.T) {
	// Scenario 5 from 
	ctx := context.Background()
	t0 := time.Unix(1000, 0)
	s := New(clockAt(t0), nil)

	_, err := s.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}, {Name: "Bob"}})
	require.NoError(t, err)
	_, err = s.CreateRelations(ctx, []model.RelationInput{{From: "Alice", To: "Bob", RelationType: "R"}})
	require.NoError(t, err)

	t1 := t0.Add(1 * time.Hour)
	s.now = clockAt(t1)
	_, err = s.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Alice", Observations: []string{"note"}}})
	require.NoError(t, err)

	t2 := t1.Add(1 * time.Hour)
	s.now = clockAt(t2)
	_, err = s.AddObservations(ctx, []model.ObservationDelta{{EntityName: "Bob", Observations: []string{"note"}}})
	require.NoError(t, err)

	g1, err := s.GetGraphAtTime(ctx, t1.Add(1*time.Minute))
	require.NoError(t, err)
	require.Len(t, g1.Relations, 1)
	assert.Equal(t, 2, entityVersion(g1, "Alice"))
	assert.Equal(t, 1, entityVersion(g1, "Bob"))
	assert.Equal(t, "Alice", g1.Relations[0].From)
	assert.Equal(t, "Bob", g1.Relations[0].To)

	g2, err := s.GetGraphAtTime(ctx, t2.Add(1*time.Minute))
	require.NoError(t, err)
	require.Len(t, g2.Relations, 1)
	assert.Equal(t, 2, entityVersion(g2, "Alice"))
	assert.Equal(t, 2, entityVersion(g2, "Bob"))
}

func entityVersion(g graphstore.Graph, name string) int {
	for _, e := range g.Entities {
		if e.Name == name {
			return e.Version
		}
	}
	return -1
}

func TestPurgeNeverTouchesCurrentRows(t *testing.T) {
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)
	_, _ = s.CreateEntities(ctx, []model.EntityInput{{Name: "Alice"}})

	count, err := s.PurgeArchivedEntities(ctx, time.Unix(1<<62, 0))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	e, _ := s.GetEntity(ctx, "Alice")
	assert.NotNil(t, e)
}

func TestUpdateRelationRequiresCurrentEndpoints(t *testing.T) {
	ctx := context.Background()
	s := New(clockAt(time.Unix(1000, 0)), nil)
	_, _ = s.CreateEntities(ctx, []model.EntityInput{{Name: "A"}, {Name: "B"}})
	_, err := s.CreateRelations(ctx, []model.RelationInput{{From: "A", To: "B", RelationType: "R"}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntities(ctx, []string{"B"}))

	_, err = s.UpdateRelation(ctx, model.RelationInput{From: "A", To: "B", RelationType: "R"})
	require.Error(t, err)
	var notCurrent *graphstore.EntityNotCurrentError
	assert.ErrorAs(t, err, &notCurrent)
}
