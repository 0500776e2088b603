// Package memstore is an in-memory graphstore.Store implementation used
// by unit tests that exercise the bitemporal algorithm without a live
// Neo4j instance, per the "one interface, pluggable
// backends" note — grounded on eve.evalgo.org/db/repository's pattern of
// multiple interchangeable backends behind one interface.
package memstore

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/obslog"
)

// Store is a mutex-guarded, append-only in-memory bitemporal graph.
type Store struct {
	mu       sync.Mutex
	versions map[string][]*model.Entity // entity name -> all versions, oldest first
	relTypes map[string][]*model.Relation
	now      func() time.Time
	logger   *logrus.Logger
}

// New creates an empty Store. clock defaults to time.Now if nil; tests
// may override it to pin deterministic timestamps. logger defaults to
// obslog.New(obslog.DefaultConfig("memstore")) if nil.
func New(clock func() time.Time, logger *logrus.Logger) *Store {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = obslog.New(obslog.DefaultConfig("memstore"))
	}
	return &Store{
		versions: make(map[string][]*model.Entity),
		relTypes: make(map[string][]*model.Relation),
		now:      clock,
		logger:   logger,
	}
}

var _ graphstore.Store = (*Store)(nil)

func (s *Store) currentLocked(name string) *model.Entity {
	for _, e := range s.versions[name] {
		if e.IsCurrent() {
			return e
		}
	}
	return nil
}

func (s *Store) entityAtLocked(name string, at time.Time) *model.Entity {
	for _, e := range s.versions[name] {
		if !e.ValidFrom.After(at) && (e.ValidTo == nil || at.Before(*e.ValidTo)) {
			return e
		}
	}
	return nil
}

func (s *Store) allRelationsLocked() []*model.Relation {
	var out []*model.Relation
	for _, rs := range s.relTypes {
		out = append(out, rs...)
	}
	return out
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

// createNewEntityVersionLocked is the single chokepoint every mutation
// path funnels through. Caller must hold s.mu.
func (s *Store) createNewEntityVersionLocked(name string, newObservations []string) (*model.Entity, error) {
	cur := s.currentLocked(name)
	if cur == nil {
		return nil, &graphstore.EntityNotFoundError{Name: name}
	}

	now := s.now()

	outgoing := s.relationsByLocked(func(r *model.Relation) bool { return r.From == name && r.IsCurrent() })
	incoming := s.relationsByLocked(func(r *model.Relation) bool { return r.To == name && r.IsCurrent() })

	cur.ValidTo = &now
	for _, r := range outgoing {
		r.ValidTo = &now
	}
	for _, r := range incoming {
		r.ValidTo = &now
	}

	newEntity := &model.Entity{
		ID:           uuid.NewString(),
		Name:         name,
		EntityType:   cur.EntityType,
		Observations: newObservations,
		Vector:       cur.Vector,
		Model:        cur.Model,
		LastUpdated:  cur.LastUpdated,
		Version:      cur.Version + 1,
		CreatedAt:    cur.CreatedAt,
		UpdatedAt:    now,
		ValidFrom:    now,
		ValidTo:      nil,
	}
	s.versions[name] = append(s.versions[name], newEntity)

	for _, r := range outgoing {
		if s.currentLocked(r.To) == nil {
			s.logger.WithField("target", r.To).Warn("memstore: outgoing relation target no longer current, skipping re-creation")
			continue // target deleted meanwhile: skip, never create a dangling edge
		}
		s.appendRelationLocked(&model.Relation{
			ID:            uuid.NewString(),
			From:          name,
			To:            r.To,
			RelationType:  r.RelationType,
			Strength:      r.Strength,
			Confidence:    r.Confidence,
			Metadata:      r.Metadata,
			Version:       r.Version + 1,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     now,
			ValidFrom:     now,
			ValidTo:       nil,
		})
	}
	for _, r := range incoming {
		if s.currentLocked(r.From) == nil {
			s.logger.WithField("source", r.From).Warn("memstore: incoming relation source no longer current, skipping re-creation")
			continue
		}
		s.appendRelationLocked(&model.Relation{
			ID:            uuid.NewString(),
			From:          r.From,
			To:            name,
			RelationType:  r.RelationType,
			Strength:      r.Strength,
			Confidence:    r.Confidence,
			Metadata:      r.Metadata,
			Version:       r.Version + 1,
			CreatedAt:     r.CreatedAt,
			UpdatedAt:     now,
			ValidFrom:     now,
			ValidTo:       nil,
		})
	}

	return newEntity, nil
}

func (s *Store) relationsByLocked(pred func(*model.Relation) bool) []*model.Relation {
	var out []*model.Relation
	for _, rs := range s.relTypes {
		for _, r := range rs {
			if pred(r) {
				out = append(out, r)
			}
		}
	}
	return out
}

func (s *Store) appendRelationLocked(r *model.Relation) {
	key := r.RelationType
	s.relTypes[key] = append(s.relTypes[key], r)
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

// CreateEntities implements graphstore.Store.
func (s *Store) CreateEntities(ctx context.Context, inputs []model.EntityInput) ([]model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created []model.Entity
	for _, in := range inputs {
		cur := s.currentLocked(in.Name)
		if cur == nil {
			now := s.now()
			merged, _ := dedupeOrdered(nil, in.Observations)
			e := &model.Entity{
				ID:           uuid.NewString(),
				Name:         in.Name,
				EntityType:   in.EntityType,
				Observations: merged,
				Version:      1,
				CreatedAt:    now,
				UpdatedAt:    now,
				ValidFrom:    now,
				ValidTo:      nil,
			}
			s.versions[in.Name] = append(s.versions[in.Name], e)
			created = append(created, *e)
			continue
		}

		merged, novel := dedupeOrdered(cur.Observations, in.Observations)
		if len(novel) == 0 {
			continue // idempotent: no new observations contributed
		}
		newEntity, err := s.createNewEntityVersionLocked(in.Name, merged)
		if err != nil {
			continue
		}
		created = append(created, *newEntity)
	}
	return created, nil
}

// AddObservations implements graphstore.Store.
func (s *Store) AddObservations(ctx context.Context, deltas []model.ObservationDelta) ([]model.ObservationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []model.ObservationResult
	for _, d := range deltas {
		cur := s.currentLocked(d.EntityName)
		if cur == nil {
			s.logger.WithField("entity_name", d.EntityName).Warn("memstore: add_observations target not found, skipping")
			continue
		}
		merged, novel := dedupeOrdered(cur.Observations, d.Observations)
		if len(novel) == 0 {
			results = append(results, model.ObservationResult{EntityName: d.EntityName, AddedObservations: []string{}})
			continue
		}
		if _, err := s.createNewEntityVersionLocked(d.EntityName, merged); err != nil {
			continue
		}
		results = append(results, model.ObservationResult{EntityName: d.EntityName, AddedObservations: novel})
	}
	return results, nil
}

// DeleteObservations implements graphstore.Store.
func (s *Store) DeleteObservations(ctx context.Context, deletions []model.ObservationDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deletions {
		cur := s.currentLocked(d.EntityName)
		if cur == nil {
			s.logger.WithField("entity_name", d.EntityName).Warn("memstore: delete_observations target not found, skipping")
			continue
		}
		remaining := subtractOrdered(cur.Observations, d.Observations)
		if len(remaining) == len(cur.Observations) {
			continue // nothing actually removed
		}
		if _, err := s.createNewEntityVersionLocked(d.EntityName, remaining); err != nil {
			continue
		}
	}
	return nil
}

// DeleteEntities implements graphstore.Store.
func (s *Store) DeleteEntities(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, name := range names {
		cur := s.currentLocked(name)
		if cur == nil {
			s.logger.WithField("entity_name", name).Warn("memstore: delete_entities target not found, skipping")
			continue
		}
		cur.ValidTo = &now
		for _, r := range s.relationsByLocked(func(r *model.Relation) bool {
			return (r.From == name || r.To == name) && r.IsCurrent()
		}) {
			r.ValidTo = &now
		}
	}
	return nil
}

func (s *Store) findCurrentRelationLocked(from, to, relationType string) *model.Relation {
	for _, r := range s.relTypes[relationType] {
		if r.From == from && r.To == to && r.IsCurrent() {
			return r
		}
	}
	return nil
}

// CreateRelations implements graphstore.Store.
func (s *Store) CreateRelations(ctx context.Context, relations []model.RelationInput) ([]model.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var created []model.Relation
	for _, in := range relations {
		if s.currentLocked(in.From) == nil || s.currentLocked(in.To) == nil {
			s.logger.WithFields(logrus.Fields{"from": in.From, "to": in.To}).Warn("memstore: create_relations endpoint not current, skipping")
			continue // never produce an edge to an archived row
		}
		if existing := s.findCurrentRelationLocked(in.From, in.To, in.RelationType); existing != nil {
			continue // idempotent: equivalent current edge already exists
		}
		strength, confidence := withDefaults(in.Strength, in.Confidence)
		r := &model.Relation{
			ID:           uuid.NewString(),
			From:         in.From,
			To:           in.To,
			RelationType: in.RelationType,
			Strength:     strength,
			Confidence:   confidence,
			Metadata:     in.Metadata,
			Version:      1,
			CreatedAt:    now,
			UpdatedAt:    now,
			ValidFrom:    now,
			ValidTo:      nil,
		}
		s.appendRelationLocked(r)
		created = append(created, *r)
	}
	return created, nil
}

// GetRelation implements graphstore.Store.
func (s *Store) GetRelation(ctx context.Context, from, to, relationType string) (*model.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.findCurrentRelationLocked(from, to, relationType); r != nil {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

// UpdateRelation implements graphstore.Store.
func (s *Store) UpdateRelation(ctx context.Context, relation model.RelationInput) (model.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentLocked(relation.From) == nil {
		return model.Relation{}, &graphstore.EntityNotCurrentError{Name: relation.From}
	}
	if s.currentLocked(relation.To) == nil {
		return model.Relation{}, &graphstore.EntityNotCurrentError{Name: relation.To}
	}

	now := s.now()
	existing := s.findCurrentRelationLocked(relation.From, relation.To, relation.RelationType)

	oldVersion := 0
	createdAt := now
	if existing != nil {
		existing.ValidTo = &now
		oldVersion = existing.Version
		createdAt = existing.CreatedAt
	}

	strength, confidence := withDefaults(relation.Strength, relation.Confidence)
	r := &model.Relation{
		ID:           uuid.NewString(),
		From:         relation.From,
		To:           relation.To,
		RelationType: relation.RelationType,
		Strength:     strength,
		Confidence:   confidence,
		Metadata:     relation.Metadata,
		Version:      oldVersion + 1,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
		ValidFrom:    now,
		ValidTo:      nil,
	}
	s.appendRelationLocked(r)
	return *r, nil
}

// DeleteRelations implements graphstore.Store.
func (s *Store) DeleteRelations(ctx context.Context, relations []model.RelationInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, in := range relations {
		r := s.findCurrentRelationLocked(in.From, in.To, in.RelationType)
		if r == nil {
			continue // already archived: no-op
		}
		r.ValidTo = &now
	}
	return nil
}

// LoadGraph implements graphstore.Store.
func (s *Store) LoadGraph(ctx context.Context) (graphstore.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentGraphLocked(), nil
}

func (s *Store) currentGraphLocked() graphstore.Graph {
	var g graphstore.Graph
	for name, versions := range s.versions {
		_ = name
		for _, e := range versions {
			if e.IsCurrent() {
				g.Entities = append(g.Entities, *e)
			}
		}
	}
	for _, r := range s.allRelationsLocked() {
		if r.IsCurrent() && s.currentLocked(r.From) != nil && s.currentLocked(r.To) != nil {
			g.Relations = append(g.Relations, *r)
		}
	}
	return g
}

// GetEntity implements graphstore.Store.
func (s *Store) GetEntity(ctx context.Context, name string) (*model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.currentLocked(name); e != nil {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func containsFold(haystack, needle string) bool {
	return len(needle) == 0 || indexFold(haystack, needle) >= 0
}

func indexFold(haystack, needle string) int {
	hl, nl := len(haystack), len(needle)
	if nl == 0 {
		return 0
	}
	for i := 0; i+nl <= hl; i++ {
		if equalFold(haystack[i:i+nl], needle) {
			return i
		}
	}
	return -1
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// SearchNodes implements graphstore.Store.
func (s *Store) SearchNodes(ctx context.Context, substring string) (graphstore.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make(map[string]bool)
	var g graphstore.Graph
	for name, versions := range s.versions {
		for _, e := range versions {
			if !e.IsCurrent() {
				continue
			}
			if containsFold(e.Name, substring) || containsFold(e.EntityType, substring) || anyObservationContains(e.Observations, substring) {
				g.Entities = append(g.Entities, *e)
				matched[name] = true
			}
		}
	}
	for _, r := range s.allRelationsLocked() {
		if r.IsCurrent() && (matched[r.From] || matched[r.To]) && s.currentLocked(r.From) != nil && s.currentLocked(r.To) != nil {
			g.Relations = append(g.Relations, *r)
		}
	}
	return g, nil
}

func anyObservationContains(observations []string, substring string) bool {
	for _, o := range observations {
		if containsFold(o, substring) {
			return true
		}
	}
	return false
}

// OpenNodes implements graphstore.Store.
func (s *Store) OpenNodes(ctx context.Context, names []string) (graphstore.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	var g graphstore.Graph
	for name := range wanted {
		if e := s.currentLocked(name); e != nil {
			g.Entities = append(g.Entities, *e)
		}
	}
	for _, r := range s.allRelationsLocked() {
		if r.IsCurrent() && wanted[r.From] && wanted[r.To] {
			g.Relations = append(g.Relations, *r)
		}
	}
	return g, nil
}

// GetEntityHistory implements graphstore.Store.
func (s *Store) GetEntityHistory(ctx context.Context, name string) ([]model.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.versions[name]
	out := make([]model.Entity, len(versions))
	for i, e := range versions {
		out[i] = *e
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

// GetRelationHistory implements graphstore.Store.
func (s *Store) GetRelationHistory(ctx context.Context, from, to, relationType string) ([]model.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Relation
	for _, r := range s.relTypes[relationType] {
		if r.From == from && r.To == to {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ValidFrom.Before(out[j].ValidFrom) })
	return out, nil
}

// GetGraphAtTime implements graphstore.Store.
func (s *Store) GetGraphAtTime(ctx context.Context, at time.Time) (graphstore.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var g graphstore.Graph
	for _, versions := range s.versions {
		for _, e := range versions {
			if !e.ValidFrom.After(at) && (e.ValidTo == nil || at.Before(*e.ValidTo)) {
				g.Entities = append(g.Entities, *e)
			}
		}
	}
	for _, r := range s.allRelationsLocked() {
		if r.ValidFrom.After(at) || (r.ValidTo != nil && !at.Before(*r.ValidTo)) {
			continue
		}
		fromEntity := s.entityAtLocked(r.From, at)
		toEntity := s.entityAtLocked(r.To, at)
		if fromEntity == nil || toEntity == nil {
			continue
		}
		g.Relations = append(g.Relations, *r)
	}
	return g, nil
}

// GetDecayedGraph implements graphstore.Store.
func (s *Store) GetDecayedGraph(ctx context.Context, opts graphstore.DecayOptions) (graphstore.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.HalfLifeDays <= 0 {
		opts.HalfLifeDays = 30
	}
	if opts.MinFloor < 0 {
		opts.MinFloor = 0.1
	}

	now := s.now()
	g := s.currentGraphLocked()
	for i := range g.Relations {
		r := &g.Relations[i]
		ageDays := now.Sub(r.CreatedAt).Hours() / 24
		decayed := r.Confidence * math.Pow(0.5, ageDays/opts.HalfLifeDays)
		if decayed < opts.MinFloor {
			decayed = opts.MinFloor
		}
		r.DecayMetadata = &model.DecayMetadata{
			OriginalConfidence: r.Confidence,
			AgeDays:            ageDays,
			HalfLifeDays:       opts.HalfLifeDays,
		}
		r.Confidence = decayed
	}
	return g, nil
}

// PurgeArchivedEntities implements graphstore.Store.
func (s *Store) PurgeArchivedEntities(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for name, versions := range s.versions {
		kept := versions[:0:0]
		for _, e := range versions {
			if e.ValidTo != nil && e.ValidTo.Before(cutoff) {
				count++
				continue
			}
			kept = append(kept, e)
		}
		s.versions[name] = kept
	}
	return count, nil
}

// PurgeArchivedRelations implements graphstore.Store.
func (s *Store) PurgeArchivedRelations(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for relType, rs := range s.relTypes {
		kept := rs[:0:0]
		for _, r := range rs {
			if r.ValidTo != nil && r.ValidTo.Before(cutoff) {
				count++
				continue
			}
			kept = append(kept, r)
		}
		s.relTypes[relType] = kept
	}
	return count, nil
}

// EntityStats implements graphstore.Store.
func (s *Store) EntityStats(ctx context.Context) (total, withEmbeddings int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, versions := range s.versions {
		for _, e := range versions {
			if !e.IsCurrent() {
				continue
			}
			total++
			if e.Vector != nil {
				withEmbeddings++
			}
		}
	}
	return total, withEmbeddings, nil
}

// UpsertVector sets the embedding on the current version of name, used
// by vectorindex/memvector, the in-memory counterpart of neo4jvector. No
// effect if there is no current row.
func (s *Store) UpsertVector(name string, vector []float32, model_ string, lastUpdated time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.currentLocked(name); e != nil {
		e.Vector = vector
		e.Model = model_
		lu := lastUpdated
		e.LastUpdated = &lu
	}
}

// RemoveVector clears the embedding on the current version of name.
func (s *Store) RemoveVector(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.currentLocked(name); e != nil {
		e.Vector = nil
		e.Model = ""
		e.LastUpdated = nil
	}
}

// CurrentVectors returns a snapshot of (name, vector) for every current
// entity that carries an embedding, for use by an in-memory VectorIndex.
func (s *Store) CurrentVectors() map[string][]float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]float32)
	for name, versions := range s.versions {
		for _, e := range versions {
			if e.IsCurrent() && e.Vector != nil {
				out[name] = e.Vector
			}
		}
	}
	return out
}
