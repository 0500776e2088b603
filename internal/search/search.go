// Package search implements the adaptive keyword/semantic/hybrid search
// pipeline: a decision procedure with explicit fallback diagnostics and a
// strict-mode guarantee, composing graphstore.Store and vectorindex.Index
// with the same layered error-classification style used throughout this
// module's error types.
package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"eve.evalgo.org/memory/internal/embedding"
	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/vectorindex"
)

// Type enumerates the three search modes.
type Type string

const (
	Keyword  Type = "keyword"
	Semantic Type = "semantic"
	Hybrid   Type = "hybrid"
)

// FallbackReason names why a semantic/hybrid request degraded to keyword.
type FallbackReason string

const (
	FallbackNone                      FallbackReason = ""
	FallbackEmbeddingNotConfigured    FallbackReason = "embedding_service_not_configured"
	FallbackQueryEmbeddingFailed      FallbackReason = "query_embedding_failed"
	FallbackNoEmbeddingsAvailable     FallbackReason = "no_embeddings_available"
)

// DefaultSemanticWeight is the hybrid linear-combination weight used
// when a caller doesn't supply one: vector score and textual-match score
// are combined linearly rather than by re-ranking.
const DefaultSemanticWeight = 0.6

// Options parameterizes Search.
type Options struct {
	Semantic           bool
	Hybrid             bool
	Limit              int
	MinSimilarity      float64
	EntityTypes        []string
	StrictMode         bool
	IncludeDiagnostics bool
	SemanticWeight     float64
}

// Diagnostics reports how a search request was actually served.
type Diagnostics struct {
	RequestedSearchType       Type
	ActualSearchType          Type
	FallbackReason            FallbackReason
	QueryVectorGenerationTime time.Duration
	VectorSearchTime          time.Duration
	TotalEntities             int
	EntitiesWithEmbeddings    int
	EmbeddingCoverage         float64
}

// Result is the outcome of a Search call.
type Result struct {
	Graph       graphstore.Graph
	Diagnostics Diagnostics
}

// SemanticUnavailableError is raised in strict mode when a semantic or
// hybrid request cannot be served as requested.
type SemanticUnavailableError struct {
	Reason FallbackReason
}

func (e *SemanticUnavailableError) Error() string {
	return fmt.Sprintf("search: semantic search unavailable: %s", e.Reason)
}

// statsSnapshot is a 60-second cache of entity/embedding counts: a plain
// timestamped struct, no background refresher.
type statsSnapshot struct {
	total          int
	withEmbeddings int
	at             time.Time
}

// Service implements the keyword/semantic/hybrid decision procedure.
type Service struct {
	store    graphstore.Store
	index    vectorindex.Index
	embedder embedding.Provider // nil means "no embedding provider configured"
	statsTTL time.Duration
	statsMu  sync.Mutex
	stats    statsSnapshot
	now      func() time.Time
}

// New creates a Service. embedder may be nil.
func New(store graphstore.Store, index vectorindex.Index, embedder embedding.Provider) *Service {
	return &Service{store: store, index: index, embedder: embedder, statsTTL: 60 * time.Second, now: time.Now}
}

func (s *Service) statsSnapshotLocked(ctx context.Context) (statsSnapshot, error) {
	now := s.now()
	if !s.stats.at.IsZero() && now.Sub(s.stats.at) < s.statsTTL {
		return s.stats, nil
	}
	total, withEmbeddings, err := s.store.EntityStats(ctx)
	if err != nil {
		return statsSnapshot{}, err
	}
	s.stats = statsSnapshot{total: total, withEmbeddings: withEmbeddings, at: now}
	return s.stats, nil
}

func requestedType(opts Options) Type {
	switch {
	case opts.Hybrid:
		return Hybrid
	case opts.Semantic:
		return Semantic
	default:
		return Keyword
	}
}

func filterByEntityTypes(g graphstore.Graph, entityTypes []string) graphstore.Graph {
	if len(entityTypes) == 0 {
		return g
	}
	allowed := make(map[string]bool, len(entityTypes))
	for _, t := range entityTypes {
		allowed[t] = true
	}
	names := make(map[string]bool)
	out := graphstore.Graph{}
	for _, e := range g.Entities {
		if allowed[e.EntityType] {
			out.Entities = append(out.Entities, e)
			names[e.Name] = true
		}
	}
	for _, r := range g.Relations {
		if names[r.From] || names[r.To] {
			out.Relations = append(out.Relations, r)
		}
	}
	return out
}

// Search decides which of keyword, semantic, or hybrid search to run and
// falls back to keyword when semantic search can't be served, unless
// opts.StrictMode asks for an error instead.
func (s *Service) Search(ctx context.Context, query string, opts Options) (Result, error) {
	if opts.SemanticWeight == 0 {
		opts.SemanticWeight = DefaultSemanticWeight
	}
	requested := requestedType(opts)

	s.statsMu.Lock()
	stats, err := s.statsSnapshotLocked(ctx)
	s.statsMu.Unlock()
	if err != nil {
		return Result{}, err
	}

	diag := Diagnostics{
		RequestedSearchType:    requested,
		TotalEntities:          stats.total,
		EntitiesWithEmbeddings: stats.withEmbeddings,
	}
	if stats.total > 0 {
		diag.EmbeddingCoverage = float64(stats.withEmbeddings) / float64(stats.total)
	}

	if requested == Keyword {
		g, err := s.keywordSearch(ctx, query, opts)
		if err != nil {
			return Result{}, err
		}
		diag.ActualSearchType = Keyword
		return Result{Graph: g, Diagnostics: diag}, nil
	}

	if s.embedder == nil {
		return s.fallback(ctx, query, opts, diag, FallbackEmbeddingNotConfigured)
	}

	genStart := s.now()
	queryVector, err := s.embedder.Generate(ctx, query)
	diag.QueryVectorGenerationTime = s.now().Sub(genStart)
	if err != nil {
		return s.fallback(ctx, query, opts, diag, FallbackQueryEmbeddingFailed)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	searchStart := s.now()
	matches, err := s.index.Search(ctx, queryVector, limit, opts.MinSimilarity)
	diag.VectorSearchTime = s.now().Sub(searchStart)
	if err != nil {
		return Result{}, err
	}
	if len(matches) == 0 {
		return s.fallback(ctx, query, opts, diag, FallbackNoEmbeddingsAvailable)
	}

	g, err := s.graphFromMatches(ctx, matches, query, opts, requested)
	if err != nil {
		return Result{}, err
	}
	g = filterByEntityTypes(g, opts.EntityTypes)

	diag.ActualSearchType = requested
	return Result{Graph: g, Diagnostics: diag}, nil
}

func (s *Service) fallback(ctx context.Context, query string, opts Options, diag Diagnostics, reason FallbackReason) (Result, error) {
	if opts.StrictMode {
		return Result{}, &SemanticUnavailableError{Reason: reason}
	}
	g, err := s.keywordSearch(ctx, query, opts)
	if err != nil {
		return Result{}, err
	}
	diag.ActualSearchType = Keyword
	diag.FallbackReason = reason
	return Result{Graph: g, Diagnostics: diag}, nil
}

func (s *Service) keywordSearch(ctx context.Context, query string, opts Options) (graphstore.Graph, error) {
	g, err := s.store.SearchNodes(ctx, query)
	if err != nil {
		return graphstore.Graph{}, err
	}
	return filterByEntityTypes(g, opts.EntityTypes), nil
}

func (s *Service) graphFromMatches(ctx context.Context, matches []vectorindex.Match, query string, opts Options, requested Type) (graphstore.Graph, error) {
	names := make([]string, 0, len(matches))
	scoreByName := make(map[string]float64, len(matches))
	for _, m := range matches {
		names = append(names, m.Name)
		scoreByName[m.Name] = m.Score
	}
	g, err := s.store.OpenNodes(ctx, names)
	if err != nil {
		return graphstore.Graph{}, err
	}

	if requested != Hybrid {
		return g, nil
	}

	// Hybrid linearly combines the vector score with a textual-match
	// score (resolving the source's two divergent hybrid
	// implementations in favor of linear combination, not re-ranking).
	lowerQuery := strings.ToLower(query)
	ranked := make([]model.Entity, len(g.Entities))
	copy(ranked, g.Entities)
	combined := make(map[string]float64, len(ranked))
	for _, e := range ranked {
		textScore := textualMatchScore(e, lowerQuery)
		combined[e.Name] = opts.SemanticWeight*scoreByName[e.Name] + (1-opts.SemanticWeight)*textScore
	}
	sortEntitiesByScore(ranked, combined)
	g.Entities = ranked
	return g, nil
}

func textualMatchScore(e model.Entity, lowerQuery string) float64 {
	if lowerQuery == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(e.Name), lowerQuery) {
		return 1
	}
	for _, o := range e.Observations {
		if strings.Contains(strings.ToLower(o), lowerQuery) {
			return 0.5
		}
	}
	return 0
}

func sortEntitiesByScore(entities []model.Entity, scores map[string]float64) {
	for i := 1; i < len(entities); i++ {
		for j := i; j > 0 && scores[entities[j-1].Name] < scores[entities[j].Name]; j-- {
			entities[j-1], entities[j] = entities[j], entities[j-1]
		}
	}
}
