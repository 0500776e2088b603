// Command memoryd runs the knowledge-graph memory service: the graph
// store, job queue, vector index, embedding worker, and health endpoint,
// wired up and served from a single process. Startup wiring follows
// http/runner.go's config-then-serve-then-wait-for-signal shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memory/internal/config"
	"eve.evalgo.org/memory/internal/embedding"
	"eve.evalgo.org/memory/internal/embedding/openaiembed"
	"eve.evalgo.org/memory/internal/graphstore/neo4jstore"
	"eve.evalgo.org/memory/internal/healthserver"
	"eve.evalgo.org/memory/internal/jobqueue/neo4jqueue"
	"eve.evalgo.org/memory/internal/mcpserver"
	"eve.evalgo.org/memory/internal/obslog"
	"eve.evalgo.org/memory/internal/ratelimiter"
	"eve.evalgo.org/memory/internal/schema"
	"eve.evalgo.org/memory/internal/search"
	"eve.evalgo.org/memory/internal/vectorindex"
	"eve.evalgo.org/memory/internal/vectorindex/neo4jvector"
	"eve.evalgo.org/memory/internal/worker"
)

func main() {
	logger := obslog.New(obslog.DefaultConfig("memoryd"))

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("memoryd exited with error")
	}
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("memoryd: configuration: %w", err)
	}

	ctx := context.Background()

	store, err := neo4jstore.New(cfg.StoreURI, cfg.StoreUsername, cfg.StorePassword, cfg.GraphDBName, logger)
	if err != nil {
		return fmt.Errorf("memoryd: connecting to graph database: %w", err)
	}
	defer store.Close(ctx)

	if err := schema.EnsureJobDatabase(ctx, store.Driver(), cfg.JobDBName); err != nil {
		return fmt.Errorf("memoryd: ensuring job database: %w", err)
	}
	if err := schema.NewGraphBootstrapper(store.Driver(), store.Database()).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("memoryd: bootstrapping graph schema: %w", err)
	}

	queue, err := neo4jqueue.New(cfg.JobDBURI, cfg.JobDBUsername, cfg.JobDBPassword, cfg.JobDBName)
	if err != nil {
		return fmt.Errorf("memoryd: connecting to job database: %w", err)
	}
	defer queue.Close(ctx)
	if err := queue.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("memoryd: bootstrapping job schema: %w", err)
	}

	similarity := vectorindex.Cosine
	if cfg.Similarity == config.SimilarityEuclidean {
		similarity = vectorindex.Euclidean
	}
	vectorCfg := vectorindex.Config{IndexName: cfg.VectorIndexName, Dimensions: cfg.VectorDimension, Similarity: similarity}
	index := neo4jvector.New(store.Driver(), store.Database(), vectorCfg)
	if err := index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("memoryd: ensuring vector index: %w", err)
	}

	var embedder embedding.Provider
	if cfg.EmbeddingProviderAPIKey != "" {
		embedder = openaiembed.New(cfg.EmbeddingProviderAPIKey, cfg.EmbeddingModel)
	}

	cache, err := embedding.NewCache(10000, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("memoryd: building embedding cache: %w", err)
	}

	limiter := ratelimiter.New(cfg.EmbeddingRateLimitTokens, time.Duration(cfg.EmbeddingRateLimitIntervalMs)*time.Millisecond)

	searchService := search.New(store, index, embedder)

	workerCfg := worker.Config{
		WorkerID:          fmt.Sprintf("memoryd-%d", os.Getpid()),
		BatchSize:         10,
		LockDuration:      time.Duration(cfg.EmbedJobLockDurationMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.EmbedJobHeartbeatIntervalMs) * time.Millisecond,
		ProcessInterval:   10 * time.Second,
		RecoveryInterval:  time.Duration(cfg.EmbedJobRecoveryIntervalMs) * time.Millisecond,
	}
	embeddingWorker := worker.New(workerCfg, queue, store, index, embedder, cache, limiter, logger)
	embeddingWorker.Start(ctx)
	defer embeddingWorker.Stop()

	health := healthserver.New(embeddingWorker, cfg.HealthPort)
	go func() {
		if err := health.Start(); err != nil {
			logger.WithError(err).Warn("health server stopped")
		}
	}()
	defer health.Shutdown()

	enqueuePolicy := mcpserver.EnqueuePolicy{Model: cfg.EmbeddingModel, Priority: 0, MaxAttempts: cfg.EmbedJobMaxRetries}
	knowledgeGraph := mcpserver.New(store, index, searchService, queue, enqueuePolicy)
	transport := mcpserver.NewTransport(knowledgeGraph, os.Stdin, os.Stdout)

	rpcCtx, cancelRPC := context.WithCancel(ctx)
	rpcDone := make(chan error, 1)
	go func() { rpcDone <- transport.Serve(rpcCtx) }()

	logger.Info("memoryd started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-rpcDone:
		if err != nil {
			logger.WithError(err).Warn("mcp transport stopped")
		}
	}
	cancelRPC()

	logger.Info("memoryd shutting down")
	return nil
}
