// Package worker implements the embedding worker: drains a job queue,
// calls an embedding.Provider, and persists vectors via
// graphstore.Store/vectorindex.Index. Grounded on worker/pool.go's
// Pool/Worker shape — a stopChan-based shutdown loop — generalized from
// a generic multi-queue pool to a single-queue, heartbeat-ticking,
// rate-limited loop.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/memory/internal/embedding"
	"eve.evalgo.org/memory/internal/embedding/openaiembed"
	"eve.evalgo.org/memory/internal/graphstore"
	"eve.evalgo.org/memory/internal/jobqueue"
	"eve.evalgo.org/memory/internal/model"
	"eve.evalgo.org/memory/internal/obslog"
	"eve.evalgo.org/memory/internal/ratelimiter"
	"eve.evalgo.org/memory/internal/vectorindex"
)

// Config parameterizes the embedding worker.
type Config struct {
	WorkerID          string
	BatchSize         int
	LockDuration      time.Duration
	HeartbeatInterval time.Duration
	ProcessInterval   time.Duration
	RecoveryInterval  time.Duration // 0 disables periodic recovery.
}

// DefaultConfig applies the standard defaults: 300s lock, heartbeat =
// lockDuration/2.5, 10s process interval, 60s recovery interval.
func DefaultConfig(workerID string) Config {
	lockDuration := 300 * time.Second
	return Config{
		WorkerID:          workerID,
		BatchSize:         10,
		LockDuration:      lockDuration,
		HeartbeatInterval: time.Duration(float64(lockDuration) / 2.5),
		ProcessInterval:   10 * time.Second,
		RecoveryInterval:  60 * time.Second,
	}
}

// Worker drains jobqueue.Queue, generates embeddings, and persists them.
type Worker struct {
	cfg      Config
	queue    jobqueue.Queue
	store    graphstore.Store
	index    vectorindex.Index
	embedder embedding.Provider
	cache    *embedding.Cache
	limiter  *ratelimiter.Limiter
	logger   *logrus.Logger
	health   *healthTracker
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a Worker. cache and limiter are required collaborators;
// logger defaults to obslog.New(obslog.DefaultConfig("embedding-worker"))
// if nil.
func New(cfg Config, queue jobqueue.Queue, store graphstore.Store, index vectorindex.Index, embedder embedding.Provider, cache *embedding.Cache, limiter *ratelimiter.Limiter, logger *logrus.Logger) *Worker {
	if logger == nil {
		logger = obslog.New(obslog.DefaultConfig("embedding-worker"))
	}
	return &Worker{
		cfg: cfg, queue: queue, store: store, index: index, embedder: embedder,
		cache: cache, limiter: limiter, logger: logger,
		health: newHealthTracker(time.Now), now: time.Now,
		stopChan: make(chan struct{}),
	}
}

// Health reports the worker's current health classification.
func (w *Worker) Health() HealthSnapshot { return w.health.snapshot() }

// Start runs RecoverStale once synchronously, then launches the main
// processing loop and (if enabled) the periodic recovery loop as
// background goroutines.
func (w *Worker) Start(ctx context.Context) {
	if _, err := w.queue.RecoverStale(ctx); err != nil {
		w.logger.WithError(err).Warn("initial stale-lease recovery failed")
	}

	w.wg.Add(1)
	go w.runProcessLoop(ctx)

	if w.cfg.RecoveryInterval > 0 {
		w.wg.Add(1)
		go w.runRecoveryLoop(ctx)
	}
}

// Stop signals both loops to exit and waits for them to finish their
// current stage ("completes the in-flight job's current
// stage, then exits").
func (w *Worker) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *Worker) runProcessLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processBatch(ctx)
		}
	}
}

func (w *Worker) runRecoveryLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.RecoverStale(ctx); err != nil {
				w.logger.WithError(err).Warn("periodic stale-lease recovery failed")
			}
		}
	}
}

// processBatch leases a batch of pending jobs and processes each one.
func (w *Worker) processBatch(ctx context.Context) {
	leased, err := w.queue.Lease(ctx, w.cfg.BatchSize, w.cfg.WorkerID, w.cfg.LockDuration)
	if err != nil {
		w.logger.WithError(err).Error("lease failed")
		return
	}
	if len(leased) == 0 {
		return
	}

	active := make([]string, len(leased))
	for i, j := range leased {
		active[i] = j.ID
	}
	heartbeatStop := make(chan struct{})
	var heartbeatWg sync.WaitGroup
	heartbeatWg.Add(1)
	go w.runHeartbeat(ctx, active, heartbeatStop, &heartbeatWg)
	defer func() {
		close(heartbeatStop)
		heartbeatWg.Wait()
	}()

	for i, job := range leased {
		if !w.limiter.TryConsume() {
			remaining := idsFrom(leased[i:])
			if _, err := w.queue.Release(ctx, remaining, w.cfg.WorkerID); err != nil {
				w.logger.WithError(err).Error("release on rate limit failed")
			}
			return
		}
		w.processOne(ctx, job)
	}
}

func idsFrom(jobs []model.EmbedJob) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func (w *Worker) runHeartbeat(ctx context.Context, jobIDs []string, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.queue.Heartbeat(ctx, jobIDs, w.cfg.WorkerID, w.cfg.LockDuration); err != nil {
				w.logger.WithError(err).Warn("heartbeat failed")
			}
		}
	}
}

func (w *Worker) processOne(ctx context.Context, job model.EmbedJob) {
	entity, err := w.store.GetEntity(ctx, job.EntityUID)
	if err != nil || entity == nil {
		w.failJob(ctx, job, "entity has no current version", model.ErrorPermanent)
		return
	}

	text := embedding.CanonicalText(entity.Name, entity.EntityType, entity.Observations)
	cacheKey := embedding.CacheKey(text)

	vector, ok := w.cache.Get(cacheKey)
	if !ok {
		generated, err := w.embedder.Generate(ctx, text)
		if err != nil {
			w.failJob(ctx, job, err.Error(), classifyError(err))
			return
		}
		vector = generated
		w.cache.Put(cacheKey, vector)
	}

	now := w.now()
	if err := w.index.Upsert(ctx, entity.Name, vector, job.Model, now); err != nil {
		w.failJob(ctx, job, err.Error(), model.ErrorTransient)
		return
	}

	if err := w.queue.Complete(ctx, job.ID, w.cfg.WorkerID); err != nil {
		w.logger.WithError(err).Error("complete failed")
		return
	}
	w.health.recordSuccess()
}

func (w *Worker) failJob(ctx context.Context, job model.EmbedJob, message string, category model.ErrorCategory) {
	w.health.recordFailure(category)
	w.logger.WithFields(obslog.JobFields(job.ID, job.EntityUID, string(category), job.Attempts, job.MaxAttempts, w.cfg.WorkerID, w.limiter.Status().Available)).
		Error(message)
	if err := w.queue.Fail(ctx, job.ID, w.cfg.WorkerID, jobqueue.FailureContext{Error: message, ErrorCategory: category}); err != nil {
		w.logger.WithError(err).Error("fail failed")
	}
}

// classifyError maps a provider error to a category:
// openaiembed.AuthError is PERMANENT, openaiembed.RateLimitedError and
// errors reporting Timeout() are TRANSIENT, and anything unrecognized
// gets the conservative default, PERMANENT, so it is never retried
// forever.
func classifyError(err error) model.ErrorCategory {
	if err == nil {
		return model.ErrorPermanent
	}
	var authErr *openaiembed.AuthError
	var rateLimitErr *openaiembed.RateLimitedError
	switch {
	case asError(err, &authErr):
		return model.ErrorPermanent
	case asError(err, &rateLimitErr):
		return model.ErrorTransient
	}
	if ctxErr, ok := err.(interface{ Timeout() bool }); ok && ctxErr.Timeout() {
		return model.ErrorTransient
	}
	return model.ErrorPermanent
}

func asError[T error](err error, target *T) bool {
	if e, ok := err.(T); ok {
		*target = e
		return true
	}
	return false
}
