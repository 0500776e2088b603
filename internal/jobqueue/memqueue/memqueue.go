// Package memqueue is an in-memory jobqueue.Queue test double, mirroring
// neo4jqueue's state machine without a database round-trip.
package memqueue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eve.evalgo.org/memory/internal/jobqueue"
	"eve.evalgo.org/memory/internal/model"
)

type key struct {
	entityUID string
	model     string
	version   string
}

// Queue implements jobqueue.Queue in memory.
type Queue struct {
	mu   sync.Mutex
	jobs map[string]*model.EmbedJob
	keys map[key]string
	now  func() time.Time
}

// New creates an empty Queue using clock for all time-dependent decisions.
func New(clock func() time.Time) *Queue {
	return &Queue{jobs: make(map[string]*model.EmbedJob), keys: make(map[key]string), now: clock}
}

var _ jobqueue.Queue = (*Queue)(nil)

// Enqueue implements jobqueue.Queue.
func (q *Queue) Enqueue(_ context.Context, entityUID, modelName, version string, priority, maxAttempts int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := key{entityUID, modelName, version}
	if id, ok := q.keys[k]; ok {
		job := q.jobs[id]
		if job.Status == model.JobFailed {
			job.Status = model.JobPending
			job.LockOwner = ""
			job.LockUntil = nil
			return id, nil
		}
		return "", nil
	}

	id := uuid.NewString()
	now := q.now()
	job := &model.EmbedJob{
		ID: id, EntityUID: entityUID, Model: modelName, EntityVersion: version,
		Status: model.JobPending, Priority: priority, CreatedAt: now,
		Attempts: 0, MaxAttempts: maxAttempts,
	}
	q.jobs[id] = job
	q.keys[k] = id
	return id, nil
}

// Lease implements jobqueue.Queue.
func (q *Queue) Lease(_ context.Context, batchSize int, workerID string, lockDuration time.Duration) ([]model.EmbedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var candidates []*model.EmbedJob
	for _, job := range q.jobs {
		expiredLease := job.Status == model.JobProcessing && job.LockUntil != nil && job.LockUntil.Before(now)
		if job.Status != model.JobPending && !expiredLease {
			continue
		}
		candidates = append(candidates, job)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var leased []model.EmbedJob
	for _, job := range candidates {
		if len(leased) >= batchSize {
			break
		}
		job.Status = model.JobProcessing
		job.LockOwner = workerID
		until := now.Add(lockDuration)
		job.LockUntil = &until
		job.Attempts++
		leased = append(leased, *job)
	}
	return leased, nil
}

// Heartbeat implements jobqueue.Queue.
func (q *Queue) Heartbeat(_ context.Context, jobIDs []string, workerID string, lockDuration time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	count := 0
	for _, id := range jobIDs {
		job, ok := q.jobs[id]
		if !ok || job.Status != model.JobProcessing || job.LockOwner != workerID {
			continue
		}
		until := now.Add(lockDuration)
		job.LockUntil = &until
		count++
	}
	return count, nil
}

// Release implements jobqueue.Queue.
func (q *Queue) Release(_ context.Context, jobIDs []string, workerID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, id := range jobIDs {
		job, ok := q.jobs[id]
		if !ok || job.LockOwner != workerID {
			continue
		}
		job.Status = model.JobPending
		job.LockOwner = ""
		job.LockUntil = nil
		count++
	}
	return count, nil
}

// RecoverStale implements jobqueue.Queue.
func (q *Queue) RecoverStale(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	count := 0
	for _, job := range q.jobs {
		if job.Status != model.JobProcessing || job.LockUntil == nil || !job.LockUntil.Before(now) {
			continue
		}
		job.Status = model.JobPending
		job.LockOwner = ""
		job.LockUntil = nil
		count++
	}
	return count, nil
}

// Complete implements jobqueue.Queue.
func (q *Queue) Complete(_ context.Context, jobID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.LockOwner != workerID {
		return nil
	}
	now := q.now()
	job.Status = model.JobCompleted
	job.ProcessedAt = &now
	job.LockOwner = ""
	job.LockUntil = nil
	return nil
}

// Fail implements jobqueue.Queue.
func (q *Queue) Fail(_ context.Context, jobID, workerID string, failure jobqueue.FailureContext) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.LockOwner != workerID {
		return nil
	}
	now := q.now()
	job.Error = failure.Error
	job.ErrorCategory = failure.ErrorCategory
	job.ErrorStack = failure.ErrorStack
	job.LockOwner = ""
	job.LockUntil = nil

	if job.Attempts >= job.MaxAttempts || failure.ErrorCategory == model.ErrorPermanent || failure.ErrorCategory == model.ErrorCritical {
		job.Status = model.JobFailed
		job.Permanent = true
		job.ProcessedAt = &now
		return nil
	}
	job.Status = model.JobPending
	return nil
}

// RetryFailed implements jobqueue.Queue.
func (q *Queue) RetryFailed(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, job := range q.jobs {
		if job.Status != model.JobFailed {
			continue
		}
		job.Status = model.JobPending
		job.Attempts = 0
		job.Error = ""
		job.ErrorCategory = ""
		job.ErrorStack = ""
		job.Permanent = false
		count++
	}
	return count, nil
}

// Cleanup implements jobqueue.Queue.
func (q *Queue) Cleanup(_ context.Context, retentionDays int) (int, error) {
	if err := jobqueue.ValidateRetentionDays(retentionDays); err != nil {
		return 0, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	count := 0
	for id, job := range q.jobs {
		if job.Status != model.JobCompleted && job.Status != model.JobFailed {
			continue
		}
		if job.ProcessedAt == nil || !job.ProcessedAt.Before(cutoff) {
			continue
		}
		delete(q.jobs, id)
		for k, v := range q.keys {
			if v == id {
				delete(q.keys, k)
			}
		}
		count++
	}
	return count, nil
}

// Status implements jobqueue.Queue.
func (q *Queue) Status(_ context.Context) (jobqueue.Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s jobqueue.Status
	for _, job := range q.jobs {
		s.Total++
		switch job.Status {
		case model.JobPending:
			s.Pending++
		case model.JobProcessing:
			s.Processing++
		case model.JobCompleted:
			s.Completed++
		case model.JobFailed:
			s.Failed++
		}
	}
	return s, nil
}
