// Package jobqueue defines the durable EmbedJob queue contract:
// lease-based locking, heartbeat extension, stale-lease recovery, retry,
// and retention cleanup, persisted in a database isolated from the graph
// database it indexes. Grounded on queue/redis/queue.go's Job lifecycle
// naming (MarkProcessing/CompleteJob/FailJob), adapted from a Redis
// list+sorted-set to transactional rows in a second property-graph
// database.
package jobqueue

import (
	"context"
	"fmt"
	"time"

	"eve.evalgo.org/memory/internal/model"
)

// Status summarizes queue depth by state QueueStatus.
type Status struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Total      int
}

// Queue is the public contract a durable EmbedJob backend must satisfy.
type Queue interface {
	// Enqueue upserts a job keyed by (entityUID, model, version). Returns
	// the job id, or "" if the call was a no-op (an existing
	// pending/processing/completed job already covers this key).
	Enqueue(ctx context.Context, entityUID, modelName, version string, priority, maxAttempts int) (string, error)

	// Lease atomically claims up to batchSize pending (or stale) jobs for
	// workerID, ordered by priority DESC, createdAt ASC.
	Lease(ctx context.Context, batchSize int, workerID string, lockDuration time.Duration) ([]model.EmbedJob, error)

	// Heartbeat extends the lock on jobIDs still owned by workerID and
	// still processing. Returns the number of rows actually extended.
	Heartbeat(ctx context.Context, jobIDs []string, workerID string, lockDuration time.Duration) (int, error)

	// Release returns jobIDs owned by workerID to pending, clearing lock
	// fields, without touching attempts. Returns the number of rows
	// actually released.
	Release(ctx context.Context, jobIDs []string, workerID string) (int, error)

	// RecoverStale returns processing jobs whose lock has expired to
	// pending, without resetting attempts. Returns the number recovered.
	RecoverStale(ctx context.Context) (int, error)

	// Complete marks jobID (owned by workerID) completed.
	Complete(ctx context.Context, jobID, workerID string) error

	// Fail records a failure for jobID (owned by workerID). The job
	// becomes failed at once for a PERMANENT or CRITICAL category, or
	// when attempts has reached maxAttempts; otherwise it is pending for
	// retry.
	Fail(ctx context.Context, jobID, workerID string, failure FailureContext) error

	// RetryFailed bulk-resets failed rows to pending, zeroing attempts
	// and clearing error fields. Returns the number reset.
	RetryFailed(ctx context.Context) (int, error)

	// Cleanup deletes completed/failed rows older than retentionDays.
	// Returns the number deleted.
	Cleanup(ctx context.Context, retentionDays int) (int, error)

	// Status reports current queue depth by state.
	Status(ctx context.Context) (Status, error)
}

// FailureContext is what Fail records against a job.
type FailureContext struct {
	Error         string
	ErrorCategory model.ErrorCategory
	ErrorStack    string
}

// ConfigError indicates a JobQueue configuration value failed startup
// validation ("out-of-range is a startup failure").
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("jobqueue: invalid configuration for %s: %s", e.Field, e.Detail)
}

// ValidateRetentionDays enforces the [7, 30] retention-day bound.
func ValidateRetentionDays(days int) error {
	if days < 7 || days > 30 {
		return &ConfigError{Field: "EMBED_JOB_RETENTION_DAYS", Detail: fmt.Sprintf("must be in [7, 30], got %d", days)}
	}
	return nil
}
