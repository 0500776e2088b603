package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/memory/internal/jobqueue"
	"eve.evalgo.org/memory/internal/model"
)

func clockAt(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestEnqueueIsIdempotentForPendingAndProcessing(t *testing.T) {
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))

	id1, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)
	assert.Empty(t, id2, "re-enqueueing a pending job is a no-op")
}

func TestEnqueueRequeuesFailedJob(t *testing.T) {
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))

	id, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 1)
	require.NoError(t, err)

	_, err = q.Lease(ctx, 1, "worker-a", time.Minute)
	require.NoError(t, err)
	err = q.Fail(ctx, id, "worker-a", jobqueue.FailureContext{ErrorCategory: model.ErrorTransient})
	require.NoError(t, err)

	status, _ := q.Status(ctx)
	assert.Equal(t, 1, status.Failed)

	requeuedID, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, id, requeuedID, "re-enqueue of a failed job flips it back to pending under the same id")

	status, _ = q.Status(ctx)
	assert.Equal(t, 1, status.Pending)
}

func TestStaleLeaseRecovery(t *testing.T) {
	// Scenario 2 from 
	ctx := context.Background()
	now := time.Unix(1000, 0)
	q := New(func() time.Time { return now })

	id, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)

	leased, err := q.Lease(ctx, 1, "worker-a", 60*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, 1, leased[0].Attempts)

	now = now.Add(61 * time.Second)
	recovered, err := q.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	leasedAgain, err := q.Lease(ctx, 1, "worker-b", 60*time.Second)
	require.NoError(t, err)
	require.Len(t, leasedAgain, 1)
	assert.Equal(t, id, leasedAgain[0].ID)
	assert.Equal(t, 2, leasedAgain[0].Attempts, "attempts must not be reset by recovery")
}

func TestExpiredLeaseIsLeasableWithoutRecovery(t *testing.T) {
	// Scenario 2 from  — an expired lock_until must make a job
	// leasable again on the very next Lease call, with no RecoverStale
	// call in between.
	ctx := context.Background()
	now := time.Unix(1000, 0)
	q := New(func() time.Time { return now })

	id, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)

	leased, err := q.Lease(ctx, 1, "worker-a", 60*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	now = now.Add(61 * time.Second)

	leasedAgain, err := q.Lease(ctx, 1, "worker-b", 60*time.Second)
	require.NoError(t, err)
	require.Len(t, leasedAgain, 1)
	assert.Equal(t, id, leasedAgain[0].ID)
	assert.Equal(t, 2, leasedAgain[0].Attempts)
}

func TestRateLimitRelease(t *testing.T) {
	// Scenario 3 from 
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := q.Enqueue(ctx, "entity", "m", "v"+string(rune('0'+i)), 0, 3)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	leased, err := q.Lease(ctx, 10, "worker-a", time.Minute)
	require.NoError(t, err)
	require.Len(t, leased, 10)

	var toComplete, toRelease []string
	for i, job := range leased {
		if i < 3 {
			toComplete = append(toComplete, job.ID)
		} else {
			toRelease = append(toRelease, job.ID)
		}
	}
	for _, id := range toComplete {
		require.NoError(t, q.Complete(ctx, id, "worker-a"))
	}
	released, err := q.Release(ctx, toRelease, "worker-a")
	require.NoError(t, err)
	assert.Equal(t, 7, released)

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Completed)
	assert.Equal(t, 7, status.Pending)
	assert.Equal(t, 0, status.Processing)
}

func TestRetryExhaustion(t *testing.T) {
	// Scenario 6 from 
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))

	id, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := q.Lease(ctx, 1, "worker-a", time.Minute)
		require.NoError(t, err)
		err = q.Fail(ctx, id, "worker-a", jobqueue.FailureContext{ErrorCategory: model.ErrorTransient})
		require.NoError(t, err)
	}

	status, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 0, status.Pending)

	leased, err := q.Lease(ctx, 10, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased, "a failed job must not be leasable")

	reset, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reset)

	status, _ = q.Status(ctx)
	assert.Equal(t, 1, status.Pending)
	assert.Equal(t, 0, status.Failed)
}

func TestLeaseWithZeroBatchSizeIsNoOp(t *testing.T) {
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))
	_, err := q.Enqueue(ctx, "Alice", "m", "v1", 0, 3)
	require.NoError(t, err)

	leased, err := q.Lease(ctx, 0, "worker-a", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, leased)

	status, _ := q.Status(ctx)
	assert.Equal(t, 1, status.Pending)
}

func TestCleanupRejectsOutOfRangeRetention(t *testing.T) {
	ctx := context.Background()
	q := New(clockAt(time.Unix(1000, 0)))

	_, err := q.Cleanup(ctx, 6)
	require.Error(t, err)
	var cfgErr *jobqueue.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = q.Cleanup(ctx, 31)
	require.Error(t, err)
}
