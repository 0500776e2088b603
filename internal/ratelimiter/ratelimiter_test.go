package ratelimiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTryConsumeExhaustsThenBlocks(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := newWithClock(3, time.Minute, clock)

	assert.True(t, l.TryConsume())
	assert.True(t, l.TryConsume())
	assert.True(t, l.TryConsume())
	assert.False(t, l.TryConsume(), "fourth consume should fail before refill")

	status := l.Status()
	assert.Equal(t, 0, status.Available)
	assert.Equal(t, 3, status.Max)
}

func TestCompleteRefillAtIntervalBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := newWithClock(2, time.Minute, clock)

	assert.True(t, l.TryConsume())
	assert.True(t, l.TryConsume())
	assert.False(t, l.TryConsume())

	now = now.Add(time.Minute)
	assert.True(t, l.TryConsume(), "token should be available after a full interval")
	status := l.Status()
	assert.Equal(t, 1, status.Available, "refill is complete, not partial: one token consumed leaves max-1")
}

func TestStatusResetInMsCountsDownToNextRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	l := newWithClock(1, 10*time.Second, clock)

	status := l.Status()
	assert.Equal(t, int64(10_000), status.ResetInMs)

	now = now.Add(4 * time.Second)
	status = l.Status()
	assert.Equal(t, int64(6_000), status.ResetInMs)
}
