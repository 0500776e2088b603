// Package ratelimiter implements the token bucket that gates
// EmbeddingWorker: a complete refill at the end of every
// interval, not golang.org/x/time/rate's gradual drip — so status()
// reports an honest "tokens available right now" figure a worker can act
// on without guessing at a refill curve.
package ratelimiter

import (
	"sync"
	"time"
)

// Status reports the bucket's current state.
type Status struct {
	Available int
	Max       int
	ResetInMs int64
}

// Limiter is a process-local token bucket. Not distributed: operators
// provision rates per process if a shared budget is needed.
type Limiter struct {
	mu                sync.Mutex
	tokensPerInterval int
	interval          time.Duration
	available         int
	nextRefill        time.Time
	now               func() time.Time
}

// Default matches : 20 tokens per 60s interval.
func Default() *Limiter {
	return New(20, 60*time.Second)
}

// New creates a Limiter refilling to tokensPerInterval at the end of
// every interval.
func New(tokensPerInterval int, interval time.Duration) *Limiter {
	return newWithClock(tokensPerInterval, interval, time.Now)
}

func newWithClock(tokensPerInterval int, interval time.Duration, now func() time.Time) *Limiter {
	return &Limiter{
		tokensPerInterval: tokensPerInterval,
		interval:          interval,
		available:         tokensPerInterval,
		nextRefill:        now().Add(interval),
		now:               now,
	}
}

func (l *Limiter) refillLocked() {
	now := l.now()
	if !now.Before(l.nextRefill) {
		l.available = l.tokensPerInterval
		// Re-anchor from now, not from the missed deadline, so a long gap
		// doesn't leave nextRefill perpetually in the past.
		l.nextRefill = now.Add(l.interval)
	}
}

// TryConsume attempts to take one token. Reports whether a token was
// available.
func (l *Limiter) TryConsume() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	if l.available <= 0 {
		return false
	}
	l.available--
	return true
}

// Status reports the bucket's current state.
func (l *Limiter) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked()
	resetIn := l.nextRefill.Sub(l.now())
	if resetIn < 0 {
		resetIn = 0
	}
	return Status{Available: l.available, Max: l.tokensPerInterval, ResetInMs: resetIn.Milliseconds()}
}
