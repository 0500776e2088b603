package worker

import (
	"sync"
	"time"

	"eve.evalgo.org/memory/internal/model"
)

// State is the worker's exported health classification
type State string

const (
	Healthy  State = "HEALTHY"
	Degraded State = "DEGRADED"
	Critical State = "CRITICAL"
)

const rollingWindowSize = 100

// HealthSnapshot is the observable worker health state, backing the
// /health endpoint.
type HealthSnapshot struct {
	State               State
	ConsecutiveFailures int
	SuccessRate         float64
	ErrorPatterns       map[model.ErrorCategory]int
	LastSuccessTimestamp *time.Time
}

// healthTracker maintains a rolling outcome window: consecutive
// failures, a 100-outcome success rate, and an error-category
// histogram.
type healthTracker struct {
	mu                  sync.Mutex
	outcomes            []bool // true = success; ring buffer, oldest overwritten
	consecutiveFailures int
	errorCounts         map[model.ErrorCategory]int
	lastSuccess         *time.Time
	now                 func() time.Time
}

func newHealthTracker(now func() time.Time) *healthTracker {
	return &healthTracker{errorCounts: make(map[model.ErrorCategory]int), now: now}
}

func (h *healthTracker) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(true)
	h.consecutiveFailures = 0
	now := h.now()
	h.lastSuccess = &now
}

func (h *healthTracker) recordFailure(category model.ErrorCategory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.push(false)
	h.consecutiveFailures++
	h.errorCounts[category]++
}

func (h *healthTracker) push(success bool) {
	h.outcomes = append(h.outcomes, success)
	if len(h.outcomes) > rollingWindowSize {
		h.outcomes = h.outcomes[len(h.outcomes)-rollingWindowSize:]
	}
}

func (h *healthTracker) successRate() float64 {
	if len(h.outcomes) == 0 {
		return 1
	}
	successes := 0
	for _, ok := range h.outcomes {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(h.outcomes))
}

func (h *healthTracker) snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	rate := h.successRate()
	state := Healthy
	if h.consecutiveFailures >= 10 {
		state = Critical
	} else if h.consecutiveFailures >= 5 || rate < 0.5 {
		state = Degraded
	}

	errors := make(map[model.ErrorCategory]int, len(h.errorCounts))
	for k, v := range h.errorCounts {
		errors[k] = v
	}

	return HealthSnapshot{
		State:                state,
		ConsecutiveFailures:  h.consecutiveFailures,
		SuccessRate:          rate,
		ErrorPatterns:        errors,
		LastSuccessTimestamp: h.lastSuccess,
	}
}
