package unireq

import (
	"sync/atomic"
	"time"
)

// RetryBudget caps the number of retries across all calls sharing it within a
// fixed window. It is safe for concurrent use.
type RetryBudget struct {
	max         int64
	perWindow   time.Duration
	current     atomic.Int64
	windowStart atomic.Int64
}

// NewRetryBudget creates a new retry budget tracker.
func NewRetryBudget(maxRetries int, perWindow time.Duration) *RetryBudget {
	if perWindow <= 0 {
		perWindow = time.Minute
	}
	rb := &RetryBudget{max: int64(maxRetries), perWindow: perWindow}
	rb.windowStart.Store(time.Now().UnixNano())
	return rb
}

// Allow consumes one retry if the budget has room.
func (rb *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	windowStart := rb.windowStart.Load()

	if now-windowStart >= int64(rb.perWindow) {
		if rb.windowStart.CompareAndSwap(windowStart, now) {
			rb.current.Store(0)
		}
	}

	if rb.current.Load() >= rb.max {
		return false
	}
	return rb.current.Add(1) <= rb.max
}

// Stats returns current retry budget statistics.
func (rb *RetryBudget) Stats() (current, max int64, windowStart time.Time) {
	return rb.current.Load(), rb.max, time.Unix(0, rb.windowStart.Load())
}
