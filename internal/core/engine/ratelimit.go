package engine

import "sync/atomic"

// AggregateLimiter enforces the pool-wide requests-per-minute ceiling.
//
// It is only a counter: the window is closed by calling Reset from the
// maintenance scheduler, not by the limiter itself.
type AggregateLimiter struct {
	limit   int64
	current atomic.Int64
}

// NewAggregateLimiter returns a limiter that admits up to limit reservations per window.
func NewAggregateLimiter(limit int64) *AggregateLimiter {
	if limit < 0 {
		limit = 0
	}
	return &AggregateLimiter{limit: limit}
}

// TryReserve takes one slot if the counter is below the limit.
// Concurrent callers never overshoot: exactly one wins the last slot.
func (l *AggregateLimiter) TryReserve() bool {
	if l == nil {
		return true
	}
	for {
		current := l.current.Load()
		if current >= l.limit {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

// Reset zeroes the counter and opens a new window.
func (l *AggregateLimiter) Reset() {
	if l == nil {
		return
	}
	l.current.Store(0)
}

// Current returns the reservations taken in the current window.
func (l *AggregateLimiter) Current() int64 {
	if l == nil {
		return 0
	}
	return l.current.Load()
}

// Limit returns the configured ceiling.
func (l *AggregateLimiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return l.limit
}
