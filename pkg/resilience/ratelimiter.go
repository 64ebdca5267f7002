// Package resilience provides the per-upstream guards applied before every outbound call:
// a rolling-window rate limiter, a circuit breaker and retry with exponential backoff.
package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
)

// DeadlineError is the cause of a rate-limit rejection: waiting for the next permit
// would overrun the caller's deadline.
type DeadlineError struct {
	Upstream        string
	WouldBlockUntil time.Time
}

// Error implements the error interface
func (e *DeadlineError) Error() string {
	return fmt.Sprintf("%s: next permit at %s is past the caller deadline", e.Upstream, e.WouldBlockUntil.Format(time.RFC3339Nano))
}

// LimiterStats reports limiter activity since creation
type LimiterStats struct {
	Upstream string        `json:"upstream"`
	Limit    int           `json:"limit"`
	Window   time.Duration `json:"window_ns"`
	Granted  int64         `json:"granted"`
	Waited   int64         `json:"waited"`
	Rejected int64         `json:"rejected"`
	InWindow int           `json:"in_window"`
}

// RateLimiter grants at most limit permits in any rolling window.
// Each permit reserves a slot no earlier than window after the permit limit slots before it,
// so capacity frees continuously as old permits age out and waiting callers are served FIFO.
type RateLimiter struct {
	upstream string
	limit    int
	window   time.Duration
	now      func() time.Time
	onWait   func(upstream string, wait time.Duration)

	mu     sync.Mutex
	slots  []time.Time
	head   int
	filled int
	stats  LimiterStats
}

// LimiterOption customizes a RateLimiter
type LimiterOption func(*RateLimiter)

// WithClock replaces time.Now
func WithClock(now func() time.Time) LimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// WithWaitHook is called whenever a caller has to wait for a permit
func WithWaitHook(fn func(upstream string, wait time.Duration)) LimiterOption {
	return func(l *RateLimiter) {
		l.onWait = fn
	}
}

// NewRateLimiter creates a limiter allowing limit calls per window
func NewRateLimiter(upstream string, limit int, window time.Duration, opts ...LimiterOption) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	l := &RateLimiter{
		upstream: upstream,
		limit:    limit,
		window:   window,
		now:      time.Now,
		slots:    make([]time.Time, limit),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// reserve books the next slot, or reports the slot time without booking it when
// it falls after the deadline.
func (l *RateLimiter) reserve(deadline time.Time, hasDeadline bool) (time.Time, time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	at := now
	if l.filled == l.limit {
		if next := l.slots[l.head].Add(l.window); next.After(now) {
			at = next
		}
	}
	if hasDeadline && deadline.Before(at) {
		l.stats.Rejected++
		return now, at, false
	}

	if l.filled < l.limit {
		l.slots[(l.head+l.filled)%l.limit] = at
		l.filled++
	} else {
		l.slots[l.head] = at
		l.head = (l.head + 1) % l.limit
	}
	l.stats.Granted++
	if at.After(now) {
		l.stats.Waited++
	}
	return now, at, true
}

// Acquire obtains a permit, blocking until one is available. If the permit would only be
// available after the context deadline it fails immediately with RATE_LIMIT_EXCEEDED
// carrying the time the caller would have been served.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	now, at, ok := l.reserve(deadline, hasDeadline)
	if !ok {
		upErr := domain.NewUpstreamError(domain.KindRateLimit, l.upstream, "acquire",
			&DeadlineError{Upstream: l.upstream, WouldBlockUntil: at})
		upErr.RetryAfter = at.Sub(now)
		return upErr
	}

	wait := at.Sub(now)
	if wait <= 0 {
		return nil
	}
	if l.onWait != nil {
		l.onWait(l.upstream, wait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// The reserved slot stays booked; the limiter only errs on the side of fewer calls.
		return ctx.Err()
	}
}

// WouldBlockUntil reports when the next permit would be granted without reserving it
func (l *RateLimiter) WouldBlockUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.filled < l.limit {
		return now
	}
	if next := l.slots[l.head].Add(l.window); next.After(now) {
		return next
	}
	return now
}

// Stats returns a snapshot of limiter activity
func (l *RateLimiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stats
	s.Upstream = l.upstream
	s.Limit = l.limit
	s.Window = l.window
	cutoff := l.now().Add(-l.window)
	for i := 0; i < l.filled; i++ {
		if l.slots[(l.head+i)%l.limit].After(cutoff) {
			s.InWindow++
		}
	}
	return s
}
