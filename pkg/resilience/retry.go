package resilience

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
)

// RetryPolicy configures retry behavior with exponential backoff.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the computed wait. An upstream Retry-After may exceed it.
	MaxBackoff time.Duration
	// Multiplier grows the backoff between retries. Must be at least 1.
	Multiplier float64
	// Jitter adds up to this fraction of the backoff, in [0,1).
	Jitter float64
}

// DefaultRetryPolicy returns the defaults used by both gateways
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
	}
}

// RetryOutcome records what a Retry call did
type RetryOutcome struct {
	Attempts      int
	Delays        []time.Duration
	TotalDuration time.Duration
	LastError     error
}

// RetryableFunc is one attempt. attempt starts at 1.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry runs fn until it succeeds, returns a non-retryable error, runs out of attempts,
// or the next wait would overrun the context deadline. Retryability comes from the
// error kind; circuit-open and authentication failures are never retried.
func Retry(ctx context.Context, policy RetryPolicy, fn RetryableFunc) (RetryOutcome, error) {
	start := time.Now()
	out := RetryOutcome{}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 1
	}
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if out.LastError == nil {
				out.LastError = err
			}
			break
		}

		out.Attempts = attempt
		err := fn(ctx, attempt)
		if err == nil {
			out.LastError = nil
			out.TotalDuration = time.Since(start)
			return out, nil
		}
		out.LastError = err

		if !domain.IsRetryable(err) || attempt == policy.MaxAttempts {
			break
		}

		wait := backoffWithJitter(backoff, policy.Jitter, policy.MaxBackoff)
		if ra := domain.RetryAfterOf(err); ra > wait {
			wait = ra
		}
		if deadline, ok := ctx.Deadline(); ok && time.Now().Add(wait).After(deadline) {
			break
		}

		out.Delays = append(out.Delays, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			out.TotalDuration = time.Since(start)
			return out, out.LastError
		case <-timer.C:
		}

		backoff = nextBackoff(backoff, policy.Multiplier, policy.MaxBackoff)
	}

	out.TotalDuration = time.Since(start)
	if upErr, ok := out.LastError.(*domain.UpstreamError); ok {
		upErr.Attempts = out.Attempts
	}
	return out, out.LastError
}

// backoffWithJitter adds a random fraction in [0, jitter) of base, capped at max.
// With multiplier 2 and jitter below 1 successive waits strictly increase until the cap.
func backoffWithJitter(base time.Duration, jitter float64, max time.Duration) time.Duration {
	d := base
	if jitter > 0 {
		d = time.Duration(float64(base) * (1 + rand.Float64()*jitter))
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

func nextBackoff(current time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if max > 0 && next > max {
		return max
	}
	return next
}

// ParseRetryAfter parses a Retry-After header in seconds or HTTP-date form.
// Missing, malformed or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
