package resilience

import (
	"context"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Guard applies one upstream's breaker, limiter and retry policy around a call
type Guard struct {
	Upstream string
	Limiter  *RateLimiter
	Breaker  *CircuitBreaker
	Policy   RetryPolicy
}

// GuardStatus is the observable state of one upstream's guard
type GuardStatus struct {
	Upstream string          `json:"upstream"`
	Breaker  BreakerSnapshot `json:"breaker"`
	Limiter  LimiterStats    `json:"limiter"`
}

// NewGuard creates a Guard
func NewGuard(upstream string, limiter *RateLimiter, breaker *CircuitBreaker, policy RetryPolicy) *Guard {
	return &Guard{Upstream: upstream, Limiter: limiter, Breaker: breaker, Policy: policy}
}

// Do runs call under the guard. Every attempt checks the breaker, then takes a rate
// permit, then claims a breaker permit; no network call happens without both.
func (g *Guard) Do(ctx context.Context, op string, call func(ctx context.Context) error) (RetryOutcome, error) {
	return Retry(ctx, g.Policy, func(ctx context.Context, attempt int) error {
		// Fail fast without spending a rate permit while the circuit is open.
		if g.Breaker.State() == StateOpen {
			return domain.NewUpstreamError(domain.KindCircuitOpen, g.Upstream, op, nil).
				WithContext("state", StateOpen)
		}
		if err := g.Limiter.Acquire(ctx); err != nil {
			return err
		}
		permit, err := g.Breaker.Allow()
		if err != nil {
			return err
		}

		err = call(ctx)
		if err != nil && ctx.Err() != nil {
			// The caller gave up; this says nothing about upstream health unless it was the probe.
			if g.Breaker.State() == StateHalfOpen {
				permit.Failure()
			} else {
				permit.Success()
			}
			return err
		}
		permit.Record(err)
		return err
	})
}

// Status returns breaker and limiter snapshots
func (g *Guard) Status() GuardStatus {
	return GuardStatus{
		Upstream: g.Upstream,
		Breaker:  g.Breaker.Snapshot(),
		Limiter:  g.Limiter.Stats(),
	}
}
