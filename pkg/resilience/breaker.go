package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Circuit states as reported in snapshots
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// BreakerSettings configures one upstream's breaker
type BreakerSettings struct {
	Upstream         string
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// BreakerSnapshot is the observable circuit state of one upstream
type BreakerSnapshot struct {
	Upstream            string        `json:"upstream"`
	State               string        `json:"state"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	LastFailure         *time.Time    `json:"last_failure,omitempty"`
	FailureThreshold    int           `json:"failure_threshold"`
	RecoveryTimeout     time.Duration `json:"recovery_timeout_ns"`
}

// CircuitBreaker opens after FailureThreshold consecutive failures, short-circuits every call
// for RecoveryTimeout, then lets exactly one probe through.
type CircuitBreaker struct {
	settings      BreakerSettings
	cb            *gobreaker.TwoStepCircuitBreaker
	logger        *logrus.Logger
	onStateChange func(upstream, from, to string)

	mu          sync.Mutex
	lastFailure time.Time
}

// BreakerOption customizes a CircuitBreaker
type BreakerOption func(*CircuitBreaker)

// WithStateChangeHook is called on every transition with snapshot state names
func WithStateChangeHook(fn func(upstream, from, to string)) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onStateChange = fn
	}
}

// NewCircuitBreaker creates a breaker for one upstream
func NewCircuitBreaker(settings BreakerSettings, logger *logrus.Logger, opts ...BreakerOption) *CircuitBreaker {
	if settings.FailureThreshold < 1 {
		settings.FailureThreshold = 5
	}
	if settings.RecoveryTimeout <= 0 {
		settings.RecoveryTimeout = 60 * time.Second
	}
	b := &CircuitBreaker{settings: settings, logger: logger}
	for _, opt := range opts {
		opt(b)
	}

	threshold := uint32(settings.FailureThreshold)
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        settings.Upstream,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     settings.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.WithFields(logrus.Fields{
				"upstream": name,
				"from":     stateName(from),
				"to":       stateName(to),
			}).Warn("Circuit breaker state changed")
			if b.onStateChange != nil {
				b.onStateChange(name, stateName(from), stateName(to))
			}
		},
	})
	return b
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Permit is an admitted call. Exactly one of Success, Failure or Record must be called.
type Permit struct {
	breaker *CircuitBreaker
	done    func(success bool)
	once    sync.Once
}

// Success records a healthy outcome
func (p *Permit) Success() {
	p.once.Do(func() { p.done(true) })
}

// Failure records an unhealthy outcome
func (p *Permit) Failure() {
	p.once.Do(func() {
		p.breaker.mu.Lock()
		p.breaker.lastFailure = time.Now()
		p.breaker.mu.Unlock()
		p.done(false)
	})
}

// Record classifies err: only kinds that indicate an unhealthy upstream count as failures
func (p *Permit) Record(err error) {
	if err != nil && domain.KindOf(err).TripsBreaker() {
		p.Failure()
		return
	}
	p.Success()
}

// Allow admits a call or returns CIRCUIT_OPEN without any network attempt.
// In half_open only the single probe is admitted; concurrent callers are rejected.
func (b *CircuitBreaker) Allow() (*Permit, error) {
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, domain.NewUpstreamError(domain.KindCircuitOpen, b.settings.Upstream, "allow", err).
				WithContext("state", b.State())
		}
		return nil, err
	}
	return &Permit{breaker: b, done: done}, nil
}

// State returns the current circuit state name
func (b *CircuitBreaker) State() string {
	return stateName(b.cb.State())
}

// Snapshot returns the observable circuit state
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	counts := b.cb.Counts()
	snap := BreakerSnapshot{
		Upstream:            b.settings.Upstream,
		State:               b.State(),
		ConsecutiveFailures: counts.ConsecutiveFailures,
		FailureThreshold:    b.settings.FailureThreshold,
		RecoveryTimeout:     b.settings.RecoveryTimeout,
	}
	b.mu.Lock()
	if !b.lastFailure.IsZero() {
		lf := b.lastFailure
		snap.LastFailure = &lf
	}
	b.mu.Unlock()
	return snap
}
