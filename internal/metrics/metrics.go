// Package metrics exposes Prometheus collectors for the gateways and the orchestrator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strings"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service records
type Metrics struct {
	UpstreamRequests    *prometheus.CounterVec
	UpstreamLatency     *prometheus.HistogramVec
	BreakerTransitions  *prometheus.CounterVec
	RateLimitWaits      *prometheus.CounterVec
	CacheLookups        *prometheus.CounterVec
	MatchLatency        prometheus.Histogram
	MatchOutcomes       *prometheus.CounterVec
	CandidateExclusions *prometheus.CounterVec
}

// New registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_upstream_requests_total",
			Help: "Upstream calls by upstream and outcome kind",
		}, []string{"upstream", "outcome"}),

		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trialmatch_upstream_request_duration_seconds",
			Help:    "Duration of guarded upstream calls including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"upstream"}),

		BreakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_breaker_state_changes_total",
			Help: "Circuit breaker transitions by upstream and target state",
		}, []string{"upstream", "to"}),

		RateLimitWaits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_rate_limit_waits_total",
			Help: "Calls that waited for a rate limit permit",
		}, []string{"upstream"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_cache_lookups_total",
			Help: "Response cache lookups by cache and result",
		}, []string{"cache", "result"}),

		MatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trialmatch_match_duration_seconds",
			Help:    "End-to-end match request duration",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),

		MatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_match_outcomes_total",
			Help: "Match requests by outcome",
		}, []string{"outcome"}),

		CandidateExclusions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trialmatch_candidate_exclusions_total",
			Help: "Candidates excluded from results by reason",
		}, []string{"reason"}),
	}
}

// ObserveUpstream records one guarded upstream call
func (m *Metrics) ObserveUpstream(upstream, outcome string, d time.Duration) {
	if m != nil {
		m.UpstreamRequests.WithLabelValues(upstream, outcome).Inc()
		m.UpstreamLatency.WithLabelValues(upstream).Observe(d.Seconds())
	}
}

// BreakerTransition records a circuit state change
func (m *Metrics) BreakerTransition(upstream, _, to string) {
	if m != nil {
		m.BreakerTransitions.WithLabelValues(upstream, to).Inc()
	}
}

// RateLimitWait records a call that had to wait for a permit
func (m *Metrics) RateLimitWait(upstream string, _ time.Duration) {
	if m != nil {
		m.RateLimitWaits.WithLabelValues(upstream).Inc()
	}
}

// CacheLookup records a cache hit or miss
func (m *Metrics) CacheLookup(cache string, hit bool) {
	if m != nil {
		result := "miss"
		if hit {
			result = "hit"
		}
		m.CacheLookups.WithLabelValues(cache, result).Inc()
	}
}

// ObserveMatch records a finished match request
func (m *Metrics) ObserveMatch(outcome string, d time.Duration) {
	if m != nil {
		m.MatchOutcomes.WithLabelValues(outcome).Inc()
		m.MatchLatency.Observe(d.Seconds())
	}
}

// CandidateExcluded records one excluded candidate
func (m *Metrics) CandidateExcluded(reason string) {
	if m != nil {
		m.CandidateExclusions.WithLabelValues(reason).Inc()
	}
}

// Outcome labels an upstream call result: "success" or the lowercased error kind
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	return strings.ToLower(string(domain.KindOf(err)))
}
