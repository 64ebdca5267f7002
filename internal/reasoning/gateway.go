package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/metrics"
	"github.com/clinical-trial-matcher/internal/observability"
	"github.com/clinical-trial-matcher/internal/sanitize"
	"github.com/clinical-trial-matcher/pkg/cache"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Minimum depth policies
const (
	PolicyReject   = "reject"
	PolicyPenalize = "penalize"
)

// Gateway analyzes (patient, trial) pairs through the reasoning upstream
type Gateway struct {
	completer Completer
	guard     *resilience.Guard
	results   *cache.ResponseCache[domain.ReasoningResult]
	config    domain.ReasoningConfig
	scorer    Scorer
	logger    *logrus.Logger
	metrics   *metrics.Metrics
}

// GatewayOption customizes a Gateway
type GatewayOption func(*Gateway)

// WithScorer replaces the default confidence scorer
func WithScorer(s Scorer) GatewayOption {
	return func(g *Gateway) {
		g.scorer = s
	}
}

// WithMetrics records upstream calls
func WithMetrics(m *metrics.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway creates a reasoning gateway
func NewGateway(completer Completer, guard *resilience.Guard, results *cache.ResponseCache[domain.ReasoningResult], config domain.ReasoningConfig, logger *logrus.Logger, opts ...GatewayOption) *Gateway {
	if config.MinSteps < 1 {
		config.MinSteps = domain.MinReasoningSteps
	}
	if config.MinStepsPolicy == "" {
		config.MinStepsPolicy = PolicyReject
	}
	if config.DepthPenalty <= 0 || config.DepthPenalty > 1 {
		config.DepthPenalty = 0.5
	}
	g := &Gateway{
		completer: completer,
		guard:     guard,
		results:   results,
		config:    config,
		scorer:    DefaultScorer(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Analyze returns the reasoning result for patient and trial. Results are cached by the
// patient fingerprint, trial id and model; raw patient text never forms part of a key.
func (g *Gateway) Analyze(ctx context.Context, patient *domain.PatientProfile, trial *domain.TrialCandidate) (_ *domain.ReasoningResult, err error) {
	ctx, span := observability.StartSpan(ctx, "reasoning.analyze", attribute.String("trials.nct_id", trial.NCTID))
	defer func() { observability.EndSpan(span, err) }()

	key := cache.Fingerprint("reasoning", sanitize.PatientFingerprint(patient), trial.NCTID, g.config.Model)
	if cached, ok := g.results.Get(ctx, key); ok {
		result := cached
		result.FromCache = true
		return &result, nil
	}

	messages, err := BuildMessages(patient, trial)
	if err != nil {
		return nil, domain.NewUpstreamError(domain.KindInternal, domain.UpstreamReasoning, "prompt", err)
	}

	var completion *Completion
	start := time.Now()
	outcome, err := g.guard.Do(ctx, "analyze", func(ctx context.Context) error {
		var callErr error
		completion, callErr = g.completer.Complete(ctx, messages)
		return callErr
	})
	g.metrics.ObserveUpstream(domain.UpstreamReasoning, metrics.Outcome(err), time.Since(start))
	span.SetAttributes(attribute.Int("reasoning.attempts", outcome.Attempts))
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"trial_id":   trial.NCTID,
			"attempts":   outcome.Attempts,
			"error_kind": domain.KindOf(err),
		}).Warn("Reasoning call failed")
		return nil, err
	}

	result, err := Parse(completion.Content)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"trial_id":   trial.NCTID,
			"error_kind": domain.KindOf(err),
		}).Warn("Reasoning response could not be parsed")
		return nil, withTrial(err, trial.NCTID)
	}
	result.TrialID = trial.NCTID
	result.Model = completion.Model
	result.TokensUsed = completion.TokensUsed
	result.Confidence = clamp(g.scorer.Score(result))

	if !result.HasMinimumDepth(g.config.MinSteps) {
		if g.config.MinStepsPolicy != PolicyPenalize {
			return nil, domain.NewUpstreamError(domain.KindReasoningParse, domain.UpstreamReasoning, "analyze",
				fmt.Errorf("%w: %d of %d steps", domain.ErrInsufficientReasoning, len(result.ChainOfThought), g.config.MinSteps)).
				WithContext("trial_id", trial.NCTID)
		}
		result.LowQuality = true
		result.Confidence = clamp(result.Confidence * g.config.DepthPenalty)
	}

	g.results.Put(ctx, key, *result, g.config.CacheTTL)

	g.logger.WithFields(logrus.Fields{
		"trial_id":   trial.NCTID,
		"verdict":    result.Verdict,
		"confidence": result.Confidence,
		"steps":      len(result.ChainOfThought),
		"tokens":     result.TokensUsed,
	}).Debug("Reasoning completed")
	span.SetAttributes(attribute.Float64("reasoning.confidence", result.Confidence))
	return result, nil
}

// Status reports breaker and limiter state for the reasoning upstream
func (g *Gateway) Status() resilience.GuardStatus {
	return g.guard.Status()
}

// CacheStats reports result cache effectiveness
func (g *Gateway) CacheStats() cache.Stats {
	return g.results.Stats()
}

func withTrial(err error, trialID string) error {
	if upErr, ok := err.(*domain.UpstreamError); ok {
		return upErr.WithContext("trial_id", trialID)
	}
	return err
}
