// Package matching drives a match request end to end: candidate fetch, bounded
// concurrent reasoning, filtering and deterministic ranking under a request deadline.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinical-trial-matcher/internal/clinical"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/metrics"
	"github.com/clinical-trial-matcher/internal/observability"
	"github.com/clinical-trial-matcher/internal/sanitize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const sinkTimeout = 5 * time.Second

// EventType identifies an orchestrator progress event
type EventType string

const (
	EventState    EventType = "state"
	EventScored   EventType = "candidate_scored"
	EventExcluded EventType = "candidate_excluded"
)

// Event is a progress notification. It never carries patient data.
type Event struct {
	Type    EventType              `json:"type"`
	State   domain.MatchState      `json:"state,omitempty"`
	TrialID string                 `json:"trial_id,omitempty"`
	Score   float64                `json:"score,omitempty"`
	Status  domain.MatchStatus     `json:"match_status,omitempty"`
	Reason  domain.ExclusionReason `json:"reason,omitempty"`
	Count   int                    `json:"count,omitempty"`
}

// Observer receives events. Calls are serialized.
type Observer func(Event)

// MatchOptions are the caller-supplied knobs of one request
type MatchOptions struct {
	MaxResults int
	// MinConfidence overrides the configured minimum when set
	MinConfidence *float64
	// Deadline overrides the configured default timeout when non-zero
	Deadline  time.Time
	RequestID string
	Observer  Observer
}

// Orchestrator executes match requests
type Orchestrator struct {
	trials   domain.TrialSearcher
	analyzer domain.TrialAnalyzer
	pool     *Pool
	config   domain.MatchingConfig
	minSteps int
	sink     domain.ResultSink
	ranker   CandidateRanker
	logger   *logrus.Logger
	metrics  *metrics.Metrics
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithResultSink hands every completed outcome to sink
func WithResultSink(sink domain.ResultSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithCandidateRanker orders candidates before scoring. Without one the registry order is kept.
func WithCandidateRanker(r CandidateRanker) Option {
	return func(o *Orchestrator) {
		o.ranker = r
	}
}

// WithMetrics records request outcomes and exclusions
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithMinSteps sets the minimum chain-of-thought length a result needs
func WithMinSteps(n int) Option {
	return func(o *Orchestrator) {
		o.minSteps = n
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(trials domain.TrialSearcher, analyzer domain.TrialAnalyzer, config domain.MatchingConfig, logger *logrus.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		trials:   trials,
		analyzer: analyzer,
		pool:     NewPool(config.MaxConcurrency),
		config:   config,
		minSteps: domain.MinReasoningSteps,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// request is the mutable state of one Execute call
type request struct {
	meta     domain.MatchMetadata
	observer Observer
	mu       sync.Mutex
}

func (r *request) emit(e Event) {
	if r.observer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer(e)
}

func (r *request) enter(state domain.MatchState) {
	r.meta.State = state
	r.emit(Event{Type: EventState, State: state})
}

// slot is the outcome of scoring one candidate
type slot struct {
	done   bool
	result *domain.MatchResult
	reason domain.ExclusionReason
	kind   domain.ErrorKind
}

// Execute runs FETCH_CANDIDATES, SCORE, FILTER_RANK and DONE for one patient.
// The returned outcome always carries metadata, also when err is non-nil.
func (o *Orchestrator) Execute(ctx context.Context, patient *domain.PatientProfile, opts MatchOptions) (outcome *domain.MatchOutcome, err error) {
	start := time.Now()
	req := &request{observer: opts.Observer}
	req.meta.RequestID = opts.RequestID
	if req.meta.RequestID == "" {
		req.meta.RequestID = uuid.NewString()
	}
	outcome = &domain.MatchOutcome{Results: []domain.MatchResult{}}

	ctx, span := observability.StartSpan(ctx, "matching.execute", attribute.String("request.id", req.meta.RequestID))
	log := o.logger.WithField("request_id", req.meta.RequestID)

	defer func() {
		req.meta.Duration = time.Since(start)
		outcome.Metadata = req.meta
		observability.EndSpan(span, err)

		label := "success"
		switch {
		case err != nil:
			label = "failed"
		case req.meta.Partial:
			label = "partial"
		case len(outcome.Results) == 0:
			label = "empty"
		}
		o.metrics.ObserveMatch(label, req.meta.Duration)
	}()

	fail := func(cause error) error {
		req.enter(domain.StateFailed)
		log.WithFields(logrus.Fields{
			"error_kind": domain.KindOf(cause),
			"error":      sanitize.Error(cause),
		}).Warn("Match request failed")
		return cause
	}

	maxResults, minConfidence, verr := o.resolveOptions(opts)
	if verr != nil {
		return outcome, fail(verr)
	}
	if patient == nil {
		return outcome, fail(domain.NewValidationError("patient", "is required"))
	}
	if verr := patient.Validate(); verr != nil {
		return outcome, fail(verr)
	}
	// From here on the notes only contribute through the entities extracted from them.
	enriched, _ := clinical.Enrich(patient)
	if !enriched.HasConditions() {
		return outcome, fail(domain.NewValidationError("clinical_notes", "no recognized condition"))
	}

	deadline := opts.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(o.config.DefaultTimeout)
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// FETCH_CANDIDATES
	req.enter(domain.StateFetchCandidates)
	candidates, ferr := o.fetch(ctx, o.filters(patient, enriched), maxResults, req)
	if ferr != nil {
		return outcome, fail(ferr)
	}
	req.meta.CandidatesFetched = len(candidates)
	candidates = o.prerank(enriched, candidates, req)
	if len(candidates) == 0 {
		req.enter(domain.StateFilterRank)
		req.meta.Message = "no candidate trials matched the patient's conditions"
		req.enter(domain.StateDone)
		o.handOff(ctx, patient, outcome, req, log)
		return outcome, nil
	}

	// SCORE
	req.enter(domain.StateScore)
	slots, serr := o.score(ctx, enriched, candidates, req)
	if serr != nil {
		return outcome, fail(serr)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		req.meta.Partial = true
		req.meta.PartialReason = string(domain.ExcludedDeadline)
	} else if ctx.Err() != nil {
		return outcome, fail(ctx.Err())
	}

	scored, failed := o.collect(candidates, slots, req)
	if failed > 0 && failed == len(candidates) {
		agg := &domain.AggregateError{Failures: failed, ByKind: map[domain.ErrorKind]int{}}
		for _, s := range slots {
			agg.ByKind[s.kind]++
		}
		return outcome, fail(agg)
	}

	// FILTER_RANK
	req.enter(domain.StateFilterRank)
	kept := make([]domain.MatchResult, 0, len(scored))
	for _, r := range scored {
		if r.ConfidenceScore < minConfidence {
			o.exclude(req, r.TrialID, domain.ExcludedBelowMinConfidence, "")
			continue
		}
		kept = append(kept, r)
	}
	Rank(kept)
	if len(kept) > maxResults {
		req.meta.Truncated = len(kept) - maxResults
		kept = kept[:maxResults]
	}
	outcome.Results = kept
	req.meta.Returned = len(kept)
	if len(kept) == 0 {
		req.meta.Message = fmt.Sprintf("no trials reached the minimum confidence of %.2f", minConfidence)
	}

	// DONE
	req.enter(domain.StateDone)
	log.WithFields(logrus.Fields{
		"candidates": req.meta.CandidatesFetched,
		"scored":     req.meta.CandidatesScored,
		"returned":   req.meta.Returned,
		"partial":    req.meta.Partial,
	}).Info("Match request completed")
	o.handOff(ctx, patient, outcome, req, log)
	return outcome, nil
}

func (o *Orchestrator) resolveOptions(opts MatchOptions) (int, float64, error) {
	maxResults := opts.MaxResults
	if maxResults == 0 {
		maxResults = o.config.DefaultMaxResults
	}
	if maxResults < 1 {
		return 0, 0, domain.NewValidationError("max_results", "must be positive")
	}
	if o.config.MaxCandidates > 0 && maxResults > o.config.MaxCandidates {
		return 0, 0, domain.NewValidationError("max_results", fmt.Sprintf("must not exceed %d", o.config.MaxCandidates))
	}

	minConfidence := o.config.MinConfidence
	if opts.MinConfidence != nil {
		minConfidence = *opts.MinConfidence
	}
	if minConfidence < 0 || minConfidence > 1 {
		return 0, 0, domain.NewValidationError("min_confidence", "must be between 0 and 1")
	}
	return maxResults, minConfidence, nil
}

// fetch collects the candidate pool. Any failure before the first page is fatal;
// a failure on a later page marks the request partial.
func (o *Orchestrator) fetch(ctx context.Context, filters domain.SearchFilters, maxResults int, req *request) ([]domain.TrialCandidate, error) {
	target := maxResults * o.config.CandidateMultiplier
	if target < maxResults {
		target = maxResults
	}
	if o.config.MaxCandidates > 0 && target > o.config.MaxCandidates {
		target = o.config.MaxCandidates
	}

	start := time.Now()
	res, err := o.trials.SearchAll(ctx, filters, target, o.config.MaxPages)
	elapsed := time.Since(start)
	if err != nil {
		req.meta.AddTiming(domain.UpstreamTrials, elapsed)
		return nil, err
	}
	req.meta.PagesFetched = res.Pages
	req.meta.AddTiming(domain.UpstreamTrials, elapsed)
	if t := req.meta.Timings[domain.UpstreamTrials]; res.Pages > 1 {
		t.Calls = res.Pages
		req.meta.Timings[domain.UpstreamTrials] = t
	}

	for _, d := range res.Dropped {
		o.exclude(req, d.NCTID, domain.ExcludedNormalization, domain.KindNormalization)
	}
	if res.Err != nil {
		req.meta.Partial = true
		req.meta.PartialReason = "candidate_fetch_incomplete"
	}
	return res.Candidates, nil
}

// filters builds the registry query. Conditions found in the notes only drive the search
// when the profile states none itself.
func (o *Orchestrator) filters(stated, enriched *domain.PatientProfile) domain.SearchFilters {
	conditions := stated.Conditions
	if !stated.HasConditions() {
		conditions = enriched.Conditions
	}
	patient := enriched
	age := patient.Age
	f := domain.SearchFilters{
		Conditions:   conditions,
		Statuses:     o.config.Statuses,
		PatientAge:   &age,
		AgeTolerance: o.config.AgeToleranceYears,
	}
	if patient.Location.HasCoordinates() && o.config.SearchRadiusMiles > 0 {
		f.Geo = &domain.GeoFilter{
			Latitude:    *patient.Location.Latitude,
			Longitude:   *patient.Location.Longitude,
			RadiusMiles: o.config.SearchRadiusMiles,
		}
	}
	return f
}

// prerank applies the candidate ranker and the score limit. Candidates past the limit
// are excluded without a reasoning call.
func (o *Orchestrator) prerank(patient *domain.PatientProfile, candidates []domain.TrialCandidate, req *request) []domain.TrialCandidate {
	if o.ranker != nil && len(candidates) > 1 {
		candidates = o.ranker.Rank(patient, candidates)
	}
	limit := o.config.ScoreLimit
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	for _, c := range candidates[limit:] {
		o.exclude(req, c.NCTID, domain.ExcludedLowRelevance, "")
	}
	return candidates[:limit]
}

// score fans out one reasoning call per candidate. An authentication failure is fatal
// for the request and cancels the remaining calls; every other failure stays local.
func (o *Orchestrator) score(ctx context.Context, patient *domain.PatientProfile, candidates []domain.TrialCandidate, req *request) ([]slot, error) {
	slots := make([]slot, len(candidates))
	var timingMu sync.Mutex

	err := o.pool.Run(ctx, len(candidates), func(ctx context.Context, i int) error {
		trial := &candidates[i]
		start := time.Now()
		result, err := o.analyzer.Analyze(ctx, patient, trial)
		elapsed := time.Since(start)

		timingMu.Lock()
		req.meta.AddTiming(domain.UpstreamReasoning, elapsed)
		timingMu.Unlock()

		if err != nil {
			kind := domain.KindOf(err)
			if kind == domain.KindAuthentication {
				return err
			}
			if ctx.Err() != nil {
				// Abandoned at the deadline; reported as not evaluated.
				return nil
			}
			slots[i] = slot{done: true, kind: kind, reason: exclusionReason(err)}
			return nil
		}

		if !result.HasMinimumDepth(o.minSteps) {
			slots[i] = slot{done: true, kind: domain.KindReasoningParse, reason: domain.ExcludedInsufficientSteps}
			return nil
		}

		fit := StructuralFit(patient, trial, o.config.AgeToleranceYears)
		status := Classify(result, o.config.EligibleThreshold)
		match := &domain.MatchResult{
			TrialID:         trial.NCTID,
			TrialTitle:      trial.Title,
			TrialURL:        trial.URL,
			OverallScore:    OverallScore(result.Confidence, fit),
			ConfidenceScore: clamp(result.Confidence),
			StructuralFit:   fit,
			Status:          status,
			Reasoning:       *result,
			NextSteps:       NextSteps(result, status),
		}
		slots[i] = slot{done: true, result: match}
		req.emit(Event{Type: EventScored, TrialID: match.TrialID, Score: match.OverallScore, Status: status})
		return nil
	})
	return slots, err
}

func exclusionReason(err error) domain.ExclusionReason {
	switch {
	case errors.Is(err, domain.ErrInsufficientReasoning):
		return domain.ExcludedInsufficientSteps
	case domain.KindOf(err) == domain.KindReasoningParse:
		return domain.ExcludedReasoningParse
	default:
		return domain.ExcludedReasoningFailed
	}
}

// collect turns slots into results and exclusions in candidate order. It returns the
// scored results and how many candidates failed with an error.
func (o *Orchestrator) collect(candidates []domain.TrialCandidate, slots []slot, req *request) ([]domain.MatchResult, int) {
	var scored []domain.MatchResult
	failed := 0
	for i, s := range slots {
		id := candidates[i].NCTID
		switch {
		case !s.done:
			o.exclude(req, id, domain.ExcludedDeadline, domain.KindTimeout)
		case s.result != nil:
			req.meta.CandidatesEvaluated++
			req.meta.CandidatesScored++
			scored = append(scored, *s.result)
		default:
			req.meta.CandidatesEvaluated++
			failed++
			o.exclude(req, id, s.reason, s.kind)
		}
	}
	return scored, failed
}

func (o *Orchestrator) exclude(req *request, trialID string, reason domain.ExclusionReason, kind domain.ErrorKind) {
	req.meta.Exclude(trialID, reason, kind)
	o.metrics.CandidateExcluded(string(reason))
	req.emit(Event{Type: EventExcluded, TrialID: trialID, Reason: reason})
}

// handOff passes the outcome to the result sink. The sink gets its own short deadline
// so an expired request deadline does not prevent storing a partial outcome.
func (o *Orchestrator) handOff(ctx context.Context, patient *domain.PatientProfile, outcome *domain.MatchOutcome, req *request, log *logrus.Entry) {
	if o.sink == nil {
		return
	}
	outcome.Metadata = req.meta
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := o.sink.Store(sinkCtx, sanitize.PatientFingerprint(patient), outcome); err != nil {
		log.WithError(sanitize.Error(err)).Warn("Storing match outcome failed")
	}
}
