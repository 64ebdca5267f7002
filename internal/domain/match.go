package domain

import (
	"time"
)

// MatchStatus is the eligibility classification of a match
type MatchStatus string

const (
	MatchEligible         MatchStatus = "eligible"
	MatchPossiblyEligible MatchStatus = "possibly_eligible"
	MatchIneligible       MatchStatus = "ineligible"
)

// MatchState is a state of the per-request orchestration state machine
type MatchState string

const (
	StateFetchCandidates MatchState = "FETCH_CANDIDATES"
	StateScore           MatchState = "SCORE"
	StateFilterRank      MatchState = "FILTER_RANK"
	StateDone            MatchState = "DONE"
	StateFailed          MatchState = "FAILED"
)

// ExclusionReason explains why a candidate is absent from the results
type ExclusionReason string

const (
	ExcludedReasoningFailed    ExclusionReason = "reasoning_failed"
	ExcludedReasoningParse     ExclusionReason = "reasoning_parse_error"
	ExcludedInsufficientSteps  ExclusionReason = "insufficient_reasoning"
	ExcludedBelowMinConfidence ExclusionReason = "below_min_confidence"
	ExcludedDeadline           ExclusionReason = "deadline_exceeded"
	ExcludedNormalization      ExclusionReason = "normalization_error"
	ExcludedLowRelevance       ExclusionReason = "low_relevance"
)

// MatchResult is one scored trial for a patient
type MatchResult struct {
	TrialID         string          `json:"trial_id"`
	TrialTitle      string          `json:"trial_title"`
	TrialURL        string          `json:"trial_url,omitempty"`
	OverallScore    float64         `json:"overall_score"`
	ConfidenceScore float64         `json:"confidence_score"`
	StructuralFit   float64         `json:"structural_fit"`
	Status          MatchStatus     `json:"match_status"`
	Reasoning       ReasoningResult `json:"reasoning"`
	NextSteps       []string        `json:"next_steps"`
}

// Exclusion records one candidate dropped from the result set
type Exclusion struct {
	TrialID string          `json:"trial_id,omitempty"`
	Reason  ExclusionReason `json:"reason"`
	Kind    ErrorKind       `json:"kind,omitempty"`
}

// UpstreamTiming aggregates time spent in one upstream during a request
type UpstreamTiming struct {
	Calls int           `json:"calls"`
	Total time.Duration `json:"total_ns"`
}

// MatchMetadata describes how a match request was served
type MatchMetadata struct {
	RequestID           string                    `json:"request_id"`
	State               MatchState                `json:"state"`
	CandidatesFetched   int                       `json:"candidates_fetched"`
	CandidatesEvaluated int                       `json:"candidates_evaluated"`
	CandidatesScored    int                       `json:"candidates_scored"`
	PagesFetched        int                       `json:"pages_fetched"`
	Returned            int                       `json:"returned"`
	Truncated           int                       `json:"truncated"`
	Exclusions          []Exclusion               `json:"exclusions,omitempty"`
	ExclusionCounts     map[ExclusionReason]int   `json:"exclusion_counts,omitempty"`
	Partial             bool                      `json:"partial"`
	PartialReason       string                    `json:"partial_reason,omitempty"`
	Timings             map[string]UpstreamTiming `json:"timings"`
	Duration            time.Duration             `json:"duration_ns"`
	Message             string                    `json:"message,omitempty"`
}

// Exclude records an exclusion and bumps its reason count
func (m *MatchMetadata) Exclude(trialID string, reason ExclusionReason, kind ErrorKind) {
	m.Exclusions = append(m.Exclusions, Exclusion{TrialID: trialID, Reason: reason, Kind: kind})
	if m.ExclusionCounts == nil {
		m.ExclusionCounts = make(map[ExclusionReason]int)
	}
	m.ExclusionCounts[reason]++
}

// AddTiming accumulates one upstream call duration
func (m *MatchMetadata) AddTiming(upstream string, d time.Duration) {
	if m.Timings == nil {
		m.Timings = make(map[string]UpstreamTiming)
	}
	t := m.Timings[upstream]
	t.Calls++
	t.Total += d
	m.Timings[upstream] = t
}

// MatchOutcome is the ranked result list of a match request with its metadata
type MatchOutcome struct {
	Results  []MatchResult `json:"results"`
	Metadata MatchMetadata `json:"metadata"`
}
