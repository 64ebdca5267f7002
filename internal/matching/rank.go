package matching

import (
	"sort"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Scoring constants
const (
	confidenceWeight = 0.7
	fitWeight        = 0.3
	ineligibleBelow  = 0.4
)

// OverallScore blends reasoning confidence with structural fit
func OverallScore(confidence, fit float64) float64 {
	return clamp(confidenceWeight*clamp(confidence) + fitWeight*clamp(fit))
}

// Classify assigns a match status from a reasoning result
func Classify(r *domain.ReasoningResult, eligibleThreshold float64) domain.MatchStatus {
	hard := r.ContraindicationCheck.HasHard()
	switch {
	case r.Verdict == domain.VerdictIneligible || hard || r.Confidence < ineligibleBelow:
		return domain.MatchIneligible
	case r.Confidence >= eligibleThreshold:
		return domain.MatchEligible
	default:
		return domain.MatchPossiblyEligible
	}
}

// Rank sorts by overall score descending, then confidence descending, then trial id
// ascending, so identical inputs always produce the same order.
func Rank(results []domain.MatchResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		if a.ConfidenceScore != b.ConfidenceScore {
			return a.ConfidenceScore > b.ConfidenceScore
		}
		return a.TrialID < b.TrialID
	})
}

// NextSteps uses the reasoning service's follow-ups when present, else status defaults
func NextSteps(r *domain.ReasoningResult, status domain.MatchStatus) []string {
	if len(r.NextSteps) > 0 {
		return append([]string(nil), r.NextSteps...)
	}
	switch status {
	case domain.MatchEligible:
		return []string{
			"Contact the trial site to confirm current enrollment",
			"Share the eligibility summary with your physician",
		}
	case domain.MatchPossiblyEligible:
		return []string{
			"Review the unclear criteria with your physician",
			"Contact the trial site for a pre-screening",
		}
	default:
		return []string{"Discuss alternative trials with your physician"}
	}
}
