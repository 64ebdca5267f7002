package reasoning

import (
	"github.com/clinical-trial-matcher/internal/domain"
)

// Scorer derives a confidence in [0,1] from a parsed reasoning result
type Scorer interface {
	Score(result *domain.ReasoningResult) float64
}

// WeightedScorer blends the model's stated confidence (or a verdict prior) with the share
// of assessed criteria that are met, then applies contraindication penalties.
// More met criteria never lower the score, and a hard contraindication caps it at HardCap.
type WeightedScorer struct {
	// StatedWeight is the weight of the stated confidence against the criteria ratio
	StatedWeight float64
	SoftPenalty  float64
	MaxPenalty   float64
	HardCap      float64
}

// DefaultScorer returns the scorer used unless configured otherwise
func DefaultScorer() *WeightedScorer {
	return &WeightedScorer{
		StatedWeight: 0.5,
		SoftPenalty:  0.05,
		MaxPenalty:   0.2,
		HardCap:      0.4,
	}
}

// verdictPrior stands in for a missing stated confidence
func verdictPrior(v domain.Verdict) float64 {
	switch v {
	case domain.VerdictEligible:
		return 0.8
	case domain.VerdictPossiblyEligible:
		return 0.55
	case domain.VerdictIneligible:
		return 0.2
	default:
		return 0.5
	}
}

// Score implements Scorer
func (s *WeightedScorer) Score(r *domain.ReasoningResult) float64 {
	base := verdictPrior(r.Verdict)
	if r.StatedConfidence != nil {
		base = clamp(*r.StatedConfidence)
	}

	score := base
	met := r.EligibilityAssessment.Count(domain.CriterionMet)
	unmet := r.EligibilityAssessment.Count(domain.CriterionNotMet)
	if met+unmet > 0 {
		ratio := float64(met) / float64(met+unmet)
		score = s.StatedWeight*base + (1-s.StatedWeight)*ratio
	}

	penalty := float64(r.ContraindicationCheck.SoftCount()) * s.SoftPenalty
	if penalty > s.MaxPenalty {
		penalty = s.MaxPenalty
	}
	score -= penalty

	if r.ContraindicationCheck.HasHard() && score > s.HardCap {
		score = s.HardCap
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
