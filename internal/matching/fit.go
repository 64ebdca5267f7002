package matching

import (
	"strings"
	"unicode"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Structural fit weights
const (
	ageWeight       = 0.35
	sexWeight       = 0.15
	conditionWeight = 0.5
)

// StructuralFit scores how well the patient fits the trial's structured criteria,
// independent of the reasoning service: age bounds, sex restriction and condition overlap.
func StructuralFit(patient *domain.PatientProfile, trial *domain.TrialCandidate, ageTolerance float64) float64 {
	age := 0.0
	switch {
	case trial.Eligibility.AdmitsAge(float64(patient.Age), 0):
		age = 1
	case trial.Eligibility.AdmitsAge(float64(patient.Age), ageTolerance):
		age = 0.5
	}

	sex := 0.0
	if trial.Eligibility.AdmitsSex(patient.NormalizedSex()) {
		sex = 1
	}

	return clamp(ageWeight*age + sexWeight*sex + conditionWeight*ConditionOverlap(patient.Conditions, trial.Conditions))
}

// ConditionOverlap returns the best token overlap between any patient condition and any
// trial condition, relative to the shorter of the two. Trials listing no conditions score 0.5.
func ConditionOverlap(patientConditions, trialConditions []string) float64 {
	if len(trialConditions) == 0 {
		return 0.5
	}
	best := 0.0
	for _, pc := range patientConditions {
		pt := tokens(pc)
		for _, tc := range trialConditions {
			if o := overlap(pt, tokens(tc)); o > best {
				best = o
			}
		}
	}
	return best
}

func tokens(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		out[f] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
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
