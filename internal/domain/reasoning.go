package domain

// MinReasoningSteps is the minimum chain-of-thought length for a usable result
const MinReasoningSteps = 3

// Verdict is the reasoning service's overall recommendation
type Verdict string

const (
	VerdictEligible         Verdict = "ELIGIBLE"
	VerdictPossiblyEligible Verdict = "POSSIBLY_ELIGIBLE"
	VerdictIneligible       Verdict = "INELIGIBLE"
	VerdictUnknown          Verdict = "UNKNOWN"
)

// CriterionStatus is the assessed state of one eligibility criterion
type CriterionStatus string

const (
	CriterionMet     CriterionStatus = "MET"
	CriterionNotMet  CriterionStatus = "NOT_MET"
	CriterionUnclear CriterionStatus = "UNCLEAR"
)

// CriterionAssessment pairs a criterion with its assessed status
type CriterionAssessment struct {
	Criterion string          `json:"criterion"`
	Status    CriterionStatus `json:"status"`
}

// EligibilityAssessment is the per-criterion assessment section
type EligibilityAssessment struct {
	Criteria []CriterionAssessment `json:"criteria"`
	Summary  string                `json:"summary,omitempty"`
}

// Count returns how many criteria have the given status
func (a EligibilityAssessment) Count(status CriterionStatus) int {
	n := 0
	for _, c := range a.Criteria {
		if c.Status == status {
			n++
		}
	}
	return n
}

// Severity of a contraindication
type Severity string

const (
	SeverityHard Severity = "HARD"
	SeveritySoft Severity = "SOFT"
)

// Contraindication is one finding of the contraindication check
type Contraindication struct {
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
}

// ContraindicationCheck is the contraindication section
type ContraindicationCheck struct {
	Findings []Contraindication `json:"findings"`
	Summary  string             `json:"summary,omitempty"`
}

// HasHard reports whether any hard contraindication was found
func (c ContraindicationCheck) HasHard() bool {
	for _, f := range c.Findings {
		if f.Severity == SeverityHard {
			return true
		}
	}
	return false
}

// SoftCount returns the number of soft contraindications
func (c ContraindicationCheck) SoftCount() int {
	n := 0
	for _, f := range c.Findings {
		if f.Severity == SeveritySoft {
			n++
		}
	}
	return n
}

// ReasoningResult is the closed, sectioned analysis of one (patient, trial) pair
type ReasoningResult struct {
	TrialID               string                `json:"trial_id"`
	ChainOfThought        []string              `json:"chain_of_thought"`
	MedicalAnalysis       string                `json:"medical_analysis"`
	EligibilityAssessment EligibilityAssessment `json:"eligibility_assessment"`
	ContraindicationCheck ContraindicationCheck `json:"contraindication_check"`
	BiomarkerAnalysis     string                `json:"biomarker_analysis,omitempty"`
	Verdict               Verdict               `json:"verdict"`
	// StatedConfidence is the confidence the model reported, if any, in [0,1]
	StatedConfidence *float64 `json:"stated_confidence,omitempty"`
	Confidence       float64  `json:"confidence"`
	NextSteps        []string `json:"next_steps,omitempty"`
	LowQuality       bool     `json:"low_quality,omitempty"`
	Model            string   `json:"model,omitempty"`
	TokensUsed       int      `json:"tokens_used,omitempty"`
	FromCache        bool     `json:"from_cache"`
}

// HasMinimumDepth reports whether the chain of thought meets the minimum step count
func (r *ReasoningResult) HasMinimumDepth(minSteps int) bool {
	return len(r.ChainOfThought) >= minSteps
}
