package reasoning

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/internal/sanitize"
	"github.com/sashabaranov/go-openai"
)

// SystemPrompt fixes the response layout the parser expects
const SystemPrompt = `You are a medical AI assistant specializing in clinical trial matching.
Compare the patient profile against the trial eligibility criteria step by step.
Never include personally identifying information in your response.

Respond using exactly these sections:

CHAIN OF THOUGHT:
1. One reasoning step per numbered line (at least 3 steps)

MEDICAL ANALYSIS:
A short clinical analysis of the patient's conditions relative to the trial.

ELIGIBILITY ASSESSMENT:
MET: <criterion>
NOT MET: <criterion>
UNCLEAR: <criterion>

CONTRAINDICATION CHECK:
NONE, or one line per finding as HARD: <finding> or SOFT: <finding>

BIOMARKER ANALYSIS:
Optional. Relevant lab values or biomarkers.

CONFIDENCE: <0-100>%

RECOMMENDATION: ELIGIBLE, POSSIBLY ELIGIBLE or INELIGIBLE

NEXT STEPS:
- One follow-up action per line`

// trialPrompt is the subset of a trial sent to the reasoning upstream
type trialPrompt struct {
	NCTID             string   `json:"nct_id"`
	Title             string   `json:"title"`
	Phase             string   `json:"phase,omitempty"`
	Conditions        []string `json:"conditions,omitempty"`
	Interventions     []string `json:"interventions,omitempty"`
	Inclusion         []string `json:"inclusion_criteria"`
	Exclusion         []string `json:"exclusion_criteria"`
	MinimumAge        string   `json:"minimum_age,omitempty"`
	MaximumAge        string   `json:"maximum_age,omitempty"`
	Sex               string   `json:"sex,omitempty"`
	HealthyVolunteers bool     `json:"healthy_volunteers"`
}

// BuildMessages renders the chat request for one patient and trial. Only the sanitized
// clinical view of the patient is included. Trial text is sent as published.
func BuildMessages(patient *domain.PatientProfile, trial *domain.TrialCandidate) ([]openai.ChatCompletionMessage, error) {
	clinical := sanitize.Profile(patient)
	patientJSON, err := json.MarshalIndent(clinical, "", "  ")
	if err != nil {
		return nil, err
	}

	tp := trialPrompt{
		NCTID:             trial.NCTID,
		Title:             trial.Title,
		Phase:             trial.Phase,
		Conditions:        trial.Conditions,
		Interventions:     trial.Interventions,
		Inclusion:         trial.Eligibility.Inclusion,
		Exclusion:         trial.Eligibility.Exclusion,
		MinimumAge:        formatYears(trial.Eligibility.MinAgeYears),
		MaximumAge:        formatYears(trial.Eligibility.MaxAgeYears),
		Sex:               trial.Eligibility.Sex,
		HealthyVolunteers: trial.Eligibility.HealthyVolunteers,
	}
	trialJSON, err := json.MarshalIndent(tp, "", "  ")
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("PATIENT PROFILE:\n")
	b.Write(patientJSON)
	b.WriteString("\n\nTRIAL ELIGIBILITY CRITERIA:\n")
	b.Write(trialJSON)
	b.WriteString("\n\nAnalyze whether this patient is eligible for this trial.")

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: b.String()},
	}, nil
}

func formatYears(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + " years"
}
