package trials

import (
	"encoding/json"
	"testing"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAge(t *testing.T) {
	tests := []struct {
		input    string
		expected *float64
	}{
		{"18 Years", floatPtr(18)},
		{"6 Months", floatPtr(0.5)},
		{"365 Days", floatPtr(1)},
		{"52 Weeks", floatPtr(1)},
		{"65", floatPtr(65)},
		{"", nil},
		{"N/A", nil},
		{"12 Fortnights", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseAge(tt.input)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.expected, *got, 0.0001)
		})
	}
}

func TestParseEligibilityText(t *testing.T) {
	text := "Inclusion Criteria:\n\n" +
		"1. Adults aged 18 or older\n" +
		"2. HbA1c between 7% and 10%\n" +
		"   despite metformin therapy\n\n" +
		"Exclusion Criteria:\n\n" +
		"- Pregnancy or breastfeeding\n" +
		"• Prior bariatric surgery\n"

	inclusion, exclusion := ParseEligibilityText(text)

	assert.Equal(t, []string{
		"Adults aged 18 or older",
		"HbA1c between 7% and 10% despite metformin therapy",
	}, inclusion)
	assert.Equal(t, []string{"Pregnancy or breastfeeding", "Prior bariatric surgery"}, exclusion)
}

func TestParseEligibilityText_MarkdownHeadersAndDecimals(t *testing.T) {
	text := "**Inclusion Criteria:**\n" +
		"* Adults with persistent asthma\n" +
		"1.5 mg/kg dosing tolerated\n\n" +
		"**Exclusion Criteria:**\n" +
		"- Meets all inclusion criteria of the parent study\n" +
		"2) Smoker\n"

	inclusion, exclusion := ParseEligibilityText(text)

	assert.Equal(t, []string{"Adults with persistent asthma 1.5 mg/kg dosing tolerated"}, inclusion)
	assert.Equal(t, []string{"Meets all inclusion criteria of the parent study", "Smoker"}, exclusion)
}

func TestParseEligibilityText_NoHeadersDefaultsToInclusion(t *testing.T) {
	inclusion, exclusion := ParseEligibilityText("* Stable asthma\n* Non-smoker")
	assert.Equal(t, []string{"Stable asthma", "Non-smoker"}, inclusion)
	assert.Empty(t, exclusion)

	inclusion, exclusion = ParseEligibilityText("")
	assert.NotNil(t, inclusion)
	assert.NotNil(t, exclusion)
}

func TestNormalize_Defaults(t *testing.T) {
	raw := json.RawMessage(`{"protocolSection":{"identificationModule":{"nctId":"NCT09999999"}}}`)

	c, err := Normalize(0, raw)
	require.NoError(t, err)

	assert.Equal(t, "NCT09999999", c.NCTID)
	assert.Equal(t, "NCT09999999", c.Title)
	assert.Equal(t, domain.StatusUnknown, c.Status)
	assert.Equal(t, domain.DefaultPhase, c.Phase)
	assert.Equal(t, domain.SexAll, c.Eligibility.Sex)
	assert.Nil(t, c.Eligibility.MinAgeYears)
	assert.Empty(t, c.Conditions)
	assert.NotNil(t, c.Locations)
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT09999999", c.URL)
}

func TestNormalize_MissingIdentifier(t *testing.T) {
	_, err := Normalize(3, json.RawMessage(`{"protocolSection":{"identificationModule":{"briefTitle":"x"}}}`))

	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 3, nerr.Index)
	assert.Equal(t, "missing nctId", nerr.Reason)

	_, err = Normalize(4, json.RawMessage(`not json`))
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, "malformed record", nerr.Reason)
}

func TestNormalize_FullRecord(t *testing.T) {
	raw := json.RawMessage(`{"protocolSection":{
		"identificationModule":{"nctId":"NCT01000001","briefTitle":"Trial"},
		"statusModule":{"overallStatus":"recruiting"},
		"designModule":{"studyType":"INTERVENTIONAL","phases":["PHASE2","PHASE3"]},
		"armsInterventionsModule":{"interventions":[{"type":"DRUG","name":"Metformin"},{"name":" "}]},
		"eligibilityModule":{"sex":"FEMALE","minimumAge":"18 Years","maximumAge":"75 Years"},
		"contactsLocationsModule":{"locations":[{"city":"Boston","geoPoint":{"lat":42.3,"lon":-71.1}}]}
	}}`)

	c, err := Normalize(0, raw)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusRecruiting, c.Status)
	assert.Equal(t, "PHASE2/PHASE3", c.Phase)
	assert.Equal(t, []string{"DRUG: Metformin"}, c.Interventions)
	assert.Equal(t, domain.SexFemale, c.Eligibility.Sex)
	assert.Equal(t, 18.0, *c.Eligibility.MinAgeYears)
	assert.Equal(t, 75.0, *c.Eligibility.MaxAgeYears)
	require.Len(t, c.Locations, 1)
	assert.Equal(t, 42.3, *c.Locations[0].Latitude)
}

func floatPtr(v float64) *float64 { return &v }
