package clinical

import (
	"encoding/json"
	"testing"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	notes := "58 yo woman w/ HER2 positive breast cancer, s/p mastectomy.\n" +
		"Type 2 diabetes on metformin; HbA1c 8.2%. Denies hypertension.\n" +
		"PD-L1 tested. Postmenopausal."

	e := Extract(notes)

	assert.Equal(t, []string{"her2 positive breast cancer", "type 2 diabetes"}, e.Conditions)
	assert.Equal(t, []string{"metformin"}, e.Medications)
	assert.Equal(t, []string{"mastectomy"}, e.Procedures)
	assert.Equal(t, []string{"hba1c"}, e.LabTests)
	assert.Equal(t, map[string]string{"hba1c": "8.2%"}, e.LabValues)
	assert.Equal(t, []string{"her2", "pd-l1"}, e.Biomarkers)
	assert.Equal(t, []string{"hypertension"}, e.RuledOut)
	require.NotNil(t, e.Demographics.Age)
	assert.Equal(t, 58, *e.Demographics.Age)
	assert.Equal(t, domain.SexFemale, e.Demographics.Sex)
	assert.Equal(t, []string{"postmenopausal"}, e.Demographics.Flags)
}

func TestExtract_CanonicalNames(t *testing.T) {
	tests := []struct {
		text     string
		expected []string
	}{
		{"hx of HTN and T2DM", []string{"hypertension", "type 2 diabetes mellitus"}},
		{"stage IV NSCLC", []string{"non-small cell lung cancer"}},
		{"non small cell lung cancer", []string{"non-small cell lung cancer"}},
		{"Alzheimer's disease, early onset", []string{"alzheimer disease"}},
		{"COPD exacerbation", []string{"chronic obstructive pulmonary disease"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.expected, Extract(tt.text).Conditions)
		})
	}
}

func TestExtract_LongestPhraseWins(t *testing.T) {
	e := Extract("metastatic colorectal cancer after folfox")
	assert.Equal(t, []string{"metastatic colorectal cancer"}, e.Conditions)

	e = Extract("non-smoker, no asthma")
	assert.Equal(t, []string{"non-smoker"}, e.Demographics.Flags)
	assert.Empty(t, e.Conditions)
	assert.Equal(t, []string{"asthma"}, e.RuledOut)
}

func TestExtract_NeverReturnsIdentifiers(t *testing.T) {
	notes := "John Smith reports polyuria; wife Mary Smith drove him in. " +
		"National ID AB123456C, phone 617-555-0101, MRN 00482213. " +
		"Type 2 diabetes managed with insulin."

	e := Extract(notes)
	data, err := json.Marshal(e)
	require.NoError(t, err)

	for _, secret := range []string{"john", "mary", "smith", "ab123456c", "617", "00482213"} {
		assert.NotContains(t, string(data), secret)
	}
	assert.Equal(t, []string{"type 2 diabetes"}, e.Conditions)
	assert.Equal(t, []string{"insulin"}, e.Medications)
}

func TestExtract_Empty(t *testing.T) {
	assert.True(t, Extract("").Empty())
	assert.True(t, Extract("   \n ").Empty())
	assert.True(t, Extract("feels fine today").Empty())
}

func TestEnrich(t *testing.T) {
	p := &domain.PatientProfile{
		Conditions:    []string{"Type 2 Diabetes"},
		LabValues:     map[string]string{"hba1c": "7.9%"},
		ClinicalNotes: "45 year old man with type 2 diabetes and CKD, on metformin. HbA1c 8.4%",
	}

	enriched, e := Enrich(p)

	assert.Equal(t, []string{"Type 2 Diabetes", "chronic kidney disease"}, enriched.Conditions)
	assert.Equal(t, []string{"metformin"}, enriched.Medications)
	assert.Equal(t, "7.9%", enriched.LabValues["hba1c"], "structured value wins")
	assert.Equal(t, 45, enriched.Age)
	assert.Equal(t, domain.SexMale, enriched.NormalizedSex())
	assert.Equal(t, []string{"type 2 diabetes", "chronic kidney disease"}, e.Conditions)

	assert.Equal(t, []string{"Type 2 Diabetes"}, p.Conditions, "input is not modified")
	assert.Zero(t, p.Age)
}

func TestEnrich_KeepsStatedDemographics(t *testing.T) {
	p := &domain.PatientProfile{Age: 60, Sex: "F", ClinicalNotes: "asthma since age 12, man"}
	enriched, _ := Enrich(p)
	assert.Equal(t, 60, enriched.Age)
	assert.Equal(t, domain.SexFemale, enriched.NormalizedSex())
	assert.Equal(t, []string{"asthma"}, enriched.Conditions)
}
