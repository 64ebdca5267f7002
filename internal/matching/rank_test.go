package matching

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank_Deterministic(t *testing.T) {
	input := []domain.MatchResult{
		{TrialID: "NCT3", OverallScore: 0.8, ConfidenceScore: 0.7},
		{TrialID: "NCT1", OverallScore: 0.8, ConfidenceScore: 0.7},
		{TrialID: "NCT2", OverallScore: 0.8, ConfidenceScore: 0.9},
		{TrialID: "NCT4", OverallScore: 0.9, ConfidenceScore: 0.1},
	}
	expected := []string{"NCT4", "NCT2", "NCT1", "NCT3"}

	for run := 0; run < 5; run++ {
		results := append([]domain.MatchResult(nil), input...)
		if run%2 == 1 {
			results[0], results[3] = results[3], results[0]
		}
		Rank(results)
		var ids []string
		for _, r := range results {
			ids = append(ids, r.TrialID)
		}
		assert.Equal(t, expected, ids)
	}
}

func TestClassify(t *testing.T) {
	hard := domain.ContraindicationCheck{Findings: []domain.Contraindication{{Severity: domain.SeverityHard}}}
	tests := []struct {
		name     string
		result   domain.ReasoningResult
		expected domain.MatchStatus
	}{
		{"eligible", domain.ReasoningResult{Verdict: domain.VerdictEligible, Confidence: 0.85}, domain.MatchEligible},
		{"unknown verdict high confidence", domain.ReasoningResult{Verdict: domain.VerdictUnknown, Confidence: 0.75}, domain.MatchEligible},
		{"middle confidence", domain.ReasoningResult{Verdict: domain.VerdictEligible, Confidence: 0.6}, domain.MatchPossiblyEligible},
		{"ineligible verdict", domain.ReasoningResult{Verdict: domain.VerdictIneligible, Confidence: 0.9}, domain.MatchIneligible},
		{"hard contraindication", domain.ReasoningResult{Verdict: domain.VerdictEligible, Confidence: 0.9, ContraindicationCheck: hard}, domain.MatchIneligible},
		{"low confidence", domain.ReasoningResult{Verdict: domain.VerdictPossiblyEligible, Confidence: 0.3}, domain.MatchIneligible},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(&tt.result, 0.7))
		})
	}
}

func TestStructuralFit(t *testing.T) {
	trial := diabetesTrial("NCT1")
	trial.Eligibility.Sex = domain.SexFemale

	male := diabetesPatient()
	female := diabetesPatient()
	female.Sex = "F"
	assert.Greater(t, StructuralFit(female, &trial, 5), StructuralFit(male, &trial, 5))

	older := diabetesPatient()
	older.Age = 78
	unrestricted := diabetesTrial("NCT2")
	assert.InDelta(t, 0.35*0.5+0.15+0.5, StructuralFit(older, &unrestricted, 5), 1e-9)
}

func TestConditionOverlap(t *testing.T) {
	assert.Equal(t, 1.0, ConditionOverlap([]string{"type 2 diabetes"}, []string{"Diabetes Mellitus, Type 2"}))
	assert.Equal(t, 0.0, ConditionOverlap([]string{"asthma"}, []string{"Type 2 Diabetes"}))
	assert.Equal(t, 0.5, ConditionOverlap([]string{"asthma"}, nil))
}

func TestOverallScore_Bounded(t *testing.T) {
	assert.Equal(t, 1.0, OverallScore(1.4, 1.2))
	assert.Equal(t, 0.0, OverallScore(-0.5, -1))
}

func TestNextSteps(t *testing.T) {
	withSteps := &domain.ReasoningResult{NextSteps: []string{"Confirm HbA1c"}}
	assert.Equal(t, []string{"Confirm HbA1c"}, NextSteps(withSteps, domain.MatchEligible))
	assert.NotEmpty(t, NextSteps(&domain.ReasoningResult{}, domain.MatchIneligible))
}

func TestPool_BoundsConcurrencyAndStopsOnError(t *testing.T) {
	pool := NewPool(2)
	var inFlight, peak, ran atomic.Int32

	err := pool.Run(context.Background(), 10, func(ctx context.Context, i int) error {
		ran.Add(1)
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(10), ran.Load())
	assert.LessOrEqual(t, peak.Load(), int32(2))

	ran.Store(0)
	err = NewPool(1).Run(context.Background(), 10, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 2 {
			return assert.AnError
		}
		return nil
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Less(t, ran.Load(), int32(10))
}
