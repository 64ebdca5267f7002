package matching

import (
	"sort"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

// CandidateRanker orders fetched candidates before they are scored. Candidates early in
// the order are dispatched first and survive the score limit.
type CandidateRanker interface {
	Rank(patient *domain.PatientProfile, candidates []domain.TrialCandidate) []domain.TrialCandidate
}

// DefaultFusionK is the reciprocal rank fusion constant
const DefaultFusionK = 60

// keywordSynonyms maps a condition keyword onto phrases that count as a weaker match
var keywordSynonyms = map[string][]string{
	"diabetes":       {"diabetes mellitus", "dm", "diabetic", "hyperglycemia"},
	"cancer":         {"carcinoma", "tumor", "neoplasm", "malignancy", "oncology"},
	"heart disease":  {"cardiovascular disease", "cvd", "cardiac", "coronary"},
	"hypertension":   {"high blood pressure", "htn", "elevated bp"},
	"kidney disease": {"renal disease", "nephropathy", "ckd"},
	"liver disease":  {"hepatic disease", "hepatitis", "cirrhosis"},
	"lung disease":   {"pulmonary disease", "respiratory disease", "copd"},
}

const synonymWeight = 0.8

// HybridRanker fuses the registry's own relevance order with a keyword score of the
// patient's conditions against the trial text, using reciprocal rank fusion.
type HybridRanker struct {
	// K damps the influence of top ranks; zero means DefaultFusionK
	K float64
	// MinKeywordScore is the keyword score a candidate needs to get a keyword rank
	MinKeywordScore float64
}

// NewHybridRanker returns a ranker with the default fusion constant
func NewHybridRanker() HybridRanker {
	return HybridRanker{K: DefaultFusionK, MinKeywordScore: 0.1}
}

// Rank returns the candidates in fused order. Ties keep registry order.
func (h HybridRanker) Rank(patient *domain.PatientProfile, candidates []domain.TrialCandidate) []domain.TrialCandidate {
	k := h.K
	if k <= 0 {
		k = DefaultFusionK
	}
	keywords := queryKeywords(patient)

	type ranked struct {
		index   int
		keyword float64
		fused   float64
	}
	items := make([]ranked, len(candidates))
	for i := range candidates {
		items[i] = ranked{index: i, keyword: KeywordScore(keywords, trialText(&candidates[i]))}
	}

	byKeyword := make([]int, 0, len(items))
	for i, it := range items {
		if it.keyword > h.MinKeywordScore {
			byKeyword = append(byKeyword, i)
		}
	}
	sort.SliceStable(byKeyword, func(a, b int) bool {
		return items[byKeyword[a]].keyword > items[byKeyword[b]].keyword
	})

	for i := range items {
		items[i].fused = 1 / (k + float64(i+1))
	}
	for rank, i := range byKeyword {
		items[i].fused += 1 / (k + float64(rank+1))
	}
	sort.SliceStable(items, func(a, b int) bool { return items[a].fused > items[b].fused })

	out := make([]domain.TrialCandidate, len(items))
	for i, it := range items {
		out[i] = candidates[it.index]
	}
	return out
}

// KeywordScore is the weighted share of keywords found in text. An exact keyword counts
// fully; a keyword found only through a synonym counts synonymWeight.
func KeywordScore(keywords []string, text string) float64 {
	if len(keywords) == 0 || text == "" {
		return 0
	}
	text = strings.ToLower(text)
	var matched float64
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			matched++
			continue
		}
		for _, syn := range keywordSynonyms[kw] {
			if strings.Contains(text, syn) {
				matched += synonymWeight
				break
			}
		}
	}
	return matched / float64(len(keywords))
}

func queryKeywords(patient *domain.PatientProfile) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, c := range patient.Conditions {
		kw := strings.ToLower(strings.TrimSpace(c))
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

func trialText(t *domain.TrialCandidate) string {
	parts := []string{t.Title, t.BriefSummary, t.Phase}
	parts = append(parts, t.Conditions...)
	parts = append(parts, t.Interventions...)
	parts = append(parts, t.Eligibility.Inclusion...)
	parts = append(parts, t.Eligibility.Exclusion...)
	return strings.Join(parts, " ")
}
