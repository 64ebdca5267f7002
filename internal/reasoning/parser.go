package reasoning

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

type section int

const (
	sectionNone section = iota
	sectionChain
	sectionMedical
	sectionEligibility
	sectionContraindications
	sectionBiomarkers
	sectionConfidence
	sectionRecommendation
	sectionNextSteps
)

// headerAliases maps normalized header text to a section. Longer aliases come first
// so "ELIGIBILITY ASSESSMENT" wins over a shorter prefix.
var headerAliases = []struct {
	name    string
	section section
}{
	{"STEP-BY-STEP REASONING", sectionChain},
	{"STEP BY STEP REASONING", sectionChain},
	{"CHAIN OF THOUGHT", sectionChain},
	{"CHAIN-OF-THOUGHT", sectionChain},
	{"REASONING", sectionChain},
	{"MEDICAL ANALYSIS", sectionMedical},
	{"CLINICAL ANALYSIS", sectionMedical},
	{"ELIGIBILITY ASSESSMENT", sectionEligibility},
	{"COMPATIBILITY ASSESSMENT", sectionEligibility},
	{"CRITERIA ASSESSMENT", sectionEligibility},
	{"CONTRAINDICATION CHECK", sectionContraindications},
	{"CONTRAINDICATIONS", sectionContraindications},
	{"BIOMARKER ANALYSIS", sectionBiomarkers},
	{"BIOMARKERS", sectionBiomarkers},
	{"CONFIDENCE", sectionConfidence},
	{"RECOMMENDATION", sectionRecommendation},
	{"NEXT STEPS", sectionNextSteps},
}

const maxNextSteps = 5

var (
	decoration   = regexp.MustCompile(`^[#>*_\s]+|[*_\s]+$`)
	headerNumber = regexp.MustCompile(`^\d{1,2}[.)]\s*`)
	listMarker   = regexp.MustCompile(`^(?:[-*•+]\s+|\d{1,3}[.)]\s+|step\s*\d{1,3}\s*[:.)-]\s*)`)
)

var statedConfidence = []*regexp.Regexp{
	regexp.MustCompile(`(?i)confidence(?:\s+score|\s+level)?\s*[:=\-]?\s*(\d{1,3}(?:\.\d+)?)\s*%`),
	regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*confiden`),
	regexp.MustCompile(`(?i)compatibility assessment\s*[:\-]?\s*(\d{1,3}(?:\.\d+)?)\s*%`),
}

var (
	ineligiblePhrases = []string{"INELIGIBLE", "NOT ELIGIBLE", "DOES NOT QUALIFY", "NOT A CANDIDATE"}
	possiblePhrases   = []string{"POSSIBLY ELIGIBLE", "POTENTIALLY ELIGIBLE", "REQUIRES REVIEW", "NEEDS REVIEW", "UNCLEAR"}
	eligiblePhrases   = []string{"ELIGIBLE", "QUALIFIES", "MEETS CRITERIA", "GOOD CANDIDATE"}
)

// sections accumulates raw lines per section while scanning
type sections struct {
	lines map[section][]string
	seen  map[section]bool
}

// Parse converts a completion into a ReasoningResult. Empty content or a response with
// neither a chain of thought nor an eligibility assessment is a REASONING_PARSE_ERROR.
// Confidence is left for the scorer.
func Parse(content string) (*domain.ReasoningResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, parseError("empty response")
	}

	s := split(content)
	if !s.seen[sectionChain] && !s.seen[sectionEligibility] {
		return nil, parseError("missing reasoning sections")
	}

	result := &domain.ReasoningResult{
		ChainOfThought:        listItems(s.lines[sectionChain]),
		MedicalAnalysis:       paragraph(s.lines[sectionMedical]),
		EligibilityAssessment: parseEligibility(s.lines[sectionEligibility]),
		ContraindicationCheck: parseContraindications(s.lines[sectionContraindications]),
		BiomarkerAnalysis:     paragraph(s.lines[sectionBiomarkers]),
		Verdict:               parseVerdict(s, content),
		StatedConfidence:      parseConfidence(content),
		NextSteps:             listItems(s.lines[sectionNextSteps]),
	}
	if result.ChainOfThought == nil {
		result.ChainOfThought = []string{}
	}
	if len(result.NextSteps) > maxNextSteps {
		result.NextSteps = result.NextSteps[:maxNextSteps]
	}
	return result, nil
}

func parseError(reason string) error {
	return domain.NewUpstreamError(domain.KindReasoningParse, domain.UpstreamReasoning, "parse", nil).
		WithContext("reason", reason)
}

// split assigns every line to the section whose header precedes it. Text after a
// header's colon on the same line belongs to that section.
func split(content string) sections {
	s := sections{lines: map[section][]string{}, seen: map[section]bool{}}
	current := sectionNone
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			s.lines[current] = append(s.lines[current], "")
			continue
		}
		if sec, rest, ok := matchHeader(line); ok {
			current = sec
			s.seen[sec] = true
			if rest != "" {
				s.lines[sec] = append(s.lines[sec], rest)
			}
			continue
		}
		s.lines[current] = append(s.lines[current], line)
	}
	return s
}

// matchHeader recognizes "HEADER", "HEADER:" and "HEADER: inline text", with markdown
// decoration and leading numbering removed.
func matchHeader(line string) (section, string, bool) {
	clean := decoration.ReplaceAllString(line, "")
	listed := headerNumber.MatchString(clean) || strings.HasPrefix(line, "* ") || strings.HasPrefix(line, "- ")
	clean = strings.TrimSpace(headerNumber.ReplaceAllString(clean, ""))
	upper := strings.ToUpper(clean)
	if len(upper) != len(clean) {
		clean = upper
	}

	for _, alias := range headerAliases {
		if !strings.HasPrefix(upper, alias.name) {
			continue
		}
		// A list line is only a header when written in capitals; otherwise it is a step.
		if listed && !strings.HasPrefix(clean, alias.name) {
			continue
		}
		rest := strings.TrimLeft(strings.TrimSpace(clean[len(alias.name):]), "*_ ")
		switch {
		case rest == "":
			return alias.section, "", true
		case strings.HasPrefix(rest, ":"):
			return alias.section, strings.TrimSpace(strings.Trim(rest[1:], "*_ ")), true
		}
	}
	return sectionNone, "", false
}

// listItems turns bullet or numbered lines into items; unmarked lines continue the
// previous item and a blank line ends it.
func listItems(lines []string) []string {
	var items []string
	open := false
	for _, line := range lines {
		if line == "" {
			open = false
			continue
		}
		if loc := listMarker.FindStringIndex(strings.ToLower(line)); loc != nil {
			if item := strings.TrimSpace(line[loc[1]:]); item != "" {
				items = append(items, item)
				open = true
			}
			continue
		}
		if open && len(items) > 0 {
			items[len(items)-1] += " " + line
			continue
		}
		items = append(items, line)
		open = true
	}
	return items
}

func paragraph(lines []string) string {
	var parts []string
	for _, line := range lines {
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

func parseEligibility(lines []string) domain.EligibilityAssessment {
	assessment := domain.EligibilityAssessment{Criteria: []domain.CriterionAssessment{}}
	var summary []string
	for _, line := range lines {
		if line == "" {
			continue
		}
		text := stripMarker(line)
		status, criterion, ok := criterionStatus(text)
		if !ok {
			summary = append(summary, text)
			continue
		}
		assessment.Criteria = append(assessment.Criteria, domain.CriterionAssessment{
			Criterion: criterion,
			Status:    status,
		})
	}
	assessment.Summary = strings.Join(summary, " ")
	return assessment
}

// criterionStatus reads "MET: x", "NOT MET: x", "UNCLEAR: x" and the PASS/FAIL aliases
func criterionStatus(text string) (domain.CriterionStatus, string, bool) {
	prefixes := []struct {
		label  string
		status domain.CriterionStatus
	}{
		{"NOT MET", domain.CriterionNotMet},
		{"FAIL", domain.CriterionNotMet},
		{"MET", domain.CriterionMet},
		{"PASS", domain.CriterionMet},
		{"UNCLEAR", domain.CriterionUnclear},
		{"UNKNOWN", domain.CriterionUnclear},
	}
	upper := strings.ToUpper(text)
	for _, p := range prefixes {
		if !strings.HasPrefix(upper, p.label) {
			continue
		}
		rest := strings.TrimSpace(text[len(p.label):])
		if !strings.HasPrefix(rest, ":") && !strings.HasPrefix(rest, "-") {
			continue
		}
		return p.status, strings.TrimSpace(rest[1:]), true
	}
	return "", "", false
}

func parseContraindications(lines []string) domain.ContraindicationCheck {
	check := domain.ContraindicationCheck{Findings: []domain.Contraindication{}}
	for _, line := range lines {
		if line == "" {
			continue
		}
		text := stripMarker(line)
		upper := strings.ToUpper(text)
		switch {
		case isNone(upper):
			check.Summary = text
		case strings.HasPrefix(upper, "HARD:"):
			check.Findings = append(check.Findings, domain.Contraindication{
				Description: strings.TrimSpace(text[len("HARD:"):]),
				Severity:    domain.SeverityHard,
			})
		case strings.HasPrefix(upper, "SOFT:"):
			check.Findings = append(check.Findings, domain.Contraindication{
				Description: strings.TrimSpace(text[len("SOFT:"):]),
				Severity:    domain.SeveritySoft,
			})
		case strings.Contains(upper, "ABSOLUTE") || strings.Contains(upper, "CONTRAINDICATED"):
			check.Findings = append(check.Findings, domain.Contraindication{Description: text, Severity: domain.SeverityHard})
		default:
			check.Findings = append(check.Findings, domain.Contraindication{Description: text, Severity: domain.SeveritySoft})
		}
	}
	return check
}

func isNone(upper string) bool {
	upper = strings.TrimRight(upper, ". ")
	return upper == "NONE" || upper == "N/A" || strings.HasPrefix(upper, "NO CONTRAINDICATION") ||
		strings.HasPrefix(upper, "NONE IDENTIFIED") || strings.HasPrefix(upper, "NO KNOWN")
}

// parseVerdict reads the recommendation section. Without one, conflicting signals in
// the whole text yield UNKNOWN.
func parseVerdict(s sections, content string) domain.Verdict {
	if rec := strings.ToUpper(paragraph(s.lines[sectionRecommendation])); rec != "" {
		switch {
		case containsAny(rec, ineligiblePhrases):
			return domain.VerdictIneligible
		case containsAny(rec, possiblePhrases):
			return domain.VerdictPossiblyEligible
		case containsAny(rec, eligiblePhrases):
			return domain.VerdictEligible
		}
	}

	upper := strings.ToUpper(content)
	negative := containsAny(upper, ineligiblePhrases)
	// Strip negative phrases so "NOT ELIGIBLE" does not also count as "ELIGIBLE".
	stripped := upper
	for _, p := range ineligiblePhrases {
		stripped = strings.ReplaceAll(stripped, p, "")
	}
	positive := containsAny(stripped, eligiblePhrases)
	switch {
	case positive && negative:
		return domain.VerdictUnknown
	case negative:
		return domain.VerdictIneligible
	case positive:
		return domain.VerdictEligible
	}
	return domain.VerdictUnknown
}

func parseConfidence(content string) *float64 {
	for _, re := range statedConfidence {
		m := re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil || v > 100 {
			continue
		}
		v /= 100
		return &v
	}
	return nil
}

func stripMarker(line string) string {
	if loc := listMarker.FindStringIndex(strings.ToLower(line)); loc != nil {
		return strings.TrimSpace(line[loc[1]:])
	}
	return strings.TrimSpace(line)
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
