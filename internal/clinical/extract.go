// Package clinical extracts medical entities from free-text clinical notes using a fixed
// vocabulary. Only vocabulary terms and numeric lab readings come out of Extract, so names,
// contact details and record numbers in the notes never reach its result.
package clinical

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clinical-trial-matcher/internal/domain"
)

// Demographics are the patient facts stated in the notes
type Demographics struct {
	Age   *int     `json:"age,omitempty"`
	Sex   string   `json:"sex,omitempty"`
	Flags []string `json:"flags,omitempty"`
}

// Entities is everything recognized in one piece of text. Lists are in order of first
// mention and hold canonical names.
type Entities struct {
	Conditions   []string          `json:"conditions,omitempty"`
	Medications  []string          `json:"medications,omitempty"`
	Procedures   []string          `json:"procedures,omitempty"`
	LabTests     []string          `json:"lab_tests,omitempty"`
	LabValues    map[string]string `json:"lab_values,omitempty"`
	Biomarkers   []string          `json:"biomarkers,omitempty"`
	RuledOut     []string          `json:"ruled_out,omitempty"`
	Demographics Demographics      `json:"demographics"`
}

// Empty reports whether nothing was recognized
func (e Entities) Empty() bool {
	return len(e.Conditions) == 0 && len(e.Medications) == 0 && len(e.Procedures) == 0 &&
		len(e.LabTests) == 0 && len(e.Biomarkers) == 0 && len(e.RuledOut) == 0 &&
		e.Demographics.Age == nil && e.Demographics.Sex == "" && len(e.Demographics.Flags) == 0
}

type term struct {
	re   *regexp.Regexp
	name string
	size int
}

// category is a term list ordered longest phrase first, so specific phrases claim
// their span of text before the general phrases inside them.
type category []term

var (
	conditions  = compile(withCompounds(compoundConditions, conditionTerms))
	medications = compile(plain(medicationTerms))
	procedures  = compile(plain(procedureTerms))
	labs        = compile(plain(labTerms))
	biomarkers  = compile(plain(biomarkerTerms))
	flags       = compile(flagPairs(demographicFlags))

	negationRe = regexp.MustCompile(`\b(?:` + strings.Join(quoteAll(negations), "|") + `)\b`)
	labValueRe = regexp.MustCompile(`^\s*(?:level|value)?\s*(?:[:=]|of|is|was|at)?\s*(\d{1,4}(?:\.\d+)?)\s*(%|mg/dl|mmol/l|mmol/mol|g/dl|ng/ml|u/l)?`)
	ageRes     = []*regexp.Regexp{
		regexp.MustCompile(`\b(\d{1,3})[\s\-]*years?[\s\-]*old\b`),
		regexp.MustCompile(`\baged?\s*:?\s*(\d{1,3})\b`),
	}
	femaleRe = regexp.MustCompile(`\b(?:female|woman|girl)\b`)
	maleRe   = regexp.MustCompile(`\b(?:male|man|boy)\b`)
)

// Extract recognizes conditions, medications, procedures, lab tests with their readings,
// biomarkers and demographic facts in text. Findings preceded by a negation in the same
// clause ("denies asthma", "no history of stroke") are reported as ruled out instead.
func Extract(text string) Entities {
	var e Entities
	text = preprocess(text)
	if text == "" {
		return e
	}

	var ruledOut []string
	e.Conditions, ruledOut = conditions.find(text, true)
	e.RuledOut = append(e.RuledOut, ruledOut...)
	e.Medications, ruledOut = medications.find(text, true)
	e.RuledOut = append(e.RuledOut, ruledOut...)
	e.Procedures, _ = procedures.find(text, false)
	e.Biomarkers, _ = biomarkers.find(text, false)
	e.LabTests, e.LabValues = labs.findWithValues(text)
	e.Demographics.Flags, _ = flags.find(text, true)
	e.Demographics.Age = findAge(text)
	e.Demographics.Sex = findSex(text)
	return e
}

// Enrich returns a copy of p with the entities found in its clinical notes merged in.
// Structured values win: the notes only add missing conditions, medications and lab
// values, and fill age and sex when the profile leaves them unset.
func Enrich(p *domain.PatientProfile) (*domain.PatientProfile, Entities) {
	e := Extract(p.ClinicalNotes)
	out := *p
	out.Conditions = merge(p.Conditions, e.Conditions)
	out.Medications = merge(p.Medications, e.Medications)
	if len(e.LabValues) > 0 {
		out.LabValues = make(map[string]string, len(p.LabValues)+len(e.LabValues))
		for k, v := range e.LabValues {
			out.LabValues[k] = v
		}
		for k, v := range p.LabValues {
			out.LabValues[k] = v
		}
	}
	if out.Age == 0 && e.Demographics.Age != nil {
		out.Age = *e.Demographics.Age
	}
	if p.NormalizedSex() == domain.SexUnknown && e.Demographics.Sex != "" {
		out.Sex = e.Demographics.Sex
	}
	return &out, e
}

func merge(structured, extracted []string) []string {
	out := make([]string, 0, len(structured)+len(extracted))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{structured, extracted} {
		for _, v := range list {
			key := strings.ToLower(strings.TrimSpace(v))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// preprocess lowercases text, expands shorthand and collapses whitespace. Line breaks
// become clause breaks.
func preprocess(text string) string {
	text = strings.ToLower(strings.ReplaceAll(text, "\n", " . "))
	fields := strings.Fields(text)
	for i, f := range fields {
		word := strings.TrimRight(f, ",;:.")
		if full, ok := shorthand[word]; ok {
			fields[i] = full + f[len(word):]
		}
	}
	return strings.Join(fields, " ")
}

type hit struct {
	pos, end int
	name     string
	negated  bool
}

func (c category) hits(text string) []hit {
	var taken [][2]int
	var out []hit
	for _, t := range c {
		for _, loc := range t.re.FindAllStringIndex(text, -1) {
			if overlaps(taken, loc[0], loc[1]) {
				continue
			}
			taken = append(taken, [2]int{loc[0], loc[1]})
			out = append(out, hit{pos: loc[0], end: loc[1], name: t.name, negated: negated(text, loc[0])})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out
}

// find returns the distinct names found, split into asserted and negated when
// negation applies to the category.
func (c category) find(text string, negation bool) (found, ruledOut []string) {
	for _, h := range c.hits(text) {
		if negation && h.negated {
			ruledOut = appendUnique(ruledOut, h.name)
			continue
		}
		found = appendUnique(found, h.name)
	}
	return found, ruledOut
}

// findWithValues also reads the number that directly follows a finding, as in "hba1c 8.2%"
func (c category) findWithValues(text string) ([]string, map[string]string) {
	var names []string
	var values map[string]string
	for _, h := range c.hits(text) {
		names = appendUnique(names, h.name)
		m := labValueRe.FindStringSubmatch(text[h.end:])
		if m == nil {
			continue
		}
		if values == nil {
			values = make(map[string]string)
		}
		if _, ok := values[h.name]; !ok {
			values[h.name] = m[1] + m[2]
		}
	}
	return names, values
}

func overlaps(taken [][2]int, start, end int) bool {
	for _, s := range taken {
		if start < s[1] && s[0] < end {
			return true
		}
	}
	return false
}

// negated reports whether a negation word opens the clause before pos, within a few words
func negated(text string, pos int) bool {
	clause := text[:pos]
	if i := strings.LastIndexAny(clause, ".;,"); i >= 0 {
		clause = clause[i+1:]
	}
	if i := strings.LastIndex(clause, " but "); i >= 0 {
		clause = clause[i+5:]
	}
	words := strings.Fields(clause)
	if len(words) > 6 {
		words = words[len(words)-6:]
	}
	return negationRe.MatchString(strings.Join(words, " "))
}

func findAge(text string) *int {
	for _, re := range ageRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if age, err := strconv.Atoi(m[1]); err == nil && age <= 130 {
			return &age
		}
	}
	return nil
}

func findSex(text string) string {
	switch {
	case femaleRe.MatchString(text):
		return domain.SexFemale
	case maleRe.MatchString(text):
		return domain.SexMale
	default:
		return ""
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func compile(phrases [][2]string) category {
	c := make(category, 0, len(phrases))
	for _, p := range phrases {
		name := p[1]
		if name == "" {
			name = p[0]
		}
		c = append(c, term{re: regexp.MustCompile(phrasePattern(p[0])), name: name, size: len(p[0])})
	}
	sort.SliceStable(c, func(i, j int) bool { return c[i].size > c[j].size })
	return c
}

// phrasePattern matches phrase as whole words, letting spaces and hyphens stand in for each other
func phrasePattern(phrase string) string {
	parts := strings.FieldsFunc(phrase, func(r rune) bool { return r == ' ' || r == '-' })
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return `\b` + strings.Join(parts, `[\s\-]*`) + `\b`
}

func withCompounds(compounds []string, terms [][2]string) [][2]string {
	out := make([][2]string, 0, len(compounds)+len(terms))
	for _, c := range compounds {
		out = append(out, [2]string{c, ""})
	}
	return append(out, terms...)
}

func plain(terms []string) [][2]string {
	out := make([][2]string, len(terms))
	for i, t := range terms {
		out[i] = [2]string{t, ""}
	}
	return out
}

func flagPairs(m map[string]string) [][2]string {
	out := make([][2]string, 0, len(m))
	for phrase, flag := range m {
		out = append(out, [2]string{phrase, flag})
	}
	// map order is random; compile sorts by size, so fix ties by phrase first
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func quoteAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = regexp.QuoteMeta(w)
	}
	return out
}
