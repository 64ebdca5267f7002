// Package sanitize strips patient-identifying content before anything leaves the process
// or reaches a log. Outbound prompts, error messages and log entries all pass through here.
package sanitize

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/clinical-trial-matcher/internal/clinical"
	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/pkg/cache"
)

// Marker replaces redacted content
const Marker = "[REDACTED]"

var patterns = []*regexp.Regexp{
	// email
	regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
	// SSN
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	// phone numbers, optional country code
	regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-]?)?\(?\b\d{3}\)?[\s.\-]\d{3}[\s.\-]\d{4}\b`),
	// labelled record numbers
	regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?|patient id|member id|insurance id)\s*[:#]?\s*[a-z0-9\-]{4,}`),
	// dates
	regexp.MustCompile(`\b\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	// street addresses
	regexp.MustCompile(`(?i)\b\d{1,6}\s+(?:[a-z0-9]+\s){1,4}(?:street|avenue|ave|road|rd|boulevard|blvd|lane|drive|court|place|way)\b\.?`),
	// labelled names
	regexp.MustCompile(`(?i)\b(?:name|patient|mr|mrs|ms|dr)\.?\s*:\s*[a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+)?`),
}

// Text redacts identifier-like patterns from free text
func Text(s string) string {
	if s == "" {
		return s
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, Marker)
	}
	return s
}

// TextFor redacts identifier-like patterns and every identity value of the patient,
// including the individual tokens of multi-word values such as names.
func TextFor(s string, identity domain.PatientIdentity) string {
	if s == "" {
		return s
	}
	terms := identityTerms(identity)
	for _, term := range terms {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		s = re.ReplaceAllString(s, Marker)
	}
	return Text(s)
}

func identityTerms(identity domain.PatientIdentity) []string {
	seen := make(map[string]struct{})
	var terms []string
	add := func(t string) {
		t = strings.TrimSpace(t)
		if len(t) < 2 {
			return
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, t)
	}
	for _, v := range identity.Values() {
		add(v)
	}
	for _, t := range strings.Fields(identity.Name) {
		add(strings.Trim(t, ".,"))
	}
	// Longest first so full values are replaced before their parts
	sort.SliceStable(terms, func(i, j int) bool { return len(terms[i]) > len(terms[j]) })
	return terms
}

// ClinicalProfile is the whitelisted view of a patient that may be sent upstream.
// Clinical notes never appear verbatim; only the entities recognized in them do.
type ClinicalProfile struct {
	Age            int               `json:"age"`
	Sex            string            `json:"sex"`
	Conditions     []string          `json:"conditions"`
	Medications    []string          `json:"medications,omitempty"`
	Allergies      []string          `json:"allergies,omitempty"`
	MedicalHistory []string          `json:"medical_history,omitempty"`
	LabValues      map[string]string `json:"lab_values,omitempty"`
	SmokingStatus  string            `json:"smoking_status,omitempty"`
	AlcoholUse     string            `json:"alcohol_use,omitempty"`
	NoteFindings   *NoteFindings     `json:"note_findings,omitempty"`
	City           string            `json:"city,omitempty"`
	State          string            `json:"state,omitempty"`
	Country        string            `json:"country,omitempty"`
}

// NoteFindings are the entities from clinical notes that have no structured field
type NoteFindings struct {
	Procedures []string `json:"procedures,omitempty"`
	LabTests   []string `json:"lab_tests,omitempty"`
	Biomarkers []string `json:"biomarkers,omitempty"`
	Flags      []string `json:"flags,omitempty"`
	RuledOut   []string `json:"ruled_out,omitempty"`
}

func (f NoteFindings) empty() bool {
	return len(f.Procedures) == 0 && len(f.LabTests) == 0 && len(f.Biomarkers) == 0 &&
		len(f.Flags) == 0 && len(f.RuledOut) == 0
}

// Profile builds the clinical view of a patient. Identity fields and coordinates are
// dropped, structured free-text values are redacted and clinical notes are replaced by
// the vocabulary entities recognized in them.
func Profile(p *domain.PatientProfile) ClinicalProfile {
	p, entities := clinical.Enrich(p)
	clean := func(s string) string { return strings.TrimSpace(TextFor(s, p.Identity)) }
	cleanList := func(in []string) []string {
		var out []string
		for _, v := range in {
			if c := clean(v); c != "" {
				out = append(out, c)
			}
		}
		return out
	}

	cp := ClinicalProfile{
		Age:            p.Age,
		Sex:            p.NormalizedSex(),
		Conditions:     cleanList(p.Conditions),
		Medications:    cleanList(p.Medications),
		Allergies:      cleanList(p.Allergies),
		MedicalHistory: cleanList(p.MedicalHistory),
		SmokingStatus:  clean(p.SmokingStatus),
		AlcoholUse:     clean(p.AlcoholUse),
	}
	findings := NoteFindings{
		Procedures: entities.Procedures,
		LabTests:   entities.LabTests,
		Biomarkers: entities.Biomarkers,
		Flags:      entities.Demographics.Flags,
		RuledOut:   entities.RuledOut,
	}
	if !findings.empty() {
		cp.NoteFindings = &findings
	}
	if len(p.LabValues) > 0 {
		cp.LabValues = make(map[string]string, len(p.LabValues))
		for k, v := range p.LabValues {
			cp.LabValues[clean(k)] = clean(v)
		}
	}
	if p.Location != nil {
		cp.City = clean(p.Location.City)
		cp.State = clean(p.Location.State)
		cp.Country = clean(p.Location.Country)
	}
	return cp
}

// Fingerprint is a one-way hash of the clinical view, used as the patient half of cache keys
func (cp ClinicalProfile) Fingerprint() string {
	parts := []string{
		"age=" + strconv.Itoa(cp.Age),
		"sex=" + cp.Sex,
		"conditions=" + joinSorted(cp.Conditions),
		"medications=" + joinSorted(cp.Medications),
		"allergies=" + joinSorted(cp.Allergies),
		"history=" + joinSorted(cp.MedicalHistory),
		"smoking=" + strings.ToLower(cp.SmokingStatus),
		"alcohol=" + strings.ToLower(cp.AlcoholUse),
		"findings=" + cp.NoteFindings.fingerprintPart(),
		"location=" + strings.ToLower(cp.City+"|"+cp.State+"|"+cp.Country),
	}
	labs := make([]string, 0, len(cp.LabValues))
	for k, v := range cp.LabValues {
		labs = append(labs, strings.ToLower(k)+"="+v)
	}
	parts = append(parts, "labs="+joinSorted(labs))
	return cache.Fingerprint("patient", parts...)
}

func (f *NoteFindings) fingerprintPart() string {
	if f == nil {
		return ""
	}
	return strings.Join([]string{
		joinSorted(f.Procedures), joinSorted(f.LabTests), joinSorted(f.Biomarkers),
		joinSorted(f.Flags), joinSorted(f.RuledOut),
	}, "|")
}

// PatientFingerprint hashes the sanitized clinical view of p
func PatientFingerprint(p *domain.PatientProfile) string {
	return Profile(p).Fingerprint()
}

func joinSorted(in []string) string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}
