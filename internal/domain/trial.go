package domain

import (
	"sort"
	"strings"
)

// Trial status values as reported by the registry
const (
	StatusRecruiting            = "RECRUITING"
	StatusNotYetRecruiting      = "NOT_YET_RECRUITING"
	StatusActiveNotRecruiting   = "ACTIVE_NOT_RECRUITING"
	StatusEnrollingByInvitation = "ENROLLING_BY_INVITATION"
	StatusCompleted             = "COMPLETED"
	StatusUnknown               = "UNKNOWN"
)

// DefaultPhase is used when the registry does not report a phase
const DefaultPhase = "NA"

// EligibilityCriteria holds the structured inclusion and exclusion rules of a trial
type EligibilityCriteria struct {
	Inclusion         []string `json:"inclusion"`
	Exclusion         []string `json:"exclusion"`
	MinAgeYears       *float64 `json:"min_age_years,omitempty"`
	MaxAgeYears       *float64 `json:"max_age_years,omitempty"`
	Sex               string   `json:"sex"`
	HealthyVolunteers bool     `json:"healthy_volunteers"`
}

// AdmitsAge reports whether age falls inside the bounds, widened by tolerance years
func (e EligibilityCriteria) AdmitsAge(age, tolerance float64) bool {
	if e.MinAgeYears != nil && age+tolerance < *e.MinAgeYears {
		return false
	}
	if e.MaxAgeYears != nil && age-tolerance > *e.MaxAgeYears {
		return false
	}
	return true
}

// AdmitsSex reports whether a patient of the given normalized sex may enroll
func (e EligibilityCriteria) AdmitsSex(sex string) bool {
	if e.Sex == "" || e.Sex == SexAll || sex == SexUnknown {
		return true
	}
	return e.Sex == sex
}

// TrialLocation is one recruiting site
type TrialLocation struct {
	Facility  string   `json:"facility,omitempty"`
	City      string   `json:"city,omitempty"`
	State     string   `json:"state,omitempty"`
	Country   string   `json:"country,omitempty"`
	Status    string   `json:"status,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// TrialCandidate is a normalized registry record
type TrialCandidate struct {
	NCTID         string              `json:"nct_id"`
	Title         string              `json:"title"`
	BriefSummary  string              `json:"brief_summary,omitempty"`
	Status        string              `json:"status"`
	Phase         string              `json:"phase"`
	StudyType     string              `json:"study_type"`
	Conditions    []string            `json:"conditions"`
	Interventions []string            `json:"interventions"`
	Sponsor       string              `json:"sponsor,omitempty"`
	Eligibility   EligibilityCriteria `json:"eligibility"`
	Locations     []TrialLocation     `json:"locations"`
	URL           string              `json:"url"`
}

// GeoFilter restricts a search to sites within RadiusMiles of a point
type GeoFilter struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	RadiusMiles float64 `json:"radius_miles"`
}

// SearchFilters describes one registry search
type SearchFilters struct {
	Conditions []string   `json:"conditions,omitempty"`
	Terms      []string   `json:"terms,omitempty"`
	Statuses   []string   `json:"statuses,omitempty"`
	Geo        *GeoFilter `json:"geo,omitempty"`
	PageSize   int        `json:"page_size,omitempty"`
	// PatientAge enables the client-side age overlap filter when set
	PatientAge   *int    `json:"patient_age,omitempty"`
	AgeTolerance float64 `json:"age_tolerance,omitempty"`
}

// Normalized returns a copy with lowercased, trimmed, sorted and de-duplicated lists
// so equivalent filters produce the same cache fingerprint.
func (f SearchFilters) Normalized() SearchFilters {
	out := f
	out.Conditions = normalizeList(f.Conditions, strings.ToLower)
	out.Terms = normalizeList(f.Terms, strings.ToLower)
	out.Statuses = normalizeList(f.Statuses, strings.ToUpper)
	if f.Geo != nil {
		g := *f.Geo
		out.Geo = &g
	}
	return out
}

func normalizeList(in []string, fold func(string) string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = fold(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// RecordError describes a single registry record that could not be normalized
type RecordError struct {
	Index  int    `json:"index"`
	NCTID  string `json:"nct_id,omitempty"`
	Reason string `json:"reason"`
}

// TrialPage is one page of normalized search results
type TrialPage struct {
	Candidates    []TrialCandidate `json:"candidates"`
	NextPageToken string           `json:"next_page_token,omitempty"`
	TotalCount    int              `json:"total_count,omitempty"`
	Dropped       []RecordError    `json:"dropped,omitempty"`
	AgeFiltered   int              `json:"age_filtered,omitempty"`
	FromCache     bool             `json:"from_cache"`
}

// SearchResult aggregates pages fetched by a fetch-all search
type SearchResult struct {
	Candidates []TrialCandidate `json:"candidates"`
	Pages      int              `json:"pages"`
	Dropped    []RecordError    `json:"dropped,omitempty"`
	Exhausted  bool             `json:"exhausted"`
	// Err is set when a page after the first failed; earlier pages are kept
	Err error `json:"-"`
}
