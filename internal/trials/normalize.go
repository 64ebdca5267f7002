package trials

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/clinical-trial-matcher/internal/domain"
)

// StudyURLPrefix is the public study page base
const StudyURLPrefix = "https://clinicaltrials.gov/study/"

// study mirrors the subset of the v2 study record the matcher reads.
// Every field is optional on the wire.
type study struct {
	ProtocolSection struct {
		IdentificationModule struct {
			NCTID         string `json:"nctId"`
			BriefTitle    string `json:"briefTitle"`
			OfficialTitle string `json:"officialTitle"`
		} `json:"identificationModule"`
		StatusModule struct {
			OverallStatus string `json:"overallStatus"`
		} `json:"statusModule"`
		SponsorCollaboratorsModule struct {
			LeadSponsor struct {
				Name string `json:"name"`
			} `json:"leadSponsor"`
		} `json:"sponsorCollaboratorsModule"`
		DescriptionModule struct {
			BriefSummary string `json:"briefSummary"`
		} `json:"descriptionModule"`
		ConditionsModule struct {
			Conditions []string `json:"conditions"`
		} `json:"conditionsModule"`
		DesignModule struct {
			StudyType string   `json:"studyType"`
			Phases    []string `json:"phases"`
		} `json:"designModule"`
		ArmsInterventionsModule struct {
			Interventions []struct {
				Type string `json:"type"`
				Name string `json:"name"`
			} `json:"interventions"`
		} `json:"armsInterventionsModule"`
		EligibilityModule struct {
			EligibilityCriteria string `json:"eligibilityCriteria"`
			HealthyVolunteers   bool   `json:"healthyVolunteers"`
			Sex                 string `json:"sex"`
			MinimumAge          string `json:"minimumAge"`
			MaximumAge          string `json:"maximumAge"`
		} `json:"eligibilityModule"`
		ContactsLocationsModule struct {
			Locations []struct {
				Facility string `json:"facility"`
				Status   string `json:"status"`
				City     string `json:"city"`
				State    string `json:"state"`
				Country  string `json:"country"`
				GeoPoint *struct {
					Lat float64 `json:"lat"`
					Lon float64 `json:"lon"`
				} `json:"geoPoint"`
			} `json:"locations"`
		} `json:"contactsLocationsModule"`
	} `json:"protocolSection"`
}

// NormalizationError reports a record that could not become a TrialCandidate
type NormalizationError struct {
	Index  int
	NCTID  string
	Reason string
}

// Error implements the error interface
func (e *NormalizationError) Error() string {
	if e.NCTID != "" {
		return fmt.Sprintf("normalizing study %s: %s", e.NCTID, e.Reason)
	}
	return fmt.Sprintf("normalizing study at index %d: %s", e.Index, e.Reason)
}

// Record converts the error into page metadata
func (e *NormalizationError) Record() domain.RecordError {
	return domain.RecordError{Index: e.Index, NCTID: e.NCTID, Reason: e.Reason}
}

// Normalize decodes one raw study record. Missing optional fields get defaults;
// a missing trial identifier or undecodable record is a NormalizationError.
func Normalize(index int, raw json.RawMessage) (domain.TrialCandidate, error) {
	var s study
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.TrialCandidate{}, &NormalizationError{Index: index, Reason: "malformed record"}
	}
	p := s.ProtocolSection

	nctID := strings.TrimSpace(p.IdentificationModule.NCTID)
	if nctID == "" {
		return domain.TrialCandidate{}, &NormalizationError{Index: index, Reason: "missing nctId"}
	}

	title := firstNonEmpty(p.IdentificationModule.BriefTitle, p.IdentificationModule.OfficialTitle, nctID)
	inclusion, exclusion := ParseEligibilityText(p.EligibilityModule.EligibilityCriteria)

	candidate := domain.TrialCandidate{
		NCTID:         nctID,
		Title:         title,
		BriefSummary:  strings.TrimSpace(p.DescriptionModule.BriefSummary),
		Status:        firstNonEmpty(strings.ToUpper(strings.TrimSpace(p.StatusModule.OverallStatus)), domain.StatusUnknown),
		Phase:         normalizePhase(p.DesignModule.Phases),
		StudyType:     firstNonEmpty(strings.ToUpper(strings.TrimSpace(p.DesignModule.StudyType)), domain.StatusUnknown),
		Conditions:    nonEmpty(p.ConditionsModule.Conditions),
		Interventions: []string{},
		Sponsor:       strings.TrimSpace(p.SponsorCollaboratorsModule.LeadSponsor.Name),
		Eligibility: domain.EligibilityCriteria{
			Inclusion:         inclusion,
			Exclusion:         exclusion,
			MinAgeYears:       ParseAge(p.EligibilityModule.MinimumAge),
			MaxAgeYears:       ParseAge(p.EligibilityModule.MaximumAge),
			Sex:               normalizeSex(p.EligibilityModule.Sex),
			HealthyVolunteers: p.EligibilityModule.HealthyVolunteers,
		},
		Locations: []domain.TrialLocation{},
		URL:       StudyURLPrefix + nctID,
	}

	for _, iv := range p.ArmsInterventionsModule.Interventions {
		name := strings.TrimSpace(iv.Name)
		if name == "" {
			continue
		}
		if t := strings.TrimSpace(iv.Type); t != "" {
			name = strings.ToUpper(t) + ": " + name
		}
		candidate.Interventions = append(candidate.Interventions, name)
	}

	for _, loc := range p.ContactsLocationsModule.Locations {
		tl := domain.TrialLocation{
			Facility: strings.TrimSpace(loc.Facility),
			City:     strings.TrimSpace(loc.City),
			State:    strings.TrimSpace(loc.State),
			Country:  strings.TrimSpace(loc.Country),
			Status:   strings.ToUpper(strings.TrimSpace(loc.Status)),
		}
		if loc.GeoPoint != nil {
			lat, lon := loc.GeoPoint.Lat, loc.GeoPoint.Lon
			tl.Latitude, tl.Longitude = &lat, &lon
		}
		candidate.Locations = append(candidate.Locations, tl)
	}

	return candidate, nil
}

// ParseAge converts registry age strings such as "18 Years", "6 Months" or "30 Days"
// to years. Empty or unparseable values mean no bound.
func ParseAge(s string) *float64 {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(fields) == 0 {
		return nil
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || n < 0 {
		return nil
	}
	unit := "years"
	if len(fields) > 1 {
		unit = fields[1]
	}
	var years float64
	switch {
	case strings.HasPrefix(unit, "year"):
		years = n
	case strings.HasPrefix(unit, "month"):
		years = n / 12
	case strings.HasPrefix(unit, "week"):
		years = n / 52
	case strings.HasPrefix(unit, "day"):
		years = n / 365
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "minute"):
		years = 0
	default:
		return nil
	}
	return &years
}

// ParseEligibilityText splits free-text eligibility criteria into inclusion and exclusion
// bullet lists. Lines that continue a bullet are appended to it; bullets seen before any
// section header count as inclusion.
func ParseEligibilityText(text string) (inclusion, exclusion []string) {
	inclusion, exclusion = []string{}, []string{}
	if strings.TrimSpace(text) == "" {
		return inclusion, exclusion
	}

	section := &inclusion
	var current *[]string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			current = nil
			continue
		}

		switch sectionHeader(line) {
		case "exclusion":
			section, current = &exclusion, nil
			continue
		case "inclusion":
			section, current = &inclusion, nil
			continue
		}

		if item, ok := bulletText(line); ok {
			if item == "" {
				continue
			}
			*section = append(*section, item)
			current = section
			continue
		}

		if current != nil && len(*current) > 0 {
			last := len(*current) - 1
			(*current)[last] = (*current)[last] + " " + line
			continue
		}
		*section = append(*section, line)
		current = section
	}
	return inclusion, exclusion
}

// sectionHeader returns "inclusion" or "exclusion" when line opens that section.
// Markdown emphasis and heading marks around the header are ignored.
func sectionHeader(line string) string {
	if _, ok := bulletText(line); ok && !strings.HasPrefix(line, "**") {
		return ""
	}
	h := strings.ToLower(strings.Trim(line, "*_#: \t"))
	if len(strings.Fields(h)) > 4 || strings.ContainsAny(h, ".,;") {
		return ""
	}
	for _, kind := range []string{"inclusion", "exclusion"} {
		if h == kind || strings.HasSuffix(h, kind+" criteria") {
			return kind
		}
	}
	return ""
}

// bulletText strips a leading bullet marker: -, *, • or a number followed by "." or ")"
// and whitespace, so decimals such as "1.5 mg/kg" are not taken for numbered items.
func bulletText(line string) (string, bool) {
	for _, marker := range []string{"-", "*", "•"} {
		if strings.HasPrefix(line, marker) {
			return strings.TrimSpace(strings.TrimPrefix(line, marker)), true
		}
	}
	i := 0
	for i < len(line) && i < 4 && unicode.IsDigit(rune(line[i])) {
		i++
	}
	if i == 0 || i >= len(line) || (line[i] != '.' && line[i] != ')') {
		return "", false
	}
	rest := line[i+1:]
	if rest != "" && !unicode.IsSpace(rune(rest[0])) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
