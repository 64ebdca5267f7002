// Package domain contains the core entities shared by the trial matching components:
// patient profiles, normalized trial candidates, structured reasoning results and
// ranked match results, plus the error taxonomy used across both upstream gateways.
package domain

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Sex values accepted for patients and used for trial sex restrictions
const (
	SexAll     = "ALL"
	SexMale    = "MALE"
	SexFemale  = "FEMALE"
	SexUnknown = "UNKNOWN"
)

// Location describes where a patient is. Only city, state and country are clinical-context safe.
type Location struct {
	City      string   `json:"city,omitempty" yaml:"city"`
	State     string   `json:"state,omitempty" yaml:"state"`
	Country   string   `json:"country,omitempty" yaml:"country"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude" validate:"omitempty,gte=-180,lte=180"`
}

// HasCoordinates reports whether both coordinates are present
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// PatientIdentity holds identifying fields. None of these are ever sent upstream or logged.
type PatientIdentity struct {
	Name             string `json:"name,omitempty" yaml:"name"`
	Email            string `json:"email,omitempty" yaml:"email"`
	Phone            string `json:"phone,omitempty" yaml:"phone"`
	Address          string `json:"address,omitempty" yaml:"address"`
	DateOfBirth      string `json:"date_of_birth,omitempty" yaml:"date_of_birth"`
	MRN              string `json:"mrn,omitempty" yaml:"mrn"`
	SSN              string `json:"ssn,omitempty" yaml:"ssn"`
	InsuranceID      string `json:"insurance_id,omitempty" yaml:"insurance_id"`
	EmergencyContact string `json:"emergency_contact,omitempty" yaml:"emergency_contact"`
}

// Values returns the non-empty identity values, used for free-text redaction
func (p PatientIdentity) Values() []string {
	var out []string
	for _, v := range []string{p.Name, p.Email, p.Phone, p.Address, p.DateOfBirth, p.MRN, p.SSN, p.InsuranceID, p.EmergencyContact} {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// PatientProfile is the immutable input to one match request. Either structured
// conditions or free-text clinical notes describe the patient.
type PatientProfile struct {
	Age            int               `json:"age" yaml:"age" validate:"gte=0,lte=130"`
	Sex            string            `json:"sex" yaml:"sex"`
	Conditions     []string          `json:"conditions" yaml:"conditions"`
	Medications    []string          `json:"medications,omitempty" yaml:"medications"`
	Allergies      []string          `json:"allergies,omitempty" yaml:"allergies"`
	MedicalHistory []string          `json:"medical_history,omitempty" yaml:"medical_history"`
	LabValues      map[string]string `json:"lab_values,omitempty" yaml:"lab_values"`
	SmokingStatus  string            `json:"smoking_status,omitempty" yaml:"smoking_status"`
	AlcoholUse     string            `json:"alcohol_use,omitempty" yaml:"alcohol_use"`
	ClinicalNotes  string            `json:"clinical_notes,omitempty" yaml:"clinical_notes"`
	Location       *Location         `json:"location,omitempty" yaml:"location"`
	Identity       PatientIdentity   `json:"identity,omitempty" yaml:"identity"`
}

// NormalizedSex maps free-form sex values onto the MALE/FEMALE/UNKNOWN set
func (p *PatientProfile) NormalizedSex() string {
	switch strings.ToUpper(strings.TrimSpace(p.Sex)) {
	case "M", "MALE", "MAN":
		return SexMale
	case "F", "FEMALE", "WOMAN":
		return SexFemale
	default:
		return SexUnknown
	}
}

// HasConditions reports whether at least one structured condition is non-blank
func (p *PatientProfile) HasConditions() bool {
	for _, c := range p.Conditions {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

// Validate checks the profile has enough clinical content to match against
func (p *PatientProfile) Validate() error {
	return ValidateStruct(p)
}

const tagConditionsOrNotes = "conditions_or_notes"

func patientStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(PatientProfile)
	if !p.HasConditions() && strings.TrimSpace(p.ClinicalNotes) == "" {
		sl.ReportError(p.Conditions, "conditions", "Conditions", tagConditionsOrNotes, "")
	}
}
