package models

import "time"

type TermKind string

const (
	TermCondition  TermKind = "condition"
	TermMedication TermKind = "medication"
	TermAllergy    TermKind = "allergy"
)

// Valid reports whether k is one of the known kinds.
func (k TermKind) Valid() bool {
	switch k {
	case TermCondition, TermMedication, TermAllergy:
		return true
	}
	return false
}

// Term is a condition, medication or allergy entry owned by one profile.
// OnsetDate applies to conditions, Dose to medications and Criticality to
// allergies.
type Term struct {
	ID        string
	ProfileID string
	Kind      TermKind
	Slug      string
	Name      string
	System    string
	Code      string
	Note      string

	OnsetDate   *time.Time
	Dose        string
	Criticality string

	CreatedAt time.Time
	UpdatedAt time.Time
}
