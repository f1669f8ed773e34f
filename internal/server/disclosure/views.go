package disclosure

import (
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

// PublicView is the Tier E projection of a profile. It has no field that
// could carry envelope data.
type PublicView struct {
	PublicID           string   `json:"publicId"`
	Alias              *string  `json:"alias"`
	AgeRange           string   `json:"ageRange"`
	CriticalAllergies  []string `json:"criticalAllergies"`
	CriticalConditions []string `json:"criticalConditions"`
	CriticalMeds       []string `json:"criticalMeds"`
	ICEPhone           string   `json:"icePhone"`
	NFC                *NFCInfo `json:"nfc,omitempty"`
}

type NFCInfo struct {
	Flags   []string `json:"flags"`
	Counter *int64   `json:"counter,omitempty"`
}

func newPublicView(p *models.Profile) *PublicView {
	v := &PublicView{
		PublicID:           p.PublicID,
		AgeRange:           p.AgeRange,
		CriticalAllergies:  nonNil(p.CriticalAllergies),
		CriticalConditions: nonNil(p.CriticalConditions),
		CriticalMeds:       nonNil(p.CriticalMeds),
		ICEPhone:           p.ICEPhone,
	}
	if p.Alias != "" {
		alias := p.Alias
		v.Alias = &alias
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return append([]string(nil), s...)
}

// AccessGrant is returned once per break-glass request.
type AccessGrant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// RedactedField names one Tier C field. Its value is only released through
// RevealField with Handle.
type RedactedField struct {
	Name     string `json:"name"`
	Redacted bool   `json:"redacted"`
	Handle   string `json:"handle"`
}

type DisclosureMeta struct {
	Redacted  bool      `json:"redacted"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Disclosure is the break-glass read response: a descriptor of available
// fields, never their values.
type Disclosure struct {
	Fields []RedactedField `json:"fields"`
	Meta   DisclosureMeta  `json:"meta"`
}

// RevealedField is the plaintext of exactly one Tier C field.
type RevealedField struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}
