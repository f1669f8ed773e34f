// Package models defines server-side data models persisted in the database.
package models

import "time"

// TierC is the sealed envelope of a profile's sensitive payload. The three
// parts are written and cleared together.
type TierC struct {
	Ciphertext []byte
	Nonce      []byte
	WrappedDEK []byte
}

// Complete reports whether all three envelope parts are present.
func (t *TierC) Complete() bool {
	return t != nil && len(t.Ciphertext) > 0 && len(t.Nonce) > 0 && len(t.WrappedDEK) > 0
}

// Profile is the identity anchor behind a tag. Tier E fields are public
// display data; TierC is nil when no sensitive payload has been sealed.
type Profile struct {
	ID                string
	PublicID          string
	OwnerID           string
	Revoked           bool
	BreakGlassAllowed bool

	Alias              string
	AgeRange           string
	CriticalAllergies  []string
	CriticalConditions []string
	CriticalMeds       []string
	ICEPhone           string

	TierC *TierC

	RevocationHash []byte
	RevocationSalt []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Owner is the account a profile belongs to. Contact fields feed the
// notification dispatcher and may be empty.
type Owner struct {
	ID        string
	Email     string
	Phone     string
	CreatedAt time.Time
}
