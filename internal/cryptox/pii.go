package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dmitrijs2005/vitaltags/internal/common"
)

// MinSaltHexLen is the shortest accepted PII_SALT_HEX (16 bytes).
const MinSaltHexLen = 32

// PIIHasher turns identifiers such as IP addresses and user agents into
// stable, non-reversible digests for audit rows and log lines.
type PIIHasher struct {
	salt []byte
}

func NewPIIHasher(saltHex string) (*PIIHasher, error) {
	if len(saltHex) < MinSaltHexLen {
		return nil, fmt.Errorf("%w: PII_SALT_HEX must be at least %d hex chars", common.ErrConfig, MinSaltHexLen)
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("%w: PII_SALT_HEX is not valid hex", common.ErrConfig)
	}
	return &PIIHasher{salt: salt}, nil
}

// Hash returns hex(SHA-256(salt || value)).
func (h *PIIHasher) Hash(value string) string {
	d := sha256.New()
	d.Write(h.salt)
	d.Write([]byte(value))
	return hex.EncodeToString(d.Sum(nil))
}
