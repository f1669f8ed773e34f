// Package cryptox contains the cryptographic building blocks of the
// disclosure core: envelope encryption of Tier C payloads, the salted PII
// hash and revocation secret hashing.
package cryptox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the length of every symmetric key handled here: the KEK, the
// token key and each DEK.
const KeySize = 32

// ParseHexKey decodes a hex secret of exactly size bytes. Errors wrap
// common.ErrConfig; the secret itself never appears in the message.
func ParseHexKey(name, s string, size int) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: %s is not set", common.ErrConfig, name)
	}
	if len(s) != size*2 {
		return nil, fmt.Errorf("%w: %s must be %d hex chars", common.ErrConfig, name, size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid hex", common.ErrConfig, name)
	}
	return b, nil
}

// DeriveKey expands secret into n bytes with HKDF-SHA256 bound to label.
// Different labels give independent keys from the same root secret.
func DeriveKey(secret []byte, label string, n int) []byte {
	out := make([]byte, n)
	r := hkdf.New(sha256.New, secret, nil, []byte(label))
	if _, err := io.ReadFull(r, out); err != nil {
		// HKDF-SHA256 only fails past 255*32 bytes of output.
		panic(fmt.Sprintf("cryptox: hkdf expand %d bytes: %v", n, err))
	}
	return out
}
