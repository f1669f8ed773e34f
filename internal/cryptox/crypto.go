package cryptox

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"golang.org/x/crypto/argon2"
)

const secretSaltSize = 16

// HashSecret derives the stored form of a revocation code with argon2id.
func HashSecret(secret string, salt []byte) []byte {
	return argon2.IDKey([]byte(secret), salt, 1, 64*1024, 4, 32)
}

// NewSecretHash hashes secret under a fresh random salt.
func NewSecretHash(secret string) (hash, salt []byte) {
	salt = common.GenerateRandByteArray(secretSaltSize)
	return HashSecret(secret, salt), salt
}

// VerifySecret recomputes the hash of candidate and compares it with stored
// in constant time.
func VerifySecret(candidate string, stored, salt []byte) bool {
	if len(stored) == 0 || len(salt) == 0 {
		return false
	}
	got := HashSecret(candidate, salt)
	defer common.WipeByteArray(got)
	return subtle.ConstantTimeCompare(got, stored) == 1
}
