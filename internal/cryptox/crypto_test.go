package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashSecret_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-16byt")
	assert.Equal(t, HashSecret("a1b2c3d4", salt), HashSecret("a1b2c3d4", salt))
	assert.Len(t, HashSecret("a1b2c3d4", salt), 32)
}

func TestNewSecretHash_RandomSalt(t *testing.T) {
	h1, s1 := NewSecretHash("a1b2c3d4")
	h2, s2 := NewSecretHash("a1b2c3d4")
	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, h1, h2)
}

func TestVerifySecret(t *testing.T) {
	hash, salt := NewSecretHash("a1b2c3d4e5f60718")

	assert.True(t, VerifySecret("a1b2c3d4e5f60718", hash, salt))
	assert.False(t, VerifySecret("a1b2c3d4e5f60719", hash, salt))
	assert.False(t, VerifySecret("", hash, salt))
	assert.False(t, VerifySecret("a1b2c3d4e5f60718", nil, salt))
	assert.False(t, VerifySecret("a1b2c3d4e5f60718", hash, nil))
}

func TestDeriveKey_LabelsSeparate(t *testing.T) {
	root := make([]byte, KeySize)
	a := DeriveKey(root, "sign", KeySize)
	b := DeriveKey(root, "seal", KeySize)
	assert.Len(t, a, KeySize)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, DeriveKey(root, "sign", KeySize))
}

func TestParseHexKey(t *testing.T) {
	k, err := ParseHexKey("TOKEN_KEY_HEX", testKEK, KeySize)
	assert.NoError(t, err)
	assert.Len(t, k, KeySize)

	_, err = ParseHexKey("TOKEN_KEY_HEX", "", KeySize)
	assert.ErrorContains(t, err, "TOKEN_KEY_HEX is not set")
}
