package cryptox

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// wrapContext is the 8-byte derivation context for the DEK wrapping key pair.
const wrapContext = "VTDEKWRA"

// NonceSize is the XChaCha20-Poly1305 nonce length stored next to each
// Tier C ciphertext.
const NonceSize = chacha20poly1305.NonceSizeX

// Envelope wraps per-record data keys under the process KEK and encrypts
// JSON payloads with them. It is safe for concurrent use.
type Envelope struct {
	publicKey  [32]byte
	privateKey [32]byte
}

// NewEnvelope parses the 64-char hex KEK and derives the wrapping key pair
// once. The same KEK always yields the same key pair, so wrapped DEKs need
// nothing stored beside them.
func NewEnvelope(kekHex string) (*Envelope, error) {
	kek, err := ParseHexKey("KEK_HEX", kekHex, KeySize)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	seed := DeriveKey(kek, wrapContext, KeySize)
	defer common.WipeByteArray(seed)

	// Same seed to key pair mapping as libsodium's crypto_box_seed_keypair.
	digest := sha512.Sum512(seed)
	e := &Envelope{}
	copy(e.privateKey[:], digest[:32])
	common.WipeByteArray(digest[:])

	pub, err := curve25519.X25519(e.privateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: derive wrapping key", common.ErrCrypto)
	}
	copy(e.publicKey[:], pub)
	return e, nil
}

// GenerateDEK returns a fresh 32-byte data encryption key.
func GenerateDEK() ([]byte, error) {
	dek := make([]byte, KeySize)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("generate dek: %w", err)
	}
	return dek, nil
}

// WrapDEK seals dek to the KEK-derived public key.
func (e *Envelope) WrapDEK(dek []byte) ([]byte, error) {
	if len(dek) != KeySize {
		return nil, fmt.Errorf("%w: dek must be %d bytes", common.ErrCrypto, KeySize)
	}
	wrapped, err := box.SealAnonymous(nil, dek, &e.publicKey, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: wrap dek", common.ErrCrypto)
	}
	return wrapped, nil
}

// UnwrapDEK opens a blob produced by WrapDEK under the same KEK.
func (e *Envelope) UnwrapDEK(wrapped []byte) ([]byte, error) {
	dek, ok := box.OpenAnonymous(nil, wrapped, &e.publicKey, &e.privateKey)
	if !ok || len(dek) != KeySize {
		return nil, fmt.Errorf("%w: unwrap dek", common.ErrCrypto)
	}
	return dek, nil
}

// EncryptJSON marshals v and seals it with XChaCha20-Poly1305 under dek
// using a fresh random nonce.
func EncryptJSON(dek []byte, v any) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode payload: %w", err)
	}
	defer common.WipeByteArray(plaintext)

	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dek must be %d bytes", common.ErrCrypto, KeySize)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// DecryptJSON opens ciphertext and unmarshals it into v. Any failure,
// including a tampered ciphertext or a nonce of the wrong length, returns
// common.ErrCrypto and leaves v untouched.
func DecryptJSON(dek, ciphertext, nonce []byte, v any) error {
	aead, err := chacha20poly1305.NewX(dek)
	if err != nil {
		return fmt.Errorf("%w: dek must be %d bytes", common.ErrCrypto, KeySize)
	}
	if len(nonce) != NonceSize {
		return fmt.Errorf("%w: nonce must be %d bytes", common.ErrCrypto, NonceSize)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("%w: open payload", common.ErrCrypto)
	}
	defer common.WipeByteArray(plaintext)

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: decode payload", common.ErrCrypto)
	}
	return nil
}
