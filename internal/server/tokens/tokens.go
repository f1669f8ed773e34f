// Package tokens mints and verifies break-glass capability tokens.
//
// A token is "bg1." followed by base64url(nonce || XChaCha20-Poly1305(jwt)):
// an HS256 JWT carrying the claims, sealed so the claims are not readable by
// whoever holds the token.
package tokens

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Prefix tags the token format version.
	Prefix = "bg1."

	// ClaimsVersion is the only accepted value of the "v" claim.
	ClaimsVersion = 1

	// MinTTL is the shortest lifetime Issue will grant.
	MinTTL = time.Second

	signLabel = "vitaltags/break-glass/sign"
	sealLabel = "vitaltags/break-glass/seal"
)

var additionalData = []byte(strings.TrimSuffix(Prefix, "."))

// Claims is the closed payload of a break-glass token. Subject is the
// internal profile id, PublicID the public identifier it was issued under.
type Claims struct {
	Version  int    `json:"v"`
	Reason   string `json:"reason"`
	PublicID string `json:"pid"`
	jwt.RegisteredClaims
}

// IssuedAtTime and ExpiresAtTime return zero times when the claim is absent.
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Manager issues and verifies tokens. It holds no mutable state and is safe
// for concurrent use.
type Manager struct {
	signKey []byte
	aead    cipher.AEAD
	now     func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager derives independent signing and sealing keys from the 64-char
// hex TOKEN_KEY_HEX secret.
func NewManager(tokenKeyHex string, opts ...Option) (*Manager, error) {
	root, err := cryptox.ParseHexKey("TOKEN_KEY_HEX", tokenKeyHex, cryptox.KeySize)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(root)

	sealKey := cryptox.DeriveKey(root, sealLabel, chacha20poly1305.KeySize)
	defer common.WipeByteArray(sealKey)
	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("%w: token seal key", common.ErrConfig)
	}

	m := &Manager{
		signKey: cryptox.DeriveKey(root, signLabel, cryptox.KeySize),
		aead:    aead,
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Issue mints a token for profile sub under public id pid. ttl below one
// second is raised to one second, and the expiry is rounded up to a whole
// second so the token never lives shorter than ttl.
func (m *Manager) Issue(sub, pid string, ttl time.Duration, reason string) (string, time.Time, error) {
	if sub == "" || reason == "" {
		return "", time.Time{}, fmt.Errorf("%w: token needs subject and reason", common.ErrorValidation)
	}
	if ttl < MinTTL {
		ttl = MinTTL
	}

	now := m.now()
	exp := now.Add(ttl)
	if t := exp.Truncate(time.Second); !t.Equal(exp) {
		exp = t.Add(time.Second)
	}

	claims := Claims{
		Version:  ClaimsVersion,
		Reason:   reason,
		PublicID: pid,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}

	sealed, err := m.seal([]byte(signed))
	if err != nil {
		return "", time.Time{}, err
	}
	return sealed, exp, nil
}

// Verify returns the claims of a valid, unexpired token. Every failure
// wraps common.ErrInvalidToken; the rest of the message is for server logs.
func (m *Manager) Verify(token string) (*Claims, error) {
	signed, err := m.open(token)
	if err != nil {
		return nil, invalid(err.Error())
	}

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(string(signed), claims, func(t *jwt.Token) (any, error) {
		return m.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, invalid("expired")
		}
		return nil, invalid("jwt rejected")
	}

	switch {
	case claims.Version != ClaimsVersion:
		return nil, invalid("unknown claims version")
	case claims.Subject == "":
		return nil, invalid("missing sub")
	case claims.Reason == "":
		return nil, invalid("missing reason")
	case claims.PublicID == "":
		return nil, invalid("missing pid")
	}
	return claims, nil
}

// Fingerprint is the denylist key for a token: hex(SHA-256(token)).
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (m *Manager) seal(plaintext []byte) (string, error) {
	nonce := make([]byte, m.aead.NonceSize(), m.aead.NonceSize()+len(plaintext)+m.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := m.aead.Seal(nonce, nonce, plaintext, additionalData)
	return Prefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (m *Manager) open(token string) ([]byte, error) {
	body, ok := strings.CutPrefix(token, Prefix)
	if !ok {
		return nil, errors.New("bad prefix")
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, errors.New("bad encoding")
	}
	ns := m.aead.NonceSize()
	if len(raw) < ns+m.aead.Overhead() {
		return nil, errors.New("too short")
	}
	plain, err := m.aead.Open(nil, raw[:ns], raw[ns:], additionalData)
	if err != nil {
		return nil, errors.New("seal rejected")
	}
	return plain, nil
}

func invalid(cause string) error {
	return fmt.Errorf("%w: %s", common.ErrInvalidToken, cause)
}
