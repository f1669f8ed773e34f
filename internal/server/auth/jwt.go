// Package auth issues and checks the owner access tokens carried in gRPC
// metadata. Tokens come from the identity provider and share its HS256 secret.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the owner the token acts for.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID string `json:"owner_id"`
}

// GenerateToken signs an owner access token. The server itself only needs
// this for operator tooling and tests.
func GenerateToken(ownerID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		OwnerID: ownerID,
	})

	return token.SignedString(secretKey)
}

// GetOwnerIDFromToken validates tokenString and returns the owner id.
// Expired tokens return common.ErrTokenExpired, anything else
// common.ErrorUnauthorized.
func GetOwnerIDFromToken(tokenString string, secretKey []byte) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", common.ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
	}

	if !token.Valid || claims.OwnerID == "" {
		return "", common.ErrorUnauthorized
	}

	return claims.OwnerID, nil
}
