// Package common defines shared constants and sentinel errors used across
// the server layers. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")
	ErrTokenExpired   = errors.New("access token expired")

	// Caller input errors.
	ErrorValidation = errors.New("validation error")
	ErrorDuplicate  = errors.New("duplicate")

	// Break-glass token errors. Every token failure collapses into this one.
	ErrInvalidToken = errors.New("invalid token")

	// Abuse control.
	ErrRateLimited = errors.New("rate limited")

	// Fatal-to-the-operation errors.
	ErrCrypto = errors.New("crypto failure")
	ErrConfig = errors.New("configuration error")
)

// RateLimitError is returned when a limiter rejects a call. It matches
// ErrRateLimited with errors.Is.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
