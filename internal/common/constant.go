// Package common contains shared constants and sentinel errors.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the owner
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// RedactedMarker replaces any free-text value that must not be persisted.
const RedactedMarker = "[REDACTED]"

// UnknownActor is the shared rate-limit bucket for unattributable traffic.
const UnknownActor = "unknown"
