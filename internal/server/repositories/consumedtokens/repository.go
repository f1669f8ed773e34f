// Package consumedtokens is the optional single-use denylist for
// break-glass tokens, keyed by token fingerprint.
package consumedtokens

import (
	"context"
	"time"
)

type Repository interface {
	// Consume records fingerprint until expiresAt. It returns false when the
	// fingerprint was already recorded.
	Consume(ctx context.Context, fingerprint string, expiresAt time.Time) (bool, error)
	// Purge drops entries that expired before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}
