// Package ratelimit bounds request rates per (route, actor) key with fixed
// windows. Call sites depend only on Limiter so the backing store can be
// swapped between a process-local map and a shared Postgres table.
package ratelimit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	OK        bool
	Remaining int
	ResetAt   time.Time
}

// Limiter admits up to limit calls per key per window. Windows are fixed,
// not sliding: a burst straddling two windows can admit 2*limit-1 calls.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Check turns a rejected decision into a *common.RateLimitError.
func Check(ctx context.Context, l Limiter, key string, limit int, window time.Duration) error {
	d, err := l.Allow(ctx, key, limit, window)
	if err != nil {
		return err
	}
	if !d.OK {
		return &common.RateLimitError{ResetAt: d.ResetAt}
	}
	return nil
}

// ClientIP picks the actor key for a request: the first X-Forwarded-For
// entry, then X-Real-IP, then common.UnknownActor.
func ClientIP(h http.Header) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return common.UnknownActor
}
