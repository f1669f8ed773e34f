package ratelimit

import (
	"context"
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps counters in process memory. It suits a single
// instance; several instances need PostgresLimiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{buckets: make(map[string]*bucket), now: time.Now}
}

// WithClock replaces time.Now, for tests.
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now, window)

	b, ok := l.buckets[key]
	if !ok || !b.resetAt.After(now) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		l.buckets[key] = b
		return Decision{OK: true, Remaining: limit - 1, ResetAt: b.resetAt}, nil
	}
	if b.count >= limit {
		return Decision{OK: false, Remaining: 0, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Decision{OK: true, Remaining: limit - b.count, ResetAt: b.resetAt}, nil
}

// sweep drops expired buckets at most once per window. Callers hold l.mu.
func (l *MemoryLimiter) sweep(now time.Time, window time.Duration) {
	if now.Sub(l.lastSweep) < window {
		return
	}
	l.lastSweep = now
	for k, b := range l.buckets {
		if !b.resetAt.After(now) {
			delete(l.buckets, k)
		}
	}
}

// Len returns the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
