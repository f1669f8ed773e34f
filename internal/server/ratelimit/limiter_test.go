package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Allow(ctx, "e:pub:1.2.3.4", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, d.OK, "call %d", i+1)
		assert.Equal(t, 5-(i+1), d.Remaining)
	}

	d, err := l.Allow(ctx, "e:pub:1.2.3.4", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, d.OK, "limit+1 call must be rejected")
	assert.Equal(t, 0, d.Remaining)
	resetAt := d.ResetAt

	clock.Advance(30 * time.Second)
	d, _ = l.Allow(ctx, "e:pub:1.2.3.4", 5, time.Minute)
	assert.False(t, d.OK)
	assert.Equal(t, resetAt, d.ResetAt, "rejections do not extend the window")

	clock.Advance(30 * time.Second)
	d, _ = l.Allow(ctx, "e:pub:1.2.3.4", 5, time.Minute)
	assert.True(t, d.OK, "fresh window after resetAt")
	assert.Equal(t, 4, d.Remaining)
	assert.True(t, d.ResetAt.After(resetAt))
}

func TestMemoryLimiter_KeysIndependent(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	d, _ := l.Allow(ctx, "a", 1, time.Minute)
	assert.True(t, d.OK)
	d, _ = l.Allow(ctx, "a", 1, time.Minute)
	assert.False(t, d.OK)
	d, _ = l.Allow(ctx, "b", 1, time.Minute)
	assert.True(t, d.OK)
}

func TestMemoryLimiter_ConcurrentSameKey(t *testing.T) {
	l := NewMemoryLimiter()
	ctx := context.Background()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d, _ := l.Allow(ctx, "c:unknown", 20, time.Minute); d.OK {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 20, ok.Load())
}

func TestMemoryLimiter_SweepsExpired(t *testing.T) {
	clock := &manualClock{now: time.Now()}
	l := NewMemoryLimiter().WithClock(clock.Now)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.Allow(ctx, k, 1, time.Minute)
	}
	assert.Equal(t, 3, l.Len())

	clock.Advance(2 * time.Minute)
	_, _ = l.Allow(ctx, "d", 1, time.Minute)
	assert.Equal(t, 1, l.Len())
}

type stubLimiter struct {
	d   Decision
	err error
}

func (s stubLimiter) Allow(context.Context, string, int, time.Duration) (Decision, error) {
	return s.d, s.err
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	reset := time.Now().Add(time.Minute)

	assert.NoError(t, Check(ctx, stubLimiter{d: Decision{OK: true}}, "k", 1, time.Minute))

	err := Check(ctx, stubLimiter{d: Decision{OK: false, ResetAt: reset}}, "k", 1, time.Minute)
	require.ErrorIs(t, err, common.ErrRateLimited)
	var rl *common.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, reset, rl.ResetAt)

	boom := errors.New("boom")
	assert.ErrorIs(t, Check(ctx, stubLimiter{err: boom}, "k", 1, time.Minute), boom)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1", "X-Real-IP": "10.0.0.2"}, "203.0.113.7"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"empty first hop", map[string]string{"X-Forwarded-For": " ,10.0.0.1", "X-Real-IP": "198.51.100.4"}, "198.51.100.4"},
		{"nothing", nil, common.UnknownActor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(h))
		})
	}
}
