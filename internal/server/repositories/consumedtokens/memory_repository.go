package consumedtokens

import (
	"context"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]time.Time)}
}

func (r *MemoryRepository) Consume(_ context.Context, fingerprint string, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[fingerprint]; ok {
		return false, nil
	}
	r.entries[fingerprint] = expiresAt
	return true, nil
}

func (r *MemoryRepository) Purge(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k, exp := range r.entries {
		if exp.Before(cutoff) {
			delete(r.entries, k)
			n++
		}
	}
	return n, nil
}
