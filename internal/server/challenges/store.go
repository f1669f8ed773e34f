// Package challenges holds short-lived one-shot records keyed by an opaque
// handle. A record can be taken at most once and never after it expires.
package challenges

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
)

const handleBytes = 16

type record[T any] struct {
	value     T
	expiresAt time.Time
}

type Store[T any] struct {
	mu      sync.Mutex
	records map[string]record[T]
	now     func() time.Time
}

func NewStore[T any]() *Store[T] {
	return &Store[T]{records: make(map[string]record[T]), now: time.Now}
}

// WithClock replaces the time source.
func (s *Store[T]) WithClock(now func() time.Time) *Store[T] {
	s.now = now
	return s
}

// Put stores v under key until ttl elapses, replacing any previous record.
func (s *Store[T]) Put(key string, v T, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.records[key] = record[T]{value: v, expiresAt: now.Add(ttl)}
}

// Issue stores v under a fresh random handle and returns the handle.
func (s *Store[T]) Issue(v T, ttl time.Duration) (string, error) {
	handle, err := common.MakeRandHexString(handleBytes)
	if err != nil {
		return "", err
	}
	s.Put(handle, v, ttl)
	return handle, nil
}

// Take removes and returns the record for key.
func (s *Store[T]) Take(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key]
	if !ok {
		var zero T
		return zero, false
	}
	delete(s.records, key)
	if !s.now().Before(r.expiresAt) {
		var zero T
		return zero, false
	}
	return r.value, true
}

func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store[T]) sweep(now time.Time) {
	for k, r := range s.records {
		if !now.Before(r.expiresAt) {
			delete(s.records, k)
		}
	}
}
