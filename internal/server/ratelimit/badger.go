package ratelimit

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerConflictRetries = 64

// BadgerLimiter keeps counters in an embedded Badger store so a single
// instance keeps its windows across restarts. Keys expire with their window.
type BadgerLimiter struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerLimiter opens the store under dir. An empty dir keeps the store
// in memory.
func NewBadgerLimiter(dir string) (*BadgerLimiter, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open rate limit store: %w", err)
	}
	return &BadgerLimiter{db: db, now: time.Now}, nil
}

// WithClock replaces time.Now, for tests.
func (l *BadgerLimiter) WithClock(now func() time.Time) *BadgerLimiter {
	l.now = now
	return l
}

func (l *BadgerLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	var d Decision
	var err error
	for i := 0; i < badgerConflictRetries; i++ {
		if err = ctx.Err(); err != nil {
			return Decision{}, err
		}
		err = l.db.Update(func(txn *badger.Txn) error {
			d, err = l.allow(txn, []byte("rl:"+key), limit, window)
			return err
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}
	return d, nil
}

func (l *BadgerLimiter) allow(txn *badger.Txn, key []byte, limit int, window time.Duration) (Decision, error) {
	now := l.now()

	count, resetAt, err := readBucket(txn, key)
	if err != nil {
		return Decision{}, err
	}
	if count == 0 || !resetAt.After(now) {
		count, resetAt = 0, now.Add(window)
	}
	if count >= limit {
		return Decision{OK: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	count++

	e := badger.NewEntry(key, encodeBucket(count, resetAt)).WithTTL(resetAt.Sub(now) + time.Second)
	if err := txn.SetEntry(e); err != nil {
		return Decision{}, err
	}
	return Decision{OK: true, Remaining: limit - count, ResetAt: resetAt}, nil
}

func readBucket(txn *badger.Txn, key []byte) (int, time.Time, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(val) != 16 {
		// Unreadable value: start a fresh window.
		return 0, time.Time{}, nil
	}
	count := int(binary.BigEndian.Uint64(val[:8]))
	resetAt := time.Unix(0, int64(binary.BigEndian.Uint64(val[8:])))
	return count, resetAt, nil
}

func encodeBucket(count int, resetAt time.Time) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(count))
	binary.BigEndian.PutUint64(b[8:], uint64(resetAt.UnixNano()))
	return b
}

// Close releases the store.
func (l *BadgerLimiter) Close() error {
	return l.db.Close()
}
