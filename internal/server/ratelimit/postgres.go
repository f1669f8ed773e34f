package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/dbx"
)

// PostgresLimiter shares fixed-window counters between instances through
// the rate_limits table. Each call is one atomic upsert.
type PostgresLimiter struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewPostgresLimiter(db dbx.DBTX) *PostgresLimiter {
	return &PostgresLimiter{db: db, now: time.Now}
}

func (l *PostgresLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := l.now().UTC()
	query := `
		INSERT INTO rate_limits (key, count, reset_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count    = CASE WHEN rate_limits.reset_at <= $3 THEN 1 ELSE rate_limits.count + 1 END,
			reset_at = CASE WHEN rate_limits.reset_at <= $3 THEN EXCLUDED.reset_at ELSE rate_limits.reset_at END
		RETURNING count, reset_at
	`
	var (
		count   int
		resetAt time.Time
	)
	if err := l.db.QueryRowContext(ctx, query, key, now.Add(window), now).Scan(&count, &resetAt); err != nil {
		return Decision{}, fmt.Errorf("db error: %w", err)
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{OK: count <= limit, Remaining: remaining, ResetAt: resetAt}, nil
}

// Purge deletes rows whose window ended before cutoff.
func (l *PostgresLimiter) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
