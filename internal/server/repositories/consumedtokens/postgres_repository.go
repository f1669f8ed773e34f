package consumedtokens

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Consume(ctx context.Context, fingerprint string, expiresAt time.Time) (bool, error) {
	query := `
		INSERT INTO consumed_tokens (fingerprint, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO NOTHING
	`
	res, err := r.db.ExecContext(ctx, query, fingerprint, expiresAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM consumed_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
