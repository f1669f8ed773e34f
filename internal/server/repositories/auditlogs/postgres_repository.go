package auditlogs

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/dbx"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (profile_id, event, reason, ip_hash, ua_hash, country)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		e.ProfileID, string(e.Event), e.Reason, e.IPHash, e.UAHash, e.Country,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListByProfile treats a non-positive limit as no limit.
func (r *PostgresRepository) ListByProfile(ctx context.Context, profileID string, since time.Time, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT id, profile_id, event, reason, ip_hash, ua_hash, country, created_at
		FROM audit_logs
		WHERE profile_id = $1 AND created_at > $2
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0)
	`
	if limit < 0 {
		limit = 0
	}
	rows, err := r.db.QueryContext(ctx, query, profileID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var event string
		if err := rows.Scan(&e.ID, &e.ProfileID, &event, &e.Reason, &e.IPHash, &e.UAHash, &e.Country, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		e.Event = models.AuditEvent(event)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
