package owners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/dbx"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, o *models.Owner) error {
	query := `
		INSERT INTO owners (id, email, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, phone = EXCLUDED.phone
		RETURNING created_at
	`
	if err := r.db.QueryRowContext(ctx, query, o.ID, o.Email, o.Phone).Scan(&o.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Owner, error) {
	o := &models.Owner{}
	err := r.db.QueryRowContext(ctx, `SELECT id, email, phone, created_at FROM owners WHERE id = $1`, id).
		Scan(&o.ID, &o.Email, &o.Phone, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return o, nil
}
