package terms

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const selectColumns = `
		SELECT id, profile_id, kind, slug, name, system, code, note, onset_date, dose, criticality, created_at, updated_at
		FROM medical_terms`

func (r *PostgresRepository) Create(ctx context.Context, t *models.Term) error {
	query := `
		INSERT INTO medical_terms (id, profile_id, kind, slug, name, system, code, note, onset_date, dose, criticality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		t.ID, t.ProfileID, string(t.Kind), t.Slug, t.Name, t.System, t.Code, t.Note,
		nullTime(t.OnsetDate), t.Dose, t.Criticality,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, SlugConstraint) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SlugOwner(ctx context.Context, kind models.TermKind, slug string) (string, error) {
	var profileID string
	err := r.db.QueryRowContext(ctx, `SELECT profile_id FROM medical_terms WHERE kind = $1 AND slug = $2`,
		string(kind), slug).Scan(&profileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", fmt.Errorf("db error: %w", err)
	}
	return profileID, nil
}

func (r *PostgresRepository) ProfileHoldsBase(ctx context.Context, profileID string, kind models.TermKind, base string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM medical_terms
			WHERE profile_id = $1 AND kind = $2 AND (slug = $3 OR slug ~ ('^' || $3 || '-[0-9a-f]{4}$'))
		)
	`
	var held bool
	if err := r.db.QueryRowContext(ctx, query, profileID, string(kind), base).Scan(&held); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return held, nil
}

func (r *PostgresRepository) Get(ctx context.Context, profileID, id string) (*models.Term, error) {
	t, err := scanTerm(r.db.QueryRowContext(ctx, selectColumns+` WHERE id = $1 AND profile_id = $2`, id, profileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

func (r *PostgresRepository) Update(ctx context.Context, t *models.Term) error {
	query := `
		UPDATE medical_terms
		SET name = $3, system = $4, code = $5, note = $6, onset_date = $7, dose = $8, criticality = $9, updated_at = now()
		WHERE id = $1 AND profile_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, t.ID, t.ProfileID, t.Name, t.System, t.Code, t.Note,
		nullTime(t.OnsetDate), t.Dose, t.Criticality)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, profileID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM medical_terms WHERE id = $1 AND profile_id = $2`, id, profileID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

func (r *PostgresRepository) ListByProfile(ctx context.Context, profileID string, kind models.TermKind) ([]*models.Term, error) {
	query := selectColumns + ` WHERE profile_id = $1 AND ($2 = '' OR kind = $2) ORDER BY kind, name`
	rows, err := r.db.QueryContext(ctx, query, profileID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Term
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTerm(s scanner) (*models.Term, error) {
	t := &models.Term{}
	var kind string
	var onset sql.NullTime
	if err := s.Scan(&t.ID, &t.ProfileID, &kind, &t.Slug, &t.Name, &t.System, &t.Code, &t.Note,
		&onset, &t.Dose, &t.Criticality, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TermKind(kind)
	if onset.Valid {
		v := onset.Time
		t.OnsetDate = &v
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
