package profiles

import (
	"context"
	"database/sql"
	"encoding/json"
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

const selectColumns = `
		SELECT id, public_id, owner_id, revoked, break_glass_allowed,
		       alias, age_range, critical_allergies, critical_conditions, critical_meds, ice_phone,
		       tier_c_ciphertext, tier_c_nonce, tier_c_wrapped_dek,
		       revocation_hash, revocation_salt, created_at, updated_at
		FROM profiles`

func (r *PostgresRepository) Create(ctx context.Context, p *models.Profile) error {
	allergies, conditions, meds, err := encodeLists(p)
	if err != nil {
		return err
	}
	ct, nonce, wrapped := tierCArgs(p.TierC)

	query := `
		INSERT INTO profiles (id, public_id, owner_id, break_glass_allowed,
		                      alias, age_range, critical_allergies, critical_conditions, critical_meds, ice_phone,
		                      tier_c_ciphertext, tier_c_nonce, tier_c_wrapped_dek,
		                      revocation_hash, revocation_salt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		p.ID, p.PublicID, p.OwnerID, p.BreakGlassAllowed,
		p.Alias, p.AgeRange, allergies, conditions, meds, p.ICEPhone,
		ct, nonce, wrapped,
		p.RevocationHash, p.RevocationSalt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByPublicID(ctx context.Context, publicID string) (*models.Profile, error) {
	return r.getOne(ctx, selectColumns+` WHERE public_id = $1 AND NOT revoked`, publicID)
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	return r.getOne(ctx, selectColumns+` WHERE id = $1`, id)
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) SetTierC(ctx context.Context, id string, c *models.TierC) error {
	if c != nil && !c.Complete() {
		return fmt.Errorf("%w: incomplete tier c envelope", common.ErrorValidation)
	}
	ct, nonce, wrapped := tierCArgs(c)
	query := `
		UPDATE profiles
		SET tier_c_ciphertext = $2, tier_c_nonce = $3, tier_c_wrapped_dek = $4, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, id, ct, nonce, wrapped)
}

func (r *PostgresRepository) UpdateTierE(ctx context.Context, p *models.Profile) error {
	allergies, conditions, meds, err := encodeLists(p)
	if err != nil {
		return err
	}
	query := `
		UPDATE profiles
		SET alias = $2, age_range = $3, critical_allergies = $4, critical_conditions = $5,
		    critical_meds = $6, ice_phone = $7, break_glass_allowed = $8, updated_at = now()
		WHERE id = $1
	`
	return r.execOne(ctx, query, p.ID, p.Alias, p.AgeRange, allergies, conditions, meds, p.ICEPhone, p.BreakGlassAllowed)
}

func (r *PostgresRepository) Revoke(ctx context.Context, id, oldPublicID, newPublicID string) error {
	query := `
		UPDATE profiles
		SET public_id = $3, revoked = TRUE, updated_at = now()
		WHERE id = $1 AND public_id = $2 AND NOT revoked
	`
	return r.execOne(ctx, query, id, oldPublicID, newPublicID)
}

func (r *PostgresRepository) Reinstate(ctx context.Context, id, newPublicID string) error {
	query := `
		UPDATE profiles
		SET public_id = $2, revoked = FALSE, updated_at = now()
		WHERE id = $1 AND revoked
	`
	return r.execOne(ctx, query, id, newPublicID)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

// execOne runs an UPDATE that must touch exactly one row; zero rows is
// common.ErrorNotFound.
func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if dbx.IsUniqueViolation(err, "") {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*models.Profile, error) {
	p := &models.Profile{}
	var allergies, conditions, meds []byte
	var ct, nonce, wrapped []byte

	err := s.Scan(&p.ID, &p.PublicID, &p.OwnerID, &p.Revoked, &p.BreakGlassAllowed,
		&p.Alias, &p.AgeRange, &allergies, &conditions, &meds, &p.ICEPhone,
		&ct, &nonce, &wrapped,
		&p.RevocationHash, &p.RevocationSalt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	for _, l := range []struct {
		raw []byte
		dst *[]string
	}{{allergies, &p.CriticalAllergies}, {conditions, &p.CriticalConditions}, {meds, &p.CriticalMeds}} {
		if len(l.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(l.raw, l.dst); err != nil {
			return nil, fmt.Errorf("decode critical list: %w", err)
		}
	}

	if ct != nil || nonce != nil || wrapped != nil {
		p.TierC = &models.TierC{Ciphertext: ct, Nonce: nonce, WrappedDEK: wrapped}
	}
	return p, nil
}

func encodeLists(p *models.Profile) (allergies, conditions, meds string, err error) {
	enc := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		return string(b), err
	}
	if allergies, err = enc(p.CriticalAllergies); err != nil {
		return
	}
	if conditions, err = enc(p.CriticalConditions); err != nil {
		return
	}
	meds, err = enc(p.CriticalMeds)
	return
}

func tierCArgs(c *models.TierC) (ct, nonce, wrapped any) {
	if c == nil {
		return nil, nil, nil
	}
	return c.Ciphertext, c.Nonce, c.WrappedDEK
}
