// Package profiles stores profiles: Tier E display fields, the sealed
// Tier C envelope and the revocation secret hash.
package profiles

import (
	"context"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Profile) error
	// GetByPublicID resolves an active profile. Revoked or unknown public ids
	// return common.ErrorNotFound.
	GetByPublicID(ctx context.Context, publicID string) (*models.Profile, error)
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Profile, error)
	// SetTierC replaces all three envelope parts at once; nil clears them.
	SetTierC(ctx context.Context, id string, c *models.TierC) error
	UpdateTierE(ctx context.Context, p *models.Profile) error
	// Revoke moves an active profile from oldPublicID to newPublicID and
	// marks it revoked in one statement.
	Revoke(ctx context.Context, id, oldPublicID, newPublicID string) error
	// Reinstate gives a revoked profile newPublicID and clears revoked.
	Reinstate(ctx context.Context, id, newPublicID string) error
}
