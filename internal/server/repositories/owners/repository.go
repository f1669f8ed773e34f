// Package owners stores owner contact details used for notifications.
package owners

import (
	"context"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type Repository interface {
	// Upsert creates the owner or replaces its contact fields.
	Upsert(ctx context.Context, o *models.Owner) error
	Get(ctx context.Context, id string) (*models.Owner, error)
}
