// Package terms stores condition, medication and allergy entries. Slugs are
// unique per kind across all profiles.
package terms

import (
	"context"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

// SlugConstraint names the (kind, slug) uniqueness constraint.
const SlugConstraint = "medical_terms_kind_slug_key"

type Repository interface {
	// Create inserts t. A slug already taken for t.Kind returns
	// common.ErrorAlreadyExists.
	Create(ctx context.Context, t *models.Term) error
	// SlugOwner returns the profile id holding kind/slug, or
	// common.ErrorNotFound.
	SlugOwner(ctx context.Context, kind models.TermKind, slug string) (string, error)
	// ProfileHoldsBase reports whether profileID already has a kind entry
	// slugged base or base-<4 hex>.
	ProfileHoldsBase(ctx context.Context, profileID string, kind models.TermKind, base string) (bool, error)
	Get(ctx context.Context, profileID, id string) (*models.Term, error)
	Update(ctx context.Context, t *models.Term) error
	Delete(ctx context.Context, profileID, id string) error
	// ListByProfile returns entries ordered by name; an empty kind means all.
	ListByProfile(ctx context.Context, profileID string, kind models.TermKind) ([]*models.Term, error)
}
