// Package auditlogs is the append-only audit trail. Rows reference profiles
// by id only and are never updated or deleted here.
package auditlogs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, e *models.AuditEntry) error
	// ListByProfile returns entries newer than since, newest first, at most
	// limit rows. A non-positive limit returns every row.
	ListByProfile(ctx context.Context, profileID string, since time.Time, limit int) ([]*models.AuditEntry, error)
}
