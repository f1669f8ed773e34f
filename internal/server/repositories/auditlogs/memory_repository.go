package auditlogs

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	nextID  int64
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{now: time.Now}
}

func (r *MemoryRepository) Insert(_ context.Context, e *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	e.ID = r.nextID
	e.CreatedAt = r.now().UTC()
	r.entries = append(r.entries, *e)
	return nil
}

func (r *MemoryRepository) ListByProfile(_ context.Context, profileID string, since time.Time, limit int) ([]*models.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.AuditEntry
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		e := r.entries[i]
		if e.ProfileID == profileID && e.CreatedAt.After(since) {
			out = append(out, &e)
		}
	}
	return out, nil
}
