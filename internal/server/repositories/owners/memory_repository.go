package owners

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

type MemoryRepository struct {
	mu     sync.RWMutex
	owners map[string]models.Owner
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{owners: make(map[string]models.Owner)}
}

func (r *MemoryRepository) Upsert(_ context.Context, o *models.Owner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[o.ID]; ok {
		o.CreatedAt = prev.CreatedAt
	} else {
		o.CreatedAt = time.Now().UTC()
	}
	r.owners[o.ID] = *o
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*models.Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.owners[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &o, nil
}
