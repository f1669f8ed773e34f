package profiles

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

// MemoryRepository keeps profiles in process memory. Values are copied on
// the way in and out so callers never share state with the store.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[string]*models.Profile
	byPublic map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[string]*models.Profile),
		byPublic: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, p *models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[p.ID]; ok {
		return common.ErrorAlreadyExists
	}
	if _, ok := r.byPublic[p.PublicID]; ok {
		return common.ErrorAlreadyExists
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	r.byID[p.ID] = clone(p)
	r.byPublic[p.PublicID] = p.ID
	return nil
}

func (r *MemoryRepository) GetByPublicID(_ context.Context, publicID string) (*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPublic[publicID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	p := r.byID[id]
	if p.Revoked {
		return nil, common.ErrorNotFound
	}
	return clone(p), nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(p), nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*models.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Profile
	for _, p := range r.byID {
		if p.OwnerID == ownerID {
			out = append(out, clone(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) SetTierC(_ context.Context, id string, c *models.TierC) error {
	if c != nil && !c.Complete() {
		return fmt.Errorf("%w: incomplete tier c envelope", common.ErrorValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.TierC = cloneTierC(c)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) UpdateTierE(_ context.Context, in *models.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[in.ID]
	if !ok {
		return common.ErrorNotFound
	}
	p.Alias = in.Alias
	p.AgeRange = in.AgeRange
	p.CriticalAllergies = append([]string(nil), in.CriticalAllergies...)
	p.CriticalConditions = append([]string(nil), in.CriticalConditions...)
	p.CriticalMeds = append([]string(nil), in.CriticalMeds...)
	p.ICEPhone = in.ICEPhone
	p.BreakGlassAllowed = in.BreakGlassAllowed
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Revoke(_ context.Context, id, oldPublicID, newPublicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.Revoked || p.PublicID != oldPublicID {
		return common.ErrorNotFound
	}
	return r.movePublicID(p, newPublicID, true)
}

func (r *MemoryRepository) Reinstate(_ context.Context, id, newPublicID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || !p.Revoked {
		return common.ErrorNotFound
	}
	return r.movePublicID(p, newPublicID, false)
}

// movePublicID is called with r.mu held.
func (r *MemoryRepository) movePublicID(p *models.Profile, newPublicID string, revoked bool) error {
	if _, taken := r.byPublic[newPublicID]; taken {
		return common.ErrorAlreadyExists
	}
	delete(r.byPublic, p.PublicID)
	p.PublicID = newPublicID
	p.Revoked = revoked
	p.UpdatedAt = time.Now().UTC()
	r.byPublic[newPublicID] = p.ID
	return nil
}

func clone(p *models.Profile) *models.Profile {
	c := *p
	c.CriticalAllergies = append([]string(nil), p.CriticalAllergies...)
	c.CriticalConditions = append([]string(nil), p.CriticalConditions...)
	c.CriticalMeds = append([]string(nil), p.CriticalMeds...)
	c.RevocationHash = append([]byte(nil), p.RevocationHash...)
	c.RevocationSalt = append([]byte(nil), p.RevocationSalt...)
	c.TierC = cloneTierC(p.TierC)
	return &c
}

func cloneTierC(t *models.TierC) *models.TierC {
	if t == nil {
		return nil
	}
	return &models.TierC{
		Ciphertext: append([]byte(nil), t.Ciphertext...),
		Nonce:      append([]byte(nil), t.Nonce...),
		WrappedDEK: append([]byte(nil), t.WrappedDEK...),
	}
}
