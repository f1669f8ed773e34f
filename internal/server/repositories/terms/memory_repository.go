package terms

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
)

var suffixed = regexp.MustCompile(`^(.+)-[0-9a-f]{4}$`)

type slugKey struct {
	kind models.TermKind
	slug string
}

// MemoryRepository keeps terms in process memory with the same (kind, slug)
// uniqueness rule as the Postgres table.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]*models.Term
	bySlug map[slugKey]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]*models.Term),
		bySlug: make(map[slugKey]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, t *models.Term) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := slugKey{t.Kind, t.Slug}
	if _, taken := r.bySlug[k]; taken {
		return common.ErrorAlreadyExists
	}
	if _, taken := r.byID[t.ID]; taken {
		return common.ErrorAlreadyExists
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	r.byID[t.ID] = clone(t)
	r.bySlug[k] = t.ID
	return nil
}

func (r *MemoryRepository) SlugOwner(_ context.Context, kind models.TermKind, slug string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slugKey{kind, slug}]
	if !ok {
		return "", common.ErrorNotFound
	}
	return r.byID[id].ProfileID, nil
}

func (r *MemoryRepository) ProfileHoldsBase(_ context.Context, profileID string, kind models.TermKind, base string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.byID {
		if t.ProfileID != profileID || t.Kind != kind {
			continue
		}
		if t.Slug == base {
			return true, nil
		}
		if m := suffixed.FindStringSubmatch(t.Slug); m != nil && m[1] == base {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Get(_ context.Context, profileID, id string) (*models.Term, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok || t.ProfileID != profileID {
		return nil, common.ErrorNotFound
	}
	return clone(t), nil
}

func (r *MemoryRepository) Update(_ context.Context, in *models.Term) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[in.ID]
	if !ok || t.ProfileID != in.ProfileID {
		return common.ErrorNotFound
	}
	t.Name, t.System, t.Code, t.Note = in.Name, in.System, in.Code, in.Note
	t.OnsetDate = cloneTime(in.OnsetDate)
	t.Dose, t.Criticality = in.Dose, in.Criticality
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, profileID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.ProfileID != profileID {
		return common.ErrorNotFound
	}
	delete(r.bySlug, slugKey{t.Kind, t.Slug})
	delete(r.byID, id)
	return nil
}

func (r *MemoryRepository) ListByProfile(_ context.Context, profileID string, kind models.TermKind) ([]*models.Term, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Term
	for _, t := range r.byID {
		if t.ProfileID == profileID && (kind == "" || t.Kind == kind) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func clone(t *models.Term) *models.Term {
	c := *t
	c.OnsetDate = cloneTime(t.OnsetDate)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
