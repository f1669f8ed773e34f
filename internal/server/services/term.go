package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	nameMinLen  = 2
	nameMaxLen  = 80
	noteMaxLen  = 200
	doseMaxLen  = 80
	slugRetries = 6
	suffixBytes = 2
)

var (
	namePattern   = regexp.MustCompile(`^[A-Za-z0-9()\-.,/\s]+$`)
	slugSeparator = regexp.MustCompile(`[^a-z0-9]+`)

	criticalities = map[string]bool{"high": true, "low": true, "unable-to-assess": true}
)

// TermInput is a new condition, medication or allergy. OnsetDate is an
// RFC 3339 timestamp. Fields that do not apply to the kind are ignored.
type TermInput struct {
	Name        string
	System      string
	Code        string
	Note        string
	OnsetDate   string
	Dose        string
	Criticality string
}

// TermPatch changes only the non-nil fields. The slug never changes.
type TermPatch struct {
	Name        *string
	System      *string
	Code        *string
	Note        *string
	OnsetDate   *string
	Dose        *string
	Criticality *string
}

type TermService struct {
	repomanager repomanager.RepositoryManager
}

func NewTermService(m repomanager.RepositoryManager) *TermService {
	return &TermService{repomanager: m}
}

// ToSlug lowercases s and joins its alphanumeric runs with dashes.
func ToSlug(s string) string {
	return strings.Trim(slugSeparator.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-"), "-")
}

// Add creates a term. If the profile already holds the base slug, bare or
// suffixed, the call fails with common.ErrorDuplicate. If another profile
// holds it a random suffix is appended.
func (s *TermService) Add(ctx context.Context, ownerID, profileID string, kind models.TermKind, in TermInput) (*models.Term, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", common.ErrorValidation, kind)
	}
	t := &models.Term{ProfileID: profileID, Kind: kind}
	if err := applyTermInput(t, in); err != nil {
		return nil, err
	}
	base := ToSlug(t.Name)
	if base == "" {
		return nil, fmt.Errorf("%w: name has no letters or digits", common.ErrorValidation)
	}

	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return nil, err
	}

	repo := s.repomanager.Terms()
	held, err := repo.ProfileHoldsBase(ctx, profileID, kind, base)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, common.ErrorDuplicate
	}

	candidate := base
	for i := 0; i < slugRetries; i++ {
		holder, err := repo.SlugOwner(ctx, kind, candidate)
		switch {
		case errors.Is(err, common.ErrorNotFound):
			t.ID = uuid.NewString()
			t.Slug = candidate
			err = repo.Create(ctx, t)
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, common.ErrorAlreadyExists) {
				return nil, err
			}
		case err != nil:
			return nil, err
		case holder == profileID:
			return nil, common.ErrorDuplicate
		}

		suffix, err := common.MakeRandHexString(suffixBytes)
		if err != nil {
			return nil, err
		}
		candidate = base + "-" + suffix
	}
	return nil, fmt.Errorf("%w: no free slug for %q", common.ErrorAlreadyExists, base)
}

func (s *TermService) Update(ctx context.Context, ownerID, profileID, id string, patch TermPatch) (*models.Term, error) {
	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return nil, err
	}
	repo := s.repomanager.Terms()
	t, err := repo.Get(ctx, profileID, id)
	if err != nil {
		return nil, err
	}

	in := TermInput{
		Name:        pick(patch.Name, t.Name),
		System:      pick(patch.System, t.System),
		Code:        pick(patch.Code, t.Code),
		Note:        pick(patch.Note, t.Note),
		Dose:        pick(patch.Dose, t.Dose),
		Criticality: pick(patch.Criticality, t.Criticality),
	}
	if t.OnsetDate != nil {
		in.OnsetDate = t.OnsetDate.Format(time.RFC3339)
	}
	in.OnsetDate = pick(patch.OnsetDate, in.OnsetDate)

	if err := applyTermInput(t, in); err != nil {
		return nil, err
	}
	if err := repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TermService) Remove(ctx context.Context, ownerID, profileID, id string) error {
	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return err
	}
	return s.repomanager.Terms().Delete(ctx, profileID, id)
}

// List returns the profile's terms; an empty kind lists every kind.
func (s *TermService) List(ctx context.Context, ownerID, profileID string, kind models.TermKind) ([]*models.Term, error) {
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", common.ErrorValidation, kind)
	}
	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return nil, err
	}
	return s.repomanager.Terms().ListByProfile(ctx, profileID, kind)
}

func pick(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}

// applyTermInput validates in and copies it onto t.
func applyTermInput(t *models.Term, in TermInput) error {
	name := strings.TrimSpace(in.Name)
	if n := len(name); n < nameMinLen || n > nameMaxLen || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid name", common.ErrorValidation)
	}
	if (in.System == "") != (in.Code == "") {
		return fmt.Errorf("%w: system and code go together", common.ErrorValidation)
	}
	if len(in.Note) > noteMaxLen {
		return fmt.Errorf("%w: note longer than %d", common.ErrorValidation, noteMaxLen)
	}

	t.Name, t.System, t.Code, t.Note = name, in.System, in.Code, in.Note
	t.OnsetDate, t.Dose, t.Criticality = nil, "", ""

	switch t.Kind {
	case models.TermCondition:
		if in.OnsetDate != "" {
			d, err := time.Parse(time.RFC3339, in.OnsetDate)
			if err != nil {
				return fmt.Errorf("%w: onset date must be RFC 3339", common.ErrorValidation)
			}
			d = d.UTC()
			t.OnsetDate = &d
		}
	case models.TermMedication:
		if len(in.Dose) > doseMaxLen {
			return fmt.Errorf("%w: dose longer than %d", common.ErrorValidation, doseMaxLen)
		}
		t.Dose = in.Dose
	case models.TermAllergy:
		if in.Criticality != "" && !criticalities[in.Criticality] {
			return fmt.Errorf("%w: unknown criticality", common.ErrorValidation)
		}
		t.Criticality = in.Criticality
	}
	return nil
}
