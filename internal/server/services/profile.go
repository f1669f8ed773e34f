// Package services contains server-side business logic for profile owners.
// This file implements ProfileService: provisioning profiles, sealing Tier C
// data, reinstating revoked profiles and reporting on access.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/disclosure"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	revocationCodeBytes = 8
	defaultTrailLimit   = 100
)

// DigestNotifier is the part of the notification dispatcher used for
// access digests.
type DigestNotifier interface {
	NotifyAccessDigest(ctx context.Context, c notify.Contact, d notify.Digest) notify.Result
}

// NewProfile is the owner's input for a new profile. TierC, when non-nil,
// is sealed before anything is stored.
type NewProfile struct {
	Email string
	Phone string

	Alias              string
	AgeRange           string
	CriticalAllergies  []string
	CriticalConditions []string
	CriticalMeds       []string
	ICEPhone           string
	BreakGlassAllowed  bool

	TierC map[string]any
}

// CreatedProfile carries the revocation code, which is only ever returned
// here.
type CreatedProfile struct {
	Profile        *models.Profile
	RevocationCode string
}

type ProfileService struct {
	repomanager repomanager.RepositoryManager
	envelope    *cryptox.Envelope
	recorder    *audit.Recorder
	notifier    DigestNotifier
}

func NewProfileService(m repomanager.RepositoryManager, env *cryptox.Envelope, rec *audit.Recorder, n DigestNotifier) *ProfileService {
	return &ProfileService{
		repomanager: m,
		envelope:    env,
		recorder:    rec,
		notifier:    n,
	}
}

// Create stores the owner's contact details and a new profile in one
// transaction.
func (s *ProfileService) Create(ctx context.Context, ownerID string, in NewProfile) (*CreatedProfile, error) {
	if ownerID == "" {
		return nil, common.ErrorUnauthorized
	}

	code, err := common.MakeRandHexString(revocationCodeBytes)
	if err != nil {
		return nil, fmt.Errorf("generate revocation code: %w", err)
	}
	hash, salt := cryptox.NewSecretHash(code)

	p := &models.Profile{
		ID:                 uuid.NewString(),
		PublicID:           disclosure.NewPublicID(),
		OwnerID:            ownerID,
		BreakGlassAllowed:  in.BreakGlassAllowed,
		Alias:              in.Alias,
		AgeRange:           in.AgeRange,
		CriticalAllergies:  in.CriticalAllergies,
		CriticalConditions: in.CriticalConditions,
		CriticalMeds:       in.CriticalMeds,
		ICEPhone:           in.ICEPhone,
		RevocationHash:     hash,
		RevocationSalt:     salt,
	}
	if in.TierC != nil {
		if p.TierC, err = s.seal(in.TierC); err != nil {
			return nil, err
		}
	}

	err = s.repomanager.InTx(ctx, func(ctx context.Context, m repomanager.RepositoryManager) error {
		if err := m.Owners().Upsert(ctx, &models.Owner{ID: ownerID, Email: in.Email, Phone: in.Phone}); err != nil {
			return err
		}
		return m.Profiles().Create(ctx, p)
	})
	if err != nil {
		return nil, fmt.Errorf("error creating profile: %w", err)
	}

	return &CreatedProfile{Profile: p, RevocationCode: code}, nil
}

// SealTierC encrypts payload under a fresh DEK and replaces the envelope.
// A nil payload removes Tier C data.
func (s *ProfileService) SealTierC(ctx context.Context, ownerID, profileID string, payload map[string]any) error {
	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return err
	}

	var c *models.TierC
	if payload != nil {
		var err error
		if c, err = s.seal(payload); err != nil {
			return err
		}
	}
	return s.repomanager.Profiles().SetTierC(ctx, profileID, c)
}

// Reinstate re-enables a revoked profile under a new public id, which is
// returned so the owner can print a new tag.
func (s *ProfileService) Reinstate(ctx context.Context, ownerID, profileID string) (string, error) {
	p, err := ownedProfile(ctx, s.repomanager, ownerID, profileID)
	if err != nil {
		return "", err
	}
	if !p.Revoked {
		return "", fmt.Errorf("%w: profile is active", common.ErrorValidation)
	}

	publicID := disclosure.NewPublicID()
	if err := s.repomanager.Profiles().Reinstate(ctx, p.ID, publicID); err != nil {
		return "", err
	}
	s.recorder.Record(ctx, p.ID, models.EventReinstate, audit.Details{})
	return publicID, nil
}

// AuditTrail returns the newest audit rows after since.
func (s *ProfileService) AuditTrail(ctx context.Context, ownerID, profileID string, since time.Time, limit int) ([]*models.AuditEntry, error) {
	if _, err := ownedProfile(ctx, s.repomanager, ownerID, profileID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultTrailLimit {
		limit = defaultTrailLimit
	}
	return s.repomanager.AuditLogs().ListByProfile(ctx, profileID, since, limit)
}

// SendAccessDigest sends the owner the access events recorded after since.
func (s *ProfileService) SendAccessDigest(ctx context.Context, ownerID, profileID string, since time.Time) (notify.Result, error) {
	entries, err := s.AuditTrail(ctx, ownerID, profileID, since, defaultTrailLimit)
	if err != nil {
		return notify.Result{}, err
	}

	contact := notify.Contact{OwnerID: ownerID}
	owner, err := s.repomanager.Owners().Get(ctx, ownerID)
	switch {
	case err == nil:
		contact.Email, contact.Phone = owner.Email, owner.Phone
	case !errors.Is(err, common.ErrorNotFound):
		return notify.Result{}, err
	}

	digest := notify.Digest{ProfileID: profileID}
	for _, e := range entries {
		digest.Events = append(digest.Events, notify.DigestEvent{At: e.CreatedAt, Event: e.Event})
	}
	return s.notifier.NotifyAccessDigest(ctx, contact, digest), nil
}

func (s *ProfileService) seal(payload map[string]any) (*models.TierC, error) {
	dek, err := cryptox.GenerateDEK()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(dek)

	ct, nonce, err := cryptox.EncryptJSON(dek, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrorValidation, err)
	}
	wrapped, err := s.envelope.WrapDEK(dek)
	if err != nil {
		return nil, err
	}
	return &models.TierC{Ciphertext: ct, Nonce: nonce, WrappedDEK: wrapped}, nil
}

// ownedProfile loads profileID and hides profiles of other owners behind
// common.ErrorNotFound.
func ownedProfile(ctx context.Context, m repomanager.RepositoryManager, ownerID, profileID string) (*models.Profile, error) {
	p, err := m.Profiles().GetByID(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, common.ErrorNotFound
	}
	return p, nil
}
