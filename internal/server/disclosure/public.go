package disclosure

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/google/uuid"
)

// FlagVerifyError is attached when the NFC verifier itself failed.
const FlagVerifyError = "VERIFY_ERROR"

// ReadPublicTier returns the Tier E projection of the active profile behind
// publicID. Tag parameters, when present, are verified and the result is
// attached; a negative result only blocks the read under the fail-closed
// policy.
func (e *Engine) ReadPublicTier(ctx context.Context, publicID string, tag *nfc.Params, actor models.Actor) (*PublicView, error) {
	if err := e.limit(ctx, e.limits.PublicRead, "e:"+publicID+":"+actor.IP); err != nil {
		return nil, err
	}

	p, err := e.Repos.Profiles().GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}

	view := newPublicView(p)

	if tag != nil && !tag.Empty() {
		params := *tag
		params.PublicID = publicID
		res := e.checkTag(ctx, params)
		if !res.OK && e.nfcFailClosed {
			return nil, common.ErrorNotFound
		}
		view.NFC = &NFCInfo{Flags: res.Flags, Counter: res.Counter}
	}

	e.record(ctx, p.ID, models.EventViewTierE, actor, false)
	return view, nil
}

// VerifyNFC checks tag parameters without reading a profile.
func (e *Engine) VerifyNFC(ctx context.Context, tag nfc.Params, actor models.Actor) (nfc.Result, error) {
	if err := e.limit(ctx, e.limits.NFCVerify, "nfc:"+actor.IP); err != nil {
		return nfc.Result{}, err
	}
	return e.checkTag(ctx, tag), nil
}

func (e *Engine) checkTag(ctx context.Context, tag nfc.Params) nfc.Result {
	res, err := e.NFC.Verify(ctx, tag)
	if err != nil {
		e.Log.Warn(ctx, "nfc verifier failed", "public_id_hash", e.hash(tag.PublicID), "error", err)
		return nfc.Result{OK: false, Flags: []string{FlagVerifyError}}
	}
	if !res.OK {
		e.Log.Warn(ctx, "nfc verification failed", "public_id_hash", e.hash(tag.PublicID), "flags", res.Flags)
	}
	return res
}

// Revoke disables the profile behind publicID when secret matches its
// revocation code. The public id is rotated so every printed tag stops
// resolving; the new id is not returned.
func (e *Engine) Revoke(ctx context.Context, publicID, secret string, actor models.Actor) error {
	if err := e.limit(ctx, e.limits.Revoke, "e:revoke:"+publicID+":"+actor.IP); err != nil {
		return err
	}

	p, err := e.Repos.Profiles().GetByPublicID(ctx, publicID)
	if err != nil {
		return err
	}

	if secret == "" || !cryptox.VerifySecret(secret, p.RevocationHash, p.RevocationSalt) {
		e.Log.Warn(ctx, "revocation secret mismatch", "profile_id", p.ID)
		return common.ErrorForbidden
	}

	if err := e.Repos.Profiles().Revoke(ctx, p.ID, publicID, NewPublicID()); err != nil {
		return err
	}

	e.record(ctx, p.ID, models.EventRevoke, actor, false)
	e.Log.Info(ctx, "profile revoked", "profile_id", p.ID)
	return nil
}

// NewPublicID returns a fresh opaque public identifier.
func NewPublicID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
