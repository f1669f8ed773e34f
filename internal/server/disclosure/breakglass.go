package disclosure

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/tokens"
)

const (
	minReasonLen = 2
	maxReasonLen = 256
)

// RequestAccess mints a break-glass token for the active profile behind
// publicID. The raw reason travels only inside the sealed token.
func (e *Engine) RequestAccess(ctx context.Context, publicID, reason string, actor models.Actor) (*AccessGrant, error) {
	if err := e.limit(ctx, e.limits.Request, "e:request:"+publicID+":"+actor.IP); err != nil {
		return nil, err
	}

	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n < minReasonLen || n > maxReasonLen {
		return nil, fmt.Errorf("%w: reason must be %d-%d characters", common.ErrorValidation, minReasonLen, maxReasonLen)
	}

	p, err := e.Repos.Profiles().GetByPublicID(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if !p.BreakGlassAllowed {
		return nil, common.ErrorForbidden
	}

	e.record(ctx, p.ID, models.EventRequestBreakGlass, actor, true)

	token, exp, err := e.Tokens.Issue(p.ID, p.PublicID, e.breakGlassTTL, reason)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	e.notifyOwner(ctx, p, notify.BreakGlassNotice{
		ProfileID: p.ID,
		Reason:    reason,
		At:        e.now(),
		ExpiresAt: exp,
	})

	e.Log.Info(ctx, "break-glass token issued", "profile_id", p.ID, "expires_at", exp)
	return &AccessGrant{Token: token, ExpiresAt: exp}, nil
}

// ReadBreakGlass opens the Tier C envelope the token grants access to and
// returns a descriptor with one reveal handle per field.
func (e *Engine) ReadBreakGlass(ctx context.Context, token string, actor models.Actor) (*Disclosure, error) {
	if err := e.limit(ctx, e.limits.BreakGlassRead, "c:"+actor.IP); err != nil {
		return nil, err
	}

	claims, err := e.verify(ctx, token)
	if err != nil {
		return nil, err
	}

	p, payload, err := e.openTierC(ctx, claims)
	if err != nil {
		return nil, err
	}

	if e.singleUse {
		fresh, err := e.Repos.ConsumedTokens().Consume(ctx, tokens.Fingerprint(token), claims.ExpiresAtTime())
		if err != nil {
			return nil, err
		}
		if !fresh {
			e.Log.Warn(ctx, "break-glass token replayed", "profile_id", p.ID)
			return nil, common.ErrInvalidToken
		}
	}

	names := make([]string, 0, len(payload))
	for k := range payload {
		names = append(names, k)
	}
	sort.Strings(names)

	ttl := e.revealTTL
	if left := claims.ExpiresAtTime().Sub(e.now()); left < ttl {
		ttl = left
	}

	d := &Disclosure{
		Fields: make([]RedactedField, 0, len(names)),
		Meta:   DisclosureMeta{Redacted: true, ExpiresAt: claims.ExpiresAtTime()},
	}
	for _, name := range names {
		handle, err := e.reveals.Issue(revealGrant{token: token, field: name}, ttl)
		if err != nil {
			return nil, fmt.Errorf("issue reveal handle: %w", err)
		}
		d.Fields = append(d.Fields, RedactedField{Name: name, Redacted: true, Handle: handle})
	}

	e.record(ctx, p.ID, models.EventViewTierC, actor, false)
	return d, nil
}

// RevealField spends a reveal handle and returns that one field's value.
// The token behind the handle must still verify and the profile must still
// be active under the same public id.
func (e *Engine) RevealField(ctx context.Context, handle string, actor models.Actor) (*RevealedField, error) {
	if err := e.limit(ctx, e.limits.Reveal, "c:reveal:"+actor.IP); err != nil {
		return nil, err
	}

	grant, ok := e.reveals.Take(handle)
	if !ok {
		return nil, common.ErrInvalidToken
	}

	claims, err := e.verify(ctx, grant.token)
	if err != nil {
		return nil, err
	}

	p, payload, err := e.openTierC(ctx, claims)
	if err != nil {
		return nil, err
	}

	raw, ok := payload[grant.field]
	if !ok {
		return nil, common.ErrorNotFound
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("%w: field %q", common.ErrCrypto, grant.field)
	}

	e.record(ctx, p.ID, models.EventRevealField, actor, false)
	return &RevealedField{Field: grant.field, Value: value}, nil
}

func (e *Engine) verify(ctx context.Context, token string) (*tokens.Claims, error) {
	claims, err := e.Tokens.Verify(token)
	if err != nil {
		e.Log.Debug(ctx, "break-glass token rejected", "error", err)
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

// openTierC loads the profile named by claims and decrypts its payload.
// A revoked profile, or one whose public id rotated since issuance, is
// reported as not found.
func (e *Engine) openTierC(ctx context.Context, claims *tokens.Claims) (*models.Profile, map[string]json.RawMessage, error) {
	p, err := e.Repos.Profiles().GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, nil, err
	}
	if p.Revoked || p.PublicID != claims.PublicID {
		return nil, nil, common.ErrorNotFound
	}
	if !p.TierC.Complete() {
		return nil, nil, fmt.Errorf("%w: no tier c data", common.ErrorNotFound)
	}

	dek, err := e.Envelope.UnwrapDEK(p.TierC.WrappedDEK)
	if err != nil {
		e.Log.Error(ctx, "tier c unwrap failed", "profile_id", p.ID)
		return nil, nil, err
	}
	defer common.WipeByteArray(dek)

	var payload map[string]json.RawMessage
	if err := cryptox.DecryptJSON(dek, p.TierC.Ciphertext, p.TierC.Nonce, &payload); err != nil {
		e.Log.Error(ctx, "tier c decrypt failed", "profile_id", p.ID)
		return nil, nil, err
	}
	return p, payload, nil
}
