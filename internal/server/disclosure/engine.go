// Package disclosure is the policy engine behind the public emergency
// endpoints. It decides what a caller may see of a profile, records every
// disclosure in the audit trail and tells the owner about break-glass
// requests.
package disclosure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/challenges"
	"github.com/dmitrijs2005/vitaltags/internal/server/config"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/ratelimit"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitaltags/internal/server/tokens"
)

const notifyTimeout = 10 * time.Second

// Notifier is the part of the notification dispatcher the engine needs.
type Notifier interface {
	NotifyBreakGlassRequested(ctx context.Context, c notify.Contact, n notify.BreakGlassNotice) notify.Result
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Repos    repomanager.RepositoryManager
	Envelope *cryptox.Envelope
	Tokens   *tokens.Manager
	Limiter  ratelimit.Limiter
	Recorder *audit.Recorder
	Notifier Notifier
	NFC      nfc.Verifier
	Hasher   audit.Hasher
	Log      logging.Logger
}

type revealGrant struct {
	token string
	field string
}

type Engine struct {
	Deps

	breakGlassTTL time.Duration
	revealTTL     time.Duration
	singleUse     bool
	nfcFailClosed bool
	window        time.Duration
	limits        config.RateLimits
	reveals       *challenges.Store[revealGrant]
	now           func() time.Time
	notifications sync.WaitGroup
}

type Option func(*Engine)

// WithClock replaces the time source used for notices and consumed-token
// expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(d Deps, cfg *config.Config, opts ...Option) *Engine {
	e := &Engine{
		Deps:          d,
		breakGlassTTL: cfg.BreakGlassTTL,
		revealTTL:     cfg.RevealHandleTTL,
		singleUse:     cfg.SingleUseTokens,
		nfcFailClosed: cfg.NFCPolicy == config.NFCFailClosed,
		window:        cfg.RateLimitWindow,
		limits:        cfg.RateLimits,
		reveals:       challenges.NewStore[revealGrant](),
		now:           time.Now,
	}
	e.Log = d.Log.With("module", "disclosure")
	for _, o := range opts {
		o(e)
	}
	e.reveals.WithClock(e.now)
	return e
}

// Drain blocks until every notification started so far has finished.
func (e *Engine) Drain() {
	e.notifications.Wait()
}

func (e *Engine) limit(ctx context.Context, limit int, key string) error {
	return ratelimit.Check(ctx, e.Limiter, key, limit, e.window)
}

// notifyOwner runs outside the request: its failures are logged, never
// returned.
func (e *Engine) notifyOwner(ctx context.Context, p *models.Profile, n notify.BreakGlassNotice) {
	if e.Notifier == nil {
		return
	}
	e.notifications.Add(1)
	go func() {
		defer e.notifications.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				e.Log.Error(ctx, "owner notification panicked", "profile_id", p.ID, "panic", fmt.Sprint(r))
			}
		}()

		contact := notify.Contact{OwnerID: p.OwnerID}
		owner, err := e.Repos.Owners().Get(ctx, p.OwnerID)
		switch {
		case err == nil:
			contact.Email, contact.Phone = owner.Email, owner.Phone
		case !isNotFound(err):
			e.Log.Warn(ctx, "owner lookup failed", "profile_id", p.ID, "error", err)
		}

		res := e.Notifier.NotifyBreakGlassRequested(ctx, contact, n)
		if !res.OK {
			e.Log.Warn(ctx, "owner notification not delivered", "profile_id", p.ID, "message_id", res.MessageID)
		}
	}()
}

func (e *Engine) record(ctx context.Context, profileID string, ev models.AuditEvent, actor models.Actor, reasonGiven bool) {
	e.Recorder.Record(ctx, profileID, ev, audit.Details{ReasonGiven: reasonGiven, Actor: actor})
}

func (e *Engine) hash(v string) string {
	if v == "" || e.Hasher == nil {
		return ""
	}
	return e.Hasher.Hash(v)
}

func isNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}
