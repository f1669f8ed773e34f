package disclosure

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/config"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/nfc"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/ratelimit"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/vitaltags/internal/server/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKEK      = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testTokenKey = "1f1e1d1c1b1a191817161514131211100f0e0d0c0b0a09080706050403020100"
	testSalt     = "00112233445566778899aabbccddeeff"
	testSecret   = "revoke-me-123"
)

var actor = models.Actor{IP: "198.51.100.4", UserAgent: "test-agent", Country: "DE"}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []notify.BreakGlassNotice
	panics  bool
}

func (f *fakeNotifier) NotifyBreakGlassRequested(_ context.Context, _ notify.Contact, n notify.BreakGlassNotice) notify.Result {
	if f.panics {
		panic("provider exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return notify.Result{OK: true, Channel: notify.ChannelLog}
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

type fakeVerifier struct {
	res nfc.Result
	err error
}

func (f fakeVerifier) Verify(context.Context, nfc.Params) (nfc.Result, error) { return f.res, f.err }

type fixture struct {
	engine   *Engine
	repos    *repomanager.MemoryRepositoryManager
	envelope *cryptox.Envelope
	clock    *testClock
	notifier *fakeNotifier
}

func newFixture(t *testing.T, mutate func(cfg *config.Config, d *Deps)) *fixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.KEKHex, cfg.TokenKeyHex, cfg.PIISaltHex = testKEK, testTokenKey, testSalt

	clock := &testClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	env, err := cryptox.NewEnvelope(testKEK)
	require.NoError(t, err)
	tm, err := tokens.NewManager(testTokenKey, tokens.WithClock(clock.Now))
	require.NoError(t, err)
	hasher, err := cryptox.NewPIIHasher(testSalt)
	require.NoError(t, err)

	repos := repomanager.NewMemoryRepositoryManager()
	notifier := &fakeNotifier{}
	d := Deps{
		Repos:    repos,
		Envelope: env,
		Tokens:   tm,
		Limiter:  ratelimit.NewMemoryLimiter().WithClock(clock.Now),
		Recorder: audit.NewRecorder(repos.AuditLogs(), hasher, nopLogger{}),
		Notifier: notifier,
		NFC:      nfc.StubVerifier{},
		Hasher:   hasher,
		Log:      nopLogger{},
	}
	if mutate != nil {
		mutate(cfg, &d)
	}

	return &fixture{
		engine:   NewEngine(d, cfg, WithClock(clock.Now)),
		repos:    repos,
		envelope: env,
		clock:    clock,
		notifier: notifier,
	}
}

// seed stores an active profile, sealing payload as Tier C when non-nil.
func (f *fixture) seed(t *testing.T, payload map[string]any) *models.Profile {
	t.Helper()

	hash, salt := cryptox.NewSecretHash(testSecret)
	p := &models.Profile{
		ID:                NewPublicID(),
		PublicID:          NewPublicID(),
		OwnerID:           "owner-1",
		BreakGlassAllowed: true,
		Alias:             "J.",
		AgeRange:          "40-49",
		CriticalAllergies: []string{"Penicillin"},
		ICEPhone:          "+4930123456",
		RevocationHash:    hash,
		RevocationSalt:    salt,
	}
	if payload != nil {
		dek, err := cryptox.GenerateDEK()
		require.NoError(t, err)
		ct, nonce, err := cryptox.EncryptJSON(dek, payload)
		require.NoError(t, err)
		wrapped, err := f.envelope.WrapDEK(dek)
		require.NoError(t, err)
		p.TierC = &models.TierC{Ciphertext: ct, Nonce: nonce, WrappedDEK: wrapped}
	}
	require.NoError(t, f.repos.Profiles().Create(context.Background(), p))
	return p
}

func (f *fixture) events(t *testing.T, profileID string) []models.AuditEvent {
	t.Helper()
	rows, err := f.repos.AuditLogs().ListByProfile(context.Background(), profileID, time.Time{}, 100)
	require.NoError(t, err)
	out := make([]models.AuditEvent, len(rows))
	// rows are newest first
	for i, r := range rows {
		out[len(rows)-1-i] = r.Event
	}
	return out
}

func TestBreakGlass_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.seed(t, map[string]any{"notes": "penicillin allergy detail"})

	grant, err := f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(grant.Token, tokens.Prefix))
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), grant.ExpiresAt)
	assert.Equal(t, []models.AuditEvent{models.EventRequestBreakGlass}, f.events(t, p.ID))

	rows, err := f.repos.AuditLogs().ListByProfile(ctx, p.ID, time.Time{}, 1)
	require.NoError(t, err)
	assert.Equal(t, common.RedactedMarker, rows[0].Reason)
	assert.NotEqual(t, actor.IP, rows[0].IPHash)
	assert.NotEmpty(t, rows[0].IPHash)

	d, err := f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	require.NoError(t, err)
	require.Len(t, d.Fields, 1)
	assert.Equal(t, "notes", d.Fields[0].Name)
	assert.True(t, d.Fields[0].Redacted)
	assert.True(t, d.Meta.Redacted)

	body, err := json.Marshal(d)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "penicillin allergy detail")

	revealed, err := f.engine.RevealField(ctx, d.Fields[0].Handle, actor)
	require.NoError(t, err)
	assert.Equal(t, "notes", revealed.Field)
	assert.Equal(t, "penicillin allergy detail", revealed.Value)

	assert.Equal(t, []models.AuditEvent{
		models.EventRequestBreakGlass,
		models.EventViewTierC,
		models.EventRevealField,
	}, f.events(t, p.ID))

	f.clock.Advance(16 * time.Minute)
	_, err = f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	f.engine.Drain()
	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, p.ID, f.notifier.notices[0].ProfileID)
}

func TestRequestAccess_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.seed(t, nil)

	closed := f.seed(t, nil)
	closed.BreakGlassAllowed = false
	require.NoError(t, f.repos.Profiles().UpdateTierE(ctx, closed))

	tests := []struct {
		name     string
		publicID string
		reason   string
		want     error
	}{
		{"reason too short", p.PublicID, "x", common.ErrorValidation},
		{"reason blank", p.PublicID, "   ", common.ErrorValidation},
		{"reason too long", p.PublicID, strings.Repeat("a", 257), common.ErrorValidation},
		{"unknown profile", "nope", "ER evaluation", common.ErrorNotFound},
		{"break-glass disabled", closed.PublicID, "ER evaluation", common.ErrorForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.RequestAccess(ctx, tt.publicID, tt.reason, actor)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.events(t, p.ID))
}

func TestRequestAccess_ConcurrentCallsIndependent(t *testing.T) {
	f := newFixture(t, nil)
	p := f.seed(t, map[string]any{"notes": "x"})

	var wg sync.WaitGroup
	grants := make([]*AccessGrant, 2)
	errs := make([]error, 2)
	for i := range grants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grants[i], errs[i] = f.engine.RequestAccess(context.Background(), p.PublicID, "ER evaluation", actor)
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, grants[0].Token, grants[1].Token)
	f.engine.Drain()
}

func TestRequestAccess_NotificationPanicContained(t *testing.T) {
	f := newFixture(t, nil)
	f.notifier.panics = true
	p := f.seed(t, nil)

	grant, err := f.engine.RequestAccess(context.Background(), p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)
	assert.NotEmpty(t, grant.Token)
	f.engine.Drain()
}

func TestRequestAccess_RateLimited(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) { cfg.RateLimits.Request = 1 })
	ctx := context.Background()
	p := f.seed(t, nil)

	_, err := f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)

	_, err = f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	var rl *common.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.ErrorIs(t, err, common.ErrRateLimited)
	assert.Equal(t, f.clock.Now().Add(time.Minute), rl.ResetAt)

	other := actor
	other.IP = "203.0.113.9"
	_, err = f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", other)
	assert.NoError(t, err)
	f.engine.Drain()
}

func TestReadBreakGlass_Failures(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	bare := f.seed(t, nil)

	grant, err := f.engine.RequestAccess(ctx, bare.PublicID, "ER evaluation", actor)
	require.NoError(t, err)
	f.engine.Drain()

	_, err = f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	assert.ErrorIs(t, err, common.ErrorNotFound, "no tier c sealed")

	_, err = f.engine.ReadBreakGlass(ctx, "bg1.garbage", actor)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = f.engine.RevealField(ctx, "unknown-handle", actor)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestReadBreakGlass_SingleUseTokens(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, _ *Deps) { cfg.SingleUseTokens = true })
	ctx := context.Background()
	p := f.seed(t, map[string]any{"notes": "x"})

	grant, err := f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)

	_, err = f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	require.NoError(t, err)
	_, err = f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	f.engine.Drain()
}

func TestRevealField_HandleIsSingleUse(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.seed(t, map[string]any{"notes": "x", "blood_type": "A+"})

	grant, err := f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)
	d, err := f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	require.NoError(t, err)
	require.Len(t, d.Fields, 2)
	assert.Equal(t, "blood_type", d.Fields[0].Name)

	v, err := f.engine.RevealField(ctx, d.Fields[0].Handle, actor)
	require.NoError(t, err)
	assert.Equal(t, "A+", v.Value)

	_, err = f.engine.RevealField(ctx, d.Fields[0].Handle, actor)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	f.engine.Drain()
}

func TestRevoke_EndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.seed(t, map[string]any{"notes": "x"})

	grant, err := f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	require.NoError(t, err)

	assert.ErrorIs(t, f.engine.Revoke(ctx, p.PublicID, "wrong", actor), common.ErrorForbidden)
	assert.ErrorIs(t, f.engine.Revoke(ctx, p.PublicID, "", actor), common.ErrorForbidden)
	_, err = f.engine.ReadPublicTier(ctx, p.PublicID, nil, actor)
	require.NoError(t, err, "profile stays resolvable after a failed revoke")

	require.NoError(t, f.engine.Revoke(ctx, p.PublicID, testSecret, actor))

	_, err = f.engine.ReadPublicTier(ctx, p.PublicID, nil, actor)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.engine.RequestAccess(ctx, p.PublicID, "ER evaluation", actor)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = f.engine.ReadBreakGlass(ctx, grant.Token, actor)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.ErrorIs(t, f.engine.Revoke(ctx, p.PublicID, testSecret, actor), common.ErrorNotFound)

	stored, err := f.repos.Profiles().GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, stored.Revoked)
	assert.NotEqual(t, p.PublicID, stored.PublicID)

	newID := NewPublicID()
	require.NoError(t, f.repos.Profiles().Reinstate(ctx, p.ID, newID))
	fresh, err := f.engine.RequestAccess(ctx, newID, "ER evaluation", actor)
	require.NoError(t, err)
	_, err = f.engine.ReadBreakGlass(ctx, fresh.Token, actor)
	assert.NoError(t, err)

	assert.Contains(t, f.events(t, p.ID), models.EventRevoke)
	f.engine.Drain()
}

func TestReadPublicTier_NeverLeaksEnvelope(t *testing.T) {
	f := newFixture(t, nil)
	p := f.seed(t, map[string]any{"notes": "secret"})

	view, err := f.engine.ReadPublicTier(context.Background(), p.PublicID, &nfc.Params{CT: "5"}, actor)
	require.NoError(t, err)

	body, err := json.Marshal(view)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"publicId", "alias", "ageRange", "criticalAllergies",
		"criticalConditions", "criticalMeds", "icePhone", "nfc",
	}, keys)
	for _, part := range [][]byte{p.TierC.Ciphertext, p.TierC.Nonce, p.TierC.WrappedDEK} {
		enc, _ := json.Marshal(part)
		assert.NotContains(t, string(body), strings.Trim(string(enc), `"`))
	}

	require.NotNil(t, view.NFC)
	assert.Equal(t, []string{nfc.FlagStubNoCrypto}, view.NFC.Flags)
	require.NotNil(t, view.NFC.Counter)
	assert.Equal(t, int64(5), *view.NFC.Counter)
	assert.Equal(t, []models.AuditEvent{models.EventViewTierE}, f.events(t, p.ID))
}

func TestReadPublicTier_NFCPolicy(t *testing.T) {
	negative := fakeVerifier{res: nfc.Result{OK: false, Flags: []string{"BAD_MAC"}}}
	broken := fakeVerifier{err: errors.New("hsm offline")}
	tag := &nfc.Params{CT: "1", SDM: "abc"}

	tests := []struct {
		name      string
		policy    string
		verifier  nfc.Verifier
		wantErr   error
		wantFlags []string
	}{
		{"fail-open negative", config.NFCFailOpen, negative, nil, []string{"BAD_MAC"}},
		{"fail-open verifier error", config.NFCFailOpen, broken, nil, []string{FlagVerifyError}},
		{"fail-closed negative", config.NFCFailClosed, negative, common.ErrorNotFound, nil},
		{"fail-closed verifier error", config.NFCFailClosed, broken, common.ErrorNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *config.Config, d *Deps) {
				cfg.NFCPolicy = tt.policy
				d.NFC = tt.verifier
			})
			p := f.seed(t, nil)

			view, err := f.engine.ReadPublicTier(context.Background(), p.PublicID, tag, actor)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlags, view.NFC.Flags)
		})
	}
}

func TestVerifyNFC(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.engine.VerifyNFC(context.Background(), nfc.Params{PublicID: "x", CT: "9"}, actor)
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NotNil(t, res.Counter)
	assert.Equal(t, int64(9), *res.Counter)
}
