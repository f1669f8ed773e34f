package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/vitaltags/internal/cryptox"
	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/audit"
	"github.com/dmitrijs2005/vitaltags/internal/server/notify"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

const (
	testKEK  = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testSalt = "00112233445566778899aabbccddeeff"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type fakeDigest struct {
	contact notify.Contact
	digest  notify.Digest
	calls   int
}

func (f *fakeDigest) NotifyAccessDigest(_ context.Context, c notify.Contact, d notify.Digest) notify.Result {
	f.calls++
	f.contact, f.digest = c, d
	return notify.Result{OK: true, Channel: notify.ChannelEmail, MessageID: "m-1"}
}

type env struct {
	repos    *repomanager.MemoryRepositoryManager
	envelope *cryptox.Envelope
	recorder *audit.Recorder
	digest   *fakeDigest
	profiles *ProfileService
	terms    *TermService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	envelope, err := cryptox.NewEnvelope(testKEK)
	require.NoError(t, err)
	hasher, err := cryptox.NewPIIHasher(testSalt)
	require.NoError(t, err)

	repos := repomanager.NewMemoryRepositoryManager()
	rec := audit.NewRecorder(repos.AuditLogs(), hasher, nopLogger{})
	digest := &fakeDigest{}
	return &env{
		repos:    repos,
		envelope: envelope,
		recorder: rec,
		digest:   digest,
		profiles: NewProfileService(repos, envelope, rec, digest),
		terms:    NewTermService(repos),
	}
}
