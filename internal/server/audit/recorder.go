// Package audit records disclosure events. It is the single place where
// request metadata is turned into storable, PII-free audit rows.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/common"
	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/dmitrijs2005/vitaltags/internal/server/repositories/auditlogs"
)

const (
	defaultThreshold = 5
	writeTimeout     = 5 * time.Second
)

// Hasher is the salted one-way hash applied to IP and user agent.
type Hasher interface {
	Hash(value string) string
}

// Monitor receives repeated audit write failures.
type Monitor interface {
	AuditFailing(ctx context.Context, consecutive int, err error)
}

// MonitorFunc adapts a function to Monitor.
type MonitorFunc func(ctx context.Context, consecutive int, err error)

func (f MonitorFunc) AuditFailing(ctx context.Context, consecutive int, err error) {
	f(ctx, consecutive, err)
}

// Details is everything a caller may attach to an event. Free text is not
// accepted: ReasonGiven only controls whether the redaction marker is stored.
type Details struct {
	ReasonGiven bool
	Actor       models.Actor
}

// Recorder writes audit rows best-effort: Record never fails the caller.
type Recorder struct {
	repo      auditlogs.Repository
	hasher    Hasher
	log       logging.Logger
	monitor   Monitor
	threshold int

	mu       sync.Mutex
	failures int
}

type Option func(*Recorder)

// WithMonitor sets the hook told about repeated failures.
func WithMonitor(m Monitor) Option {
	return func(r *Recorder) { r.monitor = m }
}

// WithThreshold sets how many consecutive failures trigger the monitor.
func WithThreshold(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.threshold = n
		}
	}
}

func NewRecorder(repo auditlogs.Repository, hasher Hasher, log logging.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		repo:      repo,
		hasher:    hasher,
		log:       log.With("module", "audit"),
		threshold: defaultThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record stores one event for profileID. The write survives cancellation of
// ctx so a client disconnect does not drop the row.
func (r *Recorder) Record(ctx context.Context, profileID string, event models.AuditEvent, d Details) {
	if !event.Valid() {
		r.log.Error(ctx, "audit event rejected", "event", string(event))
		return
	}

	entry := &models.AuditEntry{
		ProfileID: profileID,
		Event:     event,
		Country:   d.Actor.Country,
	}
	if d.ReasonGiven {
		entry.Reason = common.RedactedMarker
	}
	if d.Actor.IP != "" {
		entry.IPHash = r.hasher.Hash(d.Actor.IP)
	}
	if d.Actor.UserAgent != "" {
		entry.UAHash = r.hasher.Hash(d.Actor.UserAgent)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := r.repo.Insert(writeCtx, entry); err != nil {
		r.fail(ctx, profileID, event, err)
		return
	}

	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()
}

func (r *Recorder) fail(ctx context.Context, profileID string, event models.AuditEvent, err error) {
	r.mu.Lock()
	r.failures++
	n := r.failures
	r.mu.Unlock()

	r.log.Warn(ctx, "audit write failed", "profile_id", profileID, "event", string(event), "error", err)

	if n%r.threshold != 0 {
		return
	}
	r.log.Error(ctx, "audit writes failing repeatedly", "consecutive", n, "error", err)
	if r.monitor != nil {
		r.monitor.AuditFailing(ctx, n, err)
	}
}

// ConsecutiveFailures reports the current failure streak.
func (r *Recorder) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}
