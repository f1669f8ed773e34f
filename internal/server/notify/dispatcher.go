// Package notify delivers owner notifications. Delivery goes through
// pluggable per-channel senders and degrades to a log line that carries
// only hashed contact details.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vitaltags/internal/logging"
	"github.com/dmitrijs2005/vitaltags/internal/server/models"
	"github.com/google/uuid"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelLog   Channel = "log"
)

const (
	KindBreakGlass   = "break_glass_requested"
	KindAccessDigest = "access_digest"
)

// Contact is where the owner wants to be told. Either field may be empty.
type Contact struct {
	OwnerID string
	Email   string
	Phone   string
}

// Result reports how a notification left the process.
type Result struct {
	OK        bool
	Channel   Channel
	MessageID string
}

// Message is the rendered notification handed to a Sender.
type Message struct {
	ID      string
	Kind    string
	Subject string
	Body    string
}

// Sender is an external delivery provider for one channel.
type Sender interface {
	Send(ctx context.Context, to string, msg Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to string, msg Message) error

func (f SenderFunc) Send(ctx context.Context, to string, msg Message) error {
	return f(ctx, to, msg)
}

// BreakGlassNotice tells the owner that emergency access was requested.
// Reason is hashed before logging and never included in the message body.
type BreakGlassNotice struct {
	ProfileID string
	Reason    string
	At        time.Time
	ExpiresAt time.Time
}

type DigestEvent struct {
	At    time.Time
	Event models.AuditEvent
}

type Digest struct {
	ProfileID string
	Events    []DigestEvent
}

type Hasher interface {
	Hash(value string) string
}

type Dispatcher struct {
	email  Sender
	sms    Sender
	hasher Hasher
	log    logging.Logger
}

type Option func(*Dispatcher)

func WithEmail(s Sender) Option { return func(d *Dispatcher) { d.email = s } }
func WithSMS(s Sender) Option   { return func(d *Dispatcher) { d.sms = s } }

func NewDispatcher(hasher Hasher, log logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{hasher: hasher, log: log.With("module", "notify")}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) NotifyBreakGlassRequested(ctx context.Context, c Contact, n BreakGlassNotice) Result {
	msg := Message{
		ID:      uuid.NewString(),
		Kind:    KindBreakGlass,
		Subject: "Emergency access requested",
		Body: fmt.Sprintf("Emergency access to your medical profile was requested at %s. "+
			"The access token expires at %s. If this was not expected, revoke your tag.",
			n.At.UTC().Format(time.RFC3339), n.ExpiresAt.UTC().Format(time.RFC3339)),
	}
	var reasonHash string
	if n.Reason != "" {
		reasonHash = d.hasher.Hash(n.Reason)
	}
	return d.dispatch(ctx, c, msg, "profile_id", n.ProfileID, "reason_hash", reasonHash)
}

func (d *Dispatcher) NotifyAccessDigest(ctx context.Context, c Contact, g Digest) Result {
	body := fmt.Sprintf("%d access event(s) on your medical profile:\n", len(g.Events))
	for _, e := range g.Events {
		body += fmt.Sprintf("%s %s\n", e.At.UTC().Format(time.RFC3339), e.Event)
	}
	msg := Message{
		ID:      uuid.NewString(),
		Kind:    KindAccessDigest,
		Subject: "Access digest",
		Body:    body,
	}
	return d.dispatch(ctx, c, msg, "profile_id", g.ProfileID, "events", len(g.Events))
}

type route struct {
	channel Channel
	sender  Sender
	to      string
}

func (d *Dispatcher) routes(c Contact) []route {
	var rs []route
	if c.Email != "" && d.email != nil {
		rs = append(rs, route{ChannelEmail, d.email, c.Email})
	}
	if c.Phone != "" && d.sms != nil {
		rs = append(rs, route{ChannelSMS, d.sms, c.Phone})
	}
	return rs
}

func (d *Dispatcher) dispatch(ctx context.Context, c Contact, msg Message, attrs ...any) Result {
	args := append([]any{
		"kind", msg.Kind,
		"message_id", msg.ID,
		"owner_id", c.OwnerID,
		"email_hash", d.hashIfSet(c.Email),
		"phone_hash", d.hashIfSet(c.Phone),
	}, attrs...)

	failed := false
	for _, r := range d.routes(c) {
		err := safeSend(ctx, r.sender, r.to, msg)
		if err == nil {
			d.log.Info(ctx, "notification sent", append(args, "channel", string(r.channel))...)
			return Result{OK: true, Channel: r.channel, MessageID: msg.ID}
		}
		failed = true
		d.log.Warn(ctx, "notification channel failed", append(args, "channel", string(r.channel), "error", err)...)
	}

	d.log.Info(ctx, "notification logged", args...)
	return Result{OK: !failed, Channel: ChannelLog, MessageID: msg.ID}
}

func (d *Dispatcher) hashIfSet(v string) string {
	if v == "" {
		return ""
	}
	return d.hasher.Hash(v)
}

func safeSend(ctx context.Context, s Sender, to string, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	return s.Send(ctx, to, msg)
}
