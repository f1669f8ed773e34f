package models

import "time"

// AuditEvent is the closed set of disclosure-relevant events.
type AuditEvent string

const (
	EventRequestBreakGlass AuditEvent = "REQUEST_BREAK_GLASS"
	EventViewTierE         AuditEvent = "VIEW_TIER_E"
	EventViewTierC         AuditEvent = "VIEW_TIER_C"
	EventRevealField       AuditEvent = "REVEAL_TIER_C_FIELD"
	EventRevoke            AuditEvent = "REVOKE"
	EventReinstate         AuditEvent = "REINSTATE"
	EventExport            AuditEvent = "EXPORT"
)

// Valid reports whether e is a known event.
func (e AuditEvent) Valid() bool {
	switch e {
	case EventRequestBreakGlass, EventViewTierE, EventViewTierC, EventRevealField,
		EventRevoke, EventReinstate, EventExport:
		return true
	}
	return false
}

// AuditEntry is one append-only audit row. Reason is empty or the redaction
// marker; IPHash and UAHash are salted digests, never raw values.
type AuditEntry struct {
	ID        int64
	ProfileID string
	Event     AuditEvent
	Reason    string
	IPHash    string
	UAHash    string
	Country   string
	CreatedAt time.Time
}
