// Package logging defines the structured-logging interface used across the
// server. The slog implementation scrubs known sensitive keys; callers still
// pass only ids, hashes, enums and timestamps.
package logging

import "context"

// Logger is a context-aware, structured logger. Args are key/value pairs:
//
//	log.Info(ctx, "break-glass requested", "profile_id", id, "event", ev)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always carries args.
	With(args ...any) Logger
}
