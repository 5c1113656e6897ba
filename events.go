package auth

import (
	"context"
	"time"
)

// SessionEventType enumerates session lifecycle notifications.
type SessionEventType string

const (
	SessionEventSynced  SessionEventType = "session.synced"
	SessionEventCleared SessionEventType = "session.cleared"
)

// SessionEvent is dispatched to global state consumers whenever the
// session principal is synced or the session is torn down.
type SessionEvent struct {
	Type       SessionEventType
	Principal  Principal
	Reason     string
	OccurredAt time.Time
}

// SessionSink consumes session events.
type SessionSink interface {
	Publish(ctx context.Context, event SessionEvent) error
}

// SessionSinkFunc adapts a function to the SessionSink interface.
type SessionSinkFunc func(ctx context.Context, event SessionEvent) error

// Publish implements SessionSink.
func (f SessionSinkFunc) Publish(ctx context.Context, event SessionEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

// publishSessionEvent fans out to every sink. Sink failures are logged and
// never reach the caller.
func publishSessionEvent(ctx context.Context, logger Logger, sinks []SessionSink, event SessionEvent) {
	for _, sink := range sinks {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			logger.Warn("session sink failed", "event", string(event.Type), "error", err)
		}
	}
}
