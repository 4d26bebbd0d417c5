package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
)

// Emitter receives audit events from state-changing operations.
// Emit must not block the caller on sink I/O and never reports failure.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to Emitter
type EmitterFunc func(ctx context.Context, event Event)

// Emit calls f
func (f EmitterFunc) Emit(ctx context.Context, event Event) {
	f(ctx, event)
}

// NopEmitter discards events
type NopEmitter struct{}

// Emit does nothing
func (NopEmitter) Emit(context.Context, Event) {}

// Enrich fills request-scoped fields the caller left empty: actor, session, client IP,
// user agent and request id.
func Enrich(ctx context.Context, event Event) Event {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.UserID == nil {
		event.UserID = StringPtr(contextkeys.GetUserID(ctx))
	}
	if event.SessionID == nil {
		event.SessionID = StringPtr(contextkeys.GetSessionID(ctx))
	}
	if event.IPAddress == "" {
		event.IPAddress = contextkeys.GetClientIP(ctx)
	}
	if event.UserAgent == "" {
		event.UserAgent = contextkeys.GetUserAgent(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}
	return event
}
