// Package contextkeys provides centralized context key definitions
//
// All request-scoped values shared between packages are keyed here so that middleware,
// handlers and loggers agree on key identity without importing each other.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/wasteintel/pkg/contextkeys"
//	ctx = contextkeys.WithAccess(ctx, accessCtx)
//	accessCtx, _ := contextkeys.Access(ctx).(*access.AccessContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AccessKey contains *access.AccessContext
	// Set by: middleware.Authenticate (pkg/middleware/authenticate.go)
	// Required by: RequirePermission, RequireRole, protected handlers
	AccessKey Key = "access_context"

	// SessionKey contains *auth.Session for the validated bearer token
	// Set by: middleware.Authenticate
	SessionKey Key = "session"

	// SessionIDKey contains the validated session ID string
	// Set by: middleware.Authenticate
	// Used by: audit events
	SessionIDKey Key = "session_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit events
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID string
	// Set by: middleware.Authenticate
	// Used by: Logger, audit events, rate limit keys
	UserIDKey Key = "user_id"

	// ClientIPKey contains the resolved client IP string
	// Set by: httputil.ClientIPMiddleware
	// Used by: Rate/anomaly guard, audit events
	ClientIPKey Key = "client_ip"

	// UserAgentKey contains the request user agent
	// Set by: httputil.ClientIPMiddleware
	UserAgentKey Key = "user_agent"

	// LoggerKey contains *observability.Logger
	LoggerKey Key = "logger"
)

// WithAccess adds the access context to the context
func WithAccess(ctx context.Context, accessCtx interface{}) context.Context {
	return context.WithValue(ctx, AccessKey, accessCtx)
}

// Access returns the raw access context value
func Access(ctx context.Context) interface{} {
	return ctx.Value(AccessKey)
}

// WithSession adds the validated session to the context
func WithSession(ctx context.Context, session interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, session)
}

// Session returns the raw session value
func Session(ctx context.Context) interface{} {
	return ctx.Value(SessionKey)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithSessionID adds the session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithClientIP adds the client IP to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// WithUserAgent adds the user agent to the context
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, UserAgentKey, ua)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	return getString(ctx, UserIDKey)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	return getString(ctx, SessionIDKey)
}

// GetClientIP retrieves the client IP from context
func GetClientIP(ctx context.Context) string {
	return getString(ctx, ClientIPKey)
}

// GetUserAgent retrieves the user agent from context
func GetUserAgent(ctx context.Context) string {
	return getString(ctx, UserAgentKey)
}

func getString(ctx context.Context, key Key) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
