package middleware

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/session"
)

// Authenticator validates bearer tokens and attaches the caller's access context
type Authenticator struct {
	validator *session.Validator
	builder   *access.Builder
	emitter   audit.Emitter
	logger    *observability.Logger
}

// NewAuthenticator creates the authentication middleware
func NewAuthenticator(validator *session.Validator, builder *access.Builder, emitter audit.Emitter, logger *observability.Logger) *Authenticator {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Authenticator{validator: validator, builder: builder, emitter: emitter, logger: logger}
}

// Authenticate rejects requests without a valid session and otherwise stores the
// access context, session, user id and session id in the request context
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, err := session.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			WriteAuthError(w, err)
			return
		}

		result, err := a.validator.Validate(ctx, token)
		if err != nil {
			if errors.Is(err, auth.ErrAccountLocked) || errors.Is(err, auth.ErrAccountDeactivated) {
				a.emitter.Emit(ctx, audit.Event{
					Action:       audit.ActionAccessDenied,
					ResourceType: audit.ResourceSession,
					Metadata:     map[string]interface{}{"path": r.URL.Path, "reason": err.Error()},
					ErrorMessage: err.Error(),
				})
			}
			WriteAuthError(w, err)
			return
		}

		ac, err := a.builder.ForProfile(ctx, result.Profile)
		if err != nil {
			a.logger.WithError(err).WithField("user_id", result.Profile.ID).Error("failed to build access context")
			httputil.WriteInternalError(w)
			return
		}

		ctx = access.WithAccess(ctx, ac)
		ctx = contextkeys.WithSession(ctx, result.Session)
		ctx = contextkeys.WithUserID(ctx, result.Profile.ID)
		ctx = contextkeys.WithSessionID(ctx, result.Session.ID)
		ctx = observability.WithLogger(ctx, observability.GetLogger(ctx).WithField("session_id", result.Session.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionFromContext returns the validated session of an authenticated request
func SessionFromContext(r *http.Request) (*auth.Session, bool) {
	s, ok := contextkeys.Session(r.Context()).(*auth.Session)
	return s, ok && s != nil
}

// WriteAuthError maps authentication and authorization errors to the HTTP error contract.
// Unexpected errors become 500 without detail.
func WriteAuthError(w http.ResponseWriter, err error) {
	var locked *auth.LockedError
	switch {
	case errors.As(err, &locked):
		httputil.WriteLocked(w, locked.Until)
	case errors.Is(err, auth.ErrMissingToken):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "Authentication required")
	case errors.Is(err, auth.ErrTokenExpired):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeTokenExpired, "Token has expired")
	case errors.Is(err, auth.ErrInvalidToken):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeInvalidToken, "Invalid or expired token")
	case errors.Is(err, auth.ErrUserNotFound):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "Authentication required")
	case errors.Is(err, auth.ErrInvalidCredentials):
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeInvalidCredentials, "Invalid email or password")
	case errors.Is(err, auth.ErrAccountDeactivated):
		httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeAccountDeactivated, "Account is deactivated")
	case errors.Is(err, auth.ErrPermissionDenied):
		httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodePermissionDenied, "Insufficient permissions")
	case errors.Is(err, auth.ErrCompanyAccessRequired):
		httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeCompanyAccessRequired, "Access to this company is required")
	default:
		httputil.WriteInternalError(w)
	}
}
