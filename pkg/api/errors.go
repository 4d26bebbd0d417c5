package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// writeError maps service errors to the HTTP error contract. Errors without a mapping
// are logged and answered with 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidRole),
		errors.Is(err, auth.ErrUnknownPermission):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, auth.ErrConflict):
		httputil.WriteConflict(w, "resource already exists")
	case errors.Is(err, auth.ErrUserNotFound):
		httputil.WriteNotFound(w, "user not found")
	case errors.Is(err, auth.ErrSessionNotFound):
		httputil.WriteNotFound(w, "session not found")
	case errors.Is(err, auth.ErrInvitationNotFound):
		httputil.WriteNotFound(w, "invitation not found")
	case errors.Is(err, auth.ErrNotFound):
		httputil.WriteNotFound(w, "not found")
	case errors.Is(err, auth.ErrInvitationNotPending), errors.Is(err, auth.ErrInvitationExpired):
		httputil.WriteErrorCode(w, http.StatusBadRequest, httputil.CodeInvitationInvalid, err.Error())
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrAccountDeactivated),
		errors.Is(err, auth.ErrAccountLocked),
		errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, auth.ErrCompanyAccessRequired):
		middleware.WriteAuthError(w, err)
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("path", r.URL.Path).Error("request failed")
		httputil.WriteInternalError(w)
	}
}
