package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/session"
)

const (
	oidcStateCookie = "wasteintel_oidc_state"
	oidcStateTTL    = 10 * time.Minute
)

// OIDCHandlers runs the external identity provider sign-in
type OIDCHandlers struct {
	provider     session.IdentityProvider
	service      *session.Service
	secureCookie bool
}

// NewOIDCHandlers creates OIDC handlers. secureCookie marks the state cookie Secure.
func NewOIDCHandlers(provider session.IdentityProvider, service *session.Service, secureCookie bool) *OIDCHandlers {
	return &OIDCHandlers{provider: provider, service: service, secureCookie: secureCookie}
}

// Login handles GET /api/auth/oidc/login by redirecting to the provider
func (h *OIDCHandlers) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     "/api/auth/oidc",
		MaxAge:   int(oidcStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /api/auth/oidc/callback and signs in the matching profile
func (h *OIDCHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oidcStateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		httputil.WriteBadRequest(w, "invalid OAuth state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oidcStateCookie, Path: "/api/auth/oidc", MaxAge: -1, HttpOnly: true, Secure: h.secureCookie})

	if msg := r.URL.Query().Get("error"); msg != "" {
		httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "identity provider rejected sign-in")
		return
	}
	code := r.URL.Query().Get("code")
	if !httputil.RequireNonEmpty(w, code, "code") {
		return
	}

	identity, err := h.provider.Exchange(r.Context(), code)
	if err != nil {
		if errors.Is(err, session.ErrOIDCExchange) {
			observability.FromContext(r.Context()).WithError(err).Warn("oidc exchange failed")
			httputil.WriteErrorCode(w, http.StatusUnauthorized, httputil.CodeUnauthorized, "identity provider sign-in failed")
			return
		}
		writeError(w, r, err)
		return
	}

	result, err := h.service.SignInOIDC(r.Context(), identity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
