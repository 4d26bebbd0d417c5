package api

import (
	"net/http"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
	"github.com/platinummonkey/wasteintel/pkg/session"
)

// AuthHandlers serves sign-up, sign-in and the caller's own session
type AuthHandlers struct {
	service *session.Service
}

// NewAuthHandlers creates auth handlers
func NewAuthHandlers(service *session.Service) *AuthHandlers {
	return &AuthHandlers{service: service}
}

// SignUp handles POST /api/auth/signup
func (h *AuthHandlers) SignUp(w http.ResponseWriter, r *http.Request) {
	var req session.SignUpRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	profile, err := h.service.SignUp(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, profile)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignIn handles POST /api/auth/signin
func (h *AuthHandlers) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RefreshToken, "refresh_token") {
		return
	}

	result, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

// SignOut handles POST /api/auth/signout
func (h *AuthHandlers) SignOut(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFromContext(r)
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}

	if err := h.service.SignOut(r.Context(), s.ID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword handles POST /api/auth/password. Every session of the user,
// including the current one, ends.
func (h *AuthHandlers) ChangePassword(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.CurrentPassword, "current_password") || !httputil.RequireNonEmpty(w, req.NewPassword, "new_password") {
		return
	}

	ended, err := h.service.ChangePassword(r.Context(), ac.UserID(), req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions_ended": ended})
}

// Me handles GET /api/me with the caller's profile and effective grants
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}
	httputil.WriteSuccess(w, ac)
}
