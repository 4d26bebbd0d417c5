package api

import (
	"net/http"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
)

// InvitationHandlers issues and redeems invitations
type InvitationHandlers struct {
	invitations *access.Invitations
}

// NewInvitationHandlers creates invitation handlers
func NewInvitationHandlers(invitations *access.Invitations) *InvitationHandlers {
	return &InvitationHandlers{invitations: invitations}
}

// Create handles POST /api/invitations. The plain token appears only in this response.
func (h *InvitationHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}

	var req access.InvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	inv, token, err := h.invitations.Create(r.Context(), ac, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"invitation": inv,
		"token":      token,
	})
}

// Accept handles POST /api/invitations/accept for the signed-in user
func (h *InvitationHandlers) Accept(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	profile := ac.Profile()
	inv, grant, err := h.invitations.Accept(r.Context(), &profile, req.Token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"invitation": inv,
		"grant":      grant,
	})
}

// Revoke handles DELETE /api/invitations/{invitationID}
func (h *InvitationHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "invitationID")
	if !ok {
		return
	}

	inv, err := h.invitations.Revoke(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, inv)
}
