package api

import (
	"net"
	"net/http"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
	"github.com/platinummonkey/wasteintel/pkg/session"
)

// AdminHandlers serves operator actions on accounts, sessions and the guard
type AdminHandlers struct {
	service *session.Service
	guard   *guard.Guard
	emitter audit.Emitter
}

// NewAdminHandlers creates admin handlers
func NewAdminHandlers(service *session.Service, g *guard.Guard, emitter audit.Emitter) *AdminHandlers {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	return &AdminHandlers{service: service, guard: g, emitter: emitter}
}

// Unlock handles POST /api/admin/users/{userID}/unlock
func (h *AdminHandlers) Unlock(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	if err := h.service.Unlock(r.Context(), op, userID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Deactivate handles POST /api/admin/users/{userID}/deactivate
func (h *AdminHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	profile, err := h.service.Deactivate(r.Context(), op, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// Reactivate handles POST /api/admin/users/{userID}/reactivate
func (h *AdminHandlers) Reactivate(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	profile, err := h.service.Reactivate(r.Context(), op, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// UpdateProfile handles PATCH /api/admin/users/{userID}
func (h *AdminHandlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	var update auth.ProfileUpdate
	if !httputil.ParseJSONOrError(w, r, &update) {
		return
	}
	profile, err := h.service.UpdateProfile(r.Context(), op, userID, update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, profile)
}

// TerminateSession handles DELETE /api/admin/sessions/{sessionID}
func (h *AdminHandlers) TerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := httputil.ParsePathStringOrError(w, r, "sessionID")
	if !ok {
		return
	}
	if err := h.service.Terminate(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// TerminateAll handles DELETE /api/admin/users/{userID}/sessions
func (h *AdminHandlers) TerminateAll(w http.ResponseWriter, r *http.Request) {
	op, ok := operator(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}
	ended, err := h.service.TerminateAll(r.Context(), op, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"sessions_ended": ended})
}

// SuspiciousIPs handles GET /api/admin/suspicious-ips
func (h *AdminHandlers) SuspiciousIPs(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{"ips": h.guard.SuspiciousIPs()})
}

// ClearSuspiciousIP handles DELETE /api/admin/suspicious-ips/{ip}
func (h *AdminHandlers) ClearSuspiciousIP(w http.ResponseWriter, r *http.Request) {
	ip, ok := httputil.ParsePathStringOrError(w, r, "ip")
	if !ok {
		return
	}
	if net.ParseIP(ip) == nil {
		httputil.WriteBadRequest(w, "invalid IP address")
		return
	}

	cleared := h.guard.ClearSuspicious(ip)
	event := audit.Event{
		Action:       audit.ActionSuspiciousIPClear,
		ResourceType: audit.ResourceIP,
		ResourceID:   audit.StringPtr(ip),
		Metadata:     map[string]interface{}{"was_flagged": cleared},
		Success:      cleared,
	}
	if !cleared {
		event.ErrorMessage = "ip was not flagged"
	}
	h.emitter.Emit(r.Context(), event)

	if !cleared {
		httputil.WriteNotFound(w, "IP is not flagged")
		return
	}
	httputil.WriteNoContent(w)
}

func operator(w http.ResponseWriter, r *http.Request) (session.Operator, bool) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return session.Operator{}, false
	}
	return session.Operator{ID: ac.UserID(), Role: ac.Profile().Role}, true
}
