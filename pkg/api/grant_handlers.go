package api

import (
	"net/http"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
)

// GrantHandlers manages company access grants. Routes are guarded by
// RequirePermission(manage_users) for the company in the path.
type GrantHandlers struct {
	resolver *access.Resolver
}

// NewGrantHandlers creates grant handlers
func NewGrantHandlers(resolver *access.Resolver) *GrantHandlers {
	return &GrantHandlers{resolver: resolver}
}

type grantRequest struct {
	Role        auth.Role           `json:"role"`
	Permissions *auth.PermissionSet `json:"permissions,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

// Upsert handles PUT /api/companies/{companyID}/grants/{userID}
func (h *GrantHandlers) Upsert(w http.ResponseWriter, r *http.Request) {
	ac, companyID, userID, ok := grantTarget(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !mayAssign(w, ac, companyID, userID, req) {
		return
	}

	grant, err := h.resolver.Grant(r.Context(), ac.UserID(), access.GrantRequest{
		UserID:      userID,
		CompanyID:   companyID,
		Role:        req.Role,
		Permissions: req.Permissions,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// Revoke handles DELETE /api/companies/{companyID}/grants/{userID}
func (h *GrantHandlers) Revoke(w http.ResponseWriter, r *http.Request) {
	_, companyID, userID, ok := grantTarget(w, r)
	if !ok {
		return
	}

	if err := h.resolver.Revoke(r.Context(), userID, companyID); err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ChangeRole handles PATCH /api/companies/{companyID}/grants/{userID}/role
func (h *GrantHandlers) ChangeRole(w http.ResponseWriter, r *http.Request) {
	ac, companyID, userID, ok := grantTarget(w, r)
	if !ok {
		return
	}

	var req grantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !mayAssign(w, ac, companyID, userID, req) {
		return
	}

	grant, err := h.resolver.ChangeRole(r.Context(), userID, companyID, req.Role, req.Permissions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, grant)
}

// Check handles GET /api/companies/{companyID}/access with the caller's grant
func (h *GrantHandlers) Check(w http.ResponseWriter, r *http.Request) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return
	}
	companyID, ok := httputil.ParsePathStringOrError(w, r, "companyID")
	if !ok {
		return
	}

	resp := map[string]interface{}{
		"company_id":  companyID,
		"has_access":  ac.HasCompanyAccess(companyID) || ac.IsSuperAdmin(),
		"super_admin": ac.IsSuperAdmin(),
	}
	if grant, found := ac.Grant(companyID); found {
		resp["role"] = grant.Role
		resp["permissions"] = grant.Permissions
		resp["expires_at"] = grant.ExpiresAt
	}
	httputil.WriteSuccess(w, resp)
}

func grantTarget(w http.ResponseWriter, r *http.Request) (*access.AccessContext, string, string, bool) {
	ac, ok := access.FromContext(r.Context())
	if !ok {
		middleware.WriteAuthError(w, auth.ErrMissingToken)
		return nil, "", "", false
	}
	companyID, ok := httputil.ParsePathStringOrError(w, r, "companyID")
	if !ok {
		return nil, "", "", false
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return nil, "", "", false
	}
	return ac, companyID, userID, true
}

// mayAssign keeps grant writers below platform admin inside their own grant: they
// cannot hand out the admin company role, write their own grant, or give permissions
// they do not hold themselves
func mayAssign(w http.ResponseWriter, ac *access.AccessContext, companyID, userID string, req grantRequest) bool {
	if ac.IsAdmin() {
		return true
	}
	own, _ := ac.Grant(companyID)
	requested := auth.DefaultPermissions(req.Role)
	if req.Permissions != nil {
		requested = *req.Permissions
	}
	if req.Role == auth.RoleAdmin || userID == ac.UserID() || !own.Permissions.Covers(requested) {
		middleware.WriteAuthError(w, auth.ErrPermissionDenied)
		return false
	}
	return true
}
