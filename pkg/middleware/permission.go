package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// CompanyIDSource extracts the target company id from a request
type CompanyIDSource func(r *http.Request) string

// FromPath reads a gorilla/mux path variable
func FromPath(name string) CompanyIDSource {
	return func(r *http.Request) string {
		return mux.Vars(r)[name]
	}
}

// FromQuery reads a query parameter
func FromQuery(name string) CompanyIDSource {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// FromHeader reads a request header
func FromHeader(name string) CompanyIDSource {
	return func(r *http.Request) string {
		return r.Header.Get(name)
	}
}

// Authorizer enforces company permissions and platform roles on authenticated requests
type Authorizer struct {
	resolver *access.Resolver
	emitter  audit.Emitter
	logger   *observability.Logger
}

// NewAuthorizer creates the authorization middleware factory
func NewAuthorizer(resolver *access.Resolver, emitter audit.Emitter, logger *observability.Logger) *Authorizer {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Authorizer{resolver: resolver, emitter: emitter, logger: logger}
}

// RequirePermission allows the request when the caller's effective grant for the
// company named by source sets permission. Super-admins pass without a grant.
//
// An unknown permission name is reported as an error and the returned middleware
// denies every request.
func (a *Authorizer) RequirePermission(permission string, source CompanyIDSource) (func(http.Handler) http.Handler, error) {
	name, err := auth.ParsePermission(permission)
	if err != nil {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				a.deny(r, "unknown_permission", map[string]interface{}{"permission": permission})
				httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodePermissionDenied, "Insufficient permissions")
			})
		}, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := access.FromContext(r.Context())
			if !ok {
				WriteAuthError(w, auth.ErrMissingToken)
				return
			}
			if ac.IsSuperAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			companyID := strings.TrimSpace(source(r))
			if companyID == "" {
				httputil.WriteErrorCode(w, http.StatusBadRequest, httputil.CodeCompanyIDRequired, "Company ID is required")
				return
			}

			ctx := r.Context()
			hasAccess, err := a.resolver.HasCompanyAccess(ctx, ac.UserID(), companyID)
			if err != nil {
				a.logger.WithError(err).Error("company access check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !hasAccess {
				a.deny(r, "company_access_required", map[string]interface{}{"company_id": companyID, "permission": string(name)})
				WriteAuthError(w, auth.ErrCompanyAccessRequired)
				return
			}

			allowed, err := a.resolver.HasPermission(ctx, ac.UserID(), companyID, name)
			if err != nil {
				a.logger.WithError(err).Error("permission check failed")
				httputil.WriteInternalError(w)
				return
			}
			if !allowed {
				a.deny(r, "permission_denied", map[string]interface{}{"company_id": companyID, "permission": string(name)})
				WriteAuthError(w, auth.ErrPermissionDenied)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

// MustRequirePermission is RequirePermission for route tables; it panics on an unknown name
func (a *Authorizer) MustRequirePermission(permission string, source CompanyIDSource) func(http.Handler) http.Handler {
	mw, err := a.RequirePermission(permission, source)
	if err != nil {
		panic(fmt.Sprintf("middleware: %v", err))
	}
	return mw
}

// RequireRole allows callers whose platform role is one of roles
func (a *Authorizer) RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	allowed := make(map[auth.Role]struct{}, len(roles))
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
		names = append(names, string(role))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, ok := access.FromContext(r.Context())
			if !ok {
				WriteAuthError(w, auth.ErrMissingToken)
				return
			}
			profile := ac.Profile()
			if _, ok := allowed[profile.Role]; !ok || !profile.IsActive {
				a.deny(r, "role_required", map[string]interface{}{"required_roles": names, "role": string(profile.Role)})
				httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeForbidden, "Insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authorizer) deny(r *http.Request, reason string, metadata map[string]interface{}) {
	metadata["path"] = r.URL.Path
	metadata["method"] = r.Method
	metadata["reason"] = reason
	var resourceID *string
	if id, ok := metadata["company_id"].(string); ok {
		resourceID = audit.StringPtr(id)
	}
	a.emitter.Emit(r.Context(), audit.Event{
		Action:       audit.ActionAccessDenied,
		ResourceType: audit.ResourceCompany,
		ResourceID:   resourceID,
		Metadata:     metadata,
		ErrorMessage: reason,
	})
}
