package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// Dependencies are the components the API routes are built from. OIDC and Audit may be nil.
type Dependencies struct {
	Auth        *AuthHandlers
	Grants      *GrantHandlers
	Invitations *InvitationHandlers
	Admin       *AdminHandlers
	OIDC        *OIDCHandlers
	Audit       *audit.Handlers

	Authn *middleware.Authenticator
	Authz *middleware.Authorizer
	Guard *guard.Guard

	// Metrics records per-route request counts when set
	Metrics *observability.Metrics

	// AuthRateLimit configures the limiter in front of sign-in style routes
	AuthRateLimit middleware.RateLimitConfig
}

// Server routes the access-control API
type Server struct {
	router      *mux.Router
	deps        Dependencies
	authLimiter *middleware.RateLimiter
}

// NewServer creates the server and registers every route
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		deps:        deps,
		authLimiter: middleware.NewAuthRateLimiter(deps.Guard, deps.AuthRateLimit),
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	d := s.deps
	public := httputil.Chain(s.authLimiter.Middleware, middleware.BlockSuspicious(d.Guard))
	signedIn := httputil.Chain(d.Authn.Authenticate)
	admins := httputil.Chain(d.Authn.Authenticate, d.Authz.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin))
	manageUsers := httputil.Chain(d.Authn.Authenticate, d.Authz.MustRequirePermission(string(auth.PermissionManageUsers), middleware.FromPath("companyID")))
	readCompany := httputil.Chain(d.Authn.Authenticate, d.Authz.MustRequirePermission(string(auth.PermissionRead), middleware.FromPath("companyID")))

	r := s.router.PathPrefix("/api").Subrouter()

	// Auth routes
	r.Handle("/auth/signup", public(http.HandlerFunc(d.Auth.SignUp))).Methods(http.MethodPost)
	r.Handle("/auth/signin", public(http.HandlerFunc(d.Auth.SignIn))).Methods(http.MethodPost)
	r.Handle("/auth/refresh", public(http.HandlerFunc(d.Auth.Refresh))).Methods(http.MethodPost)
	r.Handle("/auth/signout", signedIn(http.HandlerFunc(d.Auth.SignOut))).Methods(http.MethodPost)
	r.Handle("/auth/password", signedIn(http.HandlerFunc(d.Auth.ChangePassword))).Methods(http.MethodPost)
	r.Handle("/me", signedIn(http.HandlerFunc(d.Auth.Me))).Methods(http.MethodGet)

	if d.OIDC != nil {
		r.Handle("/auth/oidc/login", public(http.HandlerFunc(d.OIDC.Login))).Methods(http.MethodGet)
		r.Handle("/auth/oidc/callback", public(http.HandlerFunc(d.OIDC.Callback))).Methods(http.MethodGet)
	}

	// Company grant routes
	r.Handle("/companies/{companyID}/grants/{userID}", manageUsers(http.HandlerFunc(d.Grants.Upsert))).Methods(http.MethodPut)
	r.Handle("/companies/{companyID}/grants/{userID}", manageUsers(http.HandlerFunc(d.Grants.Revoke))).Methods(http.MethodDelete)
	r.Handle("/companies/{companyID}/grants/{userID}/role", manageUsers(http.HandlerFunc(d.Grants.ChangeRole))).Methods(http.MethodPatch)
	r.Handle("/companies/{companyID}/access", readCompany(http.HandlerFunc(d.Grants.Check))).Methods(http.MethodGet)

	// Invitation routes
	inviters := httputil.Chain(d.Authn.Authenticate, d.Authz.RequireRole(auth.RoleAdmin, auth.RoleSuperAdmin, auth.RoleManager))
	r.Handle("/invitations", inviters(http.HandlerFunc(d.Invitations.Create))).Methods(http.MethodPost)
	r.Handle("/invitations/accept", signedIn(http.HandlerFunc(d.Invitations.Accept))).Methods(http.MethodPost)
	r.Handle("/invitations/{invitationID}", admins(http.HandlerFunc(d.Invitations.Revoke))).Methods(http.MethodDelete)

	// Admin routes
	r.Handle("/admin/users/{userID}", admins(http.HandlerFunc(d.Admin.UpdateProfile))).Methods(http.MethodPatch)
	r.Handle("/admin/users/{userID}/unlock", admins(http.HandlerFunc(d.Admin.Unlock))).Methods(http.MethodPost)
	r.Handle("/admin/users/{userID}/deactivate", admins(http.HandlerFunc(d.Admin.Deactivate))).Methods(http.MethodPost)
	r.Handle("/admin/users/{userID}/reactivate", admins(http.HandlerFunc(d.Admin.Reactivate))).Methods(http.MethodPost)
	r.Handle("/admin/users/{userID}/sessions", admins(http.HandlerFunc(d.Admin.TerminateAll))).Methods(http.MethodDelete)
	r.Handle("/admin/sessions/{sessionID}", admins(http.HandlerFunc(d.Admin.TerminateSession))).Methods(http.MethodDelete)

	superAdmins := httputil.Chain(d.Authn.Authenticate, d.Authz.RequireRole(auth.RoleSuperAdmin))
	r.Handle("/admin/suspicious-ips", superAdmins(http.HandlerFunc(d.Admin.SuspiciousIPs))).Methods(http.MethodGet)
	r.Handle("/admin/suspicious-ips/{ip}", superAdmins(http.HandlerFunc(d.Admin.ClearSuspiciousIP))).Methods(http.MethodDelete)

	// Audit routes live on their own router so the role check wraps all of them
	if d.Audit != nil {
		auditRouter := mux.NewRouter()
		d.Audit.RegisterRoutes(auditRouter.PathPrefix("/api").Subrouter())
		r.PathPrefix("/audit").Handler(admins(auditRouter))
	}
}

// Cleaner returns the in-memory window of the authentication limiter
func (s *Server) Cleaner() guard.Cleaner {
	return s.authLimiter.Cleaner()
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
