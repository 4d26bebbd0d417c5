// Package middleware provides the HTTP middleware that guards the dashboard API:
// session authentication, company permission and platform role checks, rate limiting
// and suspicious-IP blocking.
//
// # Authentication
//
// Authenticator validates the bearer token through session.Validator and stores the
// caller's access.AccessContext, session, user id and session id in the request context.
//
//	authn := middleware.NewAuthenticator(validator, builder, recorder, logger)
//	router.Handle("/api/me", authn.Authenticate(meHandler))
//
// # Authorization
//
// RequirePermission checks a company-scoped permission for the company id taken from the
// request. Super-admins pass without a grant.
//
//	authz := middleware.NewAuthorizer(resolver, recorder, logger)
//	mw, err := authz.RequirePermission("manage_users", middleware.FromPath("companyID"))
//
// RequireRole checks the caller's platform role.
//
// # Rate limiting
//
// RateLimit and AuthRateLimit count requests through a guard.Limiter (in-memory sliding
// window by default, guard.RedisWindow when shared). BlockSuspicious rejects IPs flagged
// by brute-force detection.
//
// # Error contract
//
// Every rejection is a JSON body {"error", "code"}. WriteAuthError maps the auth package
// errors to 401, 403 and 423 responses.
package middleware
