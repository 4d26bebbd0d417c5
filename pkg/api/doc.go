// Package api provides the HTTP routes of the access-control service.
//
// # Overview
//
// Server wires handler groups to gorilla/mux routes and puts the matching middleware in
// front of each: authentication rate limiting and suspicious-IP blocking on sign-in style
// routes, session authentication on everything else, company permission checks on grant
// routes and platform role checks on invitation, admin and audit routes.
//
//	srv := api.NewServer(api.Dependencies{
//		Auth:   api.NewAuthHandlers(sessions),
//		Grants: api.NewGrantHandlers(resolver),
//		...
//	})
//	http.ListenAndServe(":8080", srv)
//
// # Handler groups
//
//   - AuthHandlers: sign-up, sign-in, refresh, sign-out, password change, GET /api/me
//   - GrantHandlers: company grant upsert, revoke, role change and access check
//   - InvitationHandlers: create, accept and revoke invitations
//   - AdminHandlers: unlock, deactivate, reactivate, session termination, suspicious IPs
//   - OIDCHandlers: external identity provider sign-in
//
// Errors follow the {"error", "code"} contract of pkg/httputil.
package api
