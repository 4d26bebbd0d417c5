// Package auth defines the identity and access model for the wasteintel dashboard.
//
// # Overview
//
// The package holds the types every access-control component shares: user profiles,
// company access grants, sessions and invitations, together with the closed role enum,
// the fixed-shape permission set, the sentinel errors that drive the HTTP error contract,
// session token issuance and password hashing.
//
// # Roles
//
// Roles form a closed set. Anything outside it fails ParseRole:
//
//	super_admin > admin > manager > analyst > viewer
//
// # Permissions
//
// A grant carries a PermissionSet with one boolean per known permission. Lookups by name go
// through PermissionSet.Has, which returns false for names outside the set:
//
//	grant.Permissions.Has(auth.PermissionRead)          // true/false
//	grant.Permissions.Has(auth.PermissionName("admin")) // always false
//
// Callers that accept permission names from configuration or routes should validate them
// once with ParsePermission.
//
// # Effective grants
//
// A grant is effective iff it is active and unexpired:
//
//	grant.IsEffective(time.Now())
//
// Inactive and expired grants are indistinguishable from an absent grant.
//
// # Tokens
//
// Session access tokens are HS256 JWTs carrying the user id (sub) and session id (sid).
// Opaque secrets (refresh tokens, invitation tokens) are generated with GenerateToken and
// persisted only as their SHA-256 hash:
//
//	plain, hash, err := auth.GenerateToken(auth.RefreshTokenPrefix)
//
// # Related Packages
//
//   - pkg/session: Session validation and sign-in flows
//   - pkg/access: Permission resolution and access contexts
//   - pkg/storage: Credential store interfaces
package auth
