// Package storage defines the credential store the access-control subsystem depends on.
//
// The store is split into narrow interfaces so each component asks only for what it uses:
//
//   - ProfileStore: user profiles, login counters and lockout
//   - CredentialStore: password hashes
//   - GrantStore: company access grants
//   - SessionStore: sign-in sessions
//   - InvitationStore: invitations and their one-time acceptance
//
// Every operation is parameterized and bounded by a per-query timeout in the Postgres
// implementation (pkg/storage/postgres). Lookups that find nothing return the matching
// sentinel from pkg/auth (ErrUserNotFound, ErrNotFound, ErrSessionNotFound,
// ErrInvitationNotFound) so callers can branch with errors.Is.
package storage
