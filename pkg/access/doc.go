// Package access resolves company-scoped permissions.
//
// A grant is effective when it is active and its expiry, if any, is in the
// future. Inactive and expired grants behave exactly like no grant. Permission
// names outside the fixed set are never granted.
//
// Resolver answers access questions and is the only path that changes grants:
// Grant, Revoke and ChangeRole write to the store first and emit their audit
// event only after the write succeeds. Effective grants may be cached per user;
// every change invalidates the user's entry.
//
// Builder assembles the AccessContext attached to authenticated requests.
package access
