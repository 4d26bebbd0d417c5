// Package session validates bearer tokens and owns the sign-in lifecycle.
//
// A Validator resolves an access token to a live session and an active, unlocked
// profile. Store lookups are bounded by a timeout; timeouts and store failures
// are reported as auth.ErrInvalidToken so nothing about the store leaks to clients.
//
// A Service signs users up and in (password or OIDC), refreshes and ends sessions,
// changes passwords and runs operator actions (terminate, unlock, deactivate).
// Each of these emits one audit.Event once the store write has completed.
//
//	validator := session.NewValidator(tokens, store, store, session.WithTimeout(5*time.Second))
//	result, err := validator.Validate(ctx, token)
package session
