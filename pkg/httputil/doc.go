// Package httputil holds the HTTP error contract and the request plumbing shared by
// every handler and middleware.
//
// Every rejection is a JSON body with a human message and a stable machine code:
//
//	{"error": "Account is locked", "code": "ACCOUNT_LOCKED", "lockedUntil": "2026-01-02T15:04:05Z"}
//
// Handlers write errors through WriteErrorCode (or the WriteXxx shorthands) so clients can
// branch on `code` without matching prose. Rate-limit rejections add `retryAfter` in seconds
// and set the Retry-After header.
//
// The middleware in this package is request plumbing only (request ids, client IP resolution,
// panic recovery, access logs, CORS, body limits). Authentication and authorization live in
// pkg/middleware.
package httputil
