package auth

import (
	"errors"
	"fmt"
	"time"
)

// Authentication and authorization errors
var (
	ErrMissingToken          = errors.New("missing or malformed authorization header")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrUserNotFound          = errors.New("user profile not found")
	ErrAccountDeactivated    = errors.New("account deactivated")
	ErrAccountLocked         = errors.New("account locked")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrCompanyAccessRequired = errors.New("company access required")
	ErrUnknownPermission     = errors.New("unknown permission")
	ErrInvalidRole           = errors.New("invalid role")
)

// Store and lifecycle errors
var (
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("already exists")
	ErrInvalidInput         = errors.New("invalid input")
	ErrSessionNotFound      = errors.New("session not found")
	ErrInvitationNotFound   = errors.New("invitation not found")
	ErrInvitationNotPending = errors.New("invitation is not pending")
	ErrInvitationExpired    = errors.New("invitation expired")
)

// LockedError reports a locked account together with the unlock time
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Unwrap lets errors.Is match ErrAccountLocked
func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

// NewLockedError returns a LockedError for the given unlock time
func NewLockedError(until time.Time) error {
	return &LockedError{Until: until}
}
