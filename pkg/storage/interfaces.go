package storage

import (
	"context"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// ProfileStore manages user profiles
type ProfileStore interface {
	// GetProfile returns auth.ErrUserNotFound when no profile has the id
	GetProfile(ctx context.Context, id string) (*auth.UserProfile, error)
	GetProfileByEmail(ctx context.Context, email string) (*auth.UserProfile, error)

	// CreateProfile inserts the profile and, when passwordHash is non-empty, its
	// credentials in one transaction. A taken email returns auth.ErrConflict.
	CreateProfile(ctx context.Context, profile *auth.UserProfile, passwordHash string) error

	// UpdateProfile applies the non-nil fields of update and returns the new profile
	UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (*auth.UserProfile, error)

	// RecordLoginSuccess resets failed attempts, clears any lock and bumps the login count.
	// It never touches password_changed_at.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error

	// RecordLoginFailure increments failed attempts and locks the profile until at+lockFor
	// once the count reaches threshold. It returns the profile after the update.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (*auth.UserProfile, error)

	// UnlockProfile clears locked_until and resets failed attempts
	UnlockProfile(ctx context.Context, id string, at time.Time) error
}

// CredentialStore manages password hashes
type CredentialStore interface {
	// GetPasswordHash returns auth.ErrNotFound for users without a password
	GetPasswordHash(ctx context.Context, userID string) (string, error)

	// SetPasswordHash stores a new hash and sets password_changed_at
	SetPasswordHash(ctx context.Context, userID, hash string, at time.Time) error
}

// GrantStore manages company access grants
type GrantStore interface {
	// ListEffectiveGrants returns grants that are active and unexpired at now, ordered by
	// company name
	ListEffectiveGrants(ctx context.Context, userID string, now time.Time) ([]*auth.CompanyAccessGrant, error)

	// GetGrant returns the grant row for the pair in any state, or auth.ErrNotFound
	GetGrant(ctx context.Context, userID, companyID string) (*auth.CompanyAccessGrant, error)

	// UpsertGrant creates or reactivates the single grant row for the pair. It returns the
	// row before the write (nil when none existed).
	UpsertGrant(ctx context.Context, grant *auth.CompanyAccessGrant) (previous *auth.CompanyAccessGrant, err error)

	// DeactivateGrant sets is_active=false and returns the row before the write.
	// Deactivating an inactive grant succeeds and changes nothing else.
	DeactivateGrant(ctx context.Context, userID, companyID string, at time.Time) (previous *auth.CompanyAccessGrant, err error)

	// UpdateGrantRole changes the role and permissions of an effective grant and returns
	// the row before the write. Non-effective grants return auth.ErrNotFound.
	UpdateGrantRole(ctx context.Context, userID, companyID string, role auth.Role, permissions auth.PermissionSet, at time.Time) (previous *auth.CompanyAccessGrant, err error)
}

// SessionStore manages sign-in sessions
type SessionStore interface {
	CreateSession(ctx context.Context, session *auth.Session) error

	// GetSession returns auth.ErrSessionNotFound when no session has the id
	GetSession(ctx context.Context, id string) (*auth.Session, error)

	// GetSessionByRefreshHash finds a live session by its refresh token hash
	GetSessionByRefreshHash(ctx context.Context, refreshHash string) (*auth.Session, error)

	// TouchSession sets last_activity_at
	TouchSession(ctx context.Context, id string, at time.Time) error

	// RotateSession replaces the token hashes and expiry of a live session
	RotateSession(ctx context.Context, id, tokenHash, refreshHash string, expiresAt, at time.Time) error

	// EndSession marks an active session ended. It reports false when the session was
	// already ended.
	EndSession(ctx context.Context, id, reason string, at time.Time) (bool, error)

	// EndUserSessions ends every active session of the user and returns the count
	EndUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error)

	// ExpireSessions ends active sessions whose expiry has passed
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
}

// InvitationStore manages invitations
type InvitationStore interface {
	CreateInvitation(ctx context.Context, invitation *auth.Invitation) error

	// GetInvitationByTokenHash returns auth.ErrInvitationNotFound when the hash is unknown
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*auth.Invitation, error)

	// AcceptInvitation atomically moves a pending, unexpired invitation to accepted and,
	// for company invitations, upserts the grant it carries. Platform invitations raise
	// the profile's role to the invited one and never lower it. Any other state is
	// rejected and left unchanged.
	AcceptInvitation(ctx context.Context, tokenHash, userID string, now time.Time) (*auth.Invitation, *auth.CompanyAccessGrant, error)

	// RevokeInvitation moves a pending invitation to revoked
	RevokeInvitation(ctx context.Context, id string) (*auth.Invitation, error)

	// ExpireInvitations marks pending invitations past their expiry as expired
	ExpireInvitations(ctx context.Context, now time.Time) (int64, error)
}

// Store is the full credential store
type Store interface {
	ProfileStore
	CredentialStore
	GrantStore
	SessionStore
	InvitationStore

	Ping(ctx context.Context) error
}
