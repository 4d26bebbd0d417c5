package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role is a platform or company role
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAnalyst    Role = "analyst"
	RoleViewer     Role = "viewer"
)

// AllRoles returns every known role, highest first
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleManager, RoleAnalyst, RoleViewer}
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleAnalyst, RoleViewer:
		return true
	}
	return false
}

// Outranks reports whether r is strictly more privileged than other. Unknown roles
// rank below viewer.
func (r Role) Outranks(other Role) bool {
	return r.rank() > other.rank()
}

func (r Role) rank() int {
	roles := AllRoles()
	for i, role := range roles {
		if role == r {
			return len(roles) - i
		}
	}
	return 0
}

// ParseRole validates a role name at the boundary
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// PermissionName names a single company-scoped permission
type PermissionName string

const (
	PermissionRead                PermissionName = "read"
	PermissionWrite               PermissionName = "write"
	PermissionDelete              PermissionName = "delete"
	PermissionExport              PermissionName = "export"
	PermissionManageUsers         PermissionName = "manage_users"
	PermissionViewFinancials      PermissionName = "view_financials"
	PermissionViewOpportunities   PermissionName = "view_opportunities"
	PermissionManageOpportunities PermissionName = "manage_opportunities"
)

// AllPermissions returns every known permission name
func AllPermissions() []PermissionName {
	return []PermissionName{
		PermissionRead,
		PermissionWrite,
		PermissionDelete,
		PermissionExport,
		PermissionManageUsers,
		PermissionViewFinancials,
		PermissionViewOpportunities,
		PermissionManageOpportunities,
	}
}

// ParsePermission validates a permission name
func ParsePermission(s string) (PermissionName, error) {
	p := PermissionName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllPermissions() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
}

// PermissionSet is the fixed-shape permission record attached to a grant
type PermissionSet struct {
	Read                bool `json:"read"`
	Write               bool `json:"write"`
	Delete              bool `json:"delete"`
	Export              bool `json:"export"`
	ManageUsers         bool `json:"manage_users"`
	ViewFinancials      bool `json:"view_financials"`
	ViewOpportunities   bool `json:"view_opportunities"`
	ManageOpportunities bool `json:"manage_opportunities"`
}

// Has reports whether the named permission is set. Unknown names are never set.
func (p PermissionSet) Has(name PermissionName) bool {
	switch name {
	case PermissionRead:
		return p.Read
	case PermissionWrite:
		return p.Write
	case PermissionDelete:
		return p.Delete
	case PermissionExport:
		return p.Export
	case PermissionManageUsers:
		return p.ManageUsers
	case PermissionViewFinancials:
		return p.ViewFinancials
	case PermissionViewOpportunities:
		return p.ViewOpportunities
	case PermissionManageOpportunities:
		return p.ManageOpportunities
	default:
		return false
	}
}

// Names returns the names of all permissions that are set
func (p PermissionSet) Names() []PermissionName {
	var names []PermissionName
	for _, name := range AllPermissions() {
		if p.Has(name) {
			names = append(names, name)
		}
	}
	return names
}

// Covers reports whether p holds every permission set in other
func (p PermissionSet) Covers(other PermissionSet) bool {
	for _, name := range other.Names() {
		if !p.Has(name) {
			return false
		}
	}
	return true
}

// DefaultPermissions returns the permission preset used when a grant or invitation
// does not spell out its permissions
func DefaultPermissions(role Role) PermissionSet {
	switch role {
	case RoleSuperAdmin, RoleAdmin:
		return PermissionSet{
			Read: true, Write: true, Delete: true, Export: true, ManageUsers: true,
			ViewFinancials: true, ViewOpportunities: true, ManageOpportunities: true,
		}
	case RoleManager:
		return PermissionSet{
			Read: true, Write: true, Export: true, ManageUsers: true,
			ViewFinancials: true, ViewOpportunities: true, ManageOpportunities: true,
		}
	case RoleAnalyst:
		return PermissionSet{Read: true, Export: true, ViewFinancials: true, ViewOpportunities: true}
	case RoleViewer:
		return PermissionSet{Read: true}
	default:
		return PermissionSet{}
	}
}

// UserProfile is the identity record of a dashboard user
type UserProfile struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	FullName            string     `json:"full_name,omitempty"`
	Role                Role       `json:"role"`
	IsActive            bool       `json:"is_active"`
	EmailVerified       bool       `json:"email_verified"`
	TwoFactorEnabled    bool       `json:"two_factor_enabled"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	PasswordChangedAt   *time.Time `json:"password_changed_at,omitempty"`
	LoginCount          int        `json:"login_count"`
	LastLoginAt         *time.Time `json:"last_login_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// IsLocked reports whether the profile is locked at the given instant
func (p *UserProfile) IsLocked(now time.Time) bool {
	return p.LockedUntil != nil && p.LockedUntil.After(now)
}

// IsAdmin reports whether the profile holds an active admin or super_admin role
func (p *UserProfile) IsAdmin() bool {
	return p.IsActive && (p.Role == RoleAdmin || p.Role == RoleSuperAdmin)
}

// IsSuperAdmin reports whether the profile holds an active super_admin role
func (p *UserProfile) IsSuperAdmin() bool {
	return p.IsActive && p.Role == RoleSuperAdmin
}

// ProfileUpdate lists the profile fields an operator or the user may change.
// Nil fields are left untouched.
type ProfileUpdate struct {
	FullName         *string `json:"full_name,omitempty"`
	Role             *Role   `json:"role,omitempty"`
	IsActive         *bool   `json:"is_active,omitempty"`
	EmailVerified    *bool   `json:"email_verified,omitempty"`
	TwoFactorEnabled *bool   `json:"two_factor_enabled,omitempty"`
}

// IsEmpty reports whether the update changes nothing
func (u ProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Role == nil && u.IsActive == nil &&
		u.EmailVerified == nil && u.TwoFactorEnabled == nil
}

// CompanyAccessGrant links a user to a company with a role and a permission set
type CompanyAccessGrant struct {
	ID          int64         `json:"id"`
	UserID      string        `json:"user_id"`
	CompanyID   string        `json:"company_id"`
	CompanyName string        `json:"company_name,omitempty"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
	GrantedBy   *string       `json:"granted_by,omitempty"`
	GrantedAt   time.Time     `json:"granted_at"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
	IsActive    bool          `json:"is_active"`
}

// IsEffective reports whether the grant is active and unexpired at the given instant
func (g *CompanyAccessGrant) IsEffective(now time.Time) bool {
	if g == nil || !g.IsActive {
		return false
	}
	return g.ExpiresAt == nil || g.ExpiresAt.After(now)
}

// LoginMethod records how a session was established
type LoginMethod string

const (
	LoginMethodPassword LoginMethod = "password"
	LoginMethodOIDC     LoginMethod = "oidc"
	LoginMethodRefresh  LoginMethod = "refresh"
)

// Logout reasons recorded on ended sessions
const (
	LogoutReasonUser        = "user_logout"
	LogoutReasonAdmin       = "admin_terminated"
	LogoutReasonExpired     = "expired"
	LogoutReasonDeactivated = "account_deactivated"
	LogoutReasonPassword    = "password_changed"
)

// Session is a sign-in session. Token values are persisted only as hashes.
type Session struct {
	ID               string      `json:"id"`
	UserID           string      `json:"user_id"`
	TokenHash        string      `json:"-"`
	RefreshTokenHash string      `json:"-"`
	ExpiresAt        time.Time   `json:"expires_at"`
	RefreshExpiresAt time.Time   `json:"refresh_expires_at"`
	LastActivityAt   time.Time   `json:"last_activity_at"`
	IsActive         bool        `json:"is_active"`
	LoginMethod      LoginMethod `json:"login_method"`
	IPAddress        string      `json:"ip_address,omitempty"`
	UserAgent        string      `json:"user_agent,omitempty"`
	LogoutAt         *time.Time  `json:"logout_at,omitempty"`
	LogoutReason     *string     `json:"logout_reason,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// IsLive reports whether the session is active and unexpired at the given instant
func (s *Session) IsLive(now time.Time) bool {
	return s != nil && s.IsActive && s.ExpiresAt.After(now)
}

// InvitationStatus is the lifecycle state of an invitation
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
	InvitationRevoked  InvitationStatus = "revoked"
)

// Invitation invites an email address onto the platform or into a company
type Invitation struct {
	ID          string           `json:"id"`
	Email       string           `json:"email"`
	InvitedBy   string           `json:"invited_by"`
	CompanyID   *string          `json:"company_id,omitempty"`
	Role        Role             `json:"role"`
	Permissions PermissionSet    `json:"permissions"`
	TokenHash   string           `json:"-"`
	Status      InvitationStatus `json:"status"`
	ExpiresAt   time.Time        `json:"expires_at"`
	CreatedAt   time.Time        `json:"created_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy  *string          `json:"accepted_by,omitempty"`
}

// CanAccept reports whether the invitation may still be accepted at the given instant
func (i *Invitation) CanAccept(now time.Time) error {
	if i.Status != InvitationPending {
		return fmt.Errorf("%w: status is %s", ErrInvitationNotPending, i.Status)
	}
	if !i.ExpiresAt.After(now) {
		return ErrInvitationExpired
	}
	return nil
}
