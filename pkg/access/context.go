package access

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
)

// AccessContext is the read-only identity attached to an authenticated request:
// the caller's profile and effective company grants, ordered by company name.
// Accessors return copies; grant changes go through the Resolver.
type AccessContext struct {
	profile auth.UserProfile
	grants  []auth.CompanyAccessGrant
}

// NewAccessContext builds a context from already loaded values
func NewAccessContext(profile *auth.UserProfile, grants []*auth.CompanyAccessGrant) *AccessContext {
	ac := &AccessContext{profile: *profile, grants: make([]auth.CompanyAccessGrant, 0, len(grants))}
	for _, g := range grants {
		ac.grants = append(ac.grants, *g)
	}
	return ac
}

// Profile returns a copy of the caller's profile
func (ac *AccessContext) Profile() auth.UserProfile {
	return ac.profile
}

// UserID returns the caller's id
func (ac *AccessContext) UserID() string {
	return ac.profile.ID
}

// Grants returns a copy of the effective grants
func (ac *AccessContext) Grants() []auth.CompanyAccessGrant {
	return append([]auth.CompanyAccessGrant(nil), ac.grants...)
}

// Grant returns the grant for companyID
func (ac *AccessContext) Grant(companyID string) (auth.CompanyAccessGrant, bool) {
	for _, g := range ac.grants {
		if g.CompanyID == companyID {
			return g, true
		}
	}
	return auth.CompanyAccessGrant{}, false
}

// HasCompanyAccess reports whether the caller holds a grant for companyID
func (ac *AccessContext) HasCompanyAccess(companyID string) bool {
	_, ok := ac.Grant(companyID)
	return ok
}

// HasPermission reports whether the caller's grant for companyID sets permission
func (ac *AccessContext) HasPermission(companyID string, permission auth.PermissionName) bool {
	g, ok := ac.Grant(companyID)
	return ok && g.Permissions.Has(permission)
}

// IsAdmin reports whether the caller is an active admin or super_admin
func (ac *AccessContext) IsAdmin() bool {
	return ac.profile.IsAdmin()
}

// IsSuperAdmin reports whether the caller is an active super_admin
func (ac *AccessContext) IsSuperAdmin() bool {
	return ac.profile.IsSuperAdmin()
}

// MarshalJSON renders {"profile": ..., "grants": [...]}
func (ac *AccessContext) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Profile auth.UserProfile          `json:"profile"`
		Grants  []auth.CompanyAccessGrant `json:"grants"`
	}{ac.profile, ac.grants})
}

// WithAccess attaches ac to ctx
func WithAccess(ctx context.Context, ac *AccessContext) context.Context {
	return contextkeys.WithAccess(ctx, ac)
}

// FromContext returns the request's access context
func FromContext(ctx context.Context) (*AccessContext, bool) {
	ac, ok := contextkeys.Access(ctx).(*AccessContext)
	return ac, ok && ac != nil
}

// Builder assembles access contexts
type Builder struct {
	profiles ProfileGetter
	resolver *Resolver
}

// ProfileGetter loads a profile by id
type ProfileGetter interface {
	GetProfile(ctx context.Context, id string) (*auth.UserProfile, error)
}

// NewBuilder creates a builder that reads grants through resolver
func NewBuilder(profiles ProfileGetter, resolver *Resolver) *Builder {
	return &Builder{profiles: profiles, resolver: resolver}
}

// Build loads the profile and effective grants of userID concurrently
func (b *Builder) Build(ctx context.Context, userID string) (*AccessContext, error) {
	var (
		profile *auth.UserProfile
		grants  []*auth.CompanyAccessGrant
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = b.profiles.GetProfile(gctx, userID)
		if err != nil {
			return fmt.Errorf("failed to load profile: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		grants, err = b.resolver.EffectiveGrants(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewAccessContext(profile, grants), nil
}

// ForProfile builds a context for a profile the caller already loaded
func (b *Builder) ForProfile(ctx context.Context, profile *auth.UserProfile) (*AccessContext, error) {
	grants, err := b.resolver.EffectiveGrants(ctx, profile.ID)
	if err != nil {
		return nil, err
	}
	return NewAccessContext(profile, grants), nil
}
