package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

var tracer = observability.Tracer("access")

// Resolver answers company access questions and owns grant changes
type Resolver struct {
	grants   storage.GrantStore
	profiles storage.ProfileStore
	emitter  audit.Emitter
	cache    *grantCache
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time

	cacheSize int
	cacheTTL  time.Duration
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithCache caches effective grants per user. A zero ttl disables caching.
func WithCache(size int, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cacheSize = size
		r.cacheTTL = ttl
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock (tests)
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a permission resolver
func NewResolver(grants storage.GrantStore, profiles storage.ProfileStore, emitter audit.Emitter, opts ...ResolverOption) *Resolver {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	r := &Resolver{
		grants:   grants,
		profiles: profiles,
		emitter:  emitter,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheTTL > 0 {
		r.cache = newGrantCache(r.cacheSize, r.cacheTTL, r.metrics)
	}
	return r
}

// EffectiveGrants returns the user's active, unexpired grants ordered by company name
func (r *Resolver) EffectiveGrants(ctx context.Context, userID string) ([]*auth.CompanyAccessGrant, error) {
	now := r.now()
	var (
		grants []*auth.CompanyAccessGrant
		err    error
	)
	if r.cache != nil {
		grants, err = r.cache.get(ctx, userID, r.load)
	} else {
		grants, err = r.load(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	// cached entries may have expired since they were loaded
	effective := make([]*auth.CompanyAccessGrant, 0, len(grants))
	for _, g := range grants {
		if g.IsEffective(now) {
			c := *g
			effective = append(effective, &c)
		}
	}
	return effective, nil
}

func (r *Resolver) load(ctx context.Context, userID string) ([]*auth.CompanyAccessGrant, error) {
	grants, err := r.grants.ListEffectiveGrants(ctx, userID, r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}

// grantFor returns the effective grant for the pair or nil
func (r *Resolver) grantFor(ctx context.Context, userID, companyID string) (*auth.CompanyAccessGrant, error) {
	if userID == "" || companyID == "" {
		return nil, nil
	}
	grants, err := r.EffectiveGrants(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, g := range grants {
		if g.CompanyID == companyID {
			return g, nil
		}
	}
	return nil, nil
}

// HasCompanyAccess reports whether an effective grant exists for the pair
func (r *Resolver) HasCompanyAccess(ctx context.Context, userID, companyID string) (bool, error) {
	g, err := r.grantFor(ctx, userID, companyID)
	if err != nil {
		return false, err
	}
	return g != nil, nil
}

// HasPermission reports whether the pair's effective grant sets permission.
// Unknown permission names are never granted.
func (r *Resolver) HasPermission(ctx context.Context, userID, companyID string, permission auth.PermissionName) (bool, error) {
	g, err := r.grantFor(ctx, userID, companyID)
	if err != nil {
		return false, err
	}
	allowed := g != nil && g.Permissions.Has(permission)
	if r.metrics != nil {
		result := "denied"
		if allowed {
			result = "allowed"
		}
		if _, perr := auth.ParsePermission(string(permission)); perr != nil {
			permission = "unknown"
		}
		r.metrics.PermissionChecksTotal.WithLabelValues(string(permission), result).Inc()
	}
	return allowed, nil
}

// RoleFor returns the pair's company role; ok is false without an effective grant
func (r *Resolver) RoleFor(ctx context.Context, userID, companyID string) (role auth.Role, ok bool, err error) {
	g, err := r.grantFor(ctx, userID, companyID)
	if err != nil || g == nil {
		return "", false, err
	}
	return g.Role, true, nil
}

// IsAdmin reports whether the user is an active admin or super_admin
func (r *Resolver) IsAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := r.profile(ctx, userID)
	if err != nil || p == nil {
		return false, err
	}
	return p.IsAdmin(), nil
}

// IsSuperAdmin reports whether the user is an active super_admin
func (r *Resolver) IsSuperAdmin(ctx context.Context, userID string) (bool, error) {
	p, err := r.profile(ctx, userID)
	if err != nil || p == nil {
		return false, err
	}
	return p.IsSuperAdmin(), nil
}

func (r *Resolver) profile(ctx context.Context, userID string) (*auth.UserProfile, error) {
	p, err := r.profiles.GetProfile(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

// Invalidate drops any cached grants of the user
func (r *Resolver) Invalidate(userID string) {
	if r.cache != nil {
		r.cache.invalidate(userID)
	}
}
