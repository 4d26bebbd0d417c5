package memory

import (
	"context"
	"sort"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// ListEffectiveGrants returns the user's effective grants ordered by company name
func (s *Store) ListEffectiveGrants(ctx context.Context, userID string, now time.Time) ([]*auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	grants := make([]*auth.CompanyAccessGrant, 0)
	for key, g := range s.grants {
		if key.userID == userID && g.IsEffective(now) {
			c := copyGrant(g)
			c.CompanyName = s.companies[g.CompanyID]
			grants = append(grants, c)
		}
	}
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].CompanyName != grants[j].CompanyName {
			return grants[i].CompanyName < grants[j].CompanyName
		}
		return grants[i].CompanyID < grants[j].CompanyID
	})
	return grants, nil
}

// GetGrant returns the grant row in any state
func (s *Store) GetGrant(ctx context.Context, userID, companyID string) (*auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	g, ok := s.grants[grantKey{userID, companyID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return copyGrant(g), nil
}

// UpsertGrant creates or reactivates the single row for the pair
func (s *Store) UpsertGrant(ctx context.Context, grant *auth.CompanyAccessGrant) (*auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.upsertGrantLocked(grant)
}

func (s *Store) upsertGrantLocked(grant *auth.CompanyAccessGrant) (*auth.CompanyAccessGrant, error) {
	if _, ok := s.profiles[grant.UserID]; !ok {
		return nil, auth.ErrNotFound
	}
	key := grantKey{grant.UserID, grant.CompanyID}
	previous := copyGrant(s.grants[key])

	if previous != nil {
		grant.ID = previous.ID
	} else {
		s.nextGrantID++
		grant.ID = s.nextGrantID
	}
	grant.IsActive = true
	grant.CompanyName = s.companies[grant.CompanyID]
	s.grants[key] = copyGrant(grant)
	return previous, nil
}

// DeactivateGrant sets is_active=false; deactivating an inactive grant changes nothing
func (s *Store) DeactivateGrant(ctx context.Context, userID, companyID string, at time.Time) (*auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	g, ok := s.grants[grantKey{userID, companyID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	previous := copyGrant(g)
	g.IsActive = false
	return previous, nil
}

// UpdateGrantRole changes the role of an effective grant
func (s *Store) UpdateGrantRole(ctx context.Context, userID, companyID string, role auth.Role, permissions auth.PermissionSet, at time.Time) (*auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	g, ok := s.grants[grantKey{userID, companyID}]
	if !ok || !g.IsEffective(at) {
		return nil, auth.ErrNotFound
	}
	previous := copyGrant(g)
	g.Role = role
	g.Permissions = permissions
	return previous, nil
}

// GrantRows returns the number of grant rows for the pair in any state
func (s *Store) GrantRows(userID, companyID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[grantKey{userID, companyID}]; ok {
		return 1
	}
	return 0
}
