package memory

import (
	"context"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// CreateInvitation inserts a pending invitation
func (s *Store) CreateInvitation(ctx context.Context, invitation *auth.Invitation) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.invitations[invitation.TokenHash]; ok {
		return auth.ErrConflict
	}
	invitation.Status = auth.InvitationPending
	invitation.CreatedAt = time.Now().UTC()
	s.invitations[invitation.TokenHash] = copyInvitation(invitation)
	return nil
}

// GetInvitationByTokenHash returns the invitation or auth.ErrInvitationNotFound
func (s *Store) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*auth.Invitation, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	inv, ok := s.invitations[tokenHash]
	if !ok {
		return nil, auth.ErrInvitationNotFound
	}
	return copyInvitation(inv), nil
}

// AcceptInvitation accepts a pending, unexpired invitation once and upserts its grant,
// or raises the profile's platform role for platform invitations
func (s *Store) AcceptInvitation(ctx context.Context, tokenHash, userID string, now time.Time) (*auth.Invitation, *auth.CompanyAccessGrant, error) {
	if err := s.begin(ctx); err != nil {
		return nil, nil, err
	}
	defer s.mu.Unlock()

	inv, ok := s.invitations[tokenHash]
	if !ok {
		return nil, nil, auth.ErrInvitationNotFound
	}
	if err := inv.CanAccept(now); err != nil {
		return nil, nil, err
	}

	var grant *auth.CompanyAccessGrant
	if inv.CompanyID != nil {
		invitedBy := inv.InvitedBy
		grant = &auth.CompanyAccessGrant{
			UserID:      userID,
			CompanyID:   *inv.CompanyID,
			Role:        inv.Role,
			Permissions: inv.Permissions,
			GrantedBy:   &invitedBy,
			GrantedAt:   now,
		}
		if _, err := s.upsertGrantLocked(grant); err != nil {
			return nil, nil, err
		}
	} else {
		profile, ok := s.profiles[userID]
		if !ok {
			return nil, nil, auth.ErrUserNotFound
		}
		if inv.Role.Outranks(profile.Role) {
			profile.Role = inv.Role
			profile.UpdatedAt = now
		}
	}

	inv.Status = auth.InvitationAccepted
	inv.AcceptedAt = timePtr(now)
	accepted := userID
	inv.AcceptedBy = &accepted
	return copyInvitation(inv), grant, nil
}

// RevokeInvitation moves a pending invitation to revoked
func (s *Store) RevokeInvitation(ctx context.Context, id string) (*auth.Invitation, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.ID != id {
			continue
		}
		if inv.Status != auth.InvitationPending {
			return nil, auth.ErrInvitationNotPending
		}
		inv.Status = auth.InvitationRevoked
		return copyInvitation(inv), nil
	}
	return nil, auth.ErrInvitationNotFound
}

// ExpireInvitations marks pending invitations past expiry as expired
func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for _, inv := range s.invitations {
		if inv.Status == auth.InvitationPending && !inv.ExpiresAt.After(now) {
			inv.Status = auth.InvitationExpired
			n++
		}
	}
	return n, nil
}
