package access

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

// DefaultInvitationTTL is how long an invitation stays acceptable
const DefaultInvitationTTL = 7 * 24 * time.Hour

// InvitationRequest invites an email address onto the platform, or into one company
// when CompanyID is set
type InvitationRequest struct {
	Email     string    `json:"email"`
	CompanyID *string   `json:"company_id,omitempty"`
	Role      auth.Role `json:"role"`
	// Permissions defaults to the role's preset when nil
	Permissions *auth.PermissionSet `json:"permissions,omitempty"`
}

// Invitations issues, accepts and revokes invitations
type Invitations struct {
	store    storage.InvitationStore
	resolver *Resolver
	emitter  audit.Emitter
	ttl      time.Duration
	now      func() time.Time
}

// NewInvitations creates the invitation service. Grants created on acceptance are
// invalidated in resolver's cache.
func NewInvitations(store storage.InvitationStore, resolver *Resolver, emitter audit.Emitter, ttl time.Duration) *Invitations {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	if ttl <= 0 {
		ttl = DefaultInvitationTTL
	}
	return &Invitations{store: store, resolver: resolver, emitter: emitter, ttl: ttl, now: resolver.now}
}

// Create issues an invitation on behalf of inviter and returns it with its plain token.
// The token is returned only here; the store keeps its hash.
//
// Admins may invite anyone. Other callers may only invite into a company where they
// hold manage_users, with a role no higher than manager.
func (s *Invitations) Create(ctx context.Context, inviter *AccessContext, req InvitationRequest) (inv *auth.Invitation, token string, err error) {
	ctx, span := tracer.Start(ctx, "access.CreateInvitation")
	defer endSpan(span, &err)

	event := audit.Event{Action: audit.ActionInvitationCreate, ResourceType: audit.ResourceInvitation}
	defer func() { s.record(ctx, &event, err) }()

	if err := s.authorizeInvite(inviter, &req); err != nil {
		return nil, "", err
	}
	event.Metadata = map[string]interface{}{"email": req.Email, "role": string(req.Role)}
	if req.CompanyID != nil {
		event.Metadata["company_id"] = *req.CompanyID
		span.SetAttributes(attribute.String("company.id", *req.CompanyID))
	}

	token, hash, err := auth.GenerateToken(auth.InvitationTokenPrefix)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := s.now()
	inv = &auth.Invitation{
		ID:          uuid.NewString(),
		Email:       req.Email,
		InvitedBy:   inviter.UserID(),
		CompanyID:   req.CompanyID,
		Role:        req.Role,
		Permissions: permissionsFor(req.Role, req.Permissions),
		TokenHash:   hash,
		Status:      auth.InvitationPending,
		ExpiresAt:   now.Add(s.ttl),
		CreatedAt:   now,
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, "", fmt.Errorf("failed to create invitation: %w", err)
	}

	event.ResourceID = audit.StringPtr(inv.ID)
	event.NewValues = audit.Snapshot(inv)
	return inv, token, nil
}

func (s *Invitations) authorizeInvite(inviter *AccessContext, req *InvitationRequest) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return fmt.Errorf("%w: invalid email", auth.ErrInvalidInput)
	}
	req.Email = strings.ToLower(addr.Address)

	if !req.Role.Valid() {
		return fmt.Errorf("%w: %q", auth.ErrInvalidRole, req.Role)
	}
	if req.CompanyID != nil {
		if strings.TrimSpace(*req.CompanyID) == "" {
			return fmt.Errorf("%w: company_id is empty", auth.ErrInvalidInput)
		}
		if err := validateCompanyRole(req.Role); err != nil {
			return err
		}
	}

	switch {
	case inviter.IsSuperAdmin():
		return nil
	case req.Role == auth.RoleSuperAdmin:
		return auth.ErrPermissionDenied
	case inviter.IsAdmin():
		return nil
	case req.CompanyID == nil, req.Role == auth.RoleAdmin:
		return auth.ErrPermissionDenied
	case !inviter.HasCompanyAccess(*req.CompanyID):
		return auth.ErrCompanyAccessRequired
	case !inviter.HasPermission(*req.CompanyID, auth.PermissionManageUsers):
		return auth.ErrPermissionDenied
	}
	return nil
}

// Accept redeems token for user. The invitation must be pending, unexpired and addressed
// to the user's email. Company invitations create or reactivate the user's grant;
// platform invitations raise the user's platform role to the invited one.
func (s *Invitations) Accept(ctx context.Context, user *auth.UserProfile, token string) (inv *auth.Invitation, grant *auth.CompanyAccessGrant, err error) {
	ctx, span := tracer.Start(ctx, "access.AcceptInvitation")
	defer endSpan(span, &err)

	event := audit.Event{Action: audit.ActionInvitationAccept, ResourceType: audit.ResourceInvitation}
	defer func() { s.record(ctx, &event, err) }()

	if err := auth.ValidateTokenFormat(token, auth.InvitationTokenPrefix); err != nil {
		return nil, nil, auth.ErrInvitationNotFound
	}
	hash := auth.HashToken(token)

	pending, err := s.store.GetInvitationByTokenHash(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	event.ResourceID = audit.StringPtr(pending.ID)
	if !strings.EqualFold(pending.Email, user.Email) {
		return nil, nil, fmt.Errorf("%w: invitation is addressed to another email", auth.ErrPermissionDenied)
	}

	inv, grant, err = s.store.AcceptInvitation(ctx, hash, user.ID, s.now())
	if err != nil {
		return nil, nil, err
	}
	if grant != nil {
		s.resolver.Invalidate(user.ID)
		if s.resolver.metrics != nil {
			s.resolver.metrics.GrantChangesTotal.WithLabelValues("invitation").Inc()
		}
	}

	if inv.CompanyID != nil {
		event.OldValues = audit.Snapshot(pending)
		event.NewValues = audit.Snapshot(inv)
		event.Metadata = map[string]interface{}{"company_id": *inv.CompanyID, "role": string(inv.Role)}
		return inv, grant, nil
	}

	role := user.Role
	if inv.Role.Outranks(role) {
		role = inv.Role
	}
	event.OldValues = audit.Snapshot(acceptance{Invitation: pending, ProfileRole: user.Role})
	event.NewValues = audit.Snapshot(acceptance{Invitation: inv, ProfileRole: role})
	event.Metadata = map[string]interface{}{"role": string(inv.Role), "profile_role": string(role)}
	return inv, grant, nil
}

// acceptance is the audited state of a platform invitation and its invitee
type acceptance struct {
	Invitation  *auth.Invitation `json:"invitation"`
	ProfileRole auth.Role        `json:"profile_role"`
}

// Revoke cancels a pending invitation
func (s *Invitations) Revoke(ctx context.Context, id string) (inv *auth.Invitation, err error) {
	event := audit.Event{
		Action:       audit.ActionInvitationRevoke,
		ResourceType: audit.ResourceInvitation,
		ResourceID:   audit.StringPtr(id),
	}
	defer func() { s.record(ctx, &event, err) }()

	inv, err = s.store.RevokeInvitation(ctx, id)
	if err != nil {
		return nil, err
	}
	event.NewValues = audit.Snapshot(inv)
	return inv, nil
}

// Expire marks pending invitations past their expiry as expired
func (s *Invitations) Expire(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireInvitations(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return n, nil
}

func (s *Invitations) record(ctx context.Context, event *audit.Event, err error) {
	event.Success = err == nil
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	s.emitter.Emit(ctx, *event)
}
