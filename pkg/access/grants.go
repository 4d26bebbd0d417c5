package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// GrantRequest creates or replaces a user's access to a company
type GrantRequest struct {
	UserID    string    `json:"user_id"`
	CompanyID string    `json:"company_id"`
	Role      auth.Role `json:"role"`
	// Permissions defaults to the role's preset when nil
	Permissions *auth.PermissionSet `json:"permissions,omitempty"`
	ExpiresAt   *time.Time          `json:"expires_at,omitempty"`
}

// Validate checks the request at the boundary
func (req GrantRequest) Validate(now time.Time) error {
	if req.UserID == "" || req.CompanyID == "" {
		return fmt.Errorf("%w: user_id and company_id are required", auth.ErrInvalidInput)
	}
	if err := validateCompanyRole(req.Role); err != nil {
		return err
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return fmt.Errorf("%w: expires_at must be in the future", auth.ErrInvalidInput)
	}
	return nil
}

// super_admin is a platform role and never attached to a company
func validateCompanyRole(role auth.Role) error {
	if !role.Valid() || role == auth.RoleSuperAdmin {
		return fmt.Errorf("%w: %q is not a company role", auth.ErrInvalidRole, role)
	}
	return nil
}

func permissionsFor(role auth.Role, perms *auth.PermissionSet) auth.PermissionSet {
	if perms != nil {
		return *perms
	}
	return auth.DefaultPermissions(role)
}

// Grant creates or reactivates the single grant row for the pair. The audit event
// is emitted only after the write has committed.
func (r *Resolver) Grant(ctx context.Context, grantedBy string, req GrantRequest) (grant *auth.CompanyAccessGrant, err error) {
	ctx, span := tracer.Start(ctx, "access.Grant")
	span.SetAttributes(attribute.String("company.id", req.CompanyID), attribute.String("user.id", req.UserID))
	defer endSpan(span, &err)

	now := r.now()
	if err := req.Validate(now); err != nil {
		r.emitFailure(ctx, audit.ActionGrantUpsert, req.UserID, req.CompanyID, err)
		return nil, err
	}

	grant = &auth.CompanyAccessGrant{
		UserID:      req.UserID,
		CompanyID:   req.CompanyID,
		Role:        req.Role,
		Permissions: permissionsFor(req.Role, req.Permissions),
		GrantedBy:   audit.StringPtr(grantedBy),
		GrantedAt:   now,
		ExpiresAt:   req.ExpiresAt,
		IsActive:    true,
	}

	previous, err := r.grants.UpsertGrant(ctx, grant)
	if err != nil {
		r.emitFailure(ctx, audit.ActionGrantUpsert, req.UserID, req.CompanyID, err)
		return nil, fmt.Errorf("failed to upsert grant: %w", err)
	}
	r.Invalidate(req.UserID)

	kind := "create"
	if previous != nil {
		kind = "update"
	}
	r.emitChange(ctx, audit.ActionGrantUpsert, grant.UserID, grant.CompanyID, previous, grant, kind)
	return grant, nil
}

// Revoke deactivates the pair's grant. Revoking an inactive grant succeeds.
func (r *Resolver) Revoke(ctx context.Context, userID, companyID string) (err error) {
	ctx, span := tracer.Start(ctx, "access.Revoke")
	span.SetAttributes(attribute.String("company.id", companyID), attribute.String("user.id", userID))
	defer endSpan(span, &err)

	previous, err := r.grants.DeactivateGrant(ctx, userID, companyID, r.now())
	if err != nil {
		r.emitFailure(ctx, audit.ActionGrantRevoke, userID, companyID, err)
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	r.Invalidate(userID)

	after := *previous
	after.IsActive = false
	r.emitChange(ctx, audit.ActionGrantRevoke, userID, companyID, previous, &after, "revoke")
	return nil
}

// ChangeRole replaces the role and permissions of an effective grant.
// Without an effective grant it returns auth.ErrNotFound.
func (r *Resolver) ChangeRole(ctx context.Context, userID, companyID string, role auth.Role, perms *auth.PermissionSet) (grant *auth.CompanyAccessGrant, err error) {
	ctx, span := tracer.Start(ctx, "access.ChangeRole")
	span.SetAttributes(attribute.String("company.id", companyID), attribute.String("user.id", userID))
	defer endSpan(span, &err)

	if err := validateCompanyRole(role); err != nil {
		r.emitFailure(ctx, audit.ActionGrantRoleChange, userID, companyID, err)
		return nil, err
	}
	permissions := permissionsFor(role, perms)

	previous, err := r.grants.UpdateGrantRole(ctx, userID, companyID, role, permissions, r.now())
	if err != nil {
		r.emitFailure(ctx, audit.ActionGrantRoleChange, userID, companyID, err)
		return nil, fmt.Errorf("failed to change role: %w", err)
	}
	r.Invalidate(userID)

	updated := *previous
	updated.Role = role
	updated.Permissions = permissions
	r.emitChange(ctx, audit.ActionGrantRoleChange, userID, companyID, previous, &updated, "role_change")
	return &updated, nil
}

func (r *Resolver) emitChange(ctx context.Context, action audit.Action, userID, companyID string, before, after *auth.CompanyAccessGrant, kind string) {
	if r.metrics != nil {
		r.metrics.GrantChangesTotal.WithLabelValues(kind).Inc()
	}
	event := audit.Event{
		Action:       action,
		ResourceType: audit.ResourceGrant,
		ResourceID:   audit.StringPtr(strconv.FormatInt(after.ID, 10)),
		NewValues:    audit.Snapshot(after),
		Metadata: map[string]interface{}{
			"target_user_id": userID,
			"company_id":     companyID,
		},
		Success: true,
	}
	if before != nil {
		event.OldValues = audit.Snapshot(before)
	}
	r.emitter.Emit(ctx, event)
}

func (r *Resolver) emitFailure(ctx context.Context, action audit.Action, userID, companyID string, err error) {
	r.emitter.Emit(ctx, audit.Event{
		Action:       action,
		ResourceType: audit.ResourceGrant,
		Metadata: map[string]interface{}{
			"target_user_id": userID,
			"company_id":     companyID,
		},
		Success:      false,
		ErrorMessage: err.Error(),
	})
}

func endSpan(s trace.Span, err *error) {
	if *err != nil && !errors.Is(*err, auth.ErrNotFound) {
		s.RecordError(*err)
		s.SetStatus(codes.Error, (*err).Error())
	}
	s.End()
}
