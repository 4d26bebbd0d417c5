package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

const invitationColumns = `id, email, invited_by, company_id, role, permissions, token_hash, status,
		       expires_at, created_at, accepted_at, accepted_by`

func scanInvitation(row rowScanner) (*auth.Invitation, error) {
	inv := &auth.Invitation{}
	var companyID, acceptedBy sql.NullString
	var acceptedAt sql.NullTime
	var permissions []byte
	if err := row.Scan(
		&inv.ID, &inv.Email, &inv.InvitedBy, &companyID, &inv.Role, &permissions, &inv.TokenHash, &inv.Status,
		&inv.ExpiresAt, &inv.CreatedAt, &acceptedAt, &acceptedBy,
	); err != nil {
		return nil, err
	}
	perms, err := unmarshalPermissions(permissions)
	if err != nil {
		return nil, err
	}
	inv.Permissions = perms
	inv.CompanyID = nullString(companyID)
	inv.AcceptedAt = nullTime(acceptedAt)
	inv.AcceptedBy = nullString(acceptedBy)
	return inv, nil
}

// CreateInvitation inserts a pending invitation
func (s *Store) CreateInvitation(ctx context.Context, invitation *auth.Invitation) (err error) {
	ctx, done := s.op(ctx, "create_invitation")
	defer func() { done(err) }()

	permissions, err := marshalPermissions(invitation.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO invitations (id, email, invited_by, company_id, role, permissions, token_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := s.db.ExecContext(ctx, query,
		invitation.ID, invitation.Email, invitation.InvitedBy, invitation.CompanyID, invitation.Role,
		permissions, invitation.TokenHash, auth.InvitationPending, invitation.ExpiresAt, invitation.CreatedAt,
	); err != nil {
		return mapError(err, "create invitation")
	}
	invitation.Status = auth.InvitationPending
	return nil
}

// GetInvitationByTokenHash looks an invitation up by its token hash
func (s *Store) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (inv *auth.Invitation, err error) {
	ctx, done := s.op(ctx, "get_invitation")
	defer func() { done(err) }()

	inv, err = scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// AcceptInvitation accepts a pending invitation exactly once. The row lock serializes
// concurrent accepts; the loser sees status=accepted and is rejected. Platform
// invitations raise the accepting profile to the invited role.
func (s *Store) AcceptInvitation(ctx context.Context, tokenHash, userID string, now time.Time) (inv *auth.Invitation, grant *auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "accept_invitation")
	defer func() { done(err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		locked, err := scanInvitation(tx.QueryRowContext(ctx,
			`SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1 FOR UPDATE`, tokenHash))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrInvitationNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock invitation: %w", err)
		}
		if err := locked.CanAccept(now); err != nil {
			return err
		}

		if locked.CompanyID != nil {
			invitedBy := locked.InvitedBy
			grant = &auth.CompanyAccessGrant{
				UserID:      userID,
				CompanyID:   *locked.CompanyID,
				Role:        locked.Role,
				Permissions: locked.Permissions,
				GrantedBy:   &invitedBy,
				GrantedAt:   now,
			}
			if err := upsertGrantTx(ctx, tx, grant); err != nil {
				return err
			}
		} else if err := raiseRoleTx(ctx, tx, userID, locked.Role, now); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`UPDATE invitations SET status = $2, accepted_at = $3, accepted_by = $4 WHERE id = $1 AND status = $5`,
			locked.ID, auth.InvitationAccepted, now, userID, auth.InvitationPending,
		)
		if err != nil {
			return fmt.Errorf("failed to accept invitation: %w", err)
		}
		if err := requireRow(result, auth.ErrInvitationNotPending); err != nil {
			return err
		}

		locked.Status = auth.InvitationAccepted
		locked.AcceptedAt = &now
		locked.AcceptedBy = &userID
		inv = locked
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return inv, grant, nil
}

// raiseRoleTx lifts the profile's platform role to role, never lowering it
func raiseRoleTx(ctx context.Context, tx *sql.Tx, userID string, role auth.Role, now time.Time) error {
	var current auth.Role
	err := tx.QueryRowContext(ctx, `SELECT role FROM user_profiles WHERE id = $1 FOR UPDATE`, userID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock profile: %w", err)
	}
	if !role.Outranks(current) {
		return nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE user_profiles SET role = $2, updated_at = $3 WHERE id = $1`, userID, role, now); err != nil {
		return fmt.Errorf("failed to apply invited role: %w", err)
	}
	return nil
}

// RevokeInvitation revokes a pending invitation
func (s *Store) RevokeInvitation(ctx context.Context, id string) (inv *auth.Invitation, err error) {
	ctx, done := s.op(ctx, "revoke_invitation")
	defer func() { done(err) }()

	query := `UPDATE invitations SET status = $2 WHERE id = $1 AND status = $3 RETURNING ` + invitationColumns
	inv, err = scanInvitation(s.db.QueryRowContext(ctx, query, id, auth.InvitationRevoked, auth.InvitationPending))
	if errors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qerr := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM invitations WHERE id = $1)`, id).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("failed to check invitation: %w", qerr)
		}
		if exists {
			return nil, auth.ErrInvitationNotPending
		}
		return nil, auth.ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to revoke invitation: %w", err)
	}
	return inv, nil
}

// ExpireInvitations marks lapsed pending invitations as expired
func (s *Store) ExpireInvitations(ctx context.Context, now time.Time) (n int64, err error) {
	ctx, done := s.op(ctx, "expire_invitations")
	defer func() { done(err) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE invitations SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		auth.InvitationExpired, auth.InvitationPending, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	return result.RowsAffected()
}
