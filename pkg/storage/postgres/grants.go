package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

const grantColumns = `a.id, a.user_id, a.company_id, COALESCE(c.name, ''), a.role, a.permissions,
		       a.granted_by, a.granted_at, a.expires_at, a.is_active`

const grantFrom = `FROM user_company_access a LEFT JOIN companies c ON c.id = a.company_id`

func scanGrant(row rowScanner) (*auth.CompanyAccessGrant, error) {
	g := &auth.CompanyAccessGrant{}
	var permissions []byte
	var grantedBy sql.NullString
	var expiresAt sql.NullTime
	if err := row.Scan(
		&g.ID, &g.UserID, &g.CompanyID, &g.CompanyName, &g.Role, &permissions,
		&grantedBy, &g.GrantedAt, &expiresAt, &g.IsActive,
	); err != nil {
		return nil, err
	}
	perms, err := unmarshalPermissions(permissions)
	if err != nil {
		return nil, err
	}
	g.Permissions = perms
	g.GrantedBy = nullString(grantedBy)
	g.ExpiresAt = nullTime(expiresAt)
	return g, nil
}

// ListEffectiveGrants returns the user's active, unexpired grants ordered by company name
func (s *Store) ListEffectiveGrants(ctx context.Context, userID string, now time.Time) (grants []*auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "list_effective_grants")
	defer func() { done(err) }()

	query := `SELECT ` + grantColumns + ` ` + grantFrom + `
		WHERE a.user_id = $1 AND a.is_active AND (a.expires_at IS NULL OR a.expires_at > $2)
		ORDER BY c.name ASC, a.company_id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	grants = []*auth.CompanyAccessGrant{}
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return grants, nil
}

// GetGrant returns the grant row for the pair in any state
func (s *Store) GetGrant(ctx context.Context, userID, companyID string) (g *auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "get_grant")
	defer func() { done(err) }()

	query := `SELECT ` + grantColumns + ` ` + grantFrom + ` WHERE a.user_id = $1 AND a.company_id = $2`
	g, err = scanGrant(s.db.QueryRowContext(ctx, query, userID, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// lockGrant reads the pair's row inside tx with a row lock. It returns nil when absent.
func lockGrant(ctx context.Context, tx *sql.Tx, userID, companyID string) (*auth.CompanyAccessGrant, error) {
	query := `SELECT ` + grantColumns + ` ` + grantFrom + `
		WHERE a.user_id = $1 AND a.company_id = $2
		FOR UPDATE OF a`
	g, err := scanGrant(tx.QueryRowContext(ctx, query, userID, companyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock grant: %w", err)
	}
	return g, nil
}

// upsertGrantTx writes the single row for the pair, reactivating it if it exists
func upsertGrantTx(ctx context.Context, tx *sql.Tx, grant *auth.CompanyAccessGrant) error {
	permissions, err := marshalPermissions(grant.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO user_company_access (user_id, company_id, role, permissions, granted_by, granted_at, expires_at, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $6)
		ON CONFLICT (user_id, company_id) DO UPDATE
		SET role = EXCLUDED.role,
		    permissions = EXCLUDED.permissions,
		    granted_by = EXCLUDED.granted_by,
		    granted_at = EXCLUDED.granted_at,
		    expires_at = EXCLUDED.expires_at,
		    is_active = TRUE,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query,
		grant.UserID, grant.CompanyID, grant.Role, permissions, grant.GrantedBy, grant.GrantedAt, grant.ExpiresAt,
	).Scan(&grant.ID); err != nil {
		return mapError(err, "upsert grant")
	}
	grant.IsActive = true
	return nil
}

// UpsertGrant creates or reactivates the grant for the pair
func (s *Store) UpsertGrant(ctx context.Context, grant *auth.CompanyAccessGrant) (previous *auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "upsert_grant")
	defer func() { done(err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := lockGrant(ctx, tx, grant.UserID, grant.CompanyID)
		if err != nil {
			return err
		}
		previous = prev
		return upsertGrantTx(ctx, tx, grant)
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// DeactivateGrant sets is_active=false on the pair's grant. An already inactive grant
// is left as it is.
func (s *Store) DeactivateGrant(ctx context.Context, userID, companyID string, at time.Time) (previous *auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "deactivate_grant")
	defer func() { done(err) }()

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := lockGrant(ctx, tx, userID, companyID)
		if err != nil {
			return err
		}
		if prev == nil {
			return auth.ErrNotFound
		}
		previous = prev
		if !prev.IsActive {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE user_company_access SET is_active = FALSE, updated_at = $2 WHERE id = $1`,
			prev.ID, at,
		); err != nil {
			return fmt.Errorf("failed to deactivate grant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// UpdateGrantRole changes role and permissions of an effective grant
func (s *Store) UpdateGrantRole(ctx context.Context, userID, companyID string, role auth.Role, permissions auth.PermissionSet, at time.Time) (previous *auth.CompanyAccessGrant, err error) {
	ctx, done := s.op(ctx, "update_grant_role")
	defer func() { done(err) }()

	perms, err := marshalPermissions(permissions)
	if err != nil {
		return nil, err
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := lockGrant(ctx, tx, userID, companyID)
		if err != nil {
			return err
		}
		if !prev.IsEffective(at) {
			return auth.ErrNotFound
		}
		previous = prev

		if _, err := tx.ExecContext(ctx,
			`UPDATE user_company_access SET role = $2, permissions = $3, updated_at = $4 WHERE id = $1`,
			prev.ID, role, perms, at,
		); err != nil {
			return fmt.Errorf("failed to update grant role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}
