package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

const profileColumns = `id, email, full_name, role, is_active, email_verified, two_factor_enabled,
		       failed_login_attempts, locked_until, password_changed_at, login_count, last_login_at,
		       created_at, updated_at`

func scanProfile(row rowScanner) (*auth.UserProfile, error) {
	p := &auth.UserProfile{}
	var lockedUntil, passwordChangedAt, lastLoginAt sql.NullTime
	if err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.IsActive, &p.EmailVerified, &p.TwoFactorEnabled,
		&p.FailedLoginAttempts, &lockedUntil, &passwordChangedAt, &p.LoginCount, &lastLoginAt,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.LockedUntil = nullTime(lockedUntil)
	p.PasswordChangedAt = nullTime(passwordChangedAt)
	p.LastLoginAt = nullTime(lastLoginAt)
	return p, nil
}

// GetProfile retrieves a profile by id
func (s *Store) GetProfile(ctx context.Context, id string) (p *auth.UserProfile, err error) {
	ctx, done := s.op(ctx, "get_profile")
	defer func() { done(err) }()

	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`
	p, err = scanProfile(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetProfileByEmail retrieves a profile by email (case-insensitive)
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (p *auth.UserProfile, err error) {
	ctx, done := s.op(ctx, "get_profile_by_email")
	defer func() { done(err) }()

	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE lower(email) = lower($1)`
	p, err = scanProfile(s.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile by email: %w", err)
	}
	return p, nil
}

// CreateProfile inserts a profile and optional credentials in one transaction
func (s *Store) CreateProfile(ctx context.Context, profile *auth.UserProfile, passwordHash string) (err error) {
	ctx, done := s.op(ctx, "create_profile")
	defer func() { done(err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO user_profiles (id, email, full_name, role, is_active, email_verified, password_changed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`
		if err := tx.QueryRowContext(ctx, query,
			profile.ID, profile.Email, profile.FullName, profile.Role, profile.IsActive,
			profile.EmailVerified, profile.PasswordChangedAt,
		).Scan(&profile.CreatedAt, &profile.UpdatedAt); err != nil {
			return mapError(err, "create profile")
		}

		if passwordHash == "" {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_credentials (user_id, password_hash) VALUES ($1, $2)`,
			profile.ID, passwordHash,
		); err != nil {
			return mapError(err, "create credentials")
		}
		return nil
	})
}

// UpdateProfile applies the non-nil fields of update. Column names come from a fixed
// list; only values are parameters.
func (s *Store) UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (p *auth.UserProfile, err error) {
	if update.IsEmpty() {
		return s.GetProfile(ctx, id)
	}

	ctx, done := s.op(ctx, "update_profile")
	defer func() { done(err) }()

	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.FullName != nil {
		add("full_name", *update.FullName)
	}
	if update.Role != nil {
		add("role", *update.Role)
	}
	if update.IsActive != nil {
		add("is_active", *update.IsActive)
	}
	if update.EmailVerified != nil {
		add("email_verified", *update.EmailVerified)
	}
	if update.TwoFactorEnabled != nil {
		add("two_factor_enabled", *update.TwoFactorEnabled)
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE user_profiles SET %s WHERE id = $%d RETURNING `+profileColumns,
		strings.Join(sets, ", "), len(args))

	p, err = scanProfile(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, mapError(err, "update profile")
	}
	return p, nil
}

// RecordLoginSuccess resets the failure counter and lock and bumps the login count
func (s *Store) RecordLoginSuccess(ctx context.Context, id string, at time.Time) (err error) {
	ctx, done := s.op(ctx, "record_login_success")
	defer func() { done(err) }()

	query := `
		UPDATE user_profiles
		SET failed_login_attempts = 0, locked_until = NULL,
		    login_count = login_count + 1, last_login_at = $2, updated_at = $2
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to record login success: %w", err)
	}
	return requireRow(result, auth.ErrUserNotFound)
}

// RecordLoginFailure increments the failure counter and applies the lock in a single
// statement, so concurrent failures cannot skip the threshold. A lock that has already
// lapsed starts a fresh count.
func (s *Store) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (p *auth.UserProfile, err error) {
	ctx, done := s.op(ctx, "record_login_failure")
	defer func() { done(err) }()

	query := `
		UPDATE user_profiles
		SET failed_login_attempts = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN 1
		        ELSE failed_login_attempts + 1
		    END,
		    locked_until = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= $4 THEN NULL
		        WHEN failed_login_attempts + 1 >= $2 THEN $3
		        ELSE locked_until
		    END,
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err = scanProfile(s.db.QueryRowContext(ctx, query, id, threshold, at.Add(lockFor), at))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return p, nil
}

// UnlockProfile clears the lock and failure counter
func (s *Store) UnlockProfile(ctx context.Context, id string, at time.Time) (err error) {
	ctx, done := s.op(ctx, "unlock_profile")
	defer func() { done(err) }()

	query := `UPDATE user_profiles SET failed_login_attempts = 0, locked_until = NULL, updated_at = $2 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to unlock profile: %w", err)
	}
	return requireRow(result, auth.ErrUserNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}
