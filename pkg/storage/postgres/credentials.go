package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// GetPasswordHash returns the stored bcrypt hash
func (s *Store) GetPasswordHash(ctx context.Context, userID string) (hash string, err error) {
	ctx, done := s.op(ctx, "get_password_hash")
	defer func() { done(err) }()

	err = s.db.QueryRowContext(ctx,
		`SELECT password_hash FROM user_credentials WHERE user_id = $1`, userID,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", auth.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get password hash: %w", err)
	}
	return hash, nil
}

// SetPasswordHash stores a new hash and records password_changed_at on the profile
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string, at time.Time) (err error) {
	ctx, done := s.op(ctx, "set_password_hash")
	defer func() { done(err) }()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE user_profiles SET password_changed_at = $2, updated_at = $2 WHERE id = $1`, userID, at)
		if err != nil {
			return fmt.Errorf("failed to update password_changed_at: %w", err)
		}
		if err := requireRow(result, auth.ErrUserNotFound); err != nil {
			return err
		}

		query := `
			INSERT INTO user_credentials (user_id, password_hash, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id) DO UPDATE
			SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.ExecContext(ctx, query, userID, hash, at); err != nil {
			return mapError(err, "set password hash")
		}
		return nil
	})
}
