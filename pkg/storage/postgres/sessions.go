package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

const sessionColumns = `id, user_id, session_token_hash, refresh_token_hash, expires_at, refresh_expires_at,
		       last_activity_at, is_active, login_method, ip_address, user_agent, logout_at, logout_reason, created_at`

func scanSession(row rowScanner) (*auth.Session, error) {
	sess := &auth.Session{}
	var logoutAt sql.NullTime
	var logoutReason sql.NullString
	if err := row.Scan(
		&sess.ID, &sess.UserID, &sess.TokenHash, &sess.RefreshTokenHash, &sess.ExpiresAt, &sess.RefreshExpiresAt,
		&sess.LastActivityAt, &sess.IsActive, &sess.LoginMethod, &sess.IPAddress, &sess.UserAgent,
		&logoutAt, &logoutReason, &sess.CreatedAt,
	); err != nil {
		return nil, err
	}
	sess.LogoutAt = nullTime(logoutAt)
	sess.LogoutReason = nullString(logoutReason)
	return sess, nil
}

// CreateSession inserts a new active session
func (s *Store) CreateSession(ctx context.Context, session *auth.Session) (err error) {
	ctx, done := s.op(ctx, "create_session")
	defer func() { done(err) }()

	query := `
		INSERT INTO user_sessions (id, user_id, session_token_hash, refresh_token_hash, expires_at, refresh_expires_at,
		                           last_activity_at, is_active, login_method, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.TokenHash, session.RefreshTokenHash, session.ExpiresAt,
		session.RefreshExpiresAt, session.CreatedAt, session.LoginMethod, session.IPAddress, session.UserAgent,
	); err != nil {
		return mapError(err, "create session")
	}
	session.IsActive = true
	session.LastActivityAt = session.CreatedAt
	return nil
}

// GetSession retrieves a session by id in any state
func (s *Store) GetSession(ctx context.Context, id string) (sess *auth.Session, err error) {
	ctx, done := s.op(ctx, "get_session")
	defer func() { done(err) }()

	sess, err = scanSession(s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// GetSessionByRefreshHash finds an active session by refresh token hash
func (s *Store) GetSessionByRefreshHash(ctx context.Context, refreshHash string) (sess *auth.Session, err error) {
	ctx, done := s.op(ctx, "get_session_by_refresh")
	defer func() { done(err) }()

	query := `SELECT ` + sessionColumns + ` FROM user_sessions WHERE refresh_token_hash = $1 AND is_active`
	sess, err = scanSession(s.db.QueryRowContext(ctx, query, refreshHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session by refresh token: %w", err)
	}
	return sess, nil
}

// TouchSession records activity on an active session
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) (err error) {
	ctx, done := s.op(ctx, "touch_session")
	defer func() { done(err) }()

	if _, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET last_activity_at = $2 WHERE id = $1 AND is_active`, id, at,
	); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// RotateSession replaces the token hashes of an active session and extends it
func (s *Store) RotateSession(ctx context.Context, id, tokenHash, refreshHash string, expiresAt, at time.Time) (err error) {
	ctx, done := s.op(ctx, "rotate_session")
	defer func() { done(err) }()

	query := `
		UPDATE user_sessions
		SET session_token_hash = $2, refresh_token_hash = $3, expires_at = $4, last_activity_at = $5
		WHERE id = $1 AND is_active
	`
	result, err := s.db.ExecContext(ctx, query, id, tokenHash, refreshHash, expiresAt, at)
	if err != nil {
		return mapError(err, "rotate session")
	}
	return requireRow(result, auth.ErrSessionNotFound)
}

// EndSession ends an active session. It reports false when nothing was active.
func (s *Store) EndSession(ctx context.Context, id, reason string, at time.Time) (ended bool, err error) {
	ctx, done := s.op(ctx, "end_session")
	defer func() { done(err) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE, logout_at = $2, logout_reason = $3 WHERE id = $1 AND is_active`,
		id, at, reason,
	)
	if err != nil {
		return false, fmt.Errorf("failed to end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// EndUserSessions ends all active sessions of a user
func (s *Store) EndUserSessions(ctx context.Context, userID, reason string, at time.Time) (n int64, err error) {
	ctx, done := s.op(ctx, "end_user_sessions")
	defer func() { done(err) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE, logout_at = $2, logout_reason = $3 WHERE user_id = $1 AND is_active`,
		userID, at, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to end user sessions: %w", err)
	}
	return result.RowsAffected()
}

// ExpireSessions ends active sessions whose refresh window has also passed
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (n int64, err error) {
	ctx, done := s.op(ctx, "expire_sessions")
	defer func() { done(err) }()

	result, err := s.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = FALSE, logout_at = $1, logout_reason = $2
		 WHERE is_active AND expires_at <= $1 AND refresh_expires_at <= $1`,
		now, auth.LogoutReasonExpired,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	return result.RowsAffected()
}
