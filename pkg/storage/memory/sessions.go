package memory

import (
	"context"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
)

// CreateSession inserts a session
func (s *Store) CreateSession(ctx context.Context, session *auth.Session) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.profiles[session.UserID]; !ok {
		return auth.ErrNotFound
	}
	session.LastActivityAt = session.CreatedAt
	s.sessions[session.ID] = copySession(session)
	return nil
}

// GetSession returns the session or auth.ErrSessionNotFound
func (s *Store) GetSession(ctx context.Context, id string) (*auth.Session, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	return copySession(sess), nil
}

// GetSessionByRefreshHash finds an active session by refresh hash
func (s *Store) GetSessionByRefreshHash(ctx context.Context, refreshHash string) (*auth.Session, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.IsActive && sess.RefreshTokenHash == refreshHash {
			return copySession(sess), nil
		}
	}
	return nil, auth.ErrSessionNotFound
}

// TouchSession sets last_activity_at
func (s *Store) TouchSession(ctx context.Context, id string, at time.Time) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return auth.ErrSessionNotFound
	}
	sess.LastActivityAt = at
	return nil
}

// RotateSession replaces the token hashes of an active session
func (s *Store) RotateSession(ctx context.Context, id, tokenHash, refreshHash string, expiresAt, at time.Time) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.IsActive {
		return auth.ErrSessionNotFound
	}
	sess.TokenHash = tokenHash
	sess.RefreshTokenHash = refreshHash
	sess.ExpiresAt = expiresAt
	sess.LastActivityAt = at
	return nil
}

// EndSession ends an active session; false when it was already ended
func (s *Store) EndSession(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	if err := s.begin(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.IsActive {
		return false, nil
	}
	endSession(sess, reason, at)
	return true, nil
}

// EndUserSessions ends every active session of the user
func (s *Store) EndUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			endSession(sess, reason, at)
			n++
		}
	}
	return n, nil
}

// ExpireSessions ends active sessions whose access and refresh expiry have passed
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for _, sess := range s.sessions {
		if sess.IsActive && !sess.ExpiresAt.After(now) && !sess.RefreshExpiresAt.After(now) {
			endSession(sess, auth.LogoutReasonExpired, now)
			n++
		}
	}
	return n, nil
}

func endSession(sess *auth.Session, reason string, at time.Time) {
	sess.IsActive = false
	sess.LogoutAt = timePtr(at)
	r := reason
	sess.LogoutReason = &r
}
