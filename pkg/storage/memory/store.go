// Package memory is an in-process implementation of storage.Store with the same
// semantics as the Postgres store. It backs component tests and local development.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

// Store keeps every entity in maps guarded by one mutex
type Store struct {
	mu          sync.Mutex
	profiles    map[string]*auth.UserProfile
	passwords   map[string]string
	grants      map[grantKey]*auth.CompanyAccessGrant
	companies   map[string]string
	sessions    map[string]*auth.Session
	invitations map[string]*auth.Invitation
	nextGrantID int64

	latency time.Duration
	failErr error
}

type grantKey struct {
	userID    string
	companyID string
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		profiles:    make(map[string]*auth.UserProfile),
		passwords:   make(map[string]string),
		grants:      make(map[grantKey]*auth.CompanyAccessGrant),
		companies:   make(map[string]string),
		sessions:    make(map[string]*auth.Session),
		invitations: make(map[string]*auth.Invitation),
	}
}

// SetLatency delays every operation by d, honoring context cancellation
func (s *Store) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// FailWith makes every operation return err until called with nil
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.failErr = err
	s.mu.Unlock()
}

// AddCompany registers a company name used for grant ordering
func (s *Store) AddCompany(id, name string) {
	s.mu.Lock()
	s.companies[id] = name
	s.mu.Unlock()
}

// begin waits out the configured latency and takes the lock. Callers must call s.mu.Unlock.
func (s *Store) begin(ctx context.Context) error {
	s.mu.Lock()
	latency, failErr := s.latency, s.failErr
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if failErr != nil {
		return failErr
	}
	s.mu.Lock()
	return nil
}

// Ping reports the configured failure, if any
func (s *Store) Ping(ctx context.Context) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	s.mu.Unlock()
	return nil
}

func copyProfile(p *auth.UserProfile) *auth.UserProfile {
	c := *p
	return &c
}

func copyGrant(g *auth.CompanyAccessGrant) *auth.CompanyAccessGrant {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

func copySession(sess *auth.Session) *auth.Session {
	c := *sess
	return &c
}

func copyInvitation(i *auth.Invitation) *auth.Invitation {
	c := *i
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }

// GetProfile returns the profile or auth.ErrUserNotFound
func (s *Store) GetProfile(ctx context.Context, id string) (*auth.UserProfile, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return copyProfile(p), nil
}

// GetProfileByEmail matches email case-insensitively
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*auth.UserProfile, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	for _, p := range s.profiles {
		if strings.EqualFold(p.Email, email) {
			return copyProfile(p), nil
		}
	}
	return nil, auth.ErrUserNotFound
}

// CreateProfile inserts a profile and optional password hash
func (s *Store) CreateProfile(ctx context.Context, profile *auth.UserProfile, passwordHash string) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if _, ok := s.profiles[profile.ID]; ok {
		return auth.ErrConflict
	}
	for _, p := range s.profiles {
		if strings.EqualFold(p.Email, profile.Email) {
			return auth.ErrConflict
		}
	}
	now := time.Now().UTC()
	profile.CreatedAt, profile.UpdatedAt = now, now
	s.profiles[profile.ID] = copyProfile(profile)
	if passwordHash != "" {
		s.passwords[profile.ID] = passwordHash
	}
	return nil
}

// UpdateProfile applies the non-nil fields
func (s *Store) UpdateProfile(ctx context.Context, id string, update auth.ProfileUpdate) (*auth.UserProfile, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	if update.FullName != nil {
		p.FullName = *update.FullName
	}
	if update.Role != nil {
		p.Role = *update.Role
	}
	if update.IsActive != nil {
		p.IsActive = *update.IsActive
	}
	if update.EmailVerified != nil {
		p.EmailVerified = *update.EmailVerified
	}
	if update.TwoFactorEnabled != nil {
		p.TwoFactorEnabled = *update.TwoFactorEnabled
	}
	p.UpdatedAt = time.Now().UTC()
	return copyProfile(p), nil
}

// RecordLoginSuccess resets the failure counter and bumps the login count
func (s *Store) RecordLoginSuccess(ctx context.Context, id string, at time.Time) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	p.FailedLoginAttempts = 0
	p.LockedUntil = nil
	p.LoginCount++
	p.LastLoginAt = timePtr(at)
	p.UpdatedAt = at
	return nil
}

// RecordLoginFailure increments failures and locks at the threshold
func (s *Store) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration, at time.Time) (*auth.UserProfile, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	p.FailedLoginAttempts++
	if p.FailedLoginAttempts >= threshold {
		p.LockedUntil = timePtr(at.Add(lockFor))
	}
	p.UpdatedAt = at
	return copyProfile(p), nil
}

// UnlockProfile clears the lock and the failure counter
func (s *Store) UnlockProfile(ctx context.Context, id string, at time.Time) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return auth.ErrUserNotFound
	}
	p.FailedLoginAttempts = 0
	p.LockedUntil = nil
	p.UpdatedAt = at
	return nil
}

// GetPasswordHash returns auth.ErrNotFound for users without a password
func (s *Store) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	if err := s.begin(ctx); err != nil {
		return "", err
	}
	defer s.mu.Unlock()
	hash, ok := s.passwords[userID]
	if !ok {
		return "", auth.ErrNotFound
	}
	return hash, nil
}

// SetPasswordHash stores the hash and sets password_changed_at
func (s *Store) SetPasswordHash(ctx context.Context, userID, hash string, at time.Time) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return auth.ErrUserNotFound
	}
	s.passwords[userID] = hash
	p.PasswordChangedAt = timePtr(at)
	p.UpdatedAt = at
	return nil
}
