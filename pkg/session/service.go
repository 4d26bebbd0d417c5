package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

// Policy holds the session and credential policy
type Policy struct {
	SessionTTL       time.Duration
	RefreshTTL       time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
	BcryptCost       int
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		SessionTTL:       time.Hour,
		RefreshTTL:       7 * 24 * time.Hour,
		LockoutThreshold: 5,
		LockoutDuration:  30 * time.Minute,
		BcryptCost:       bcrypt.DefaultCost,
	}
}

// FailureTracker observes sign-in outcomes per identifier and source IP
type FailureTracker interface {
	RecordAuthFailure(identifier, ip string) bool
	RecordAuthSuccess(identifier string)
}

// SignUpRequest is the input to SignUp
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// Tokens are the credentials handed to a client after sign-in or refresh
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// SignInResult is a new or refreshed session
type SignInResult struct {
	Profile *auth.UserProfile `json:"profile"`
	Session *auth.Session     `json:"session"`
	Tokens  Tokens            `json:"tokens"`
}

// Service owns the credential and session lifecycle. Every state-changing
// operation emits exactly one audit event after the store write completes.
type Service struct {
	store   storage.Store
	tokens  *auth.TokenIssuer
	emitter audit.Emitter
	tracker FailureTracker
	policy  Policy
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures a Service
type ServiceOption func(*Service)

// WithPolicy overrides the default policy. Zero fields keep their defaults.
func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) {
		if p.SessionTTL > 0 {
			s.policy.SessionTTL = p.SessionTTL
		}
		if p.RefreshTTL > 0 {
			s.policy.RefreshTTL = p.RefreshTTL
		}
		if p.LockoutThreshold > 0 {
			s.policy.LockoutThreshold = p.LockoutThreshold
		}
		if p.LockoutDuration > 0 {
			s.policy.LockoutDuration = p.LockoutDuration
		}
		if p.BcryptCost > 0 {
			s.policy.BcryptCost = p.BcryptCost
		}
	}
}

// WithFailureTracker reports sign-in outcomes to the brute-force detector
func WithFailureTracker(t FailureTracker) ServiceOption {
	return func(s *Service) { s.tracker = t }
}

// WithServiceMetrics sets the metrics sink
func WithServiceMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithServiceLogger sets the logger
func WithServiceLogger(l *observability.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServiceClock overrides the clock (tests)
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a session service
func NewService(store storage.Store, tokens *auth.TokenIssuer, emitter audit.Emitter, opts ...ServiceOption) *Service {
	if emitter == nil {
		emitter = audit.NopEmitter{}
	}
	s := &Service{
		store:   store,
		tokens:  tokens,
		emitter: emitter,
		policy:  DefaultPolicy(),
		logger:  observability.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NormalizeEmail validates an address and returns it lower-cased
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email address", auth.ErrInvalidInput)
	}
	return email, nil
}

// SignUp creates a viewer profile with password credentials
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (profile *auth.UserProfile, err error) {
	event := audit.Event{Action: audit.ActionSignUp, ResourceType: audit.ResourceUser}
	defer func() { s.record(ctx, &event, err) }()

	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	event.Metadata = map[string]interface{}{"email": email}

	hash, err := auth.HashPassword(req.Password, s.policy.BcryptCost)
	if err != nil {
		return nil, err
	}

	profile = &auth.UserProfile{
		ID:       uuid.NewString(),
		Email:    email,
		FullName: strings.TrimSpace(req.FullName),
		Role:     auth.RoleViewer,
		IsActive: true,
	}
	if err := s.store.CreateProfile(ctx, profile, hash); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	event.UserID = &profile.ID
	event.ResourceID = &profile.ID
	event.NewValues = audit.Snapshot(profile)
	s.logger.WithField("user_id", profile.ID).Info("user signed up")
	return profile, nil
}

// SignIn checks a password and opens a session.
//
// Unknown emails and wrong passwords both return auth.ErrInvalidCredentials. The failure
// that reaches the lockout threshold and every attempt while locked return *auth.LockedError.
func (s *Service) SignIn(ctx context.Context, email, password string) (result *SignInResult, err error) {
	event := audit.Event{Action: audit.ActionSignIn, ResourceType: audit.ResourceSession}
	defer func() {
		s.record(ctx, &event, err)
		s.countAttempt(auth.LoginMethodPassword, err)
	}()

	email = strings.ToLower(strings.TrimSpace(email))
	event.Metadata = map[string]interface{}{"email": email, "login_method": string(auth.LoginMethodPassword)}
	now := s.now()

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if errors.Is(err, auth.ErrUserNotFound) {
		// keep the response time of unknown emails close to a real check
		_ = auth.CheckPassword(s.dummy(), password)
		s.trackFailure(ctx, email)
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	event.ResourceType = audit.ResourceUser
	event.ResourceID = &profile.ID

	if !profile.IsActive {
		s.trackFailure(ctx, email)
		return nil, auth.ErrAccountDeactivated
	}
	if profile.IsLocked(now) {
		s.trackFailure(ctx, email)
		return nil, auth.NewLockedError(*profile.LockedUntil)
	}

	hash, err := s.store.GetPasswordHash(ctx, profile.ID)
	if errors.Is(err, auth.ErrNotFound) {
		_ = auth.CheckPassword(s.dummy(), password)
		s.trackFailure(ctx, email)
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	if err := auth.CheckPassword(hash, password); err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			return nil, err
		}
		s.trackFailure(ctx, email)
		return nil, s.recordFailure(ctx, profile, now, &event)
	}

	if err := s.store.RecordLoginSuccess(ctx, profile.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	if s.tracker != nil {
		s.tracker.RecordAuthSuccess(email)
	}

	result, err = s.openSession(ctx, profile, auth.LoginMethodPassword, now)
	if err != nil {
		return nil, err
	}
	event.UserID = &profile.ID
	event.SessionID = &result.Session.ID
	event.ResourceType = audit.ResourceSession
	event.ResourceID = &result.Session.ID
	return result, nil
}

// recordFailure bumps the failure counter and reports a lock when this attempt set it
func (s *Service) recordFailure(ctx context.Context, profile *auth.UserProfile, now time.Time, event *audit.Event) error {
	updated, err := s.store.RecordLoginFailure(ctx, profile.ID, s.policy.LockoutThreshold, s.policy.LockoutDuration, now)
	if err != nil {
		return fmt.Errorf("failed to record login failure: %w", err)
	}
	event.Metadata["failed_attempts"] = updated.FailedLoginAttempts
	if !updated.IsLocked(now) {
		return auth.ErrInvalidCredentials
	}

	if s.metrics != nil {
		s.metrics.AccountLockoutsTotal.Inc()
	}
	s.logger.SecurityEvent("account_locked", map[string]interface{}{
		"user_id":         profile.ID,
		"failed_attempts": updated.FailedLoginAttempts,
		"locked_until":    updated.LockedUntil.UTC().Format(time.RFC3339),
		"client_ip":       contextkeys.GetClientIP(ctx),
	})
	return auth.NewLockedError(*updated.LockedUntil)
}

// SignInOIDC opens a session for an existing active profile matched by a verified email
func (s *Service) SignInOIDC(ctx context.Context, identity *Identity) (result *SignInResult, err error) {
	event := audit.Event{
		Action:       audit.ActionSignIn,
		ResourceType: audit.ResourceSession,
		Metadata:     map[string]interface{}{"login_method": string(auth.LoginMethodOIDC)},
	}
	defer func() {
		s.record(ctx, &event, err)
		s.countAttempt(auth.LoginMethodOIDC, err)
	}()

	if identity == nil || identity.Email == "" || !identity.EmailVerified {
		return nil, auth.ErrInvalidCredentials
	}
	email := strings.ToLower(identity.Email)
	event.Metadata["email"] = email
	event.Metadata["subject"] = identity.Subject
	now := s.now()

	profile, err := s.store.GetProfileByEmail(ctx, email)
	if errors.Is(err, auth.ErrUserNotFound) {
		return nil, auth.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	event.ResourceType = audit.ResourceUser
	event.ResourceID = &profile.ID

	if !profile.IsActive {
		return nil, auth.ErrAccountDeactivated
	}
	if profile.IsLocked(now) {
		return nil, auth.NewLockedError(*profile.LockedUntil)
	}

	if err := s.store.RecordLoginSuccess(ctx, profile.ID, now); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	result, err = s.openSession(ctx, profile, auth.LoginMethodOIDC, now)
	if err != nil {
		return nil, err
	}
	event.UserID = &profile.ID
	event.SessionID = &result.Session.ID
	event.ResourceType = audit.ResourceSession
	event.ResourceID = &result.Session.ID
	return result, nil
}

func (s *Service) openSession(ctx context.Context, profile *auth.UserProfile, method auth.LoginMethod, now time.Time) (*SignInResult, error) {
	sessionID := uuid.NewString()
	tokens, tokenHash, refreshHash, err := s.issue(profile.ID, sessionID, now)
	if err != nil {
		return nil, err
	}

	session := &auth.Session{
		ID:               sessionID,
		UserID:           profile.ID,
		TokenHash:        tokenHash,
		RefreshTokenHash: refreshHash,
		ExpiresAt:        tokens.ExpiresAt,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		LastActivityAt:   now,
		IsActive:         true,
		LoginMethod:      method,
		IPAddress:        contextkeys.GetClientIP(ctx),
		UserAgent:        contextkeys.GetUserAgent(ctx),
		CreatedAt:        now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	// reflect the successful sign-in without another read
	profile.FailedLoginAttempts = 0
	profile.LockedUntil = nil
	profile.LoginCount++
	profile.LastLoginAt = &now

	return &SignInResult{Profile: profile, Session: session, Tokens: tokens}, nil
}

func (s *Service) issue(userID, sessionID string, now time.Time) (Tokens, string, string, error) {
	expiresAt := now.Add(s.policy.SessionTTL)
	access, err := s.tokens.Issue(userID, sessionID, expiresAt)
	if err != nil {
		return Tokens{}, "", "", err
	}
	refresh, refreshHash, err := auth.GenerateToken(auth.RefreshTokenPrefix)
	if err != nil {
		return Tokens{}, "", "", err
	}
	return Tokens{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresAt:        expiresAt,
		RefreshExpiresAt: now.Add(s.policy.RefreshTTL),
	}, auth.HashToken(access), refreshHash, nil
}

// Refresh exchanges a refresh token for new tokens on the same session.
// The previous access and refresh tokens stop working.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (result *SignInResult, err error) {
	event := audit.Event{Action: audit.ActionTokenRefresh, ResourceType: audit.ResourceSession}
	defer func() { s.record(ctx, &event, err) }()

	if err := auth.ValidateTokenFormat(refreshToken, auth.RefreshTokenPrefix); err != nil {
		return nil, err
	}
	now := s.now()

	session, err := s.store.GetSessionByRefreshHash(ctx, auth.HashToken(refreshToken))
	if errors.Is(err, auth.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: unknown refresh token", auth.ErrInvalidToken)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	event.UserID = &session.UserID
	event.SessionID = &session.ID
	event.ResourceID = &session.ID
	if !session.RefreshExpiresAt.After(now) {
		return nil, auth.ErrTokenExpired
	}

	profile, err := s.store.GetProfile(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if !profile.IsActive {
		return nil, auth.ErrAccountDeactivated
	}
	if profile.IsLocked(now) {
		return nil, auth.NewLockedError(*profile.LockedUntil)
	}

	tokens, tokenHash, refreshHash, err := s.issue(profile.ID, session.ID, now)
	if err != nil {
		return nil, err
	}
	// the refresh window does not slide
	tokens.RefreshExpiresAt = session.RefreshExpiresAt
	if err := s.store.RotateSession(ctx, session.ID, tokenHash, refreshHash, tokens.ExpiresAt, now); err != nil {
		return nil, fmt.Errorf("failed to rotate session: %w", err)
	}

	session.TokenHash = tokenHash
	session.RefreshTokenHash = refreshHash
	session.ExpiresAt = tokens.ExpiresAt
	session.LastActivityAt = now
	return &SignInResult{Profile: profile, Session: session, Tokens: tokens}, nil
}

// SignOut ends the caller's session. Ending an already ended session is not an error.
func (s *Service) SignOut(ctx context.Context, sessionID string) (err error) {
	event := audit.Event{
		Action:       audit.ActionSignOut,
		ResourceType: audit.ResourceSession,
		ResourceID:   audit.StringPtr(sessionID),
		SessionID:    audit.StringPtr(sessionID),
	}
	defer func() { s.record(ctx, &event, err) }()

	ended, err := s.store.EndSession(ctx, sessionID, auth.LogoutReasonUser, s.now())
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	event.Metadata = map[string]interface{}{"ended": ended, "logout_reason": auth.LogoutReasonUser}
	return nil
}

// ChangePassword verifies the current password, stores the new one and ends every
// session of the user. It returns the number of sessions ended.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (ended int64, err error) {
	event := audit.Event{
		Action:       audit.ActionPasswordChange,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	hash, err := s.store.GetPasswordHash(ctx, userID)
	if errors.Is(err, auth.ErrNotFound) {
		return 0, auth.ErrInvalidCredentials
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load credentials: %w", err)
	}
	if err := auth.CheckPassword(hash, current); err != nil {
		return 0, err
	}
	if current == next {
		return 0, fmt.Errorf("%w: new password must differ from the current one", auth.ErrInvalidInput)
	}

	newHash, err := auth.HashPassword(next, s.policy.BcryptCost)
	if err != nil {
		return 0, err
	}
	now := s.now()
	if err := s.store.SetPasswordHash(ctx, userID, newHash, now); err != nil {
		return 0, fmt.Errorf("failed to set password: %w", err)
	}

	ended, err = s.store.EndUserSessions(ctx, userID, auth.LogoutReasonPassword, now)
	if err != nil {
		// the password already changed; sessions expire on their own
		s.logger.WithError(err).WithField("user_id", userID).Error("failed to end sessions after password change")
		err = nil
	}
	event.Metadata = map[string]interface{}{"sessions_ended": ended}
	return ended, nil
}

// Terminate ends any session on behalf of an operator
func (s *Service) Terminate(ctx context.Context, sessionID string) (err error) {
	event := audit.Event{
		Action:       audit.ActionSessionTerminate,
		ResourceType: audit.ResourceSession,
		ResourceID:   audit.StringPtr(sessionID),
	}
	defer func() { s.record(ctx, &event, err) }()

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ended, err := s.store.EndSession(ctx, sessionID, auth.LogoutReasonAdmin, s.now())
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	event.OldValues = audit.Snapshot(session)
	event.Metadata = map[string]interface{}{
		"target_user_id": session.UserID,
		"ended":          ended,
		"logout_reason":  auth.LogoutReasonAdmin,
	}
	return nil
}

// TerminateAll ends every active session of a user and returns the count
func (s *Service) TerminateAll(ctx context.Context, op Operator, userID string) (ended int64, err error) {
	event := audit.Event{
		Action:       audit.ActionSessionTerminate,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	target, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := op.authorize(target, nil); err != nil {
		return 0, err
	}
	ended, err = s.store.EndUserSessions(ctx, userID, auth.LogoutReasonAdmin, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to end sessions: %w", err)
	}
	event.Metadata = map[string]interface{}{"sessions_ended": ended, "logout_reason": auth.LogoutReasonAdmin}
	return ended, nil
}

type lockState struct {
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	LockedUntil         *time.Time `json:"locked_until"`
}

// Unlock clears a lockout and resets the failure counter
func (s *Service) Unlock(ctx context.Context, op Operator, userID string) (err error) {
	event := audit.Event{
		Action:       audit.ActionAccountUnlock,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	before, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if err := op.authorize(before, nil); err != nil {
		return err
	}
	if err := s.store.UnlockProfile(ctx, userID, s.now()); err != nil {
		return fmt.Errorf("failed to unlock profile: %w", err)
	}
	event.OldValues = audit.Snapshot(lockState{before.FailedLoginAttempts, before.LockedUntil})
	event.NewValues = audit.Snapshot(lockState{})
	return nil
}

// Deactivate soft-disables a profile and ends its sessions
func (s *Service) Deactivate(ctx context.Context, op Operator, userID string) (profile *auth.UserProfile, err error) {
	event := audit.Event{
		Action:       audit.ActionAccountDeactivate,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	active := false
	before, after, err := s.update(ctx, op, userID, auth.ProfileUpdate{IsActive: &active})
	if err != nil {
		return nil, err
	}
	event.OldValues = audit.Snapshot(before)
	event.NewValues = audit.Snapshot(after)

	ended, err := s.store.EndUserSessions(ctx, userID, auth.LogoutReasonDeactivated, s.now())
	if err != nil {
		// validation rejects deactivated profiles regardless of session state
		s.logger.WithError(err).WithField("user_id", userID).Error("failed to end sessions of deactivated user")
		err = nil
	}
	event.Metadata = map[string]interface{}{"sessions_ended": ended}
	return after, nil
}

// Reactivate re-enables a deactivated profile
func (s *Service) Reactivate(ctx context.Context, op Operator, userID string) (profile *auth.UserProfile, err error) {
	event := audit.Event{
		Action:       audit.ActionAccountReactivate,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	active := true
	before, after, err := s.update(ctx, op, userID, auth.ProfileUpdate{IsActive: &active})
	if err != nil {
		return nil, err
	}
	event.OldValues = audit.Snapshot(before)
	event.NewValues = audit.Snapshot(after)
	return after, nil
}

// UpdateProfile applies an operator or self-service profile change
func (s *Service) UpdateProfile(ctx context.Context, op Operator, userID string, update auth.ProfileUpdate) (profile *auth.UserProfile, err error) {
	event := audit.Event{
		Action:       audit.ActionProfileUpdate,
		ResourceType: audit.ResourceUser,
		ResourceID:   audit.StringPtr(userID),
	}
	defer func() { s.record(ctx, &event, err) }()

	if update.IsEmpty() {
		return nil, fmt.Errorf("%w: no fields to update", auth.ErrInvalidInput)
	}
	if update.Role != nil && !update.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", auth.ErrInvalidRole, *update.Role)
	}

	before, after, err := s.update(ctx, op, userID, update)
	if err != nil {
		return nil, err
	}
	event.OldValues = audit.Snapshot(before)
	event.NewValues = audit.Snapshot(after)
	return after, nil
}

func (s *Service) update(ctx context.Context, op Operator, userID string, update auth.ProfileUpdate) (*auth.UserProfile, *auth.UserProfile, error) {
	before, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := op.authorize(before, update.Role); err != nil {
		return nil, nil, err
	}
	after, err := s.store.UpdateProfile(ctx, userID, update)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return before, after, nil
}

func (s *Service) record(ctx context.Context, event *audit.Event, err error) {
	event.Success = err == nil
	if err != nil {
		event.ErrorMessage = err.Error()
	}
	s.emitter.Emit(ctx, *event)
}

func (s *Service) countAttempt(method auth.LoginMethod, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.AuthAttemptsTotal.WithLabelValues(string(method), attemptOutcome(err)).Inc()
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrAccountLocked):
		return "locked"
	case errors.Is(err, auth.ErrAccountDeactivated):
		return "deactivated"
	default:
		return "error"
	}
}

func (s *Service) trackFailure(ctx context.Context, identifier string) {
	if s.tracker == nil {
		return
	}
	s.tracker.RecordAuthFailure(identifier, contextkeys.GetClientIP(ctx))
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.policy.BcryptCost)
		if err == nil {
			s.dummyHash = string(hash)
		}
	})
	return s.dummyHash
}
