package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/wasteintel/pkg/async"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/storage"
)

var tracer = observability.Tracer("session")

// DefaultValidationTimeout bounds token validation including the store lookups
const DefaultValidationTimeout = 5 * time.Second

// Result is a validated request identity
type Result struct {
	Profile *auth.UserProfile
	Session *auth.Session
}

// Validator resolves bearer tokens to a live session and an active, unlocked profile
type Validator struct {
	tokens   *auth.TokenIssuer
	sessions storage.SessionStore
	profiles storage.ProfileStore
	timeout  time.Duration
	metrics  *observability.Metrics
	logger   *observability.Logger
	now      func() time.Time
}

// ValidatorOption configures a Validator
type ValidatorOption func(*Validator)

// WithTimeout sets the validation timeout
func WithTimeout(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithValidatorMetrics sets the metrics sink
func WithValidatorMetrics(m *observability.Metrics) ValidatorOption {
	return func(v *Validator) { v.metrics = m }
}

// WithValidatorLogger sets the logger
func WithValidatorLogger(l *observability.Logger) ValidatorOption {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithValidatorClock overrides the clock (tests)
func WithValidatorClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a session validator
func NewValidator(tokens *auth.TokenIssuer, sessions storage.SessionStore, profiles storage.ProfileStore, opts ...ValidatorOption) *Validator {
	v := &Validator{
		tokens:   tokens,
		sessions: sessions,
		profiles: profiles,
		timeout:  DefaultValidationTimeout,
		logger:   observability.NewNopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", auth.ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", auth.ErrMissingToken
	}
	return token, nil
}

// Validate checks token and returns the session and profile behind it.
//
// Errors: auth.ErrMissingToken, auth.ErrTokenExpired, auth.ErrInvalidToken (also for store
// failures and timeouts), auth.ErrUserNotFound, auth.ErrAccountDeactivated and
// *auth.LockedError. On success the session's last activity is updated in the background.
func (v *Validator) Validate(ctx context.Context, token string) (result *Result, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "session.Validate")
	defer func() {
		outcome := outcomeOf(err)
		span.SetAttributes(attribute.String("session.outcome", outcome))
		if err != nil {
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
		if v.metrics != nil {
			v.metrics.SessionValidationsTotal.WithLabelValues(outcome).Inc()
			v.metrics.SessionValidationTime.Observe(time.Since(start).Seconds())
		}
	}()

	if token == "" {
		return nil, auth.ErrMissingToken
	}

	claims, err := v.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("session.id", claims.SessionID))

	lookupCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	session, err := v.sessions.GetSession(lookupCtx, claims.SessionID)
	if err != nil {
		return nil, v.lookupError(err, "session lookup failed")
	}
	now := v.now()
	if session.UserID != claims.Subject || session.TokenHash != auth.HashToken(token) || !session.IsLive(now) {
		return nil, fmt.Errorf("%w: session is not live", auth.ErrInvalidToken)
	}

	profile, err := v.profiles.GetProfile(lookupCtx, claims.Subject)
	if errors.Is(err, auth.ErrUserNotFound) {
		v.logger.WithField("user_id", claims.Subject).
			WithField("session_id", session.ID).
			Error("valid session without a user profile")
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, v.lookupError(err, "profile lookup failed")
	}

	if !profile.IsActive {
		return nil, auth.ErrAccountDeactivated
	}
	if profile.IsLocked(now) {
		return nil, auth.NewLockedError(*profile.LockedUntil)
	}

	v.touch(ctx, session.ID, now)

	return &Result{Profile: profile, Session: session}, nil
}

// lookupError converts store failures into ErrInvalidToken without leaking detail
func (v *Validator) lookupError(err error, msg string) error {
	if errors.Is(err, auth.ErrSessionNotFound) {
		return fmt.Errorf("%w: unknown session", auth.ErrInvalidToken)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		v.logger.WithError(err).Error(msg + ": timed out")
		return fmt.Errorf("%w: validation timed out", auth.ErrInvalidToken)
	}
	v.logger.WithError(err).Error(msg)
	return fmt.Errorf("%w: %s", auth.ErrInvalidToken, msg)
}

func (v *Validator) touch(ctx context.Context, sessionID string, at time.Time) {
	async.SafeGo(context.WithoutCancel(ctx), v.logger, v.timeout, "session touch", func(ctx context.Context) error {
		return v.sessions.TouchSession(ctx, sessionID, at)
	})
}

func outcomeOf(err error) string {
	var locked *auth.LockedError
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, auth.ErrMissingToken):
		return "missing"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, auth.ErrAccountDeactivated):
		return "deactivated"
	case errors.As(err, &locked):
		return "locked"
	default:
		return "invalid"
	}
}
