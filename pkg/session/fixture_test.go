package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/storage/memory"
)

const testPassword = "correct-horse-battery"

var rootOperator = Operator{ID: "root", Role: auth.RoleSuperAdmin}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Emit(ctx context.Context, event audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, audit.Enrich(ctx, event))
}

func (l *eventLog) all() []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Event(nil), l.events...)
}

func (l *eventLog) last() audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

type fixture struct {
	store     *memory.Store
	clock     *testClock
	tokens    *auth.TokenIssuer
	events    *eventLog
	metrics   *observability.Metrics
	service   *Service
	validator *Validator
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()

	clock := newTestClock()
	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "wasteintel-test")
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	f := &fixture{
		store:   memory.New(),
		clock:   clock,
		tokens:  tokens,
		events:  &eventLog{},
		metrics: observability.NewTestMetrics(),
	}

	base := []ServiceOption{
		WithPolicy(Policy{BcryptCost: bcrypt.MinCost}),
		WithServiceClock(clock.Now),
		WithServiceMetrics(f.metrics),
	}
	f.service = NewService(f.store, tokens, f.events, append(base, opts...)...)
	f.validator = NewValidator(tokens, f.store, f.store,
		WithValidatorClock(clock.Now),
		WithValidatorMetrics(f.metrics),
	)
	return f
}

func (f *fixture) signUp(t *testing.T, email string) *auth.UserProfile {
	t.Helper()
	profile, err := f.service.SignUp(context.Background(), SignUpRequest{Email: email, Password: testPassword})
	require.NoError(t, err)
	return profile
}

func (f *fixture) signIn(t *testing.T, email string) *SignInResult {
	t.Helper()
	result, err := f.service.SignIn(context.Background(), email, testPassword)
	require.NoError(t, err)
	return result
}
