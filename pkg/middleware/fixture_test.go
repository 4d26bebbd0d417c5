package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/wasteintel/pkg/access"
	"github.com/platinummonkey/wasteintel/pkg/audit"
	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/observability"
	"github.com/platinummonkey/wasteintel/pkg/session"
	"github.com/platinummonkey/wasteintel/pkg/storage/memory"
)

const testPassword = "correct-horse-battery"

type testClock struct {
	mu  sync.Mutex
	now time.Time
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

func (l *eventLog) byAction(action audit.Action) []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []audit.Event
	for _, e := range l.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *memory.Store
	tokens   *auth.TokenIssuer
	clock    *testClock
	events   *eventLog
	metrics  *observability.Metrics
	service  *session.Service
	resolver *access.Resolver
	guard    *guard.Guard
	authn    *Authenticator
	authz    *Authorizer
}

func newFixture(t *testing.T, whitelist ...string) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "wasteintel-test")
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	wl, err := guard.NewWhitelist(whitelist)
	require.NoError(t, err)

	f := &fixture{
		store:   memory.New(),
		tokens:  tokens,
		clock:   clock,
		events:  &eventLog{},
		metrics: observability.NewTestMetrics(),
	}
	f.guard = guard.New(guard.Config{}, wl, f.metrics, nil).WithClock(clock.Now)
	f.service = session.NewService(f.store, tokens, f.events,
		session.WithPolicy(session.Policy{BcryptCost: bcrypt.MinCost}),
		session.WithServiceClock(clock.Now),
		session.WithFailureTracker(f.guard),
	)
	validator := session.NewValidator(tokens, f.store, f.store, session.WithValidatorClock(clock.Now))
	f.resolver = access.NewResolver(f.store, f.store, f.events, access.WithClock(clock.Now))
	f.authn = NewAuthenticator(validator, access.NewBuilder(f.store, f.resolver), f.events, nil)
	f.authz = NewAuthorizer(f.resolver, f.events, nil)
	return f
}

// addUser creates an active profile and returns a fresh access token for it
func (f *fixture) addUser(t *testing.T, id string, role auth.Role) string {
	t.Helper()
	ctx := context.Background()
	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(t, err)
	email := id + "@example.com"
	require.NoError(t, f.store.CreateProfile(ctx, &auth.UserProfile{
		ID: id, Email: email, Role: role, IsActive: true, CreatedAt: f.clock.Now(),
	}, hash))

	result, err := f.service.SignIn(ctx, email, testPassword)
	require.NoError(t, err)
	return result.Tokens.AccessToken
}

func (f *fixture) grant(t *testing.T, userID, companyID string, role auth.Role) {
	t.Helper()
	_, err := f.resolver.Grant(context.Background(), "admin", access.GrantRequest{
		UserID: userID, CompanyID: companyID, Role: role,
	})
	require.NoError(t, err)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func request(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}
