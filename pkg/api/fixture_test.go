package api

import (
	"bytes"
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
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/middleware"
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

// fakeReader serves the audit routes from the event log
type fakeReader struct {
	log *eventLog
}

func (r fakeReader) Search(ctx context.Context, filter audit.Filter) ([]*audit.Event, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	out := make([]*audit.Event, 0, len(r.log.events))
	for i := range r.log.events {
		e := r.log.events[i]
		out = append(out, &e)
	}
	return out, nil
}

func (r fakeReader) Get(ctx context.Context, id int64) (*audit.Event, error) {
	return nil, audit.ErrEventNotFound
}

func (r fakeReader) Stats(ctx context.Context, start, end *time.Time) (*audit.Stats, error) {
	r.log.mu.Lock()
	defer r.log.mu.Unlock()
	return &audit.Stats{TotalEvents: int64(len(r.log.events))}, nil
}

type fixture struct {
	t        *testing.T
	store    *memory.Store
	clock    *testClock
	events   *eventLog
	guard    *guard.Guard
	provider *fakeProvider
	server   *Server
}

func newFixture(t *testing.T, authLimit middleware.RateLimitConfig) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	tokens, err := auth.NewTokenIssuer([]byte("0123456789abcdef0123456789abcdef"), "wasteintel-test")
	require.NoError(t, err)
	tokens.WithClock(clock.Now)

	f := &fixture{
		t:        t,
		store:    memory.New(),
		clock:    clock,
		events:   &eventLog{},
		provider: &fakeProvider{},
	}
	f.guard = guard.New(guard.Config{}, nil, nil, nil).WithClock(clock.Now)

	sessions := session.NewService(f.store, tokens, f.events,
		session.WithPolicy(session.Policy{BcryptCost: bcrypt.MinCost}),
		session.WithServiceClock(clock.Now),
		session.WithFailureTracker(f.guard),
	)
	validator := session.NewValidator(tokens, f.store, f.store, session.WithValidatorClock(clock.Now))
	resolver := access.NewResolver(f.store, f.store, f.events, access.WithClock(clock.Now))

	if authLimit.MaxRequests == 0 {
		authLimit.MaxRequests = 1000
	}
	f.server = NewServer(Dependencies{
		Auth:          NewAuthHandlers(sessions),
		Grants:        NewGrantHandlers(resolver),
		Invitations:   NewInvitationHandlers(access.NewInvitations(f.store, resolver, f.events, 0)),
		Admin:         NewAdminHandlers(sessions, f.guard, f.events),
		OIDC:          NewOIDCHandlers(f.provider, sessions, false),
		Audit:         audit.NewHandlers(fakeReader{log: f.events}),
		Authn:         middleware.NewAuthenticator(validator, access.NewBuilder(f.store, resolver), f.events, nil),
		Authz:         middleware.NewAuthorizer(resolver, f.events, nil),
		Guard:         f.guard,
		AuthRateLimit: authLimit,
	})
	return f
}

// addUser creates an active profile with the test password and signs it in
func (f *fixture) addUser(id string, role auth.Role) string {
	f.t.Helper()
	hash, err := auth.HashPassword(testPassword, bcrypt.MinCost)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.CreateProfile(context.Background(), &auth.UserProfile{
		ID: id, Email: id + "@example.com", Role: role, IsActive: true,
	}, hash))
	return f.signIn(id+"@example.com", testPassword)
}

func (f *fixture) signIn(email, password string) string {
	f.t.Helper()
	rec := f.do(http.MethodPost, "/api/auth/signin", "", map[string]string{"email": email, "password": password})
	require.Equal(f.t, http.StatusOK, rec.Code, rec.Body.String())
	var result session.SignInResult
	require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result.Tokens.AccessToken
}

func (f *fixture) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	return f.doFrom("192.0.2.1", method, path, token, body)
}

func (f *fixture) doFrom(ip, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(contextkeys.WithClientIP(req.Context(), ip))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	decode(t, rec, &body)
	return body.Code
}

type fakeProvider struct {
	mu       sync.Mutex
	identity *session.Identity
	err      error
	lastCode string
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (p *fakeProvider) Exchange(ctx context.Context, code string) (*session.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCode = code
	return p.identity, p.err
}
