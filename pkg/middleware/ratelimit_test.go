package middleware

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
)

func fromIP(req *http.Request, ip string) *http.Request {
	return req.WithContext(contextkeys.WithClientIP(req.Context(), ip))
}

func TestRateLimit_RejectsSixthAndRecovers(t *testing.T) {
	f := newFixture(t)
	window := guard.NewSlidingWindow(time.Second, 5).WithClock(f.clock.Now)
	h := RateLimit(f.guard, RateLimitConfig{Window: time.Second, MaxRequests: 5, Limiter: window})(okHandler())

	for i := 0; i < 5; i++ {
		rec := serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, httputil.CodeRateLimitExceeded, body.Code)
	assert.Equal(t, defaultMessage, body.Error)
	require.NotNil(t, body.RetryAfter)
	assert.Equal(t, 1, *body.RetryAfter)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// another caller is unaffected
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.2")).Code)

	f.clock.Advance(time.Second)
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1")).Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RateLimitRejectionsTotal.WithLabelValues("general", "rate_limit")))
}

func TestRateLimit_CustomMessageAndUserKey(t *testing.T) {
	f := newFixture(t)
	rl := NewRateLimiter(f.guard, RateLimitConfig{Name: "reports", Window: time.Minute, MaxRequests: 1, Message: "slow down"})
	require.NotNil(t, rl.Cleaner())

	var calls int
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	asUser := func(ip string) *http.Request {
		req := fromIP(request(http.MethodGet, "/", ""), ip)
		return req.WithContext(contextkeys.WithUserID(req.Context(), "u1"))
	}

	serve(h, asUser("10.0.0.1"))
	// same user from a different address shares the budget
	rec := serve(h, asUser("10.0.0.2"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "slow down", decodeError(t, rec).Error)
	assert.Equal(t, 1, calls)
	assert.Equal(t, guard.StateThrottled, f.guard.StateOf("reports", "user:u1"))
}

func TestRateLimit_KeysOnTokenSubjectAheadOfAuthentication(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice", auth.RoleViewer)
	bob := f.addUser(t, "bob", auth.RoleViewer)

	// same order as the server: the limiter wraps the whole router, Authenticate runs inside
	limiter := RateLimit(f.guard, RateLimitConfig{Window: time.Minute, MaxRequests: 2, Identity: TokenSubject(f.tokens)})
	h := limiter(f.authn.Authenticate(okHandler()))
	from := func(token string) *http.Request {
		return fromIP(request(http.MethodGet, "/api/me", token), "10.0.0.1")
	}

	assert.Equal(t, http.StatusOK, serve(h, from(alice)).Code)
	assert.Equal(t, http.StatusOK, serve(h, from(alice)).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, from(alice)).Code)

	rec := serve(h, from(bob))
	assert.Equal(t, http.StatusOK, rec.Code, "users behind one address keep separate budgets")
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, guard.StateThrottled, f.guard.StateOf("general", "user:alice"))

	t.Run("anonymous and forged tokens key on the address", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(h, from("")).Code)
		assert.Equal(t, http.StatusUnauthorized, serve(h, from("not.a.jwt")).Code)
		assert.Equal(t, http.StatusTooManyRequests, serve(h, from("")).Code)
		assert.Equal(t, guard.StateThrottled, f.guard.StateOf("general", "ip:10.0.0.1"))
	})
}

func TestTokenSubject(t *testing.T) {
	f := newFixture(t)
	token := f.addUser(t, "alice", auth.RoleViewer)
	subject := TokenSubject(f.tokens)

	assert.Equal(t, "alice", subject(request(http.MethodGet, "/", token)))
	assert.Empty(t, subject(request(http.MethodGet, "/", "")))
	assert.Empty(t, subject(request(http.MethodGet, "/", token+"x")))

	other, err := auth.NewTokenIssuer([]byte("fedcba9876543210fedcba9876543210"), "wasteintel-test")
	require.NoError(t, err)
	other.WithClock(f.clock.Now)
	forged, err := other.Issue("root", "s1", f.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, subject(request(http.MethodGet, "/", forged)))
}

func TestRateLimit_RepeatedThrottlesBlock(t *testing.T) {
	f := newFixture(t)
	window := guard.NewSlidingWindow(time.Second, 1).WithClock(f.clock.Now)
	h := RateLimit(f.guard, RateLimitConfig{MaxRequests: 1, Limiter: window})(okHandler())

	var rec = serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
	for round := 0; round < guard.DefaultConfig().BlockAfterThrottles; round++ {
		serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
		rec = serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
		f.clock.Advance(time.Second)
	}

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeSuspiciousActivityBlocked, decodeError(t, rec).Code)

	rec = serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAuthRateLimit(t *testing.T) {
	f := newFixture(t)
	h := AuthRateLimit(f.guard, RateLimitConfig{Window: time.Minute})(okHandler())

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.1")).Code)
	}
	rec := serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, httputil.CodeAuthRateLimitExceeded, body.Code)
	assert.Equal(t, defaultAuthMessage, body.Error)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.RateLimitRejectionsTotal.WithLabelValues("auth", "rate_limit")))
}

func TestRateLimit_RedisWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t)
	fallback := guard.NewSlidingWindow(time.Minute, 5).WithClock(f.clock.Now)
	limiter := guard.NewRedisWindow(client, "wasteintel:test", time.Minute, 5, fallback).WithClock(f.clock.Now)
	h := RateLimit(f.guard, RateLimitConfig{Window: time.Minute, MaxRequests: 5, Limiter: limiter})(okHandler())

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1")).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.1")).Code)

	// a Redis outage falls back to the in-memory window
	mr.Close()
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodGet, "/", ""), "10.0.0.3")).Code)
}

func TestBlockSuspicious(t *testing.T) {
	f := newFixture(t, "10.0.0.50")
	h := BlockSuspicious(f.guard)(okHandler())

	for i := 0; i < guard.DefaultConfig().BruteForceThreshold; i++ {
		f.guard.RecordAuthFailure("victim@example.com", "10.0.0.9")
		f.guard.RecordAuthFailure("other@example.com", "10.0.0.50")
	}
	require.True(t, f.guard.IsSuspicious("10.0.0.9"))

	rec := serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.9"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeSuspiciousActivityBlocked, decodeError(t, rec).Code)

	// whitelisted addresses are never blocked
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.50")).Code)
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.10")).Code)

	require.True(t, f.guard.ClearSuspicious("10.0.0.9"))
	assert.Equal(t, http.StatusOK, serve(h, fromIP(request(http.MethodPost, "/api/auth/signin", ""), "10.0.0.9")).Code)
}

func TestBlockSuspicious_ValidCredentialsStillBlocked(t *testing.T) {
	f := newFixture(t)
	token := f.addUser(t, "u1", auth.RoleViewer)

	ctx := contextkeys.WithClientIP(context.Background(), "10.0.0.9")
	for i := 0; i < guard.DefaultConfig().BruteForceThreshold; i++ {
		_, err := f.service.SignIn(ctx, "u1@example.com", "wrong-password-123")
		require.Error(t, err)
	}
	require.True(t, f.guard.IsSuspicious("10.0.0.9"))

	h := BlockSuspicious(f.guard)(f.authn.Authenticate(okHandler()))
	rec := serve(h, fromIP(request(http.MethodGet, "/api/me", token), "10.0.0.9"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, httputil.CodeSuspiciousActivityBlocked, decodeError(t, rec).Code)
}
