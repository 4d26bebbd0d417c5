package guard

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

func newTestGuard(t *testing.T, cfg Config, whitelist []string) (*Guard, *fakeClock, *observability.Metrics) {
	t.Helper()
	wl, err := NewWhitelist(whitelist)
	require.NoError(t, err)
	clock := newFakeClock()
	metrics := observability.NewTestMetrics()
	return New(cfg, wl, metrics, nil).WithClock(clock.Now), clock, metrics
}

func TestGuard_ThrottleThenRecover(t *testing.T) {
	g, clock, metrics := newTestGuard(t, Config{}, nil)
	window := NewSlidingWindow(time.Second, 5).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v := g.Check(ctx, "api", window, "ip:10.0.0.1", "10.0.0.1")
		require.True(t, v.Allowed(), "request %d", i+1)
	}

	v := g.Check(ctx, "api", window, "ip:10.0.0.1", "10.0.0.1")
	assert.Equal(t, StateThrottled, v.State)
	assert.Equal(t, ReasonRateLimit, v.Reason)
	assert.Equal(t, time.Second, v.RetryAfter)
	assert.Equal(t, StateThrottled, g.StateOf("api", "ip:10.0.0.1"))

	clock.Advance(time.Second)
	v = g.Check(ctx, "api", window, "ip:10.0.0.1", "10.0.0.1")
	assert.True(t, v.Allowed())
	assert.Equal(t, StateNormal, g.StateOf("api", "ip:10.0.0.1"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RateLimitRejectionsTotal.WithLabelValues("api", "rate_limit")))
}

func TestGuard_RepeatedThrottlesBlock(t *testing.T) {
	g, clock, _ := newTestGuard(t, Config{BlockAfterThrottles: 3, BlockDuration: time.Minute}, nil)
	window := NewSlidingWindow(time.Second, 1).WithClock(clock.Now)
	ctx := context.Background()

	var v Verdict
	for round := 0; round < 3; round++ {
		require.True(t, g.Check(ctx, "api", window, "user:u1", "").Allowed())
		v = g.Check(ctx, "api", window, "user:u1", "")
		// staying throttled does not count as another transition
		g.Check(ctx, "api", window, "user:u1", "")
		clock.Advance(time.Second)
	}

	assert.Equal(t, StateBlocked, v.State)
	assert.Equal(t, ReasonBlocked, v.Reason)
	assert.Equal(t, time.Minute, v.RetryAfter)

	// blocked even though the window has room
	v = g.Check(ctx, "api", window, "user:u1", "")
	assert.Equal(t, StateBlocked, v.State)
	assert.Equal(t, time.Minute-time.Second, v.RetryAfter)

	clock.Advance(time.Minute)
	assert.True(t, g.Check(ctx, "api", window, "user:u1", "").Allowed())
}

func TestGuard_LimitersAreIndependent(t *testing.T) {
	g, clock, _ := newTestGuard(t, Config{}, nil)
	auth := NewSlidingWindow(time.Minute, 1).WithClock(clock.Now)
	general := NewSlidingWindow(time.Minute, 10).WithClock(clock.Now)
	ctx := context.Background()

	g.Check(ctx, "auth", auth, "ip:1.2.3.4", "1.2.3.4")
	assert.False(t, g.Check(ctx, "auth", auth, "ip:1.2.3.4", "1.2.3.4").Allowed())
	assert.True(t, g.Check(ctx, "api", general, "ip:1.2.3.4", "1.2.3.4").Allowed())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestGuard_LimiterErrorAdmits(t *testing.T) {
	g, _, _ := newTestGuard(t, Config{}, nil)
	assert.True(t, g.Check(context.Background(), "api", failingLimiter{}, "k", "").Allowed())
}

func TestGuard_BruteForceMarksSuspicious(t *testing.T) {
	g, clock, metrics := newTestGuard(t, Config{}, nil)
	window := NewSlidingWindow(time.Minute, 1000).WithClock(clock.Now)

	for i := 1; i < 10; i++ {
		assert.False(t, g.RecordAuthFailure("victim@example.com", "203.0.113.7"), "failure %d", i)
	}
	assert.False(t, g.IsSuspicious("203.0.113.7"))
	assert.True(t, g.RecordAuthFailure("victim@example.com", "203.0.113.7"))
	assert.True(t, g.IsSuspicious("203.0.113.7"))
	assert.Equal(t, []string{"203.0.113.7"}, g.SuspiciousIPs())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SuspiciousIPs))

	// rejected regardless of rate count
	v := g.Check(context.Background(), "api", window, "ip:203.0.113.7", "203.0.113.7")
	assert.Equal(t, StateBlocked, v.State)
	assert.Equal(t, ReasonSuspicious, v.Reason)

	// stays flagged after more time than the failure window
	clock.Advance(2 * time.Hour)
	assert.True(t, g.IsSuspicious("203.0.113.7"))

	assert.True(t, g.ClearSuspicious("203.0.113.7"))
	assert.False(t, g.ClearSuspicious("203.0.113.7"))
	assert.False(t, g.IsSuspicious("203.0.113.7"))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.SuspiciousIPs))
}

func TestGuard_BruteForceResets(t *testing.T) {
	t.Run("success clears the counter", func(t *testing.T) {
		g, _, _ := newTestGuard(t, Config{}, nil)
		for i := 0; i < 9; i++ {
			g.RecordAuthFailure("a@example.com", "198.51.100.1")
		}
		g.RecordAuthSuccess("a@example.com")
		assert.Equal(t, 0, g.Failures("a@example.com"))
		assert.False(t, g.RecordAuthFailure("a@example.com", "198.51.100.1"))
		assert.False(t, g.IsSuspicious("198.51.100.1"))
	})

	t.Run("an hour of inactivity clears the counter", func(t *testing.T) {
		g, clock, _ := newTestGuard(t, Config{}, nil)
		for i := 0; i < 9; i++ {
			g.RecordAuthFailure("b@example.com", "198.51.100.2")
		}
		clock.Advance(time.Hour + time.Second)
		assert.Equal(t, 0, g.Failures("b@example.com"))
		assert.False(t, g.RecordAuthFailure("b@example.com", "198.51.100.2"))
		assert.Equal(t, 1, g.Failures("b@example.com"))
	})

	t.Run("counters are per identifier", func(t *testing.T) {
		g, _, _ := newTestGuard(t, Config{}, nil)
		for i := 0; i < 9; i++ {
			g.RecordAuthFailure(fmt.Sprintf("user%d@example.com", i), "198.51.100.3")
		}
		assert.False(t, g.IsSuspicious("198.51.100.3"))
	})
}

func TestGuard_WhitelistedIPs(t *testing.T) {
	g, clock, _ := newTestGuard(t, Config{}, []string{"10.0.0.0/8", "192.0.2.1"})
	window := NewSlidingWindow(time.Minute, 1).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		g.RecordAuthFailure("x@example.com", "10.1.2.3")
	}
	assert.False(t, g.IsSuspicious("10.1.2.3"))
	assert.Empty(t, g.SuspiciousIPs())

	for i := 0; i < 5; i++ {
		assert.True(t, g.Check(ctx, "api", window, "ip:192.0.2.1", "192.0.2.1").Allowed())
	}
}

func TestGuard_Cleanup(t *testing.T) {
	g, clock, _ := newTestGuard(t, Config{BlockDuration: time.Minute}, nil)
	window := NewSlidingWindow(time.Second, 5).WithClock(clock.Now)

	g.Check(context.Background(), "api", window, "k", "")
	g.RecordAuthFailure("id", "")
	clock.Advance(2 * time.Hour)
	g.Cleanup(time.Minute)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Empty(t, g.keys)
	assert.Empty(t, g.failures)
}
