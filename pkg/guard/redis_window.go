package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// RedisWindow is a fixed-window counter shared by every instance through Redis.
// Each window gets its own key (INCR + PEXPIRE in one transaction). When Redis fails the
// request is counted by the fallback limiter instead.
type RedisWindow struct {
	client   *redis.Client
	prefix   string
	window   time.Duration
	max      int
	fallback Limiter
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *observability.Logger
}

var _ Limiter = (*RedisWindow)(nil)

// NewRedisWindow creates a Redis-backed limiter. fallback is used while Redis is unavailable
// and defaults to an in-memory sliding window with the same limits.
func NewRedisWindow(client *redis.Client, prefix string, window time.Duration, max int, fallback Limiter) *RedisWindow {
	if prefix == "" {
		prefix = "ratelimit"
	}
	if fallback == nil {
		fallback = NewSlidingWindow(window, max)
	}
	return &RedisWindow{
		client:   client,
		prefix:   prefix,
		window:   window,
		max:      max,
		fallback: fallback,
		now:      time.Now,
		logger:   observability.NewNopLogger(),
	}
}

// WithObservability sets the metrics and logger used to report backend failures
func (w *RedisWindow) WithObservability(metrics *observability.Metrics, logger *observability.Logger) *RedisWindow {
	w.metrics = metrics
	if logger != nil {
		w.logger = logger
	}
	return w
}

// WithClock overrides the clock (tests)
func (w *RedisWindow) WithClock(now func() time.Time) *RedisWindow {
	w.now = now
	return w
}

// Allow counts a request for key in the current window
func (w *RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := w.now()
	start := now.Truncate(w.window)
	redisKey := fmt.Sprintf("%s:%s:%d", w.prefix, key, start.UnixMilli())

	var incr *redis.IntCmd
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.PExpire(ctx, redisKey, w.window)
		return nil
	})
	if err != nil {
		if w.metrics != nil {
			w.metrics.GuardBackendErrorsTotal.WithLabelValues("redis").Inc()
		}
		w.logger.WithError(err).WithField("prefix", w.prefix).Warn("redis rate limit failed, using local window")
		return w.fallback.Allow(ctx, key)
	}

	count := int(incr.Val())
	if count > w.max {
		return Decision{
			Allowed:    false,
			Count:      count,
			Limit:      w.max,
			RetryAfter: start.Add(w.window).Sub(now),
		}, nil
	}
	return Decision{Allowed: true, Count: count, Limit: w.max}, nil
}
