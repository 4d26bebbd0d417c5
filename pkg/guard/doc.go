// Package guard implements the in-process rate and anomaly guard.
//
// Every identity key (user id when authenticated, otherwise the caller IP) moves through
// three states:
//
//	Normal -> Throttled   more than Max requests in the trailing Window
//	Throttled -> Normal   the window rolls over
//	Normal -> Blocked     BlockAfterThrottles throttles within BlockDuration
//
// Sign-in failures are counted per identifier (email). BruteForceThreshold failures mark the
// source IP suspicious until ClearSuspicious or a restart; requests from a suspicious IP are
// rejected outright unless it is whitelisted.
//
// Counting is pluggable through Limiter. SlidingWindow keeps per-process state;
// RedisWindow shares fixed-window counters across instances and falls back to a local
// window while Redis is unavailable:
//
//	g := guard.New(guard.DefaultConfig(), whitelist, metrics, logger)
//	window := guard.NewSlidingWindow(time.Second, 5)
//	if v := g.Check(ctx, "api", window, "ip:"+ip, ip); !v.Allowed() {
//	    // 429 or 403
//	}
package guard
