package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/contextkeys"
	"github.com/platinummonkey/wasteintel/pkg/guard"
	"github.com/platinummonkey/wasteintel/pkg/httputil"
	"github.com/platinummonkey/wasteintel/pkg/session"
)

const (
	defaultWindow      = 15 * time.Minute
	defaultMaxRequests = 100
	defaultAuthMax     = 5

	defaultMessage     = "Too many requests, please try again later"
	defaultAuthMessage = "Too many authentication attempts, please try again later"
	blockedMessage     = "Request blocked due to suspicious activity"
)

// RateLimitConfig defines one rate-limited route group
type RateLimitConfig struct {
	// Name labels the limiter in metrics and separates its escalation state
	Name        string
	Window      time.Duration
	MaxRequests int
	// Message overrides the default 429 message
	Message string
	// Limiter counts requests; defaults to an in-memory sliding window of MaxRequests per Window
	Limiter guard.Limiter
	// Code is the error code of a 429; defaults to RATE_LIMIT_EXCEEDED
	Code string
	// ByIP keys on the client IP even for authenticated callers
	ByIP bool
	// Identity names the caller when no authenticated user is on the context yet;
	// an empty result falls back to the client IP
	Identity func(r *http.Request) string
}

// RateLimiter enforces a RateLimitConfig through a guard
type RateLimiter struct {
	guard  *guard.Guard
	config RateLimitConfig
	window *guard.SlidingWindow
}

// NewRateLimiter fills defaults into cfg and creates the limiter
func NewRateLimiter(g *guard.Guard, cfg RateLimitConfig) *RateLimiter {
	if cfg.Name == "" {
		cfg.Name = "general"
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultMaxRequests
	}
	if cfg.Message == "" {
		cfg.Message = defaultMessage
	}
	if cfg.Code == "" {
		cfg.Code = httputil.CodeRateLimitExceeded
	}

	rl := &RateLimiter{guard: g, config: cfg}
	if cfg.Limiter == nil {
		rl.window = guard.NewSlidingWindow(cfg.Window, cfg.MaxRequests)
		rl.config.Limiter = rl.window
	}
	return rl
}

// Cleaner returns the in-memory window for periodic cleanup, or nil when the
// limiter was supplied by the caller
func (rl *RateLimiter) Cleaner() guard.Cleaner {
	if rl.window == nil {
		return nil
	}
	return rl.window
}

// Config returns the effective configuration
func (rl *RateLimiter) Config() RateLimitConfig {
	return rl.config
}

// Middleware applies the limiter to a handler
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ip := contextkeys.GetClientIP(ctx)
		if ip == "" {
			ip = httputil.ClientIP(r, nil)
		}

		key := "ip:" + ip
		if userID := rl.identity(r); userID != "" && !rl.config.ByIP {
			key = "user:" + userID
		}

		verdict := rl.guard.Check(ctx, rl.config.Name, rl.config.Limiter, key, ip)
		if verdict.Decision.Limit > 0 {
			remaining := verdict.Decision.Limit - verdict.Decision.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(verdict.Decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		switch verdict.Reason {
		case guard.ReasonNone:
			next.ServeHTTP(w, r)
		case guard.ReasonRateLimit:
			httputil.WriteRateLimited(w, rl.config.Code, rl.config.Message, verdict.RetryAfter)
		default:
			writeBlocked(w)
		}
	})
}

func (rl *RateLimiter) identity(r *http.Request) string {
	if userID := contextkeys.GetUserID(r.Context()); userID != "" {
		return userID
	}
	if rl.config.Identity != nil {
		return rl.config.Identity(r)
	}
	return ""
}

// TokenSubject identifies the caller by the subject of a correctly signed, unexpired
// bearer token. It does not consult the session store: a revoked session still counts
// against its user and is rejected later by Authenticate.
func TokenSubject(tokens *auth.TokenIssuer) func(r *http.Request) string {
	return func(r *http.Request) string {
		token, err := session.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			return ""
		}
		claims, err := tokens.Parse(token)
		if err != nil {
			return ""
		}
		return claims.Subject
	}
}

// RateLimit limits requests per user, or per client IP for anonymous callers
func RateLimit(g *guard.Guard, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return NewRateLimiter(g, cfg).Middleware
}

// AuthRateLimit limits sign-in style endpoints per client IP with the stricter
// authentication defaults
func AuthRateLimit(g *guard.Guard, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return NewAuthRateLimiter(g, cfg).Middleware
}

// NewAuthRateLimiter is NewRateLimiter with authentication defaults
func NewAuthRateLimiter(g *guard.Guard, cfg RateLimitConfig) *RateLimiter {
	if cfg.Name == "" {
		cfg.Name = "auth"
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = defaultAuthMax
	}
	if cfg.Message == "" {
		cfg.Message = defaultAuthMessage
	}
	if cfg.Code == "" {
		cfg.Code = httputil.CodeAuthRateLimitExceeded
	}
	cfg.ByIP = true
	return NewRateLimiter(g, cfg)
}

// BlockSuspicious rejects requests from IPs the guard has marked suspicious
func BlockSuspicious(g *guard.Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := contextkeys.GetClientIP(r.Context())
			if ip == "" {
				ip = httputil.ClientIP(r, nil)
			}
			if g.IsSuspicious(ip) {
				writeBlocked(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeBlocked(w http.ResponseWriter) {
	httputil.WriteErrorCode(w, http.StatusForbidden, httputil.CodeSuspiciousActivityBlocked, blockedMessage)
}
