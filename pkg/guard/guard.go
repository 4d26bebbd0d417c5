package guard

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// State is the rate state of one identity key
type State int

const (
	StateNormal State = iota
	StateThrottled
	StateBlocked
)

func (s State) String() string {
	switch s {
	case StateThrottled:
		return "throttled"
	case StateBlocked:
		return "blocked"
	default:
		return "normal"
	}
}

// Reason explains a rejection
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonRateLimit  Reason = "rate_limit"
	ReasonBlocked    Reason = "blocked"
	ReasonSuspicious Reason = "suspicious_ip"
)

// Verdict is the guard's answer for one request
type Verdict struct {
	State      State
	Reason     Reason
	RetryAfter time.Duration
	Decision   Decision
}

// Allowed reports whether the request may proceed
func (v Verdict) Allowed() bool {
	return v.State == StateNormal
}

// Config holds the anomaly thresholds
type Config struct {
	// BlockAfterThrottles Normal->Throttled transitions within BlockDuration block the key
	BlockAfterThrottles int
	BlockDuration       time.Duration

	// BruteForceThreshold failed sign-ins for one identifier mark the source IP suspicious.
	// The count resets on success or after BruteForceReset without a failure.
	BruteForceThreshold int
	BruteForceReset     time.Duration
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		BlockAfterThrottles: 5,
		BlockDuration:       15 * time.Minute,
		BruteForceThreshold: 10,
		BruteForceReset:     time.Hour,
	}
}

type keyState struct {
	state        State
	throttles    int
	lastThrottle time.Time
	blockedUntil time.Time
	lastSeen     time.Time
}

type failureState struct {
	count int
	last  time.Time
}

// Guard is the per-process rate and anomaly state: per-key throttle state, per-identifier
// sign-in failure counters and the suspicious-IP set. It does not survive a restart.
type Guard struct {
	cfg       Config
	whitelist *Whitelist
	metrics   *observability.Metrics
	logger    *observability.Logger
	now       func() time.Time

	// samples repetitive security-event logging
	sampler rate.Sometimes

	mu         sync.Mutex
	keys       map[string]*keyState
	failures   map[string]*failureState
	suspicious map[string]time.Time
}

// New creates a guard. whitelist may be nil.
func New(cfg Config, whitelist *Whitelist, metrics *observability.Metrics, logger *observability.Logger) *Guard {
	def := DefaultConfig()
	if cfg.BlockAfterThrottles <= 0 {
		cfg.BlockAfterThrottles = def.BlockAfterThrottles
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = def.BlockDuration
	}
	if cfg.BruteForceThreshold <= 0 {
		cfg.BruteForceThreshold = def.BruteForceThreshold
	}
	if cfg.BruteForceReset <= 0 {
		cfg.BruteForceReset = def.BruteForceReset
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &Guard{
		cfg:        cfg,
		whitelist:  whitelist,
		metrics:    metrics,
		logger:     logger.WithField("component", "guard"),
		now:        time.Now,
		sampler:    rate.Sometimes{First: 10, Interval: 10 * time.Second},
		keys:       make(map[string]*keyState),
		failures:   make(map[string]*failureState),
		suspicious: make(map[string]time.Time),
	}
}

// WithClock overrides the clock (tests)
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Whitelisted reports whether ip is exempt
func (g *Guard) Whitelisted(ip string) bool {
	return g.whitelist.Contains(ip)
}

// Check runs a request through limiter under name and returns the verdict for key.
// A suspicious, non-whitelisted ip is rejected before counting. Whitelisted IPs are
// never limited. Limiter errors admit the request.
func (g *Guard) Check(ctx context.Context, name string, limiter Limiter, key, ip string) Verdict {
	if ip != "" && g.Whitelisted(ip) {
		return Verdict{State: StateNormal}
	}
	if g.IsSuspicious(ip) {
		g.reject(name, ReasonSuspicious, key, ip)
		return Verdict{State: StateBlocked, Reason: ReasonSuspicious}
	}

	stateKey := name + ":" + key
	now := g.now()

	g.mu.Lock()
	ks := g.keys[stateKey]
	if ks != nil && ks.blockedUntil.After(now) {
		ks.lastSeen = now
		retry := ks.blockedUntil.Sub(now)
		g.mu.Unlock()
		g.reject(name, ReasonBlocked, key, ip)
		return Verdict{State: StateBlocked, Reason: ReasonBlocked, RetryAfter: retry}
	}
	g.mu.Unlock()

	decision, err := limiter.Allow(ctx, key)
	if err != nil {
		g.logger.WithError(err).WithField("limiter", name).Warn("rate limiter failed, admitting request")
		return Verdict{State: StateNormal}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	ks = g.keys[stateKey]
	if ks == nil {
		ks = &keyState{}
		g.keys[stateKey] = ks
	}
	ks.lastSeen = now

	if decision.Allowed {
		ks.state = StateNormal
		return Verdict{State: StateNormal, Decision: decision}
	}

	if ks.state == StateNormal {
		if now.Sub(ks.lastThrottle) > g.cfg.BlockDuration {
			ks.throttles = 0
		}
		ks.throttles++
		ks.lastThrottle = now
		ks.state = StateThrottled

		if ks.throttles >= g.cfg.BlockAfterThrottles {
			ks.state = StateBlocked
			ks.blockedUntil = now.Add(g.cfg.BlockDuration)
			ks.throttles = 0
			g.logger.SecurityEvent("rate_limit_block", map[string]interface{}{
				"limiter":       name,
				"key":           key,
				"ip":            ip,
				"blocked_until": ks.blockedUntil.UTC(),
			})
			g.count(name, ReasonBlocked)
			return Verdict{State: StateBlocked, Reason: ReasonBlocked, RetryAfter: g.cfg.BlockDuration, Decision: decision}
		}
	}

	g.count(name, ReasonRateLimit)
	g.sampler.Do(func() {
		g.logger.SecurityEvent("rate_limit_exceeded", map[string]interface{}{
			"limiter": name,
			"key":     key,
			"ip":      ip,
			"count":   decision.Count,
			"limit":   decision.Limit,
		})
	})
	return Verdict{State: StateThrottled, Reason: ReasonRateLimit, RetryAfter: decision.RetryAfter, Decision: decision}
}

func (g *Guard) reject(name string, reason Reason, key, ip string) {
	g.count(name, reason)
	g.sampler.Do(func() {
		g.logger.SecurityEvent("request_blocked", map[string]interface{}{
			"limiter": name,
			"reason":  string(reason),
			"key":     key,
			"ip":      ip,
		})
	})
}

func (g *Guard) count(name string, reason Reason) {
	if g.metrics != nil {
		g.metrics.RateLimitRejectionsTotal.WithLabelValues(name, string(reason)).Inc()
	}
}

// StateOf returns the current state of key under name
func (g *Guard) StateOf(name, key string) State {
	g.mu.Lock()
	defer g.mu.Unlock()
	ks := g.keys[name+":"+key]
	if ks == nil {
		return StateNormal
	}
	if ks.state == StateBlocked && !ks.blockedUntil.After(g.now()) {
		return StateNormal
	}
	return ks.state
}

// RecordAuthFailure counts a failed sign-in for identifier from ip. It returns true when
// this failure marked ip suspicious.
func (g *Guard) RecordAuthFailure(identifier, ip string) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	fs := g.failures[identifier]
	if fs == nil || now.Sub(fs.last) > g.cfg.BruteForceReset {
		fs = &failureState{}
		g.failures[identifier] = fs
	}
	fs.count++
	fs.last = now

	if fs.count < g.cfg.BruteForceThreshold || ip == "" || g.whitelist.Contains(ip) {
		return false
	}
	if _, already := g.suspicious[ip]; already {
		return false
	}

	g.suspicious[ip] = now
	if g.metrics != nil {
		g.metrics.SuspiciousIPs.Set(float64(len(g.suspicious)))
	}
	g.logger.SecurityEvent("brute_force_detected", map[string]interface{}{
		"ip":       ip,
		"failures": fs.count,
	})
	return true
}

// RecordAuthSuccess clears the failure counter for identifier
func (g *Guard) RecordAuthSuccess(identifier string) {
	g.mu.Lock()
	delete(g.failures, identifier)
	g.mu.Unlock()
}

// Failures returns the current failure count for identifier
func (g *Guard) Failures(identifier string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	fs := g.failures[identifier]
	if fs == nil || g.now().Sub(fs.last) > g.cfg.BruteForceReset {
		return 0
	}
	return fs.count
}

// IsSuspicious reports whether ip is flagged and not whitelisted
func (g *Guard) IsSuspicious(ip string) bool {
	if ip == "" || g.whitelist.Contains(ip) {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.suspicious[ip]
	return ok
}

// ClearSuspicious removes ip from the suspicious set and reports whether it was present
func (g *Guard) ClearSuspicious(ip string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.suspicious[ip]; !ok {
		return false
	}
	delete(g.suspicious, ip)
	if g.metrics != nil {
		g.metrics.SuspiciousIPs.Set(float64(len(g.suspicious)))
	}
	return true
}

// SuspiciousIPs returns the flagged IPs in sorted order
func (g *Guard) SuspiciousIPs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ips := make([]string, 0, len(g.suspicious))
	for ip := range g.suspicious {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

// Cleanup drops idle key state and stale failure counters. Suspicious IPs are kept.
func (g *Guard) Cleanup(idle time.Duration) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	for key, ks := range g.keys {
		if ks.blockedUntil.After(now) {
			continue
		}
		if now.Sub(ks.lastSeen) > idle && now.Sub(ks.lastThrottle) > g.cfg.BlockDuration {
			delete(g.keys, key)
		}
	}
	for id, fs := range g.failures {
		if now.Sub(fs.last) > g.cfg.BruteForceReset {
			delete(g.failures, id)
		}
	}
}

// Cleaner is a limiter with droppable idle state
type Cleaner interface {
	Cleanup() int
}

// RunCleanup periodically cleans the guard and the given windows until ctx is done
func (g *Guard) RunCleanup(ctx context.Context, interval time.Duration, windows ...Cleaner) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Cleanup(interval)
				for _, w := range windows {
					w.Cleanup()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
