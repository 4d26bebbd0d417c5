package guard

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of counting one request against a window
type Decision struct {
	Allowed bool
	Count   int
	Limit   int
	// RetryAfter is how long until a rejected key may be admitted again
	RetryAfter time.Duration
}

// Limiter counts requests per key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// SlidingWindow admits at most Max requests per key in any trailing Window.
// Rejected requests are not counted, so a key recovers once its oldest hit ages out.
type SlidingWindow struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

var _ Limiter = (*SlidingWindow)(nil)

// NewSlidingWindow creates an in-memory sliding window limiter
func NewSlidingWindow(window time.Duration, max int) *SlidingWindow {
	return &SlidingWindow{
		window: window,
		max:    max,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// WithClock overrides the clock (tests)
func (w *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	w.now = now
	return w
}

// Window returns the window length
func (w *SlidingWindow) Window() time.Duration { return w.window }

// Max returns the request budget per window
func (w *SlidingWindow) Max() int { return w.max }

// Allow counts a request for key
func (w *SlidingWindow) Allow(_ context.Context, key string) (Decision, error) {
	now := w.now()
	cutoff := now.Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	hits := prune(w.hits[key], cutoff)
	if len(hits) >= w.max {
		w.hits[key] = hits
		return Decision{
			Allowed:    false,
			Count:      len(hits),
			Limit:      w.max,
			RetryAfter: hits[0].Add(w.window).Sub(now),
		}, nil
	}

	hits = append(hits, now)
	w.hits[key] = hits
	return Decision{Allowed: true, Count: len(hits), Limit: w.max}, nil
}

// Reset forgets every hit for key
func (w *SlidingWindow) Reset(key string) {
	w.mu.Lock()
	delete(w.hits, key)
	w.mu.Unlock()
}

// Cleanup drops keys with no hits inside the window and returns how many were removed
func (w *SlidingWindow) Cleanup() int {
	cutoff := w.now().Add(-w.window)

	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for key, hits := range w.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(w.hits, key)
			removed++
		} else {
			w.hits[key] = hits
		}
	}
	return removed
}

// prune drops hits at or before cutoff; hits are in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
