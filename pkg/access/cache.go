package access

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/wasteintel/pkg/auth"
	"github.com/platinummonkey/wasteintel/pkg/observability"
)

// loadFunc fetches a user's effective grants from the store
type loadFunc func(ctx context.Context, userID string) ([]*auth.CompanyAccessGrant, error)

// grantCache holds each user's effective grants for a short TTL.
// Concurrent misses for one user share a single store load, and a load that
// races an invalidation is not cached.
type grantCache struct {
	entries *lru.LRU[string, []*auth.CompanyAccessGrant]
	group   singleflight.Group
	metrics *observability.Metrics

	mu sync.Mutex
	// loads in flight per user; entries exist only while a load runs
	loading map[string]*pendingLoad
}

type pendingLoad struct {
	stale bool
}

func newGrantCache(size int, ttl time.Duration, metrics *observability.Metrics) *grantCache {
	if size <= 0 {
		size = 10000
	}
	return &grantCache{
		entries: lru.NewLRU[string, []*auth.CompanyAccessGrant](size, nil, ttl),
		metrics: metrics,
		loading: make(map[string]*pendingLoad),
	}
}

func (c *grantCache) get(ctx context.Context, userID string, load loadFunc) ([]*auth.CompanyAccessGrant, error) {
	if grants, ok := c.entries.Get(userID); ok {
		c.count("hit")
		return grants, nil
	}
	c.count("miss")

	v, err, _ := c.group.Do(userID, func() (interface{}, error) {
		if grants, ok := c.entries.Get(userID); ok {
			return grants, nil
		}
		pending := c.begin(userID)
		grants, err := load(ctx, userID)
		c.finish(userID, pending, grants, err)
		if err != nil {
			return nil, err
		}
		return grants, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*auth.CompanyAccessGrant), nil
}

func (c *grantCache) begin(userID string) *pendingLoad {
	pending := &pendingLoad{}
	c.mu.Lock()
	c.loading[userID] = pending
	c.mu.Unlock()
	return pending
}

func (c *grantCache) finish(userID string, pending *pendingLoad, grants []*auth.CompanyAccessGrant, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil && !pending.stale {
		c.entries.Add(userID, grants)
	}
	// a newer load may have registered after an invalidation
	if c.loading[userID] == pending {
		delete(c.loading, userID)
	}
}

// invalidate drops the user's entry and discards any load already in flight
func (c *grantCache) invalidate(userID string) {
	c.mu.Lock()
	if pending, ok := c.loading[userID]; ok {
		pending.stale = true
	}
	c.entries.Remove(userID)
	c.mu.Unlock()
	c.group.Forget(userID)
}

func (c *grantCache) count(result string) {
	if c.metrics != nil {
		c.metrics.AccessCacheTotal.WithLabelValues(result).Inc()
	}
}
