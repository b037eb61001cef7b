package cache

import (
	"context"
	"hash/fnv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/metrics"
)

const cacheName = "capabilities"

var _ adapter.CapabilityCache = (*MemoryCache)(nil)

// MemoryCache is an in-process capability cache split into shards so
// concurrent tenants rarely contend on the same lock.
type MemoryCache struct {
	shards []*gocache.Cache
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryCache builds a cache with n shards. now may be nil.
func NewMemoryCache(n int, ttl time.Duration, now func() time.Time) *MemoryCache {
	if n <= 0 {
		n = 16
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	shards := make([]*gocache.Cache, n)
	for i := range shards {
		shards[i] = gocache.New(ttl, 2*ttl)
	}
	return &MemoryCache{shards: shards, ttl: ttl, now: now}
}

func (c *MemoryCache) shard(tenantID string) *gocache.Cache {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *MemoryCache) Get(_ context.Context, tenantID string) (*model.Capabilities, bool, error) {
	v, ok := c.shard(tenantID).Get(tenantID)
	if !ok {
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false, nil
	}
	caps := v.(*model.Capabilities)
	if !caps.FreshAt(c.now()) {
		c.shard(tenantID).Delete(tenantID)
		metrics.IncCacheRequest(cacheName, "stale")
		return nil, false, nil
	}
	metrics.IncCacheRequest(cacheName, "hit")
	return caps, true, nil
}

func (c *MemoryCache) Put(_ context.Context, caps *model.Capabilities) error {
	if caps == nil || caps.TenantID == "" {
		return nil
	}
	ttl, ok := EntryTTL(c.ttl, caps, c.now())
	if !ok {
		return nil
	}
	c.shard(caps.TenantID).Set(caps.TenantID, caps, ttl)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, tenantID string) error {
	c.shard(tenantID).Delete(tenantID)
	metrics.IncCacheInvalidation(cacheName, "tenant")
	return nil
}

func (c *MemoryCache) InvalidateAll(_ context.Context) error {
	for _, s := range c.shards {
		s.Flush()
	}
	metrics.IncCacheInvalidation(cacheName, "all")
	return nil
}

// EntryTTL caps ttl at the earliest override expiry. ok is false when the
// resolution is already stale.
func EntryTTL(ttl time.Duration, caps *model.Capabilities, now time.Time) (time.Duration, bool) {
	if caps.ValidUntil == nil {
		return ttl, true
	}
	left := caps.ValidUntil.Sub(now)
	if left <= 0 {
		return 0, false
	}
	if left < ttl {
		return left, true
	}
	return ttl, true
}

