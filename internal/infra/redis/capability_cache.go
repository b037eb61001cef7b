package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/cache"
	"club-entitlements/internal/infra/metrics"
)

const (
	cacheName = "capabilities"
	genKey    = "caps:gen"
)

var _ adapter.CapabilityCache = (*CapabilityCache)(nil)

// CapabilityCache stores resolved capabilities as JSON under a generation
// prefix. InvalidateAll bumps the generation instead of scanning keys; old
// entries age out through their TTL.
type CapabilityCache struct {
	client RedisClient
	ttl    time.Duration
	now    func() time.Time
	log    *zerolog.Logger
}

func NewCapabilityCache(client RedisClient, ttl time.Duration, logger *zerolog.Logger) *CapabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := logger.With().Str("component", "capability_cache").Logger()
	return &CapabilityCache{client: client, ttl: ttl, now: time.Now, log: &l}
}

func (c *CapabilityCache) generation(ctx context.Context) (string, error) {
	gen, err := c.client.Get(ctx, genKey)
	if errors.Is(err, ErrNil) {
		return "0", nil
	}
	return gen, err
}

func (c *CapabilityCache) key(ctx context.Context, tenantID string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("caps:%s:%s", gen, tenantID), nil
}

func (c *CapabilityCache) Get(ctx context.Context, tenantID string) (*model.Capabilities, bool, error) {
	key, err := c.key(ctx, tenantID)
	if err != nil {
		metrics.IncCacheRequest(cacheName, "error")
		return nil, false, err
	}
	raw, err := c.client.Get(ctx, key)
	if errors.Is(err, ErrNil) {
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.IncCacheRequest(cacheName, "error")
		return nil, false, err
	}
	var caps model.Capabilities
	if err := json.Unmarshal([]byte(raw), &caps); err != nil {
		// a corrupt entry is a miss; the next Put overwrites it
		c.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("dropping undecodable cache entry")
		metrics.IncCacheRequest(cacheName, "miss")
		return nil, false, nil
	}
	if !caps.FreshAt(c.now()) {
		metrics.IncCacheRequest(cacheName, "stale")
		return nil, false, nil
	}
	metrics.IncCacheRequest(cacheName, "hit")
	return &caps, true, nil
}

func (c *CapabilityCache) Put(ctx context.Context, caps *model.Capabilities) error {
	if caps == nil || caps.TenantID == "" {
		return nil
	}
	ttl, ok := cache.EntryTTL(c.ttl, caps, c.now())
	if !ok {
		return nil
	}
	b, err := json.Marshal(caps)
	if err != nil {
		return err
	}
	key, err := c.key(ctx, caps.TenantID)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, b, ttl)
}

func (c *CapabilityCache) Invalidate(ctx context.Context, tenantID string) error {
	key, err := c.key(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, key); err != nil {
		return err
	}
	metrics.IncCacheInvalidation(cacheName, "tenant")
	return nil
}

func (c *CapabilityCache) InvalidateAll(ctx context.Context) error {
	if _, err := c.client.Incr(ctx, genKey); err != nil {
		return err
	}
	metrics.IncCacheInvalidation(cacheName, "all")
	return nil
}
