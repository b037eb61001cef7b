package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter shared by every API replica. Each
// window gets its own key so a lost EXPIRE cannot pin a tenant forever.
type RateLimiter struct {
	client RedisClient
	now    func() time.Time
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow counts one hit against key. When the limit is exceeded it reports
// how long until the current window closes.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := r.now()
	start := now.Truncate(window)
	bucket := fmt.Sprintf("%s:%d", key, start.Unix())

	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, 0, err
		}
	}
	if count > int64(limit) {
		return false, start.Add(window).Sub(now), nil
	}
	return true, 0, nil
}

// TenantWriteKey scopes the write budget to one tenant and route group.
func TenantWriteKey(tenantID, route string) string {
	return fmt.Sprintf("rate_limit:tenant:%s:%s", tenantID, route)
}
