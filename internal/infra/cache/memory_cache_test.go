//go:build !integration

package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"club-entitlements/internal/domain/model"
)

func TestMemoryCache_GetPutInvalidate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(4, time.Minute, func() time.Time { return now })

	_, ok, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	caps := &model.Capabilities{TenantID: "t1", PlanCode: "pro", Values: map[string]model.FeatureValue{"advanced_analytics": model.BoolValue(true)}}
	require.NoError(t, c.Put(ctx, caps))
	got, ok, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, caps, got)

	require.NoError(t, c.Invalidate(ctx, "t1"))
	_, ok, _ = c.Get(ctx, "t1")
	assert.False(t, ok)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Put(ctx, &model.Capabilities{TenantID: fmt.Sprintf("t%d", i)}))
	}
	require.NoError(t, c.InvalidateAll(ctx))
	for i := 0; i < 20; i++ {
		_, ok, _ := c.Get(ctx, fmt.Sprintf("t%d", i))
		assert.False(t, ok)
	}
}

func TestMemoryCache_OverrideExpiryBoundsEntry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	c := NewMemoryCache(2, time.Hour, func() time.Time { return clock })

	until := now.Add(time.Minute)
	require.NoError(t, c.Put(ctx, &model.Capabilities{TenantID: "t1", ValidUntil: &until}))
	_, ok, _ := c.Get(ctx, "t1")
	assert.True(t, ok)

	clock = until
	_, ok, _ = c.Get(ctx, "t1")
	assert.False(t, ok)
}

func TestEntryTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ttl, ok := EntryTTL(time.Minute, &model.Capabilities{}, now)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, ttl)

	soon := now.Add(10 * time.Second)
	ttl, ok = EntryTTL(time.Minute, &model.Capabilities{ValidUntil: &soon}, now)
	assert.True(t, ok)
	assert.Equal(t, 10*time.Second, ttl)

	late := now.Add(time.Hour)
	ttl, _ = EntryTTL(time.Minute, &model.Capabilities{ValidUntil: &late}, now)
	assert.Equal(t, time.Minute, ttl)

	_, ok = EntryTTL(time.Minute, &model.Capabilities{ValidUntil: &now}, now)
	assert.False(t, ok)
}

func TestMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(8, time.Minute, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%d", i%4)
			_ = c.Put(ctx, &model.Capabilities{TenantID: id})
			_, _, _ = c.Get(ctx, id)
			_ = c.Invalidate(ctx, id)
		}(i)
	}
	wg.Wait()
}
