package adapter

import (
	"context"

	"club-entitlements/internal/domain/model"
)

// CapabilityCache holds resolved capabilities per tenant for a fixed TTL.
// Get reports a miss with ok=false and a nil error.
type CapabilityCache interface {
	Get(ctx context.Context, tenantID string) (caps *model.Capabilities, ok bool, err error)
	Put(ctx context.Context, caps *model.Capabilities) error
	Invalidate(ctx context.Context, tenantID string) error
	InvalidateAll(ctx context.Context) error
}
