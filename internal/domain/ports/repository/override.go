package repository

import (
	"context"

	"club-entitlements/internal/domain/model"
)

type OverrideRepository interface {
	Upsert(ctx context.Context, tx Tx, o *model.TenantFeatureOverride) error
	// Delete returns domain.ErrNotFound when no override exists.
	Delete(ctx context.Context, tx Tx, tenantID, featureKey string) error
	// ListByTenant returns every override, expired ones included; callers
	// decide effectiveness at their own instant.
	ListByTenant(ctx context.Context, tx Tx, tenantID string) ([]*model.TenantFeatureOverride, error)
}
