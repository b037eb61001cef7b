package repository

import (
	"context"
	"time"

	"club-entitlements/internal/domain/model"
)

type TenantRepository interface {
	// Create returns domain.ErrAlreadyExists on a slug collision.
	Create(ctx context.Context, tx Tx, t *model.Tenant) error
	// Update persists plan, processor and pending-change fields.
	Update(ctx context.Context, tx Tx, t *model.Tenant) error
	// FindByID locks the row when forUpdate is set and tx is a transaction.
	FindByID(ctx context.Context, tx Tx, id string, forUpdate bool) (*model.Tenant, error)
	FindBySubscriptionID(ctx context.Context, tx Tx, subscriptionID string, forUpdate bool) (*model.Tenant, error)
	// ListDuePending returns ids, ascending, of tenants whose pending change is
	// due at now. afterID pages through the set.
	ListDuePending(ctx context.Context, tx Tx, now time.Time, afterID string, limit int) ([]string, error)
}
