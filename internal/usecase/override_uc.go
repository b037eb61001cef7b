package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ OverrideUseCase = (*overrideUC)(nil)

// OverrideUseCase manages per-tenant exceptions to plan defaults. Overrides
// are administrative and not subject to the plan change cooldown.
type OverrideUseCase interface {
	Apply(ctx context.Context, tenantID, featureKey, rawValue string, expiresAt *time.Time) (*model.TenantFeatureOverride, error)
	Clear(ctx context.Context, tenantID, featureKey string) error
	List(ctx context.Context, tenantID string) ([]*model.TenantFeatureOverride, error)
}

type overrideUC struct {
	tenants   repository.TenantRepository
	features  repository.FeatureRepository
	overrides repository.OverrideRepository
	audit     *auditLog
	cache     adapter.CapabilityCache
	tm        repository.TransactionManager
	clock     Clock
	log       *zerolog.Logger
}

func NewOverrideUseCase(
	tenants repository.TenantRepository,
	features repository.FeatureRepository,
	overrides repository.OverrideRepository,
	events repository.SubscriptionEventRepository,
	cache adapter.CapabilityCache,
	tm repository.TransactionManager,
	clock Clock,
	logger *zerolog.Logger,
) *overrideUC {
	l := logger.With().Str("component", "Overrides").Logger()
	clock = orSystemClock(clock)
	return &overrideUC{
		tenants:   tenants,
		features:  features,
		overrides: overrides,
		audit:     &auditLog{events: events, clock: clock},
		cache:     cache,
		tm:        tm,
		clock:     clock,
		log:       &l,
	}
}

func (u *overrideUC) Apply(ctx context.Context, tenantID, featureKey, rawValue string, expiresAt *time.Time) (*model.TenantFeatureOverride, error) {
	defer logging.TraceDuration(u.log, "OverrideUC.Apply")()
	now := u.clock.Now()

	f, err := u.features.FindByKey(ctx, repository.NoTX, featureKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ConfigurationError{FeatureKey: featureKey}
		}
		return nil, err
	}
	if !f.Active {
		return nil, fmt.Errorf("%w: feature %q is inactive", domain.ErrInvalidArgument, featureKey)
	}
	value, err := model.ParseFeatureValue(f.ValueType, rawValue)
	if err != nil {
		return nil, err
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expires_at must be in the future", domain.ErrInvalidArgument)
	}

	o := &model.TenantFeatureOverride{
		TenantID:   tenantID,
		FeatureKey: f.Key,
		Value:      value,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		CreatedBy:  logging.Actor(ctx),
	}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if err := u.overrides.Upsert(ctx, tx, o); err != nil {
			return err
		}
		meta := map[string]any{"feature_key": f.Key, "value": value.Encode(), "actor": o.CreatedBy}
		if expiresAt != nil {
			meta["expires_at"] = expiresAt.UTC().Format(time.RFC3339)
		}
		return u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:       tenantID,
			EventType:      model.EventOverrideApplied,
			SubscriptionID: t.SubscriptionID,
			PlanCode:       t.PlanCode,
			Status:         t.Status,
			TriggeredBy:    model.TriggeredByUser,
			Metadata:       meta,
		})
	})
	if err != nil {
		return nil, err
	}
	u.invalidate(ctx, tenantID)
	return o, nil
}

func (u *overrideUC) Clear(ctx context.Context, tenantID, featureKey string) error {
	defer logging.TraceDuration(u.log, "OverrideUC.Clear")()
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if err := u.overrides.Delete(ctx, tx, tenantID, featureKey); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return &domain.NotFoundError{Entity: "override", ID: featureKey}
			}
			return err
		}
		return u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:       tenantID,
			EventType:      model.EventOverrideCleared,
			SubscriptionID: t.SubscriptionID,
			PlanCode:       t.PlanCode,
			Status:         t.Status,
			TriggeredBy:    model.TriggeredByUser,
			Metadata:       map[string]any{"feature_key": featureKey, "actor": logging.Actor(ctx)},
		})
	})
	if err != nil {
		return err
	}
	u.invalidate(ctx, tenantID)
	return nil
}

func (u *overrideUC) List(ctx context.Context, tenantID string) ([]*model.TenantFeatureOverride, error) {
	if _, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false); err != nil {
		return nil, err
	}
	return u.overrides.ListByTenant(ctx, repository.NoTX, tenantID)
}

// invalidate runs after commit; a failure leaves the entry to expire by TTL.
func (u *overrideUC) invalidate(ctx context.Context, tenantID string) {
	if err := u.cache.Invalidate(ctx, tenantID); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("tenant_id", tenantID).Msg("capability cache invalidation failed")
	}
}
