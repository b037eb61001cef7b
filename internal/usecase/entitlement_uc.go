package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ EntitlementUseCase = (*entitlementUC)(nil)

// EntitlementUseCase is the read path: cached capabilities and the feature gate.
type EntitlementUseCase interface {
	GetCapabilities(ctx context.Context, tenantID string) (*model.Capabilities, error)
	// Check never returns an error for a plain "not entitled" outcome; it
	// returns *domain.ConfigurationError when featureKey is not in the catalog.
	Check(ctx context.Context, tenantID, featureKey string, c model.Constraint) (*model.Decision, error)
	Invalidate(ctx context.Context, tenantID string) error
	InvalidateAll(ctx context.Context) error
}

type entitlementUC struct {
	resolver CapabilityResolver
	cache    adapter.CapabilityCache
	features repository.FeatureRepository
	clock    Clock
	fills    singleflight.Group
	log      *zerolog.Logger
}

func NewEntitlementUseCase(resolver CapabilityResolver, cache adapter.CapabilityCache, features repository.FeatureRepository, clock Clock, logger *zerolog.Logger) *entitlementUC {
	l := logger.With().Str("component", "Entitlements").Logger()
	return &entitlementUC{
		resolver: resolver,
		cache:    cache,
		features: features,
		clock:    orSystemClock(clock),
		log:      &l,
	}
}

func (u *entitlementUC) GetCapabilities(ctx context.Context, tenantID string) (*model.Capabilities, error) {
	if tenantID == "" {
		return nil, domain.ErrInvalidArgument
	}
	caps, ok, err := u.cache.Get(ctx, tenantID)
	if err != nil {
		// the cache is an optimisation; fall through to the resolver
		logging.With(ctx, u.log).Warn().Err(err).Str("tenant_id", tenantID).Msg("capability cache read failed")
	}
	if ok && caps.FreshAt(u.clock.Now()) {
		return caps, nil
	}

	v, err, _ := u.fills.Do(tenantID, func() (interface{}, error) {
		resolved, err := u.resolver.Resolve(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if err := u.cache.Put(ctx, resolved); err != nil {
			logging.With(ctx, u.log).Warn().Err(err).Str("tenant_id", tenantID).Msg("capability cache write failed")
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Capabilities), nil
}

func (u *entitlementUC) Check(ctx context.Context, tenantID, featureKey string, c model.Constraint) (*model.Decision, error) {
	caps, err := u.GetCapabilities(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	d := &model.Decision{
		FeatureKey:    featureKey,
		PlanCode:      caps.PlanCode,
		RequiredValue: c.String(),
	}
	v, ok := caps.Get(featureKey)
	if !ok {
		// absent from the resolved map: either inactive (denied) or unknown
		if _, err := u.features.FindByKey(ctx, repository.NoTX, featureKey); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, &domain.ConfigurationError{FeatureKey: featureKey}
			}
			return nil, err
		}
		return d, nil
	}
	d.CurrentValue = v
	d.Allowed = c.Satisfied(v)
	return d, nil
}

func (u *entitlementUC) Invalidate(ctx context.Context, tenantID string) error {
	return u.cache.Invalidate(ctx, tenantID)
}

func (u *entitlementUC) InvalidateAll(ctx context.Context) error {
	return u.cache.InvalidateAll(ctx)
}
