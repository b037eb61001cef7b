package postgres

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/metrics"
)

var _ repository.PlanFeatureRepository = (*planFeatureRepoCacheDecorator)(nil)

// planFeatureRepoCacheDecorator keeps per-plan defaults in process, inside
// transactions too. The matrix only changes through seeding; a seed run from
// another process is picked up once the TTL lapses, and capability maps
// resolved from the old matrix in that window live on for the capability
// cache TTL.
type planFeatureRepoCacheDecorator struct {
	inner repository.PlanFeatureRepository
	cache *gocache.Cache
}

func NewPlanFeatureRepoCacheDecorator(inner repository.PlanFeatureRepository, ttl time.Duration) repository.PlanFeatureRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &planFeatureRepoCacheDecorator{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

func planFeaturesKey(plan model.PlanCode) string { return "plan_features:" + string(plan) }

func (d *planFeatureRepoCacheDecorator) ListByPlan(ctx context.Context, tx repository.Tx, plan model.PlanCode) ([]*model.PlanFeature, error) {
	if v, ok := d.cache.Get(planFeaturesKey(plan)); ok {
		metrics.IncCacheRequest("plan_features", "hit")
		return v.([]*model.PlanFeature), nil
	}
	metrics.IncCacheRequest("plan_features", "miss")
	out, err := d.inner.ListByPlan(ctx, tx, plan)
	if err != nil {
		return nil, err
	}
	d.cache.SetDefault(planFeaturesKey(plan), out)
	return out, nil
}

func (d *planFeatureRepoCacheDecorator) Upsert(ctx context.Context, tx repository.Tx, pf *model.PlanFeature) error {
	if err := d.inner.Upsert(ctx, tx, pf); err != nil {
		return err
	}
	d.cache.Delete(planFeaturesKey(pf.PlanCode))
	metrics.IncCacheInvalidation("plan_features", "plan")
	return nil
}
