package repository

import (
	"context"

	"club-entitlements/internal/domain/model"
)

// FeatureRepository is the port for the feature catalog.
type FeatureRepository interface {
	Upsert(ctx context.Context, tx Tx, f *model.Feature) error
	FindByKey(ctx context.Context, tx Tx, key string) (*model.Feature, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Feature, error)
	ListAll(ctx context.Context, tx Tx) ([]*model.Feature, error)
}

// PlanFeatureRepository is the port for per-plan default values.
type PlanFeatureRepository interface {
	Upsert(ctx context.Context, tx Tx, pf *model.PlanFeature) error
	ListByPlan(ctx context.Context, tx Tx, plan model.PlanCode) ([]*model.PlanFeature, error)
}
