//go:build !integration

package postgres

import (
	"context"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

// mockInnerPlanFeatureRepo mocks the database repository the cache decorator wraps.
type mockInnerPlanFeatureRepo struct {
	UpsertFunc     func(ctx context.Context, tx repository.Tx, pf *model.PlanFeature) error
	ListByPlanFunc func(ctx context.Context, tx repository.Tx, plan model.PlanCode) ([]*model.PlanFeature, error)
}

func (m *mockInnerPlanFeatureRepo) Upsert(ctx context.Context, tx repository.Tx, pf *model.PlanFeature) error {
	return m.UpsertFunc(ctx, tx, pf)
}
func (m *mockInnerPlanFeatureRepo) ListByPlan(ctx context.Context, tx repository.Tx, plan model.PlanCode) ([]*model.PlanFeature, error) {
	return m.ListByPlanFunc(ctx, tx, plan)
}
