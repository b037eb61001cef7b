package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ CatalogUseCase = (*catalogUC)(nil)

// CatalogUseCase loads the feature catalog and plan matrix.
type CatalogUseCase interface {
	Apply(ctx context.Context, spec CatalogSpec) (*CatalogReport, error)
}

type FeatureSpec struct {
	Key      string
	Type     model.ValueType
	Category string
	Active   bool
}

// PlanDefault is one matrix cell in its stored text form.
type PlanDefault struct {
	Plan       model.PlanCode
	FeatureKey string
	Value      string
}

type CatalogSpec struct {
	Features []FeatureSpec
	Defaults []PlanDefault
}

type CatalogReport struct {
	Features int
	Defaults int
}

type catalogUC struct {
	features repository.FeatureRepository
	matrix   repository.PlanFeatureRepository
	cache    adapter.CapabilityCache
	plans    *model.PlanCatalog
	tm       repository.TransactionManager
	log      *zerolog.Logger
}

func NewCatalogUseCase(
	features repository.FeatureRepository,
	matrix repository.PlanFeatureRepository,
	cache adapter.CapabilityCache,
	plans *model.PlanCatalog,
	tm repository.TransactionManager,
	logger *zerolog.Logger,
) *catalogUC {
	l := logger.With().Str("component", "Catalog").Logger()
	return &catalogUC{features: features, matrix: matrix, cache: cache, plans: plans, tm: tm, log: &l}
}

// Apply validates the whole catalog before writing anything, upserts it in one
// transaction and then drops every cached capability map.
func (u *catalogUC) Apply(ctx context.Context, spec CatalogSpec) (*CatalogReport, error) {
	defer logging.TraceDuration(u.log, "CatalogUC.Apply")()

	declared := make(map[string]model.ValueType, len(spec.Features))
	for _, f := range spec.Features {
		key := strings.TrimSpace(f.Key)
		if key == "" {
			return nil, fmt.Errorf("%w: feature with empty key", domain.ErrInvalidArgument)
		}
		if !f.Type.Valid() {
			return nil, fmt.Errorf("%w: feature %s has unknown type %q", domain.ErrInvalidArgument, key, f.Type)
		}
		if _, dup := declared[key]; dup {
			return nil, fmt.Errorf("%w: feature %s declared twice", domain.ErrInvalidArgument, key)
		}
		declared[key] = f.Type
	}

	var rep CatalogReport
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		rows := make([]*model.PlanFeature, 0, len(spec.Defaults))
		for _, d := range spec.Defaults {
			if _, err := u.plans.Get(d.Plan); err != nil {
				return fmt.Errorf("%w: default for unknown plan %q", domain.ErrInvalidArgument, d.Plan)
			}
			vt, ok := declared[d.FeatureKey]
			if !ok {
				existing, err := u.features.FindByKey(ctx, tx, d.FeatureKey)
				if err != nil {
					if errors.Is(err, domain.ErrNotFound) {
						return &domain.ConfigurationError{FeatureKey: d.FeatureKey}
					}
					return err
				}
				vt = existing.ValueType
			}
			v, err := model.ParseFeatureValue(vt, d.Value)
			if err != nil {
				return fmt.Errorf("plan %s feature %s: %w", d.Plan, d.FeatureKey, err)
			}
			rows = append(rows, &model.PlanFeature{PlanCode: d.Plan, FeatureKey: d.FeatureKey, Value: v})
		}

		for _, f := range spec.Features {
			if err := u.features.Upsert(ctx, tx, &model.Feature{
				Key:       strings.TrimSpace(f.Key),
				ValueType: f.Type,
				Category:  f.Category,
				Active:    f.Active,
			}); err != nil {
				return err
			}
			rep.Features++
		}
		for _, pf := range rows {
			if err := u.matrix.Upsert(ctx, tx, pf); err != nil {
				return err
			}
			rep.Defaults++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := u.cache.InvalidateAll(ctx); err != nil {
		return &rep, fmt.Errorf("catalog saved but cache flush failed: %w", err)
	}
	logging.With(ctx, u.log).Info().Int("features", rep.Features).Int("defaults", rep.Defaults).Msg("catalog applied")
	return &rep, nil
}
