package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

// Ensure featureRepo implements repository.FeatureRepository
var _ repository.FeatureRepository = (*featureRepo)(nil)

type featureRepo struct {
	pool *pgxpool.Pool
}

func NewFeatureRepo(pool *pgxpool.Pool) *featureRepo {
	return &featureRepo{pool: pool}
}

func (r *featureRepo) Upsert(ctx context.Context, tx repository.Tx, f *model.Feature) error {
	if f == nil || f.Key == "" || !f.ValueType.Valid() {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO features (key, value_type, category, active)
VALUES ($1,$2,$3,$4)
ON CONFLICT (key) DO UPDATE SET
  value_type=EXCLUDED.value_type, category=EXCLUDED.category, active=EXCLUDED.active, updated_at=now();`
	_, err := execSQL(ctx, r.pool, tx, q, f.Key, string(f.ValueType), f.Category, f.Active)
	return mapErr(err)
}

func (r *featureRepo) FindByKey(ctx context.Context, tx repository.Tx, key string) (*model.Feature, error) {
	const q = `SELECT key, value_type, category, active FROM features WHERE key=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, key)
	if err != nil {
		return nil, err
	}
	return scanFeature(row)
}

func (r *featureRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Feature, error) {
	return r.list(ctx, tx, `SELECT key, value_type, category, active FROM features WHERE active ORDER BY key;`)
}

func (r *featureRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Feature, error) {
	return r.list(ctx, tx, `SELECT key, value_type, category, active FROM features ORDER BY key;`)
}

func (r *featureRepo) list(ctx context.Context, tx repository.Tx, q string) ([]*model.Feature, error) {
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.Feature
	for rows.Next() {
		f, err := scanFeature(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanFeature(row pgx.Row) (*model.Feature, error) {
	var f model.Feature
	var vt string
	if err := row.Scan(&f.Key, &vt, &f.Category, &f.Active); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	f.ValueType = model.ValueType(vt)
	return &f, nil
}

// Ensure planFeatureRepo implements repository.PlanFeatureRepository
var _ repository.PlanFeatureRepository = (*planFeatureRepo)(nil)

type planFeatureRepo struct {
	pool *pgxpool.Pool
}

func NewPlanFeatureRepo(pool *pgxpool.Pool) *planFeatureRepo {
	return &planFeatureRepo{pool: pool}
}

func (r *planFeatureRepo) Upsert(ctx context.Context, tx repository.Tx, pf *model.PlanFeature) error {
	if pf == nil || pf.PlanCode == "" || pf.FeatureKey == "" {
		return domain.ErrInvalidArgument
	}
	value, err := model.MarshalFeatureValue(pf.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO plan_features (plan_code, feature_key, value)
VALUES ($1,$2,$3)
ON CONFLICT (plan_code, feature_key) DO UPDATE SET value=EXCLUDED.value, updated_at=now();`
	_, err = execSQL(ctx, r.pool, tx, q, string(pf.PlanCode), pf.FeatureKey, value)
	return mapErr(err)
}

func (r *planFeatureRepo) ListByPlan(ctx context.Context, tx repository.Tx, plan model.PlanCode) ([]*model.PlanFeature, error) {
	const q = `SELECT plan_code, feature_key, value FROM plan_features WHERE plan_code=$1 ORDER BY feature_key;`
	rows, err := queryRows(ctx, r.pool, tx, q, string(plan))
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.PlanFeature
	for rows.Next() {
		var (
			pf   model.PlanFeature
			code string
			raw  []byte
		)
		if err := rows.Scan(&code, &pf.FeatureKey, &raw); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		v, err := model.UnmarshalFeatureValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: plan %s feature %s: %v", domain.ErrReadDatabaseRow, code, pf.FeatureKey, err)
		}
		pf.PlanCode = model.PlanCode(code)
		pf.Value = v
		out = append(out, &pf)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
