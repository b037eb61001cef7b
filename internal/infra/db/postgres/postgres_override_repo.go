package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

// Ensure overrideRepo implements repository.OverrideRepository
var _ repository.OverrideRepository = (*overrideRepo)(nil)

type overrideRepo struct {
	pool *pgxpool.Pool
}

func NewOverrideRepo(pool *pgxpool.Pool) *overrideRepo {
	return &overrideRepo{pool: pool}
}

func (r *overrideRepo) Upsert(ctx context.Context, tx repository.Tx, o *model.TenantFeatureOverride) error {
	if o == nil || o.TenantID == "" || o.FeatureKey == "" {
		return domain.ErrInvalidArgument
	}
	value, err := model.MarshalFeatureValue(o.Value)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO tenant_feature_overrides (tenant_id, feature_key, value, expires_at, created_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (tenant_id, feature_key) DO UPDATE SET
  value=EXCLUDED.value, expires_at=EXCLUDED.expires_at, created_at=EXCLUDED.created_at, created_by=EXCLUDED.created_by;`
	_, err = execSQL(ctx, r.pool, tx, q, o.TenantID, o.FeatureKey, value, o.ExpiresAt, o.CreatedAt, o.CreatedBy)
	return mapErr(err)
}

func (r *overrideRepo) Delete(ctx context.Context, tx repository.Tx, tenantID, featureKey string) error {
	const q = `DELETE FROM tenant_feature_overrides WHERE tenant_id=$1 AND feature_key=$2;`
	tag, err := execSQL(ctx, r.pool, tx, q, tenantID, featureKey)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *overrideRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID string) ([]*model.TenantFeatureOverride, error) {
	const q = `
SELECT tenant_id, feature_key, value, expires_at, created_at, created_by
  FROM tenant_feature_overrides
 WHERE tenant_id=$1
 ORDER BY feature_key;`
	rows, err := queryRows(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.TenantFeatureOverride
	for rows.Next() {
		var (
			o       model.TenantFeatureOverride
			raw     []byte
			expires *time.Time
		)
		if err := rows.Scan(&o.TenantID, &o.FeatureKey, &raw, &expires, &o.CreatedAt, &o.CreatedBy); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		v, err := model.UnmarshalFeatureValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: override %s: %v", domain.ErrReadDatabaseRow, o.FeatureKey, err)
		}
		o.Value = v
		o.ExpiresAt = expires
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}
