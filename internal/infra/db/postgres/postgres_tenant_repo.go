package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

// Ensure tenantRepo implements repository.TenantRepository
var _ repository.TenantRepository = (*tenantRepo)(nil)

type tenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *tenantRepo {
	return &tenantRepo{pool: pool}
}

const tenantCols = `id, slug, name, plan_code, subscription_id, status,
  pending_kind, pending_plan_code, pending_effective_at, pending_requested_at, pending_requested_from,
  last_plan_change_at, consecutive_failures, next_billing_at, last_event_at, created_at, updated_at`

func (r *tenantRepo) Create(ctx context.Context, tx repository.Tx, t *model.Tenant) error {
	if t == nil || t.ID == "" || t.Slug == "" {
		return domain.ErrInvalidArgument
	}
	p := pendingArgs(t.Pending)
	const q = `
INSERT INTO tenants (id, slug, name, plan_code, subscription_id, status,
  pending_kind, pending_plan_code, pending_effective_at, pending_requested_at, pending_requested_from,
  last_plan_change_at, consecutive_failures, next_billing_at, last_event_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16);`
	_, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.Slug, t.Name, string(t.PlanCode), nullString(t.SubscriptionID), string(t.Status),
		p.kind, p.plan, p.effectiveAt, p.requestedAt, p.requestedFrom,
		t.LastPlanChangeAt, t.ConsecutiveFailures, t.NextBillingAt, t.LastEventAt, t.CreatedAt,
	)
	return mapErr(err)
}

func (r *tenantRepo) Update(ctx context.Context, tx repository.Tx, t *model.Tenant) error {
	if t == nil || t.ID == "" {
		return domain.ErrInvalidArgument
	}
	p := pendingArgs(t.Pending)
	const q = `
UPDATE tenants SET
  name=$2, plan_code=$3, subscription_id=$4, status=$5,
  pending_kind=$6, pending_plan_code=$7, pending_effective_at=$8, pending_requested_at=$9, pending_requested_from=$10,
  last_plan_change_at=$11, consecutive_failures=$12, next_billing_at=$13, last_event_at=$14, updated_at=now()
WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q,
		t.ID, t.Name, string(t.PlanCode), nullString(t.SubscriptionID), string(t.Status),
		p.kind, p.plan, p.effectiveAt, p.requestedAt, p.requestedFrom,
		t.LastPlanChangeAt, t.ConsecutiveFailures, t.NextBillingAt, t.LastEventAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *tenantRepo) FindByID(ctx context.Context, tx repository.Tx, id string, forUpdate bool) (*model.Tenant, error) {
	q := `SELECT ` + tenantCols + ` FROM tenants WHERE id=$1` + lockClause(tx, forUpdate)
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *tenantRepo) FindBySubscriptionID(ctx context.Context, tx repository.Tx, subscriptionID string, forUpdate bool) (*model.Tenant, error) {
	if subscriptionID == "" {
		return nil, domain.ErrNotFound
	}
	q := `SELECT ` + tenantCols + ` FROM tenants WHERE subscription_id=$1` + lockClause(tx, forUpdate)
	row, err := pickRow(ctx, r.pool, tx, q, subscriptionID)
	if err != nil {
		return nil, err
	}
	return scanTenant(row)
}

func (r *tenantRepo) ListDuePending(ctx context.Context, tx repository.Tx, now time.Time, afterID string, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	const q = `
SELECT id FROM tenants
 WHERE pending_kind IS NOT NULL AND pending_effective_at <= $1 AND id > $2
 ORDER BY id
 LIMIT $3;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, afterID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return ids, nil
}

type pendingCols struct {
	kind, plan, requestedFrom *string
	effectiveAt, requestedAt  *time.Time
}

func pendingArgs(p *model.PendingChange) pendingCols {
	if p == nil || p.Kind == model.PendingNone {
		return pendingCols{}
	}
	return pendingCols{
		kind:          nullString(string(p.Kind)),
		plan:          nullString(string(p.PlanCode)),
		requestedFrom: nullString(string(p.RequestedFrom)),
		effectiveAt:   &p.EffectiveAt,
		requestedAt:   &p.RequestedAt,
	}
}

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var (
		t                 model.Tenant
		plan, status      string
		subID             *string
		pc                pendingCols
		lastChange, nextB *time.Time
		lastEvent         *time.Time
	)
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &plan, &subID, &status,
		&pc.kind, &pc.plan, &pc.effectiveAt, &pc.requestedAt, &pc.requestedFrom,
		&lastChange, &t.ConsecutiveFailures, &nextB, &lastEvent, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	t.PlanCode = model.PlanCode(plan)
	t.SubscriptionID = derefString(subID)
	t.Status = model.SubscriptionStatus(status)
	t.LastPlanChangeAt = lastChange
	t.NextBillingAt = nextB
	t.LastEventAt = lastEvent
	if pc.kind != nil && pc.effectiveAt != nil {
		t.Pending = &model.PendingChange{
			Kind:          model.PendingChangeKind(*pc.kind),
			PlanCode:      model.PlanCode(derefString(pc.plan)),
			EffectiveAt:   *pc.effectiveAt,
			RequestedFrom: model.PlanCode(derefString(pc.requestedFrom)),
		}
		if pc.requestedAt != nil {
			t.Pending.RequestedAt = *pc.requestedAt
		}
	}
	return &t, nil
}
