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

// Ensure assignmentRepo implements repository.PlanAssignmentRepository
var _ repository.PlanAssignmentRepository = (*assignmentRepo)(nil)

// assignmentRepo is backed by plan_assignments; the partial unique index
// plan_assignments_open_uq rejects a second open row per tenant.
type assignmentRepo struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepo(pool *pgxpool.Pool) *assignmentRepo {
	return &assignmentRepo{pool: pool}
}

const assignmentCols = `id, tenant_id, plan_code, since, until, reason`

func (r *assignmentRepo) FindOpen(ctx context.Context, tx repository.Tx, tenantID string) (*model.PlanAssignment, error) {
	q := `SELECT ` + assignmentCols + ` FROM plan_assignments WHERE tenant_id=$1 AND until IS NULL;`
	row, err := pickRow(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		return nil, err
	}
	return scanAssignment(row)
}

func (r *assignmentRepo) CloseOpen(ctx context.Context, tx repository.Tx, tenantID string, at time.Time) error {
	const q = `UPDATE plan_assignments SET until=GREATEST($2, since) WHERE tenant_id=$1 AND until IS NULL;`
	_, err := execSQL(ctx, r.pool, tx, q, tenantID, at)
	return mapErr(err)
}

func (r *assignmentRepo) Open(ctx context.Context, tx repository.Tx, a *model.PlanAssignment) error {
	if a == nil || a.ID == "" || a.TenantID == "" || a.PlanCode == "" {
		return domain.ErrInvalidArgument
	}
	const q = `INSERT INTO plan_assignments (id, tenant_id, plan_code, since, until, reason) VALUES ($1,$2,$3,$4,NULL,$5);`
	_, err := execSQL(ctx, r.pool, tx, q, a.ID, a.TenantID, string(a.PlanCode), a.Since, a.Reason)
	return mapErr(err)
}

func (r *assignmentRepo) ListByTenant(ctx context.Context, tx repository.Tx, tenantID string) ([]*model.PlanAssignment, error) {
	q := `SELECT ` + assignmentCols + ` FROM plan_assignments WHERE tenant_id=$1 ORDER BY since, until NULLS LAST;`
	rows, err := queryRows(ctx, r.pool, tx, q, tenantID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.PlanAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanAssignment(row pgx.Row) (*model.PlanAssignment, error) {
	var (
		a    model.PlanAssignment
		plan string
	)
	if err := row.Scan(&a.ID, &a.TenantID, &plan, &a.Since, &a.Until, &a.Reason); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	a.PlanCode = model.PlanCode(plan)
	return &a, nil
}
