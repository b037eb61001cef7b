package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4/pgxpool"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/metrics"
)

const defaultAuditLimit = 50

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Ensure eventRepo implements repository.SubscriptionEventRepository
var _ repository.SubscriptionEventRepository = (*eventRepo)(nil)

type eventRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionEventRepo(pool *pgxpool.Pool) *eventRepo {
	return &eventRepo{pool: pool}
}

func (r *eventRepo) Append(ctx context.Context, tx repository.Tx, e *model.SubscriptionEvent) error {
	if e == nil || e.ID == "" || e.TenantID == "" || e.EventType == "" {
		return domain.ErrInvalidArgument
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	const q = `
INSERT INTO subscription_events (id, tenant_id, event_type, subscription_id, plan_code, previous_plan_code,
  status, amount, currency, triggered_by, processor_event_id, duplicate, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14);`
	_, err = execSQL(ctx, r.pool, tx, q,
		e.ID, e.TenantID, string(e.EventType), e.SubscriptionID, string(e.PlanCode), string(e.PreviousPlanCode),
		string(e.Status), e.Amount, e.Currency, string(e.TriggeredBy), nullString(e.ProcessorEventID), e.Duplicate,
		rawMeta, e.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	metrics.IncSubscriptionEvent(string(e.EventType), string(e.TriggeredBy))
	return nil
}

func (r *eventRepo) ExistsProcessorEvent(ctx context.Context, tx repository.Tx, processorEventID string) (bool, error) {
	if processorEventID == "" {
		return false, nil
	}
	const q = `SELECT EXISTS (SELECT 1 FROM subscription_events WHERE processor_event_id=$1 AND NOT duplicate);`
	row, err := pickRow(ctx, r.pool, tx, q, processorEventID)
	if err != nil {
		return false, err
	}
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, mapErr(err)
	}
	return exists, nil
}

func (r *eventRepo) List(ctx context.Context, tx repository.Tx, tenantID string, f repository.EventFilter) ([]*model.SubscriptionEvent, error) {
	sb := psql.Select("id", "tenant_id", "event_type", "subscription_id", "plan_code", "previous_plan_code",
		"status", "amount", "currency", "triggered_by", "processor_event_id", "duplicate", "metadata", "created_at").
		From("subscription_events").
		Where(squirrel.Eq{"tenant_id": tenantID})
	if f.EventType != "" {
		sb = sb.Where(squirrel.Eq{"event_type": string(f.EventType)})
	}
	if f.Since != nil {
		sb = sb.Where(squirrel.GtOrEq{"created_at": *f.Since})
	}
	q, args, err := sb.OrderBy("created_at DESC", "id DESC").Limit(auditLimit(f.Limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.SubscriptionEvent
	for rows.Next() {
		var (
			e                                 model.SubscriptionEvent
			evType, plan, prev, status, trig string
			procID                            *string
			rawMeta                           []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &evType, &e.SubscriptionID, &plan, &prev,
			&status, &e.Amount, &e.Currency, &trig, &procID, &e.Duplicate, &rawMeta, &e.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.EventType = model.SubscriptionEventType(evType)
		e.PlanCode = model.PlanCode(plan)
		e.PreviousPlanCode = model.PlanCode(prev)
		e.Status = model.SubscriptionStatus(status)
		e.TriggeredBy = model.TriggeredBy(trig)
		e.ProcessorEventID = derefString(procID)
		if len(rawMeta) > 0 {
			if err := json.Unmarshal(rawMeta, &e.Metadata); err != nil {
				return nil, fmt.Errorf("%w: event %s metadata: %v", domain.ErrReadDatabaseRow, e.ID, err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// Ensure historyRepo implements repository.PlanHistoryRepository
var _ repository.PlanHistoryRepository = (*historyRepo)(nil)

type historyRepo struct {
	pool *pgxpool.Pool
}

func NewPlanHistoryRepo(pool *pgxpool.Pool) *historyRepo {
	return &historyRepo{pool: pool}
}

func (r *historyRepo) Append(ctx context.Context, tx repository.Tx, h *model.PlanHistoryRecord) error {
	if h == nil || h.ID == "" || h.TenantID == "" || h.ToPlan == "" || h.ChangeType == "" {
		return domain.ErrInvalidArgument
	}
	status := h.Status
	if status == "" {
		status = model.HistoryStatusApplied
	}
	const q = `
INSERT INTO plan_history (id, tenant_id, from_plan, to_plan, change_type, status, reason, changed_by,
  automated_trigger, mrr, annual_value, effective_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13);`
	_, err := execSQL(ctx, r.pool, tx, q,
		h.ID, h.TenantID, string(h.FromPlan), string(h.ToPlan), string(h.ChangeType), string(status), h.Reason,
		h.ChangedBy, h.AutomatedTrigger, h.MRR, h.AnnualValue, h.EffectiveAt, h.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	trigger := "user"
	if h.AutomatedTrigger {
		trigger = "automated"
	}
	metrics.IncPlanChange(string(h.ChangeType), trigger)
	return nil
}

func (r *historyRepo) List(ctx context.Context, tx repository.Tx, tenantID string, f repository.HistoryFilter) ([]*model.PlanHistoryRecord, error) {
	sb := psql.Select("id", "tenant_id", "from_plan", "to_plan", "change_type", "status", "reason", "changed_by",
		"automated_trigger", "mrr", "annual_value", "effective_at", "created_at").
		From("plan_history").
		Where(squirrel.Eq{"tenant_id": tenantID})
	if f.ChangeType != "" {
		sb = sb.Where(squirrel.Eq{"change_type": string(f.ChangeType)})
	}
	if f.Since != nil {
		sb = sb.Where(squirrel.GtOrEq{"created_at": *f.Since})
	}
	q, args, err := sb.OrderBy("created_at DESC", "id DESC").Limit(auditLimit(f.Limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*model.PlanHistoryRecord
	for rows.Next() {
		var (
			h                              model.PlanHistoryRecord
			from, to, change, status string
		)
		if err := rows.Scan(&h.ID, &h.TenantID, &from, &to, &change, &status, &h.Reason, &h.ChangedBy,
			&h.AutomatedTrigger, &h.MRR, &h.AnnualValue, &h.EffectiveAt, &h.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		h.FromPlan = model.PlanCode(from)
		h.ToPlan = model.PlanCode(to)
		h.ChangeType = model.ChangeType(change)
		h.Status = model.HistoryStatus(status)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func auditLimit(n int) uint64 {
	if n <= 0 {
		return defaultAuditLimit
	}
	return uint64(n)
}
