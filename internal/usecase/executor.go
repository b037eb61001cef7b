package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Clock is injected so tests can pin "now".
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the wall clock in UTC.
func SystemClock() Clock { return systemClock{} }

func orSystemClock(c Clock) Clock {
	if c == nil {
		return systemClock{}
	}
	return c
}

// auditLog writes append-only SubscriptionEvent and PlanHistory rows.
type auditLog struct {
	events  repository.SubscriptionEventRepository
	history repository.PlanHistoryRepository
	clock   Clock
}

func (a *auditLog) event(ctx context.Context, tx repository.Tx, e *model.SubscriptionEvent) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = a.clock.Now()
	}
	return a.events.Append(ctx, tx, e)
}

func (a *auditLog) record(ctx context.Context, tx repository.Tx, h *model.PlanHistoryRecord) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = a.clock.Now()
	}
	if h.EffectiveAt.IsZero() {
		h.EffectiveAt = h.CreatedAt
	}
	if h.Status == "" {
		h.Status = model.HistoryStatusApplied
	}
	return a.history.Append(ctx, tx, h)
}

// switchPlan closes the open assignment and opens one for plan at the same
// instant. Callers must pass a transaction.
func switchPlan(ctx context.Context, tx repository.Tx, assignments repository.PlanAssignmentRepository, tenantID string, plan model.PlanCode, at time.Time, reason string) error {
	if err := assignments.CloseOpen(ctx, tx, tenantID, at); err != nil {
		return err
	}
	return assignments.Open(ctx, tx, &model.PlanAssignment{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		PlanCode: plan,
		Since:    at,
		Reason:   reason,
	})
}

func loadTenant(ctx context.Context, tx repository.Tx, tenants repository.TenantRepository, id string, forUpdate bool) (*model.Tenant, error) {
	t, err := tenants.FindByID(ctx, tx, id, forUpdate)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.NotFoundError{Entity: "tenant", ID: id}
		}
		return nil, err
	}
	return t, nil
}

// changedBy names who caused a change for PlanHistory.
func changedBy(ctx context.Context, by model.TriggeredBy) string {
	if by == model.TriggeredByWebhook {
		return "webhook"
	}
	return logging.Actor(ctx)
}
