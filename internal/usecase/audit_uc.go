package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
)

// Compile-time check
var _ AuditUseCase = (*auditUC)(nil)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditUseCase browses a tenant's history and event log, newest first.
type AuditUseCase interface {
	ListHistory(ctx context.Context, tenantID string, f repository.HistoryFilter) ([]*model.PlanHistoryRecord, error)
	ListEvents(ctx context.Context, tenantID string, f repository.EventFilter) ([]*model.SubscriptionEvent, error)
}

type auditUC struct {
	tenants repository.TenantRepository
	events  repository.SubscriptionEventRepository
	history repository.PlanHistoryRepository
	log     *zerolog.Logger
}

func NewAuditUseCase(tenants repository.TenantRepository, events repository.SubscriptionEventRepository, history repository.PlanHistoryRepository, logger *zerolog.Logger) *auditUC {
	l := logger.With().Str("component", "Audit").Logger()
	return &auditUC{tenants: tenants, events: events, history: history, log: &l}
}

func (u *auditUC) ListHistory(ctx context.Context, tenantID string, f repository.HistoryFilter) ([]*model.PlanHistoryRecord, error) {
	if _, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false); err != nil {
		return nil, err
	}
	f.Limit = clampLimit(f.Limit)
	return u.history.List(ctx, repository.NoTX, tenantID, f)
}

func (u *auditUC) ListEvents(ctx context.Context, tenantID string, f repository.EventFilter) ([]*model.SubscriptionEvent, error) {
	if _, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false); err != nil {
		return nil, err
	}
	f.Limit = clampLimit(f.Limit)
	return u.events.List(ctx, repository.NoTX, tenantID, f)
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultAuditLimit
	case n > maxAuditLimit:
		return maxAuditLimit
	}
	return n
}
