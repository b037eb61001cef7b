package repository

import (
	"context"
	"time"

	"club-entitlements/internal/domain/model"
)

type EventFilter struct {
	EventType model.SubscriptionEventType
	Since     *time.Time
	Limit     int
}

type SubscriptionEventRepository interface {
	Append(ctx context.Context, tx Tx, e *model.SubscriptionEvent) error
	// ExistsProcessorEvent reports whether a processor event id was already recorded.
	ExistsProcessorEvent(ctx context.Context, tx Tx, processorEventID string) (bool, error)
	List(ctx context.Context, tx Tx, tenantID string, f EventFilter) ([]*model.SubscriptionEvent, error)
}

type HistoryFilter struct {
	ChangeType model.ChangeType
	Since      *time.Time
	Limit      int
}

type PlanHistoryRepository interface {
	Append(ctx context.Context, tx Tx, h *model.PlanHistoryRecord) error
	List(ctx context.Context, tx Tx, tenantID string, f HistoryFilter) ([]*model.PlanHistoryRecord, error)
}
