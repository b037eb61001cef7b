package repository

import (
	"context"
	"time"

	"club-entitlements/internal/domain/model"
)

// PlanAssignmentRepository is the append-only plan ledger. Close and Open must
// run in the same transaction so a reader never sees zero open rows.
type PlanAssignmentRepository interface {
	// FindOpen returns the tenant's current assignment or domain.ErrNotFound.
	FindOpen(ctx context.Context, tx Tx, tenantID string) (*model.PlanAssignment, error)
	// CloseOpen sets until=at on the open row; no open row is not an error.
	CloseOpen(ctx context.Context, tx Tx, tenantID string, at time.Time) error
	Open(ctx context.Context, tx Tx, a *model.PlanAssignment) error
	ListByTenant(ctx context.Context, tx Tx, tenantID string) ([]*model.PlanAssignment, error)
}
