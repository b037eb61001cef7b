package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ CapabilityResolver = (*resolverUC)(nil)

// CapabilityResolver merges catalog, plan defaults, overrides and the plan
// ledger into one capability map.
type CapabilityResolver interface {
	Resolve(ctx context.Context, tenantID string) (*model.Capabilities, error)
}

type resolverUC struct {
	tenants     repository.TenantRepository
	assignments repository.PlanAssignmentRepository
	features    repository.FeatureRepository
	matrix      repository.PlanFeatureRepository
	overrides   repository.OverrideRepository
	audit       *auditLog
	tm          repository.TransactionManager
	clock       Clock
	log         *zerolog.Logger
}

func NewCapabilityResolver(
	tenants repository.TenantRepository,
	assignments repository.PlanAssignmentRepository,
	features repository.FeatureRepository,
	matrix repository.PlanFeatureRepository,
	overrides repository.OverrideRepository,
	events repository.SubscriptionEventRepository,
	tm repository.TransactionManager,
	clock Clock,
	logger *zerolog.Logger,
) *resolverUC {
	l := logger.With().Str("component", "CapabilityResolver").Logger()
	clock = orSystemClock(clock)
	return &resolverUC{
		tenants:     tenants,
		assignments: assignments,
		features:    features,
		matrix:      matrix,
		overrides:   overrides,
		audit:       &auditLog{events: events, clock: clock},
		tm:          tm,
		clock:       clock,
		log:         &l,
	}
}

// Resolve reads everything inside one transaction so a drift correction and
// the read that detected it commit together.
func (r *resolverUC) Resolve(ctx context.Context, tenantID string) (*model.Capabilities, error) {
	defer logging.TraceDuration(r.log, "Resolver.Resolve")()
	if tenantID == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := r.clock.Now()

	var caps *model.Capabilities
	err := r.tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, r.tenants, tenantID, false)
		if err != nil {
			return err
		}
		plan, err := r.currentPlan(ctx, tx, t, now)
		if err != nil {
			return err
		}
		features, err := r.features.ListActive(ctx, tx)
		if err != nil {
			return err
		}
		defaults, err := r.matrix.ListByPlan(ctx, tx, plan)
		if err != nil {
			return err
		}
		overrides, err := r.overrides.ListByTenant(ctx, tx, tenantID)
		if err != nil {
			return err
		}
		caps = r.merge(tenantID, plan, features, defaults, overrides, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return caps, nil
}

// currentPlan returns the ledger's plan, healing the ledger when it disagrees
// with the tenant row. The tenant row wins because every writer updates it in
// the same transaction as the ledger.
func (r *resolverUC) currentPlan(ctx context.Context, tx repository.Tx, t *model.Tenant, now time.Time) (model.PlanCode, error) {
	open, err := r.findOpen(ctx, tx, t.ID)
	if err != nil {
		return "", err
	}
	if open != nil && open.PlanCode == t.PlanCode {
		return open.PlanCode, nil
	}

	// re-read both under the tenant row lock; a concurrent writer may have
	// finished its close+open in the meantime
	locked, err := loadTenant(ctx, tx, r.tenants, t.ID, true)
	if err != nil {
		return "", err
	}
	open, err = r.findOpen(ctx, tx, t.ID)
	if err != nil {
		return "", err
	}
	if open != nil && open.PlanCode == locked.PlanCode {
		return open.PlanCode, nil
	}

	var stale model.PlanCode
	if open != nil {
		stale = open.PlanCode
	}
	if err := switchPlan(ctx, tx, r.assignments, locked.ID, locked.PlanCode, now, "ledger_drift"); err != nil {
		return "", err
	}
	if err := r.audit.event(ctx, tx, &model.SubscriptionEvent{
		TenantID:         locked.ID,
		EventType:        model.EventLedgerDriftHealed,
		SubscriptionID:   locked.SubscriptionID,
		PlanCode:         locked.PlanCode,
		PreviousPlanCode: stale,
		Status:           locked.Status,
		TriggeredBy:      model.TriggeredBySystem,
	}); err != nil {
		return "", err
	}
	r.log.Warn().
		Str("tenant_id", locked.ID).
		Str("ledger_plan", string(stale)).
		Str("tenant_plan", string(locked.PlanCode)).
		Msg("plan ledger drift corrected")
	return locked.PlanCode, nil
}

func (r *resolverUC) findOpen(ctx context.Context, tx repository.Tx, tenantID string) (*model.PlanAssignment, error) {
	a, err := r.assignments.FindOpen(ctx, tx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return a, nil
}

func (r *resolverUC) merge(
	tenantID string,
	plan model.PlanCode,
	features []*model.Feature,
	defaults []*model.PlanFeature,
	overrides []*model.TenantFeatureOverride,
	now time.Time,
) *model.Capabilities {
	byKey := make(map[string]model.FeatureValue, len(defaults))
	for _, d := range defaults {
		byKey[d.FeatureKey] = d.Value
	}
	over := make(map[string]*model.TenantFeatureOverride, len(overrides))
	for _, o := range overrides {
		if o.EffectiveAt(now) {
			over[o.FeatureKey] = o
		}
	}

	caps := &model.Capabilities{
		TenantID:   tenantID,
		PlanCode:   plan,
		Values:     make(map[string]model.FeatureValue, len(features)),
		ResolvedAt: now,
	}
	for _, f := range features {
		v := model.Disabled(f.ValueType)
		if d, ok := byKey[f.Key]; ok && d != nil {
			if d.Type() == f.ValueType {
				v = d
			} else {
				r.log.Warn().Str("feature", f.Key).Str("plan", string(plan)).Msg("plan default has wrong value type; treating as disabled")
			}
		}
		if o, ok := over[f.Key]; ok && o.Value != nil {
			if o.Value.Type() == f.ValueType {
				v = o.Value
				if o.ExpiresAt != nil && (caps.ValidUntil == nil || o.ExpiresAt.Before(*caps.ValidUntil)) {
					exp := *o.ExpiresAt
					caps.ValidUntil = &exp
				}
			} else {
				r.log.Warn().Str("feature", f.Key).Str("tenant_id", tenantID).Msg("override has wrong value type; ignored")
			}
		}
		caps.Values[f.Key] = v
	}
	return caps
}
