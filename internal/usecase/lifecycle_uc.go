package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/domain/ports/repository"
	"club-entitlements/internal/infra/logging"
)

// Compile-time check
var _ LifecycleUseCase = (*lifecycleUC)(nil)

// LifecycleUseCase drives a tenant's subscription through
// none -> active -> past_due -> canceled/expired against the billing gateway.
type LifecycleUseCase interface {
	Create(ctx context.Context, tenantID string, plan model.PlanCode, pm model.PaymentMethod, by model.TriggeredBy) (*PlanChangeResult, error)
	// ChangePlan classifies target against the current tier and dispatches to
	// Upgrade or Downgrade; a same-tier request is recorded as a reactivation.
	ChangePlan(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error)
	Upgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error)
	Downgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error)
	Cancel(ctx context.Context, tenantID string, when model.CancelEffective, by model.TriggeredBy) (*PlanChangeResult, error)
	// ApplyPendingChange is system-triggered. It returns *domain.ConcurrencyNoop
	// when the pending change is gone or not yet due.
	ApplyPendingChange(ctx context.Context, tenantID string) (*PlanChangeResult, error)
	RetryCharge(ctx context.Context, tenantID string) (*model.RetryResult, error)
}

// PlanChangeResult is returned by every lifecycle transition.
type PlanChangeResult struct {
	Tenant      *model.Tenant
	ChangeType  model.ChangeType
	Pending     *model.PendingChange
	CheckoutURL string
}

type LifecycleConfig struct {
	Cooldown        time.Duration
	ProrateUpgrades bool
	CallTimeout     time.Duration
}

type lifecycleUC struct {
	tenants     repository.TenantRepository
	assignments repository.PlanAssignmentRepository
	audit       *auditLog
	gateway     adapter.BillingGateway
	catalog     *model.PlanCatalog
	cache       adapter.CapabilityCache
	tm          repository.TransactionManager
	cfg         LifecycleConfig
	clock       Clock
	log         *zerolog.Logger
}

func NewLifecycleUseCase(
	tenants repository.TenantRepository,
	assignments repository.PlanAssignmentRepository,
	events repository.SubscriptionEventRepository,
	history repository.PlanHistoryRepository,
	gateway adapter.BillingGateway,
	catalog *model.PlanCatalog,
	cache adapter.CapabilityCache,
	tm repository.TransactionManager,
	cfg LifecycleConfig,
	clock Clock,
	logger *zerolog.Logger,
) *lifecycleUC {
	l := logger.With().Str("component", "Lifecycle").Logger()
	clock = orSystemClock(clock)
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 24 * time.Hour
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &lifecycleUC{
		tenants:     tenants,
		assignments: assignments,
		audit:       &auditLog{events: events, history: history, clock: clock},
		gateway:     gateway,
		catalog:     catalog,
		cache:       cache,
		tm:          tm,
		cfg:         cfg,
		clock:       clock,
		log:         &l,
	}
}

func (u *lifecycleUC) Create(ctx context.Context, tenantID string, code model.PlanCode, pm model.PaymentMethod, by model.TriggeredBy) (*PlanChangeResult, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.Create")()
	plan, err := u.catalog.Get(code)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, fmt.Errorf("%w: plan %q has no billable price", domain.ErrInvalidArgument, code)
	}
	t, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false)
	if err != nil {
		return nil, err
	}
	if !t.Status.CanCreate() {
		return nil, fmt.Errorf("%w: tenant already has a %s subscription", domain.ErrInvalidTransition, t.Status)
	}

	gsub, err := u.callGateway(ctx, "create_subscription", func(ctx context.Context) (*model.GatewaySubscription, error) {
		return u.gateway.CreateSubscription(ctx, adapter.CreateSubscriptionRequest{
			TenantID:      tenantID,
			PlanCode:      plan.Code,
			PriceID:       plan.PriceID,
			PaymentMethod: pm,
		})
	})
	if err != nil {
		return nil, err
	}
	if gsub.ID == "" {
		// hosted checkout: the activation webhook binds the subscription
		if gsub.CheckoutURL == "" {
			return nil, &domain.GatewayError{Op: "create_subscription", Message: "neither subscription nor checkout returned"}
		}
		logging.With(ctx, u.log).Info().Str("tenant_id", tenantID).Str("plan", string(plan.Code)).Msg("checkout started")
		return &PlanChangeResult{Tenant: t, CheckoutURL: gsub.CheckoutURL}, nil
	}

	now := u.clock.Now()
	res := &PlanChangeResult{CheckoutURL: gsub.CheckoutURL}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if !t.Status.CanCreate() {
			return fmt.Errorf("%w: tenant became %s concurrently", domain.ErrInvalidTransition, t.Status)
		}
		changeType := model.ChangeTypeInitial
		if t.SubscriptionID != "" {
			changeType = model.ChangeTypeReactivation
		}
		prev := t.PlanCode

		if err := switchPlan(ctx, tx, u.assignments, t.ID, plan.Code, now, string(changeType)); err != nil {
			return err
		}
		t.PlanCode = plan.Code
		t.SubscriptionID = gsub.ID
		t.Status = activeOr(gsub.Status)
		t.Pending = nil
		t.ConsecutiveFailures = 0
		t.NextBillingAt = gsub.NextBilledAt
		t.LastPlanChangeAt = &now
		t.UpdatedAt = now
		if err := u.tenants.Update(ctx, tx, t); err != nil {
			return err
		}
		if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:         t.ID,
			EventType:        model.EventSubscriptionCreated,
			SubscriptionID:   gsub.ID,
			PlanCode:         plan.Code,
			PreviousPlanCode: prev,
			Status:           t.Status,
			Amount:           plan.MonthlyAmount,
			Currency:         plan.Currency,
			TriggeredBy:      by,
		}); err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:    t.ID,
			FromPlan:    prev,
			ToPlan:      plan.Code,
			ChangeType:  changeType,
			Reason:      "subscription created",
			ChangedBy:   changedBy(ctx, by),
			MRR:         plan.MRR(),
			AnnualValue: plan.AnnualValue(),
		}); err != nil {
			return err
		}
		res.Tenant = t
		res.ChangeType = changeType
		return nil
	})
	if err != nil {
		// the processor holds a subscription we failed to record; the
		// activation webhook cannot match it, so surface it loudly
		logging.With(ctx, u.log).Error().Err(err).
			Str("tenant_id", tenantID).
			Str("subscription_id", gsub.ID).
			Msg("subscription created at gateway but local state not recorded")
		return nil, err
	}
	u.invalidate(ctx, tenantID)
	return res, nil
}

func (u *lifecycleUC) ChangePlan(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error) {
	t, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false)
	if err != nil {
		return nil, err
	}
	dir, err := u.catalog.Classify(t.PlanCode, target)
	if err != nil {
		return nil, err
	}
	switch dir {
	case model.ChangeUpgrade:
		return u.Upgrade(ctx, tenantID, target, by)
	case model.ChangeDowngrade:
		return u.Downgrade(ctx, tenantID, target, by)
	}
	return u.reactivate(ctx, tenantID, by)
}

// reactivate records a same-tier request. It has no billing effect but does
// withdraw a staged downgrade or cancellation.
func (u *lifecycleUC) reactivate(ctx context.Context, tenantID string, by model.TriggeredBy) (*PlanChangeResult, error) {
	res := &PlanChangeResult{ChangeType: model.ChangeTypeReactivation}
	wrote := false
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		wrote = false
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		reason := "same-tier request"
		if t.Pending != nil {
			wrote = true
			withdrawn := t.Pending
			t.ClearPending()
			t.UpdatedAt = u.clock.Now()
			if err := u.tenants.Update(ctx, tx, t); err != nil {
				return err
			}
			if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
				TenantID:       t.ID,
				EventType:      model.EventPendingChangeCleared,
				SubscriptionID: t.SubscriptionID,
				PlanCode:       t.PlanCode,
				Status:         t.Status,
				TriggeredBy:    by,
				Metadata:       map[string]any{"withdrawn_plan": string(withdrawn.PlanCode), "withdrawn_kind": string(withdrawn.Kind)},
			}); err != nil {
				return err
			}
			reason = "pending " + string(withdrawn.Kind) + " withdrawn"
		}
		plan, err := u.catalog.Get(t.PlanCode)
		if err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:    t.ID,
			FromPlan:    t.PlanCode,
			ToPlan:      t.PlanCode,
			ChangeType:  model.ChangeTypeReactivation,
			Reason:      reason,
			ChangedBy:   changedBy(ctx, by),
			MRR:         plan.MRR(),
			AnnualValue: plan.AnnualValue(),
		}); err != nil {
			return err
		}
		res.Tenant = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wrote {
		u.invalidate(ctx, tenantID)
	}
	return res, nil
}

func (u *lifecycleUC) Upgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.Upgrade")()
	t, plan, err := u.precheckChange(ctx, tenantID, target, model.ChangeUpgrade, by)
	if err != nil {
		return nil, err
	}
	release, err := u.claimCooldown(ctx, tenantID, by)
	if err != nil {
		return nil, err
	}

	gsub, err := u.callGateway(ctx, "update_subscription_plan", func(ctx context.Context) (*model.GatewaySubscription, error) {
		return u.gateway.UpdateSubscriptionPlan(ctx, adapter.UpdatePlanRequest{
			SubscriptionID: t.SubscriptionID,
			PriceID:        plan.PriceID,
			Prorate:        u.cfg.ProrateUpgrades,
		})
	})
	if err != nil {
		release()
		return nil, err
	}

	now := u.clock.Now()
	res := &PlanChangeResult{ChangeType: model.ChangeTypeUpgrade}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		lt, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if lt.Status.Terminal() || lt.SubscriptionID != t.SubscriptionID {
			// the subscription ended (or was replaced) while the gateway call
			// was in flight; the next webhook reconciles the processor side
			logging.With(ctx, u.log).Error().Str("tenant_id", tenantID).
				Str("subscription_id", t.SubscriptionID).
				Str("found_subscription_id", lt.SubscriptionID).
				Str("found_status", string(lt.Status)).
				Str("target_plan", string(plan.Code)).
				Msg("upgrade accepted by gateway but subscription has ended; needs reconciliation")
			return &domain.ConcurrencyNoop{TenantID: tenantID, Reason: "subscription ended during upgrade"}
		}
		if lt.PlanCode != t.PlanCode {
			// the gateway already moved to target; record that regardless
			logging.With(ctx, u.log).Warn().Str("tenant_id", tenantID).
				Str("expected_plan", string(t.PlanCode)).Str("found_plan", string(lt.PlanCode)).
				Msg("plan changed concurrently during upgrade")
		}
		prev := lt.PlanCode
		if err := switchPlan(ctx, tx, u.assignments, lt.ID, plan.Code, now, string(model.ChangeTypeUpgrade)); err != nil {
			return err
		}
		lt.PlanCode = plan.Code
		lt.ClearPending()
		lt.LastPlanChangeAt = &now
		if gsub != nil && gsub.NextBilledAt != nil {
			lt.NextBillingAt = gsub.NextBilledAt
		}
		lt.UpdatedAt = now
		if err := u.tenants.Update(ctx, tx, lt); err != nil {
			return err
		}
		if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:         lt.ID,
			EventType:        model.EventSubscriptionUpgraded,
			SubscriptionID:   lt.SubscriptionID,
			PlanCode:         plan.Code,
			PreviousPlanCode: prev,
			Status:           lt.Status,
			Amount:           plan.MonthlyAmount,
			Currency:         plan.Currency,
			TriggeredBy:      by,
			Metadata:         map[string]any{"prorated": u.cfg.ProrateUpgrades},
		}); err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:    lt.ID,
			FromPlan:    prev,
			ToPlan:      plan.Code,
			ChangeType:  model.ChangeTypeUpgrade,
			Reason:      "upgrade requested",
			ChangedBy:   changedBy(ctx, by),
			MRR:         plan.MRR(),
			AnnualValue: plan.AnnualValue(),
		}); err != nil {
			return err
		}
		res.Tenant = lt
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.invalidate(ctx, tenantID)
	return res, nil
}

// Downgrade stages the change for the end of the paid period. Capabilities
// stay at the current plan until the scheduler applies it.
func (u *lifecycleUC) Downgrade(ctx context.Context, tenantID string, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.Downgrade")()
	t, _, err := u.precheckChange(ctx, tenantID, target, model.ChangeDowngrade, by)
	if err != nil {
		return nil, err
	}
	release, err := u.claimCooldown(ctx, tenantID, by)
	if err != nil {
		return nil, err
	}
	res, err := u.stage(ctx, t, model.PendingDowngrade, target, by)
	if err != nil {
		release()
		return nil, err
	}
	return res, nil
}

func (u *lifecycleUC) Cancel(ctx context.Context, tenantID string, when model.CancelEffective, by model.TriggeredBy) (*PlanChangeResult, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.Cancel")()
	if !when.Valid() {
		return nil, fmt.Errorf("%w: cancel effective %q", domain.ErrInvalidArgument, when)
	}
	t, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false)
	if err != nil {
		return nil, err
	}
	if t.SubscriptionID == "" || (t.Status != model.SubscriptionStatusActive && t.Status != model.SubscriptionStatusPastDue) {
		return nil, fmt.Errorf("%w: no subscription to cancel (status %s)", domain.ErrInvalidTransition, t.Status)
	}
	if when == model.CancelEndOfPeriod {
		return u.stage(ctx, t, model.PendingCancel, model.PlanFree, by)
	}

	if _, err := u.callGateway(ctx, "cancel_subscription", func(ctx context.Context) (*model.GatewaySubscription, error) {
		return u.gateway.CancelSubscription(ctx, t.SubscriptionID, model.CancelImmediately)
	}); err != nil {
		return nil, err
	}

	now := u.clock.Now()
	res := &PlanChangeResult{ChangeType: model.ChangeTypeCancellation}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		lt, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		prev := lt.PlanCode
		if err := switchPlan(ctx, tx, u.assignments, lt.ID, model.PlanFree, now, string(model.ChangeTypeCancellation)); err != nil {
			return err
		}
		lt.ResetToFree(model.SubscriptionStatusCanceled)
		lt.LastPlanChangeAt = &now
		lt.UpdatedAt = now
		if err := u.tenants.Update(ctx, tx, lt); err != nil {
			return err
		}
		if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:         lt.ID,
			EventType:        model.EventSubscriptionCanceled,
			SubscriptionID:   lt.SubscriptionID,
			PlanCode:         model.PlanFree,
			PreviousPlanCode: prev,
			Status:           lt.Status,
			TriggeredBy:      by,
			Metadata:         map[string]any{"effective": string(model.CancelImmediately)},
		}); err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:   lt.ID,
			FromPlan:   prev,
			ToPlan:     model.PlanFree,
			ChangeType: model.ChangeTypeCancellation,
			Reason:     "canceled immediately",
			ChangedBy:  changedBy(ctx, by),
		}); err != nil {
			return err
		}
		res.Tenant = lt
		return nil
	})
	if err != nil {
		return nil, err
	}
	u.invalidate(ctx, tenantID)
	return res, nil
}

// stage records a deferred downgrade or cancellation effective at the end of
// the current billing period as reported by the gateway.
func (u *lifecycleUC) stage(ctx context.Context, t *model.Tenant, kind model.PendingChangeKind, target model.PlanCode, by model.TriggeredBy) (*PlanChangeResult, error) {
	gsub, err := u.callGateway(ctx, "find_subscription", func(ctx context.Context) (*model.GatewaySubscription, error) {
		return u.gateway.FindSubscription(ctx, t.SubscriptionID)
	})
	if err != nil {
		return nil, err
	}
	effective := gsub.CurrentPeriodEnd
	if effective == nil {
		effective = gsub.NextBilledAt
	}
	if effective == nil {
		return nil, &domain.GatewayError{Op: "find_subscription", Message: "subscription has no current billing period"}
	}

	now := u.clock.Now()
	eventType := model.EventDowngradeScheduled
	reason := "downgrade requested"
	if kind == model.PendingCancel {
		eventType = model.EventCancelScheduled
		reason = "cancel at end of period"
	}
	res := &PlanChangeResult{ChangeType: model.ChangeTypeDowngradeScheduled}
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		lt, err := loadTenant(ctx, tx, u.tenants, t.ID, true)
		if err != nil {
			return err
		}
		if lt.PlanCode != t.PlanCode || lt.Status != t.Status {
			return &domain.ConcurrencyNoop{TenantID: t.ID, Reason: "tenant changed while staging"}
		}
		lt.Pending = &model.PendingChange{
			Kind:          kind,
			PlanCode:      target,
			EffectiveAt:   effective.UTC(),
			RequestedAt:   now,
			RequestedFrom: lt.PlanCode,
		}
		lt.LastPlanChangeAt = &now
		lt.UpdatedAt = now
		if err := u.tenants.Update(ctx, tx, lt); err != nil {
			return err
		}
		if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:         lt.ID,
			EventType:        eventType,
			SubscriptionID:   lt.SubscriptionID,
			PlanCode:         target,
			PreviousPlanCode: lt.PlanCode,
			Status:           lt.Status,
			TriggeredBy:      by,
			Metadata:         map[string]any{"effective_at": effective.UTC().Format(time.RFC3339)},
		}); err != nil {
			return err
		}
		targetPlan, err := u.catalog.Get(target)
		if err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:    lt.ID,
			FromPlan:    lt.PlanCode,
			ToPlan:      target,
			ChangeType:  model.ChangeTypeDowngradeScheduled,
			Status:      model.HistoryStatusPending,
			Reason:      reason,
			ChangedBy:   changedBy(ctx, by),
			MRR:         targetPlan.MRR(),
			AnnualValue: targetPlan.AnnualValue(),
			EffectiveAt: effective.UTC(),
		}); err != nil {
			return err
		}
		res.Tenant = lt
		res.Pending = lt.Pending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (u *lifecycleUC) ApplyPendingChange(ctx context.Context, tenantID string) (*PlanChangeResult, error) {
	defer logging.TraceDuration(u.log, "LifecycleUC.ApplyPendingChange")()
	now := u.clock.Now()
	var staged *model.PendingChange
	var subscriptionID string
	res := &PlanChangeResult{}

	// The gateway call runs under the tenant row lock so a concurrent webhook
	// or admin action cannot apply or clear the same change twice.
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if t.Pending == nil {
			return &domain.ConcurrencyNoop{TenantID: tenantID, Reason: "no pending change"}
		}
		if !t.Pending.DueAt(now) {
			return &domain.ConcurrencyNoop{TenantID: tenantID, Reason: "pending change not yet due"}
		}
		staged = t.Pending
		subscriptionID = t.SubscriptionID
		target, err := u.catalog.Get(staged.PlanCode)
		if err != nil {
			return err
		}

		prev := t.PlanCode
		changeType := model.ChangeTypeDowngrade
		eventType := model.EventSubscriptionDowngraded
		if target.IsFree() {
			if t.SubscriptionID != "" {
				if _, err := u.callGateway(ctx, "cancel_subscription", func(ctx context.Context) (*model.GatewaySubscription, error) {
					return u.gateway.CancelSubscription(ctx, t.SubscriptionID, model.CancelImmediately)
				}); err != nil {
					return err
				}
			}
			t.ResetToFree(model.SubscriptionStatusCanceled)
			if staged.Kind == model.PendingCancel {
				changeType = model.ChangeTypeCancellation
			}
			eventType = model.EventSubscriptionCanceled
		} else {
			gsub, err := u.callGateway(ctx, "update_subscription_plan", func(ctx context.Context) (*model.GatewaySubscription, error) {
				return u.gateway.UpdateSubscriptionPlan(ctx, adapter.UpdatePlanRequest{
					SubscriptionID: t.SubscriptionID,
					PriceID:        target.PriceID,
				})
			})
			if err != nil {
				return err
			}
			t.PlanCode = target.Code
			t.ClearPending()
			if gsub != nil && gsub.NextBilledAt != nil {
				t.NextBillingAt = gsub.NextBilledAt
			}
		}

		if err := switchPlan(ctx, tx, u.assignments, t.ID, target.Code, now, string(changeType)); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := u.tenants.Update(ctx, tx, t); err != nil {
			return err
		}
		if err := u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:         t.ID,
			EventType:        eventType,
			SubscriptionID:   subscriptionID,
			PlanCode:         target.Code,
			PreviousPlanCode: prev,
			Status:           t.Status,
			Amount:           target.MonthlyAmount,
			Currency:         target.Currency,
			TriggeredBy:      model.TriggeredBySystem,
			Metadata:         map[string]any{"scheduled_for": staged.EffectiveAt.Format(time.RFC3339)},
		}); err != nil {
			return err
		}
		if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
			TenantID:         t.ID,
			FromPlan:         prev,
			ToPlan:           target.Code,
			ChangeType:       changeType,
			Reason:           "scheduled change applied",
			ChangedBy:        "scheduler",
			AutomatedTrigger: true,
			MRR:              target.MRR(),
			AnnualValue:      target.AnnualValue(),
			EffectiveAt:      now,
		}); err != nil {
			return err
		}
		res.Tenant = t
		res.ChangeType = changeType
		return nil
	})
	if err != nil {
		if staged != nil && (errors.Is(err, domain.ErrGateway) || errors.Is(err, domain.ErrGatewayTimeout)) {
			u.recordPendingFailure(ctx, tenantID, subscriptionID, staged, err)
		}
		return nil, err
	}
	u.invalidate(ctx, tenantID)
	return res, nil
}

// recordPendingFailure appends the failure outside the rolled-back
// transaction; pending fields stay for the next sweep.
func (u *lifecycleUC) recordPendingFailure(ctx context.Context, tenantID, subscriptionID string, staged *model.PendingChange, cause error) {
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:       tenantID,
			EventType:      model.EventPendingChangeFailed,
			SubscriptionID: subscriptionID,
			PlanCode:       staged.PlanCode,
			TriggeredBy:    model.TriggeredBySystem,
			Metadata: map[string]any{
				"kind":          string(staged.Kind),
				"scheduled_for": staged.EffectiveAt.Format(time.RFC3339),
				"error":         cause.Error(),
			},
		})
	})
	if err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("tenant_id", tenantID).Msg("failed to record pending change failure")
	}
}

func (u *lifecycleUC) RetryCharge(ctx context.Context, tenantID string) (*model.RetryResult, error) {
	t, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false)
	if err != nil {
		return nil, err
	}
	if t.Status != model.SubscriptionStatusPastDue {
		return nil, fmt.Errorf("%w: charge retry requires past_due, tenant is %s", domain.ErrInvalidTransition, t.Status)
	}

	cctx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()
	out, err := u.gateway.RetryCharge(cctx, t.SubscriptionID)
	if err != nil {
		return nil, classifyGatewayErr("retry_charge", err)
	}

	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		return u.audit.event(ctx, tx, &model.SubscriptionEvent{
			TenantID:       t.ID,
			EventType:      model.EventPaymentRetryRequested,
			SubscriptionID: t.SubscriptionID,
			PlanCode:       t.PlanCode,
			Status:         t.Status,
			TriggeredBy:    model.TriggeredByUser,
			Metadata:       map[string]any{"transaction_id": out.TransactionID, "failures": t.ConsecutiveFailures},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// precheckChange validates an upgrade/downgrade request and enforces cooldown
// for user-triggered requests.
func (u *lifecycleUC) precheckChange(ctx context.Context, tenantID string, target model.PlanCode, want model.ChangeDirection, by model.TriggeredBy) (*model.Tenant, *model.Plan, error) {
	t, err := loadTenant(ctx, repository.NoTX, u.tenants, tenantID, false)
	if err != nil {
		return nil, nil, err
	}
	if t.Status != model.SubscriptionStatusActive || t.SubscriptionID == "" {
		return nil, nil, fmt.Errorf("%w: %s requires an active subscription (status %s)", domain.ErrInvalidTransition, want, t.Status)
	}
	plan, err := u.catalog.Get(target)
	if err != nil {
		return nil, nil, err
	}
	dir, err := u.catalog.Classify(t.PlanCode, target)
	if err != nil {
		return nil, nil, err
	}
	if dir != want {
		return nil, nil, fmt.Errorf("%w: %s -> %s is not an %s", domain.ErrInvalidTransition, t.PlanCode, target, want)
	}
	if by == model.TriggeredByUser {
		if left := t.CooldownRemaining(u.clock.Now(), u.cfg.Cooldown); left > 0 {
			return nil, nil, &domain.CooldownError{Remaining: left}
		}
	}
	return t, plan, nil
}

// claimCooldown re-checks the cooldown under the tenant row lock and stamps
// LastPlanChangeAt before any gateway call, so a concurrent request from the
// same tenant is rejected. release restores the previous stamp unless a later
// change has replaced it. Non-user triggers get a no-op claim.
func (u *lifecycleUC) claimCooldown(ctx context.Context, tenantID string, by model.TriggeredBy) (release func(), err error) {
	if by != model.TriggeredByUser {
		return func() {}, nil
	}
	claimed := u.clock.Now()
	var prev *time.Time
	err = u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
		if err != nil {
			return err
		}
		if left := t.CooldownRemaining(claimed, u.cfg.Cooldown); left > 0 {
			return &domain.CooldownError{Remaining: left}
		}
		prev = t.LastPlanChangeAt
		t.LastPlanChangeAt = &claimed
		t.UpdatedAt = claimed
		return u.tenants.Update(ctx, tx, t)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		// the request context may already be done
		rctx := context.WithoutCancel(ctx)
		err := u.tm.WithTx(rctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
			t, err := loadTenant(ctx, tx, u.tenants, tenantID, true)
			if err != nil {
				return err
			}
			if t.LastPlanChangeAt == nil || !t.LastPlanChangeAt.Equal(claimed) {
				return nil
			}
			t.LastPlanChangeAt = prev
			return u.tenants.Update(ctx, tx, t)
		})
		if err != nil {
			logging.With(ctx, u.log).Error().Err(err).Str("tenant_id", tenantID).Msg("failed to release plan change cooldown")
		}
	}, nil
}

// callGateway bounds fn by the configured timeout and normalises errors.
func (u *lifecycleUC) callGateway(ctx context.Context, op string, fn func(ctx context.Context) (*model.GatewaySubscription, error)) (*model.GatewaySubscription, error) {
	cctx, cancel := context.WithTimeout(ctx, u.cfg.CallTimeout)
	defer cancel()
	sub, err := fn(cctx)
	if err != nil {
		return nil, classifyGatewayErr(op, err)
	}
	if sub == nil {
		return nil, &domain.GatewayError{Op: op, Message: "empty response"}
	}
	return sub, nil
}

func classifyGatewayErr(op string, err error) error {
	if errors.Is(err, domain.ErrGatewayTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, domain.ErrGatewayTimeout)
	}
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	return &domain.GatewayError{Op: op, Err: err}
}

func (u *lifecycleUC) invalidate(ctx context.Context, tenantID string) {
	if err := u.cache.Invalidate(ctx, tenantID); err != nil {
		logging.With(ctx, u.log).Error().Err(err).Str("tenant_id", tenantID).Msg("capability cache invalidation failed")
	}
}

func activeOr(s model.SubscriptionStatus) model.SubscriptionStatus {
	if s == "" || s == model.SubscriptionStatusNone {
		return model.SubscriptionStatusActive
	}
	return s
}
