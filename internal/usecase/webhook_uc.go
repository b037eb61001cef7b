package usecase

import (
	"context"
	"errors"
	"net/http"
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
var _ WebhookUseCase = (*webhookUC)(nil)

// WebhookUseCase reconciles processor notifications into tenant state.
type WebhookUseCase interface {
	// Receive verifies and handles one delivery. Only a bad signature is
	// reported; every other outcome is acknowledged so the processor stops
	// retrying.
	Receive(ctx context.Context, payload []byte, header http.Header) error
	// Handle applies an already verified event. It is idempotent on the
	// processor event id and never fails the caller.
	Handle(ctx context.Context, ev *model.BillingEvent) WebhookOutcome
}

type WebhookOutcome string

const (
	WebhookApplied   WebhookOutcome = "applied"
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookIgnored   WebhookOutcome = "ignored"
	WebhookUnmatched WebhookOutcome = "unmatched"
	WebhookFailed    WebhookOutcome = "failed"
)

type WebhookConfig struct {
	// PastDueThreshold is the number of consecutive failed charges after
	// which an active subscription becomes past_due.
	PastDueThreshold int
}

type webhookUC struct {
	parser      adapter.WebhookParser
	tenants     repository.TenantRepository
	assignments repository.PlanAssignmentRepository
	events      repository.SubscriptionEventRepository
	audit       *auditLog
	catalog     *model.PlanCatalog
	cache       adapter.CapabilityCache
	tm          repository.TransactionManager
	cfg         WebhookConfig
	clock       Clock
	log         *zerolog.Logger
}

func NewWebhookUseCase(
	parser adapter.WebhookParser,
	tenants repository.TenantRepository,
	assignments repository.PlanAssignmentRepository,
	events repository.SubscriptionEventRepository,
	history repository.PlanHistoryRepository,
	catalog *model.PlanCatalog,
	cache adapter.CapabilityCache,
	tm repository.TransactionManager,
	cfg WebhookConfig,
	clock Clock,
	logger *zerolog.Logger,
) *webhookUC {
	l := logger.With().Str("component", "WebhookReconciler").Logger()
	clock = orSystemClock(clock)
	if cfg.PastDueThreshold <= 0 {
		cfg.PastDueThreshold = 3
	}
	return &webhookUC{
		parser:      parser,
		tenants:     tenants,
		assignments: assignments,
		events:      events,
		audit:       &auditLog{events: events, history: history, clock: clock},
		catalog:     catalog,
		cache:       cache,
		tm:          tm,
		cfg:         cfg,
		clock:       clock,
		log:         &l,
	}
}

func (u *webhookUC) Receive(ctx context.Context, payload []byte, header http.Header) error {
	ev, err := u.parser.ParseWebhook(ctx, payload, header)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			return err
		}
		logging.With(ctx, u.log).Warn().Err(err).Int("bytes", len(payload)).Msg("undecodable webhook acknowledged")
		return nil
	}
	u.Handle(ctx, ev)
	return nil
}

func (u *webhookUC) Handle(ctx context.Context, ev *model.BillingEvent) WebhookOutcome {
	defer logging.TraceDuration(u.log, "WebhookUC.Handle")()
	log := logging.With(ctx, u.log).With().
		Str("event_id", ev.ID).
		Str("kind", string(ev.Kind)).
		Str("subscription_id", ev.SubscriptionID).
		Logger()

	if ev.Kind == model.BillingUnknown || ev.Kind == "" {
		log.Info().Str("processor_type", ev.ProcessorType).Msg("unhandled webhook type")
		return WebhookIgnored
	}

	outcome := WebhookApplied
	invalidate := false
	var tenantID string
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		t, err := u.matchTenant(ctx, tx, ev)
		if err != nil {
			return err
		}
		if t == nil {
			outcome = WebhookUnmatched
			return nil
		}
		tenantID = t.ID

		if ev.ID != "" {
			seen, err := u.events.ExistsProcessorEvent(ctx, tx, ev.ID)
			if err != nil {
				return err
			}
			if seen {
				outcome = WebhookDuplicate
				return u.audit.event(ctx, tx, u.eventFor(t, ev, eventTypeFor(ev.Kind), true))
			}
		}

		applied, changed, err := u.apply(ctx, tx, t, ev)
		if err != nil {
			return err
		}
		invalidate = changed
		if !applied {
			outcome = WebhookIgnored
		}
		return nil
	})
	if err != nil {
		// swallowed: the processor would otherwise redeliver into the same error
		log.Error().Err(err).Msg("webhook handling failed")
		return WebhookFailed
	}
	switch outcome {
	case WebhookUnmatched:
		log.Warn().Str("tenant_hint", ev.TenantID).Msg("webhook for unknown subscription acknowledged")
	case WebhookDuplicate:
		log.Info().Str("tenant_id", tenantID).Msg("duplicate webhook recorded")
	}
	if invalidate {
		if err := u.cache.Invalidate(ctx, tenantID); err != nil {
			log.Error().Err(err).Str("tenant_id", tenantID).Msg("capability cache invalidation failed")
		}
	}
	return outcome
}

// matchTenant finds the tenant by subscription id, falling back to the
// tenant id the processor echoes back in custom data. It returns nil, nil
// when neither matches.
func (u *webhookUC) matchTenant(ctx context.Context, tx repository.Tx, ev *model.BillingEvent) (*model.Tenant, error) {
	if ev.SubscriptionID != "" {
		t, err := u.tenants.FindBySubscriptionID(ctx, tx, ev.SubscriptionID, true)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if ev.TenantID == "" {
		return nil, nil
	}
	t, err := u.tenants.FindByID(ctx, tx, ev.TenantID, true)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	// a tenant bound to a different live subscription is not ours to touch
	if t.SubscriptionID != "" && ev.SubscriptionID != "" && t.SubscriptionID != ev.SubscriptionID && !t.Status.Terminal() {
		return nil, nil
	}
	return t, nil
}

// apply mutates t for ev and appends the audit rows. applied=false means the
// event was recorded but had no state effect; changed reports whether
// capabilities may differ.
func (u *webhookUC) apply(ctx context.Context, tx repository.Tx, t *model.Tenant, ev *model.BillingEvent) (applied, changed bool, err error) {
	now := u.clock.Now()
	prevPlan := t.PlanCode
	eventType := eventTypeFor(ev.Kind)

	// cancellation and expiry are final and always apply
	if orderSensitive(ev.Kind) && t.StaleEvent(ev.OccurredAt) && sameSubscription(t, ev) {
		logging.With(ctx, u.log).Info().
			Str("tenant_id", t.ID).
			Str("event_id", ev.ID).
			Time("occurred_at", ev.OccurredAt).
			Time("last_event_at", *t.LastEventAt).
			Msg("out-of-order webhook recorded without state change")
		return false, false, u.audit.event(ctx, tx, u.eventFor(t, ev, eventType, false))
	}

	switch ev.Kind {
	case model.BillingChargeSucceeded:
		if t.Status.Terminal() {
			return false, false, u.audit.event(ctx, tx, u.eventFor(t, ev, eventType, false))
		}
		t.Status = model.SubscriptionStatusActive
		t.ConsecutiveFailures = 0
		if ev.NextBilledAt != nil {
			t.NextBillingAt = ev.NextBilledAt
		}

	case model.BillingChargeFailed:
		if t.Status.Terminal() {
			return false, false, u.audit.event(ctx, tx, u.eventFor(t, ev, eventType, false))
		}
		t.ConsecutiveFailures++
		if t.ConsecutiveFailures >= u.cfg.PastDueThreshold && t.Status == model.SubscriptionStatusActive {
			t.Status = model.SubscriptionStatusPastDue
		}

	case model.BillingSubscriptionCanceled, model.BillingSubscriptionExpired:
		status := model.SubscriptionStatusCanceled
		if ev.Kind == model.BillingSubscriptionExpired {
			status = model.SubscriptionStatusExpired
		}
		if t.PlanCode != model.PlanFree {
			if err := switchPlan(ctx, tx, u.assignments, t.ID, model.PlanFree, now, string(model.ChangeTypeCancellation)); err != nil {
				return false, false, err
			}
			changed = true
		}
		t.ResetToFree(status)
		if changed {
			if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
				TenantID:         t.ID,
				FromPlan:         prevPlan,
				ToPlan:           model.PlanFree,
				ChangeType:       model.ChangeTypeCancellation,
				Reason:           "processor " + string(ev.Kind),
				ChangedBy:        "webhook",
				AutomatedTrigger: true,
			}); err != nil {
				return false, false, err
			}
		}

	case model.BillingSubscriptionActive:
		// an ended subscription does not come back; a late activation for it
		// is history only
		if t.Status.Terminal() && sameSubscription(t, ev) {
			return false, false, u.audit.event(ctx, tx, u.eventFor(t, ev, eventType, false))
		}
		// activation is authoritative for the binding, covering checkouts
		// started after a cancellation
		if ev.SubscriptionID != "" {
			t.SubscriptionID = ev.SubscriptionID
		}
		t.Status = model.SubscriptionStatusActive
		t.ConsecutiveFailures = 0
		if ev.NextBilledAt != nil {
			t.NextBillingAt = ev.NextBilledAt
		}
		if plan, ok := u.catalog.ByPriceID(ev.PriceID); ok && plan.Code != t.PlanCode && !predatesPlanChange(t, ev) {
			if err := switchPlan(ctx, tx, u.assignments, t.ID, plan.Code, now, string(model.ChangeTypeGatewaySync)); err != nil {
				return false, false, err
			}
			t.PlanCode = plan.Code
			if t.Pending != nil && t.Pending.PlanCode == plan.Code {
				t.ClearPending()
			}
			eventType = model.EventPlanResynced
			changed = true
			if err := u.audit.record(ctx, tx, &model.PlanHistoryRecord{
				TenantID:         t.ID,
				FromPlan:         prevPlan,
				ToPlan:           plan.Code,
				ChangeType:       model.ChangeTypeGatewaySync,
				Reason:           "processor reported a different price",
				ChangedBy:        "webhook",
				AutomatedTrigger: true,
				MRR:              plan.MRR(),
				AnnualValue:      plan.AnnualValue(),
			}); err != nil {
				return false, false, err
			}
		}

	case model.BillingDisputeOpened, model.BillingDisputeWon, model.BillingDisputeLost:
		return true, false, u.audit.event(ctx, tx, u.eventFor(t, ev, eventType, false))

	default:
		return false, false, nil
	}

	if t.SubscriptionID == "" && ev.SubscriptionID != "" {
		t.SubscriptionID = ev.SubscriptionID
	}
	t.ObserveEvent(ev.OccurredAt)
	t.UpdatedAt = now
	if err := u.tenants.Update(ctx, tx, t); err != nil {
		return false, false, err
	}
	e := u.eventFor(t, ev, eventType, false)
	e.PreviousPlanCode = prevPlan
	if err := u.audit.event(ctx, tx, e); err != nil {
		return false, false, err
	}
	return true, changed, nil
}

func (u *webhookUC) eventFor(t *model.Tenant, ev *model.BillingEvent, et model.SubscriptionEventType, dup bool) *model.SubscriptionEvent {
	meta := map[string]any{"processor_type": ev.ProcessorType}
	if ev.TransactionID != "" {
		meta["transaction_id"] = ev.TransactionID
	}
	if ev.Message != "" {
		meta["message"] = ev.Message
	}
	if ev.Kind == model.BillingChargeFailed {
		meta["consecutive_failures"] = t.ConsecutiveFailures
	}
	if !ev.OccurredAt.IsZero() {
		meta["occurred_at"] = ev.OccurredAt.UTC().Format(time.RFC3339)
	}
	subID := ev.SubscriptionID
	if subID == "" {
		subID = t.SubscriptionID
	}
	return &model.SubscriptionEvent{
		TenantID:         t.ID,
		EventType:        et,
		SubscriptionID:   subID,
		PlanCode:         t.PlanCode,
		Status:           t.Status,
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		TriggeredBy:      model.TriggeredByWebhook,
		ProcessorEventID: ev.ID,
		Duplicate:        dup,
		Metadata:         meta,
	}
}

func orderSensitive(k model.BillingEventKind) bool {
	switch k {
	case model.BillingChargeSucceeded, model.BillingChargeFailed, model.BillingSubscriptionActive:
		return true
	}
	return false
}

func sameSubscription(t *model.Tenant, ev *model.BillingEvent) bool {
	return ev.SubscriptionID == "" || ev.SubscriptionID == t.SubscriptionID
}

// predatesPlanChange reports whether ev happened before the last plan change
// made through this engine, in which case its price is out of date.
func predatesPlanChange(t *model.Tenant, ev *model.BillingEvent) bool {
	return !ev.OccurredAt.IsZero() && t.LastPlanChangeAt != nil && ev.OccurredAt.Before(*t.LastPlanChangeAt)
}

func eventTypeFor(k model.BillingEventKind) model.SubscriptionEventType {
	switch k {
	case model.BillingChargeSucceeded:
		return model.EventPaymentSucceeded
	case model.BillingChargeFailed:
		return model.EventPaymentFailed
	case model.BillingSubscriptionCanceled:
		return model.EventSubscriptionCanceled
	case model.BillingSubscriptionExpired:
		return model.EventSubscriptionExpired
	case model.BillingSubscriptionActive:
		return model.EventSubscriptionActivated
	case model.BillingDisputeOpened:
		return model.EventDisputeOpened
	case model.BillingDisputeWon:
		return model.EventDisputeWon
	case model.BillingDisputeLost:
		return model.EventDisputeLost
	}
	return model.SubscriptionEventType(k)
}
