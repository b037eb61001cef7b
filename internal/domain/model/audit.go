package model

import "time"

type TriggeredBy string

const (
	TriggeredByUser    TriggeredBy = "user"
	TriggeredBySystem  TriggeredBy = "system"
	TriggeredByWebhook TriggeredBy = "webhook"
)

type SubscriptionEventType string

const (
	EventSubscriptionCreated    SubscriptionEventType = "subscription_created"
	EventSubscriptionUpgraded   SubscriptionEventType = "subscription_upgraded"
	EventSubscriptionDowngraded SubscriptionEventType = "subscription_downgraded"
	EventDowngradeScheduled     SubscriptionEventType = "downgrade_scheduled"
	EventCancelScheduled        SubscriptionEventType = "cancel_scheduled"
	EventPendingChangeCleared   SubscriptionEventType = "pending_change_cleared"
	EventPendingChangeFailed    SubscriptionEventType = "pending_change_failed"
	EventSubscriptionCanceled   SubscriptionEventType = "subscription_canceled"
	EventSubscriptionExpired    SubscriptionEventType = "subscription_expired"
	EventSubscriptionActivated  SubscriptionEventType = "subscription_activated"
	EventPlanResynced           SubscriptionEventType = "plan_resynced"
	EventPaymentSucceeded       SubscriptionEventType = "payment_succeeded"
	EventPaymentFailed          SubscriptionEventType = "payment_failed"
	EventPaymentRetryRequested  SubscriptionEventType = "payment_retry_requested"
	EventDisputeOpened          SubscriptionEventType = "dispute_opened"
	EventDisputeWon             SubscriptionEventType = "dispute_won"
	EventDisputeLost            SubscriptionEventType = "dispute_lost"
	EventOverrideApplied        SubscriptionEventType = "override_applied"
	EventOverrideCleared        SubscriptionEventType = "override_cleared"
	EventLedgerDriftHealed      SubscriptionEventType = "ledger_drift_healed"
)

// SubscriptionEvent is an append-only audit row. ID is a ULID so rows sort by
// creation time.
type SubscriptionEvent struct {
	ID               string
	TenantID         string
	EventType        SubscriptionEventType
	SubscriptionID   string
	PlanCode         PlanCode
	PreviousPlanCode PlanCode
	Status           SubscriptionStatus
	Amount           int64
	Currency         string
	TriggeredBy      TriggeredBy
	ProcessorEventID string
	Duplicate        bool
	Metadata         map[string]any
	CreatedAt        time.Time
}

type ChangeType string

const (
	ChangeTypeInitial            ChangeType = "initial"
	ChangeTypeReactivation       ChangeType = "reactivation"
	ChangeTypeUpgrade            ChangeType = "upgrade"
	ChangeTypeDowngrade          ChangeType = "downgrade"
	ChangeTypeDowngradeScheduled ChangeType = "downgrade_scheduled"
	ChangeTypeCancellation       ChangeType = "cancellation"
	ChangeTypeGatewaySync        ChangeType = "gateway_sync"
)

type HistoryStatus string

const (
	HistoryStatusApplied HistoryStatus = "applied"
	HistoryStatusPending HistoryStatus = "pending"
)

// PlanHistoryRecord is the business-facing audit of plan changes.
type PlanHistoryRecord struct {
	ID               string
	TenantID         string
	FromPlan         PlanCode
	ToPlan           PlanCode
	ChangeType       ChangeType
	Status           HistoryStatus
	Reason           string
	ChangedBy        string
	AutomatedTrigger bool
	MRR              int64
	AnnualValue      int64
	EffectiveAt      time.Time
	CreatedAt        time.Time
}
