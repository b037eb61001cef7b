package model

import "time"

// PaymentMethod identifies how a new subscription is funded at the processor.
type PaymentMethod struct {
	CustomerRef string // processor customer id
	Token       string // processor payment method token, when required
}

// GatewaySubscription is the processor's view of a subscription.
type GatewaySubscription struct {
	ID                 string
	Status             SubscriptionStatus
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	NextBilledAt       *time.Time
	CheckoutURL        string // set when the processor requires a hosted checkout
}

// RetryResult describes the outcome of a charge retry request.
type RetryResult struct {
	TransactionID string
	CheckoutURL   string
}

type BillingEventKind string

const (
	BillingChargeSucceeded      BillingEventKind = "charge_succeeded"
	BillingChargeFailed         BillingEventKind = "charge_failed"
	BillingSubscriptionCanceled BillingEventKind = "subscription_canceled"
	BillingSubscriptionExpired  BillingEventKind = "subscription_expired"
	BillingSubscriptionActive   BillingEventKind = "subscription_active"
	BillingDisputeOpened        BillingEventKind = "dispute_opened"
	BillingDisputeWon           BillingEventKind = "dispute_won"
	BillingDisputeLost          BillingEventKind = "dispute_lost"
	BillingUnknown              BillingEventKind = "unknown"
)

// BillingEvent is a verified, processor-neutral webhook notification.
type BillingEvent struct {
	ID             string // processor event id
	Kind           BillingEventKind
	ProcessorType  string // the processor's own event name
	SubscriptionID string
	TransactionID  string
	TenantID       string // from custom data, when the processor echoes it
	PriceID        string
	Amount         int64
	Currency       string
	NextBilledAt   *time.Time
	OccurredAt     time.Time
	Message        string
}
