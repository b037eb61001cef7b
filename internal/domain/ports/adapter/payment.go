package adapter

import (
	"context"
	"net/http"

	"club-entitlements/internal/domain/model"
)

type CreateSubscriptionRequest struct {
	TenantID      string
	PlanCode      model.PlanCode
	PriceID       string
	PaymentMethod model.PaymentMethod
}

type UpdatePlanRequest struct {
	SubscriptionID string
	PriceID        string
	Prorate        bool
}

// BillingGateway is the hex port for payment processors. Implementations
// return *domain.GatewayError for declines and wrap domain.ErrGatewayTimeout
// when the outcome of a call is unknown.
type BillingGateway interface {
	Name() string

	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*model.GatewaySubscription, error)
	UpdateSubscriptionPlan(ctx context.Context, req UpdatePlanRequest) (*model.GatewaySubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string, effective model.CancelEffective) (*model.GatewaySubscription, error)
	FindSubscription(ctx context.Context, subscriptionID string) (*model.GatewaySubscription, error)
	RetryCharge(ctx context.Context, subscriptionID string) (*model.RetryResult, error)
}

// WebhookParser verifies a webhook delivery and decodes it into a
// processor-neutral event. A bad signature yields domain.ErrInvalidSignature.
type WebhookParser interface {
	ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*model.BillingEvent, error)
}
