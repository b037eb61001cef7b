package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/PaddleHQ/paddle-go-sdk/v4/pkg/paddleerr"

	"club-entitlements/internal/config"
	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
)

var _ adapter.BillingGateway = (*PaddleGateway)(nil)

// PaddleGateway starts subscriptions through a hosted checkout transaction
// and manages existing ones through the SDK's subscriptions client.
type PaddleGateway struct {
	sdk *paddle.SDK
}

func NewPaddleGateway(cfg config.PaddleConfig, opts ...paddle.Option) (*PaddleGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	var (
		sdk *paddle.SDK
		err error
	)
	if cfg.Sandbox {
		sdk, err = paddle.NewSandbox(cfg.APIKey, opts...)
	} else {
		sdk, err = paddle.New(cfg.APIKey, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}
	return &PaddleGateway{sdk: sdk}, nil
}

func (g *PaddleGateway) Name() string { return "paddle" }

// CreateSubscription opens a checkout; the subscription id arrives with the
// subscription.activated webhook, matched through custom_data.tenant_id.
func (g *PaddleGateway) CreateSubscription(ctx context.Context, req adapter.CreateSubscriptionRequest) (*model.GatewaySubscription, error) {
	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	txn, err := g.sdk.TransactionsClient.CreateTransaction(ctx, &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			"tenant_id":    req.TenantID,
			"plan_code":    string(req.PlanCode),
			"customer_ref": req.PaymentMethod.CustomerRef,
		},
	})
	if err != nil {
		return nil, sdkErr("create_subscription", err)
	}
	if txn.Checkout == nil || txn.Checkout.URL == nil || *txn.Checkout.URL == "" {
		return nil, &domain.GatewayError{Op: "create_subscription", Message: "no checkout URL returned"}
	}
	return &model.GatewaySubscription{
		Status:      model.SubscriptionStatusNone,
		PriceID:     req.PriceID,
		CheckoutURL: *txn.Checkout.URL,
	}, nil
}

func (g *PaddleGateway) UpdateSubscriptionPlan(ctx context.Context, req adapter.UpdatePlanRequest) (*model.GatewaySubscription, error) {
	mode := paddle.ProrationBillingModeDoNotBill
	if req.Prorate {
		mode = paddle.ProrationBillingModeProratedImmediately
	}
	item := paddle.NewUpdateSubscriptionItemsSubscriptionUpdateItemFromCatalog(&paddle.SubscriptionUpdateItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})
	sub, err := g.sdk.SubscriptionsClient.UpdateSubscription(ctx, &paddle.UpdateSubscriptionRequest{
		SubscriptionID:       req.SubscriptionID,
		Items:                paddle.NewPatchField([]paddle.UpdateSubscriptionItems{*item}),
		ProrationBillingMode: paddle.NewPatchField(mode),
	})
	if err != nil {
		return nil, sdkErr("update_subscription_plan", err)
	}
	return subscriptionToModel(sub), nil
}

func (g *PaddleGateway) CancelSubscription(ctx context.Context, subscriptionID string, effective model.CancelEffective) (*model.GatewaySubscription, error) {
	from := paddle.EffectiveFromNextBillingPeriod
	if effective == model.CancelImmediately {
		from = paddle.EffectiveFromImmediately
	}
	sub, err := g.sdk.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: subscriptionID,
		EffectiveFrom:  paddle.PtrTo(from),
	})
	if err != nil {
		return nil, sdkErr("cancel_subscription", err)
	}
	return subscriptionToModel(sub), nil
}

func (g *PaddleGateway) FindSubscription(ctx context.Context, subscriptionID string) (*model.GatewaySubscription, error) {
	sub, err := g.sdk.SubscriptionsClient.GetSubscription(ctx, &paddle.GetSubscriptionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, sdkErr("find_subscription", err)
	}
	return subscriptionToModel(sub), nil
}

// RetryCharge asks for the payment-method update transaction; the customer
// completes it at the returned checkout and the charge webhooks follow.
func (g *PaddleGateway) RetryCharge(ctx context.Context, subscriptionID string) (*model.RetryResult, error) {
	txn, err := g.sdk.SubscriptionsClient.GetSubscriptionUpdatePaymentMethodTransaction(ctx, &paddle.GetSubscriptionUpdatePaymentMethodTransactionRequest{
		SubscriptionID: subscriptionID,
	})
	if err != nil {
		return nil, sdkErr("retry_charge", err)
	}
	res := &model.RetryResult{TransactionID: txn.ID}
	if txn.Checkout != nil && txn.Checkout.URL != nil {
		res.CheckoutURL = *txn.Checkout.URL
	}
	return res, nil
}

// sdkErr maps SDK failures onto the gateway error taxonomy; API errors keep
// Paddle's detail as the user-facing message.
func sdkErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, domain.ErrGatewayTimeout)
	}
	var perr *paddleerr.Error
	if errors.As(err, &perr) && perr.Detail != "" {
		return &domain.GatewayError{Op: op, Message: perr.Detail, Err: err}
	}
	return &domain.GatewayError{Op: op, Err: err}
}

func subscriptionToModel(s *paddle.Subscription) *model.GatewaySubscription {
	out := &model.GatewaySubscription{
		ID:     s.ID,
		Status: paddleStatus(string(s.Status)),
	}
	if s.NextBilledAt != nil {
		out.NextBilledAt = parsePaddleTime(*s.NextBilledAt)
	}
	if len(s.Items) > 0 {
		out.PriceID = s.Items[0].Price.ID
	}
	if s.CurrentBillingPeriod != nil {
		out.CurrentPeriodStart = parsePaddleTime(s.CurrentBillingPeriod.StartsAt)
		out.CurrentPeriodEnd = parsePaddleTime(s.CurrentBillingPeriod.EndsAt)
	}
	return out
}

func paddleStatus(s string) model.SubscriptionStatus {
	switch s {
	case "active", "trialing":
		return model.SubscriptionStatusActive
	case "past_due", "paused":
		return model.SubscriptionStatusPastDue
	case "canceled":
		return model.SubscriptionStatusCanceled
	}
	return model.SubscriptionStatusNone
}

func parsePaddleTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
