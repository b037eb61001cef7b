package payment

import (
	"context"
	"errors"
	"time"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/metrics"
)

var _ adapter.BillingGateway = (*instrumentedGateway)(nil)

// instrumentedGateway records latency and outcome of every gateway call.
type instrumentedGateway struct {
	inner adapter.BillingGateway
}

func Instrument(g adapter.BillingGateway) adapter.BillingGateway {
	return &instrumentedGateway{inner: g}
}

func (g *instrumentedGateway) Name() string { return g.inner.Name() }

func (g *instrumentedGateway) observe(op string, start time.Time, err error) {
	metrics.ObserveGatewayCall(g.inner.Name(), op, outcome(err), time.Since(start).Seconds())
}

func outcome(err error) string {
	var gerr *domain.GatewayError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.As(err, &gerr) && gerr.Message != "":
		return "declined"
	default:
		return "error"
	}
}

func (g *instrumentedGateway) CreateSubscription(ctx context.Context, req adapter.CreateSubscriptionRequest) (sub *model.GatewaySubscription, err error) {
	defer func(start time.Time) { g.observe("create_subscription", start, err) }(time.Now())
	return g.inner.CreateSubscription(ctx, req)
}

func (g *instrumentedGateway) UpdateSubscriptionPlan(ctx context.Context, req adapter.UpdatePlanRequest) (sub *model.GatewaySubscription, err error) {
	defer func(start time.Time) { g.observe("update_subscription_plan", start, err) }(time.Now())
	return g.inner.UpdateSubscriptionPlan(ctx, req)
}

func (g *instrumentedGateway) CancelSubscription(ctx context.Context, subscriptionID string, effective model.CancelEffective) (sub *model.GatewaySubscription, err error) {
	defer func(start time.Time) { g.observe("cancel_subscription", start, err) }(time.Now())
	return g.inner.CancelSubscription(ctx, subscriptionID, effective)
}

func (g *instrumentedGateway) FindSubscription(ctx context.Context, subscriptionID string) (sub *model.GatewaySubscription, err error) {
	defer func(start time.Time) { g.observe("find_subscription", start, err) }(time.Now())
	return g.inner.FindSubscription(ctx, subscriptionID)
}

func (g *instrumentedGateway) RetryCharge(ctx context.Context, subscriptionID string) (res *model.RetryResult, err error) {
	defer func(start time.Time) { g.observe("retry_charge", start, err) }(time.Now())
	return g.inner.RetryCharge(ctx, subscriptionID)
}
