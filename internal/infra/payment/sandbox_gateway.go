package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
)

// DeclineToken makes the sandbox reject a new subscription.
const DeclineToken = "tok_decline"

var _ adapter.BillingGateway = (*SandboxGateway)(nil)

// SandboxGateway is an in-memory processor for development and tests.
// Subscriptions renew on a fixed period and never charge anything.
type SandboxGateway struct {
	mu     sync.Mutex
	period time.Duration
	now    func() time.Time
	subs   map[string]*model.GatewaySubscription
}

func NewSandboxGateway(periodDays int) *SandboxGateway {
	if periodDays <= 0 {
		periodDays = 30
	}
	return &SandboxGateway{
		period: time.Duration(periodDays) * 24 * time.Hour,
		now:    time.Now,
		subs:   make(map[string]*model.GatewaySubscription),
	}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) CreateSubscription(ctx context.Context, req adapter.CreateSubscriptionRequest) (*model.GatewaySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.PriceID == "" {
		return nil, &domain.GatewayError{Op: "create_subscription", Message: "price is required"}
	}
	if req.PaymentMethod.Token == DeclineToken {
		return nil, &domain.GatewayError{Op: "create_subscription", Message: "card declined"}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	start := g.now().UTC()
	end := start.Add(g.period)
	sub := &model.GatewaySubscription{
		ID:                 "sub_" + uuid.NewString(),
		Status:             model.SubscriptionStatusActive,
		PriceID:            req.PriceID,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		NextBilledAt:       &end,
	}
	g.subs[sub.ID] = sub
	return copySub(sub), nil
}

func (g *SandboxGateway) UpdateSubscriptionPlan(ctx context.Context, req adapter.UpdatePlanRequest) (*model.GatewaySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, err := g.live("update_subscription_plan", req.SubscriptionID)
	if err != nil {
		return nil, err
	}
	sub.PriceID = req.PriceID
	return copySub(sub), nil
}

func (g *SandboxGateway) CancelSubscription(ctx context.Context, subscriptionID string, effective model.CancelEffective) (*model.GatewaySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, err := g.live("cancel_subscription", subscriptionID)
	if err != nil {
		return nil, err
	}
	if effective == model.CancelImmediately {
		now := g.now().UTC()
		sub.Status = model.SubscriptionStatusCanceled
		sub.CurrentPeriodEnd = &now
		sub.NextBilledAt = nil
	} else {
		sub.NextBilledAt = nil
	}
	return copySub(sub), nil
}

func (g *SandboxGateway) FindSubscription(ctx context.Context, subscriptionID string) (*model.GatewaySubscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub, ok := g.subs[subscriptionID]
	if !ok {
		return nil, &domain.GatewayError{Op: "find_subscription", Message: "no such subscription"}
	}
	return copySub(sub), nil
}

func (g *SandboxGateway) RetryCharge(ctx context.Context, subscriptionID string) (*model.RetryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.live("retry_charge", subscriptionID); err != nil {
		return nil, err
	}
	return &model.RetryResult{TransactionID: "txn_" + uuid.NewString()}, nil
}

// live returns a non-canceled subscription; callers hold g.mu.
func (g *SandboxGateway) live(op, id string) (*model.GatewaySubscription, error) {
	sub, ok := g.subs[id]
	if !ok {
		return nil, &domain.GatewayError{Op: op, Message: "no such subscription"}
	}
	if sub.Status == model.SubscriptionStatusCanceled {
		return nil, &domain.GatewayError{Op: op, Message: "subscription is canceled"}
	}
	return sub, nil
}

func copySub(s *model.GatewaySubscription) *model.GatewaySubscription {
	c := *s
	return &c
}
