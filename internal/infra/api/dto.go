package api

import (
	"time"

	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/usecase"
)

type pendingResponse struct {
	Kind          string    `json:"kind"`
	PlanCode      string    `json:"plan_code,omitempty"`
	EffectiveAt   time.Time `json:"effective_at"`
	RequestedAt   time.Time `json:"requested_at"`
	RequestedFrom string    `json:"requested_from,omitempty"`
}

func toPending(p *model.PendingChange) *pendingResponse {
	if p == nil {
		return nil
	}
	return &pendingResponse{
		Kind:          string(p.Kind),
		PlanCode:      string(p.PlanCode),
		EffectiveAt:   p.EffectiveAt,
		RequestedAt:   p.RequestedAt,
		RequestedFrom: string(p.RequestedFrom),
	}
}

type tenantResponse struct {
	ID                  string           `json:"id"`
	Slug                string           `json:"slug"`
	Name                string           `json:"name"`
	PlanCode            string           `json:"plan_code"`
	Status              string           `json:"status"`
	SubscriptionID      string           `json:"subscription_id,omitempty"`
	Pending             *pendingResponse `json:"pending,omitempty"`
	LastPlanChangeAt    *time.Time       `json:"last_plan_change_at,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	NextBillingAt       *time.Time       `json:"next_billing_at,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

func toTenant(t *model.Tenant) *tenantResponse {
	if t == nil {
		return nil
	}
	return &tenantResponse{
		ID:                  t.ID,
		Slug:                t.Slug,
		Name:                t.Name,
		PlanCode:            string(t.PlanCode),
		Status:              string(t.Status),
		SubscriptionID:      t.SubscriptionID,
		Pending:             toPending(t.Pending),
		LastPlanChangeAt:    t.LastPlanChangeAt,
		ConsecutiveFailures: t.ConsecutiveFailures,
		NextBillingAt:       t.NextBillingAt,
		CreatedAt:           t.CreatedAt,
	}
}

type planChangeResponse struct {
	Tenant      *tenantResponse  `json:"tenant"`
	ChangeType  string           `json:"change_type,omitempty"`
	Pending     *pendingResponse `json:"pending,omitempty"`
	CheckoutURL string           `json:"checkout_url,omitempty"`
}

func toPlanChange(res *usecase.PlanChangeResult) *planChangeResponse {
	return &planChangeResponse{
		Tenant:      toTenant(res.Tenant),
		ChangeType:  string(res.ChangeType),
		Pending:     toPending(res.Pending),
		CheckoutURL: res.CheckoutURL,
	}
}

type decisionResponse struct {
	Allowed       bool   `json:"allowed"`
	FeatureKey    string `json:"feature_key"`
	PlanCode      string `json:"plan_code"`
	CurrentValue  string `json:"current_value"`
	RequiredValue string `json:"required_value"`
}

func toDecision(d *model.Decision) decisionResponse {
	return decisionResponse{
		Allowed:       d.Allowed,
		FeatureKey:    d.FeatureKey,
		PlanCode:      string(d.PlanCode),
		CurrentValue:  d.CurrentDisplay(),
		RequiredValue: d.RequiredValue,
	}
}

type overrideResponse struct {
	TenantID   string     `json:"tenant_id"`
	FeatureKey string     `json:"feature_key"`
	Value      string     `json:"value"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	CreatedBy  string     `json:"created_by"`
}

func toOverride(o *model.TenantFeatureOverride) overrideResponse {
	out := overrideResponse{
		TenantID:   o.TenantID,
		FeatureKey: o.FeatureKey,
		ExpiresAt:  o.ExpiresAt,
		CreatedAt:  o.CreatedAt,
		CreatedBy:  o.CreatedBy,
	}
	if o.Value != nil {
		out.Value = o.Value.Encode()
	}
	return out
}

type eventResponse struct {
	ID               string         `json:"id"`
	EventType        string         `json:"event_type"`
	SubscriptionID   string         `json:"subscription_id,omitempty"`
	PlanCode         string         `json:"plan_code,omitempty"`
	PreviousPlanCode string         `json:"previous_plan_code,omitempty"`
	Status           string         `json:"status,omitempty"`
	Amount           int64          `json:"amount,omitempty"`
	Currency         string         `json:"currency,omitempty"`
	TriggeredBy      string         `json:"triggered_by"`
	ProcessorEventID string         `json:"processor_event_id,omitempty"`
	Duplicate        bool           `json:"duplicate,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

func toEvent(e *model.SubscriptionEvent) eventResponse {
	return eventResponse{
		ID:               e.ID,
		EventType:        string(e.EventType),
		SubscriptionID:   e.SubscriptionID,
		PlanCode:         string(e.PlanCode),
		PreviousPlanCode: string(e.PreviousPlanCode),
		Status:           string(e.Status),
		Amount:           e.Amount,
		Currency:         e.Currency,
		TriggeredBy:      string(e.TriggeredBy),
		ProcessorEventID: e.ProcessorEventID,
		Duplicate:        e.Duplicate,
		Metadata:         e.Metadata,
		CreatedAt:        e.CreatedAt,
	}
}

type historyResponse struct {
	ID               string    `json:"id"`
	FromPlan         string    `json:"from_plan,omitempty"`
	ToPlan           string    `json:"to_plan"`
	ChangeType       string    `json:"change_type"`
	Status           string    `json:"status"`
	Reason           string    `json:"reason,omitempty"`
	ChangedBy        string    `json:"changed_by,omitempty"`
	AutomatedTrigger bool      `json:"automated_trigger"`
	MRR              int64     `json:"mrr"`
	AnnualValue      int64     `json:"annual_value"`
	EffectiveAt      time.Time `json:"effective_at"`
	CreatedAt        time.Time `json:"created_at"`
}

func toHistory(h *model.PlanHistoryRecord) historyResponse {
	return historyResponse{
		ID:               h.ID,
		FromPlan:         string(h.FromPlan),
		ToPlan:           string(h.ToPlan),
		ChangeType:       string(h.ChangeType),
		Status:           string(h.Status),
		Reason:           h.Reason,
		ChangedBy:        h.ChangedBy,
		AutomatedTrigger: h.AutomatedTrigger,
		MRR:              h.MRR,
		AnnualValue:      h.AnnualValue,
		EffectiveAt:      h.EffectiveAt,
		CreatedAt:        h.CreatedAt,
	}
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

func mapList[S any, T any](in []S, f func(S) T) listResponse[T] {
	out := make([]T, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return listResponse[T]{Items: out}
}
