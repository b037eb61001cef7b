package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
)

const SandboxSignatureHeader = "X-Sandbox-Signature"

var _ adapter.WebhookParser = (*SandboxWebhookParser)(nil)

// SandboxWebhookParser accepts events already in the neutral shape, signed
// with the shared secret.
type SandboxWebhookParser struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
}

func NewSandboxWebhookParser(secret string, tolerance time.Duration) *SandboxWebhookParser {
	return &SandboxWebhookParser{secret: secret, tolerance: tolerance, now: time.Now}
}

// SandboxEvent is the wire form of a sandbox webhook.
type SandboxEvent struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	SubscriptionID string     `json:"subscription_id"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	TenantID       string     `json:"tenant_id,omitempty"`
	PriceID        string     `json:"price_id,omitempty"`
	Amount         int64      `json:"amount,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	NextBilledAt   *time.Time `json:"next_billed_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
	Message        string     `json:"message,omitempty"`
}

func (p *SandboxWebhookParser) ParseWebhook(_ context.Context, payload []byte, header http.Header) (*model.BillingEvent, error) {
	if err := VerifySignature(p.secret, header.Get(SandboxSignatureHeader), payload, p.now(), p.tolerance); err != nil {
		return nil, err
	}
	var in SandboxEvent
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("%w: sandbox payload: %v", domain.ErrInvalidArgument, err)
	}
	if in.ID == "" {
		return nil, fmt.Errorf("%w: sandbox event without id", domain.ErrInvalidArgument)
	}
	kind := model.BillingEventKind(in.Type)
	switch kind {
	case model.BillingChargeSucceeded, model.BillingChargeFailed, model.BillingSubscriptionCanceled,
		model.BillingSubscriptionExpired, model.BillingSubscriptionActive, model.BillingDisputeOpened,
		model.BillingDisputeWon, model.BillingDisputeLost:
	default:
		kind = model.BillingUnknown
	}
	occurred := in.OccurredAt
	if occurred.IsZero() {
		occurred = p.now().UTC()
	}
	return &model.BillingEvent{
		ID:             in.ID,
		Kind:           kind,
		ProcessorType:  in.Type,
		SubscriptionID: in.SubscriptionID,
		TransactionID:  in.TransactionID,
		TenantID:       in.TenantID,
		PriceID:        in.PriceID,
		Amount:         in.Amount,
		Currency:       in.Currency,
		NextBilledAt:   in.NextBilledAt,
		OccurredAt:     occurred,
		Message:        in.Message,
	}, nil
}
