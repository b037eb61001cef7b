package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"

	"club-entitlements/internal/domain"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
)

const PaddleSignatureHeader = "Paddle-Signature"

var _ adapter.WebhookParser = (*PaddleWebhookParser)(nil)

type PaddleWebhookParser struct {
	verifier *paddle.WebhookVerifier
}

func NewPaddleWebhookParser(secret string) *PaddleWebhookParser {
	return &PaddleWebhookParser{verifier: paddle.NewWebhookVerifier(secret)}
}

func (p *PaddleWebhookParser) ParseWebhook(ctx context.Context, payload []byte, header http.Header) (*model.BillingEvent, error) {
	// the SDK verifier works on a request
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhooks/billing", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(PaddleSignatureHeader, header.Get(PaddleSignatureHeader))

	ok, err := p.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	if !ok {
		return nil, domain.ErrInvalidSignature
	}
	return decodePaddleEvent(payload)
}

type paddleEvent struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt string          `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type paddleEventData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	SubscriptionID string         `json:"subscription_id"`
	TransactionID  string         `json:"transaction_id"`
	Action         string         `json:"action"`
	CurrencyCode   string         `json:"currency_code"`
	NextBilledAt   string         `json:"next_billed_at"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []struct {
		PriceID string `json:"price_id"`
		Price   *struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	Details *struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
		} `json:"totals"`
	} `json:"details"`
	Totals *struct {
		Total string `json:"total"`
	} `json:"totals"`
}

// decodePaddleEvent maps a verified Paddle notification onto a BillingEvent.
func decodePaddleEvent(payload []byte) (*model.BillingEvent, error) {
	var ev paddleEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: paddle payload: %v", domain.ErrInvalidArgument, err)
	}
	if ev.EventID == "" {
		return nil, fmt.Errorf("%w: paddle event without id", domain.ErrInvalidArgument)
	}
	var d paddleEventData
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: paddle data: %v", domain.ErrInvalidArgument, err)
		}
	}

	out := &model.BillingEvent{
		ID:            ev.EventID,
		ProcessorType: ev.EventType,
		Currency:      d.CurrencyCode,
		NextBilledAt:  parsePaddleTime(d.NextBilledAt),
		Kind:          model.BillingUnknown,
	}
	if t := parsePaddleTime(ev.OccurredAt); t != nil {
		out.OccurredAt = *t
	} else {
		out.OccurredAt = time.Now().UTC()
	}
	if tid, ok := d.CustomData["tenant_id"].(string); ok {
		out.TenantID = tid
	}
	if len(d.Items) > 0 {
		out.PriceID = d.Items[0].PriceID
		if d.Items[0].Price != nil && d.Items[0].Price.ID != "" {
			out.PriceID = d.Items[0].Price.ID
		}
	}

	switch ev.EventType {
	case "subscription.activated", "subscription.resumed", "subscription.updated":
		out.SubscriptionID = d.ID
		switch d.Status {
		case "active", "trialing":
			out.Kind = model.BillingSubscriptionActive
		case "canceled":
			out.Kind = model.BillingSubscriptionCanceled
		}
	case "subscription.canceled":
		out.SubscriptionID = d.ID
		out.Kind = model.BillingSubscriptionCanceled
	case "transaction.completed", "transaction.paid":
		out.SubscriptionID = d.SubscriptionID
		out.TransactionID = d.ID
		out.Amount = parseMinor(d)
		out.Kind = model.BillingChargeSucceeded
	case "transaction.payment_failed", "transaction.past_due":
		out.SubscriptionID = d.SubscriptionID
		out.TransactionID = d.ID
		out.Amount = parseMinor(d)
		out.Kind = model.BillingChargeFailed
		out.Message = "payment failed"
	case "adjustment.created", "adjustment.updated":
		out.SubscriptionID = d.SubscriptionID
		out.TransactionID = d.TransactionID
		out.Amount = parseMinor(d)
		switch d.Action {
		case "chargeback_warning":
			out.Kind = model.BillingDisputeOpened
		case "chargeback":
			out.Kind = model.BillingDisputeLost
		case "chargeback_reverse":
			out.Kind = model.BillingDisputeWon
		}
	}
	return out, nil
}

// parseMinor reads Paddle's string amounts, already in minor units.
func parseMinor(d paddleEventData) int64 {
	var s string
	switch {
	case d.Details != nil:
		s = d.Details.Totals.GrandTotal
	case d.Totals != nil:
		s = d.Totals.Total
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
