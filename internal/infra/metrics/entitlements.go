package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(gateDecisionsTotal, subscriptionEventsTotal, webhookDeliveriesTotal)
}

var (
	gateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_gate_decisions_total",
			Help: "Feature gate checks by feature and result.",
		},
		[]string{"feature", "allowed"},
	)

	subscriptionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_events_total",
			Help: "Audit events appended, by event type and trigger.",
		},
		[]string{"event_type", "triggered_by"},
	)

	webhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_deliveries_total",
			Help: "Billing webhook deliveries by outcome (accepted/rejected/throttled).",
		},
		[]string{"outcome"},
	)
)

func IncGateDecision(feature string, allowed bool) {
	v := "false"
	if allowed {
		v = "true"
	}
	gateDecisionsTotal.WithLabelValues(norm(feature), v).Inc()
}

func IncSubscriptionEvent(eventType, triggeredBy string) {
	subscriptionEventsTotal.WithLabelValues(norm(eventType), norm(triggeredBy)).Inc()
}

func IncWebhookDelivery(outcome string) {
	webhookDeliveriesTotal.WithLabelValues(norm(outcome)).Inc()
}
