package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		planChangesTotal,
		cooldownRejectionsTotal,
		gatewayCallsTotal,
		gatewayLatencySeconds,
	)
}

var (
	planChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_changes_total",
			Help: "Recorded plan changes by change type and trigger.",
		},
		[]string{"change_type", "trigger"},
	)

	cooldownRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plan_change_cooldown_rejections_total",
			Help: "User plan changes rejected by the cooldown rule.",
		},
	)

	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_gateway_calls_total",
			Help: "Billing gateway calls by gateway, operation and outcome (ok/declined/timeout/error).",
		},
		[]string{"gateway", "op", "outcome"},
	)

	gatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_gateway_latency_seconds",
			Help:    "Billing gateway call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"gateway", "op"},
	)
)

func IncPlanChange(changeType, trigger string) {
	planChangesTotal.WithLabelValues(norm(changeType), norm(trigger)).Inc()
}

func IncCooldownRejection() { cooldownRejectionsTotal.Inc() }

func ObserveGatewayCall(gateway, op, outcome string, seconds float64) {
	gatewayCallsTotal.WithLabelValues(norm(gateway), norm(op), norm(outcome)).Inc()
	gatewayLatencySeconds.WithLabelValues(norm(gateway), norm(op)).Observe(seconds)
}
