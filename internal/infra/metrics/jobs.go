package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(pendingChangesTotal, sweepDurationSeconds) }

var (
	pendingChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_changes_processed_total",
			Help: "Deferred plan changes handled by the scheduler, labeled by result.",
		},
		[]string{"result"}, // 'applied', 'noop', 'failed'
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pending_change_sweep_duration_seconds",
			Help:    "Duration of one deferred change sweep.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)
)

func AddPendingChanges(result string, n int) {
	if n <= 0 {
		return
	}
	pendingChangesTotal.WithLabelValues(norm(result)).Add(float64(n))
}

func ObserveSweep(d time.Duration) {
	sweepDurationSeconds.Observe(d.Seconds())
}
