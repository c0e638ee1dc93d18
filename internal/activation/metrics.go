package activation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	passTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysched_reconcile_passes_total",
			Help: "Reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "surveysched_reconcile_pass_duration_seconds",
			Help:    "Wall time of one reconciliation pass",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	schedulesEvaluated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "surveysched_recurring_schedules",
			Help: "Recurring schedules seen by the last pass",
		},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysched_transitions_total",
			Help: "Persisted isActive transitions by direction",
		},
		[]string{"to"},
	)

	itemFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surveysched_item_failures_total",
			Help: "Per-schedule failures inside a pass",
		},
		[]string{"op"},
	)
)

func observeTransition(active bool) {
	if active {
		transitionsTotal.WithLabelValues("active").Inc()
		return
	}
	transitionsTotal.WithLabelValues("inactive").Inc()
}
