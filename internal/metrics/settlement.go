package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_requests_total",
			Help: "Settlement attempts by result kind",
		},
		[]string{"result"},
	)

	settlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_duration_ms",
			Help:    "Settlement duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"result"},
	)

	compensationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_compensations_total",
			Help: "Compensating actions by saga step and outcome",
		},
		[]string{"step", "outcome"},
	)

	reconcileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_repairs_total",
			Help: "Repairs applied by the reconciler",
		},
		[]string{"action"},
	)
)

// RecordSettlement records one Settle call.  result is "success" or the
// error kind.
func RecordSettlement(result string, started time.Time) {
	if result == "" {
		result = "success"
	}
	settlementTotal.WithLabelValues(result).Inc()
	settlementDuration.WithLabelValues(result).Observe(float64(time.Since(started).Milliseconds()))
}

// RecordCompensation records one rollback of the given step.
func RecordCompensation(step string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	compensationTotal.WithLabelValues(step, outcome).Inc()
}

// RecordRepair counts n repairs of the given kind.
func RecordRepair(action string, n int) {
	if n <= 0 {
		return
	}
	reconcileTotal.WithLabelValues(action).Add(float64(n))
}
