package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatch_total",
			Help: "Buyer notifications by stage and result",
		},
		[]string{"stage", "result"},
	)

	rateSourceTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_rate_source_total",
			Help: "Exchange rates served, by source",
		},
		[]string{"source"},
	)
)

// RecordNotify counts a notification outcome.  stage is "publish" or
// "deliver".
func RecordNotify(stage string, err error) {
	result := "success"
	if err != nil {
		result = "fail"
	}
	notifyTotal.WithLabelValues(stage, result).Inc()
}

// RecordRateSource counts which link of the rate chain answered.
func RecordRateSource(source string) {
	rateSourceTotal.WithLabelValues(source).Inc()
}
