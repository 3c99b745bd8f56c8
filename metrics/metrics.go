package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trx_gateway",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total gateway requests by operation and outcome",
	}, []string{"operation", "outcome"})

	TransactionsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "trx_gateway",
		Subsystem: "store",
		Name:      "transactions_written_total",
		Help:      "Total transactions written since startup",
	})

	StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "trx_gateway",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Store round-trip duration per operation",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation"})

	// Admission control
	AdmissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trx_gateway",
		Subsystem: "admission",
		Name:      "rejected_total",
		Help:      "Requests rejected by admission control",
	}, []string{"reason"})

	SchedulerDelaySeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "trx_gateway",
		Subsystem: "admission",
		Name:      "scheduler_delay_seconds",
		Help:      "Last sampled scheduler delay",
	})

	WarmupRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trx_gateway",
		Subsystem: "warmup",
		Name:      "requests_total",
		Help:      "Warm-up requests fired at startup",
	}, []string{"outcome"})
)
