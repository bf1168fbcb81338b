// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_claims_total",
			Help: "Total number of claim attempts by outcome",
		},
		[]string{"course", "item", "outcome"},
	)

	FinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_finalized_total",
			Help: "Total number of finalized workflows by outcome",
		},
		[]string{"course", "item", "outcome"},
	)

	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grading_queue_depth",
			Help: "Current number of workflows per queue status",
		},
		[]string{"course", "item", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
