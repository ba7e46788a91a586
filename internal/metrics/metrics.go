// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UpstreamRequests counts upstream calls by response status ("error" for transport failures)
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_upstream_requests_total",
			Help: "Total number of upstream requests",
		},
		[]string{"upstream", "status"},
	)

	// RateLimitDetections counts embedded rate-limit signals by where they were found
	RateLimitDetections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_detections_total",
			Help: "Total number of rate-limit errors found inside upstream responses",
		},
		[]string{"upstream", "source"},
	)

	// RetryWaits counts backoff waits
	RetryWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_retry_waits_total",
			Help: "Total number of backoff waits before a retry",
		},
		[]string{"upstream"},
	)

	// RetryDelay tracks the computed backoff delays
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_retry_delay_seconds",
			Help:    "Backoff delay before a retry in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"upstream"},
	)

	// RetryOutcomes counts finished retry sequences by result
	RetryOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_retry_outcomes_total",
			Help: "Total number of rate-limited requests by final result",
		},
		[]string{"upstream", "result"},
	)
)
