package request

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_requests_total",
		Help: "Total API requests by method and status",
	}, []string{"method", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "api_request_duration_seconds",
		Help:    "API request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "api_retries_total",
		Help: "Total retry attempts by reason",
	}, []string{"reason"}) // "backoff", "rate_limit", "reauthorized", "transport"

	retryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "api_retry_backoff_seconds",
		Help:    "Backoff sleep durations for retried requests",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	retriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "api_retries_exhausted_total",
		Help: "Total requests abandoned after exhausting retry attempts",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "api_rate_limit_waits_total",
		Help: "Total Retry-After waits honored before retrying",
	})
)
