// Package metrics documents the Prometheus metrics exported by the
// request and cache packages. Metrics are defined next to the code that
// records them via promauto; this package only exposes the registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the Prometheus registerer all metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Cache Metrics (pkg/cache):
//   - api_cache_hits_total{repository} (Counter): Cache hits
//   - api_cache_misses_total{repository} (Counter): Cache misses
//   - api_cache_saves_total{repository} (Counter): Responses persisted
//   - api_cache_errors_total{operation} (Counter): Absorbed backend errors
//
// Request Metrics (pkg/request):
//   - api_requests_total{method, status} (Counter): Requests by outcome
//   - api_request_duration_seconds{method} (Histogram): Request duration
//   - api_retries_total{reason} (Counter): Retry attempts by reason
//   - api_retry_backoff_seconds (Histogram): Backoff sleep durations
//   - api_retries_exhausted_total (Counter): Requests that ran out of attempts
//   - api_rate_limit_waits_total (Counter): Retry-After waits honored
//
// Example Queries:
//
//	# Cache hit rate
//	sum(rate(api_cache_hits_total[5m])) /
//	(sum(rate(api_cache_hits_total[5m])) + sum(rate(api_cache_misses_total[5m])))
//
//	# P95 request latency
//	histogram_quantile(0.95, rate(api_request_duration_seconds_bucket[5m]))
