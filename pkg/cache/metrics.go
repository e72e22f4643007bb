package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by repository.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"repository"},
	)

	// CacheMisses tracks cache misses by repository.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"repository"},
	)

	// CacheSaves tracks responses persisted to the cache by repository.
	CacheSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_saves_total",
			Help: "Total number of responses persisted to the cache",
		},
		[]string{"repository"},
	)

	// CacheErrors tracks backend errors absorbed during opportunistic
	// caching, by operation.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
