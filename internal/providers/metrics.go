package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes used as prometheus label values.
const (
	outcomeSuccess     = "success"
	outcomeFailure     = "failure"
	outcomeUnavailable = "unavailable"
	outcomeRateLimited = "rate_limited"
	outcomeSkipped     = "incompatible"
)

var (
	dispatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgate_dispatch_attempts_total",
		Help: "Dispatch attempts per provider, labelled by outcome.",
	}, []string{"provider", "outcome"})

	generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vidgate_generation_duration_seconds",
		Help:    "Wall-clock latency of successful provider generate calls.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"provider"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgate_cache_lookups_total",
		Help: "Response cache lookups, labelled hit or miss.",
	}, []string{"result"})
)

// ObserveCacheLookup records one cache hit or miss.
func ObserveCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
	} else {
		cacheLookups.WithLabelValues("miss").Inc()
	}
}
