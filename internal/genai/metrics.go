package genai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"model", "method", "result"},
	)

	llmRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "insureguide_llm_request_duration_seconds",
			Help:    "Duration of LLM completion requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"model", "method"},
	)

	cacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_llm_cache_hits_total",
			Help: "Total number of LLM response cache hits",
		},
		[]string{"tier"},
	)

	recoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_llm_recoveries_total",
			Help: "Total number of LLM failure recovery attempts",
		},
		[]string{"category", "result"},
	)

	cacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insureguide_llm_cache_misses_total",
			Help: "Total number of LLM response cache misses",
		},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{llmRequestsTotal, llmRequestDuration, recoveriesTotal, cacheHitsTotal, cacheMissesTotal}
}

func observeRequest(model, method string, elapsed time.Duration, err error) {
	result := "success"
	if err != nil {
		result = string(Classify(err))
	}
	llmRequestsTotal.WithLabelValues(model, method, result).Inc()
	llmRequestDuration.WithLabelValues(model, method).Observe(elapsed.Seconds())
}
