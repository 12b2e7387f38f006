package flow

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_workflow_transitions_total",
			Help: "Total number of workflow step transitions",
		},
		[]string{"step"},
	)

	handoffsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_workflow_handoffs_total",
			Help: "Total number of transfers between workflows",
		},
		[]string{"target"},
	)

	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_intents_total",
			Help: "Total number of classified user requests by intent",
		},
		[]string{"intent"},
	)

	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_fallbacks_total",
			Help: "Total number of unrecovered step failures by category",
		},
		[]string{"category"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insureguide_reask_escalations_total",
			Help: "Total number of fields abandoned after repeated invalid replies",
		},
	)

	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_turns_total",
			Help: "Total number of conversation turns",
		},
		[]string{"result"},
	)

	turnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "insureguide_turn_duration_seconds",
			Help:    "Duration of conversation turns",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_background_extractions_total",
			Help: "Total number of background profile extractions",
		},
		[]string{"result"},
	)

	sessionsPurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insureguide_sessions_purged_total",
			Help: "Total number of idle sessions removed",
		},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		transitionsTotal, handoffsTotal, intentsTotal, fallbacksTotal,
		escalationsTotal, turnsTotal, turnDuration, extractionsTotal, sessionsPurged,
	}
}
