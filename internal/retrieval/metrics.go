package retrieval

import "github.com/prometheus/client_golang/prometheus"

var (
	answersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_policy_answers_total",
			Help: "Total number of policy answers by source",
		},
		[]string{"source"},
	)

	webSearches = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "insureguide_web_searches_total",
			Help: "Total number of web searches",
		},
	)

	ingestedDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "insureguide_ingested_documents_total",
			Help: "Total number of documents written to the vector store",
		},
		[]string{"collection"},
	)
)

// Collectors returns the package metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{answersTotal, webSearches, ingestedDocuments}
}
