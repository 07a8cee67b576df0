// Package metrics holds the Prometheus collectors for the explanation pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codexplain"

// Pipeline metrics.
var (
	// BlocksExplained counts explainer results by fragment status.
	BlocksExplained = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_explained_total",
		Help:      "Total number of code blocks sent to the explainer",
	}, []string{"status"})

	// PipelineDuration observes a full analysis, split to rendered document.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "pipeline_duration_seconds",
		Help:      "Duration of a complete snippet analysis in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	SplitterFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "splitter_fallbacks_total",
		Help:      "Semantic splitter replies replaced by a fallback section",
	}, []string{"reason"})
)

// Store and cache metrics.
var (
	StoreOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_operations_total",
		Help:      "Conversation store operations by backend, operation and result",
	}, []string{"backend", "op", "result"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Explanation cache lookups by result",
	}, []string{"result"})
)

// Result returns the label value for an operation outcome.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
