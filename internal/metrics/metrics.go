package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandrag_embedding_latency_seconds",
			Help:    "Embedding request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"model"},
	)

	EmbeddingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_embedding_fallbacks_total",
			Help: "Embeddings replaced by a zero vector after a provider failure",
		},
		[]string{"model"},
	)

	EmbeddingDimensionMismatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_embedding_dimension_mismatches_total",
			Help: "Embeddings whose length differed from the configured dimensions",
		},
		[]string{"model"},
	)

	EmbeddingCostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_embedding_cost_usd_total",
			Help: "Estimated embedding spend in USD",
		},
		[]string{"model"},
	)

	EmbeddingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_embedding_cache_lookups_total",
			Help: "Embedding cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)

	// Vector lifecycle metrics
	VectorOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_vector_operations_total",
			Help: "Content vector operations by kind and status",
		},
		[]string{"operation", "status"},
	)

	VectorsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brandrag_vectors_deleted_total",
			Help: "Total number of content vectors removed by cleanup",
		},
	)

	VectorOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandrag_vector_operation_duration_seconds",
			Help:    "Duration of content vector operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Rate limit metrics
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_rate_limit_decisions_total",
			Help: "Rate limit decisions by result and reason",
		},
		[]string{"result", "reason"},
	)

	// Config cache metrics
	ConfigCacheLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_config_cache_loads_total",
			Help: "System config loads by source (cache, store, default, degraded)",
		},
		[]string{"source"},
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_http_requests_total",
			Help: "HTTP requests by route and status code",
		},
		[]string{"route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "brandrag_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Cleanup job metrics
	CleanupRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brandrag_cleanup_runs_total",
			Help: "Scheduled vector cleanup runs by status",
		},
		[]string{"status"},
	)

	CleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "brandrag_cleanup_deleted_vectors_total",
			Help: "Vectors removed by scheduled cleanup",
		},
	)
)

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordEmbeddingCost adds the estimated cost of one embedding call
func RecordEmbeddingCost(model string, costUSD float64) {
	if costUSD > 0 {
		EmbeddingCostUSD.WithLabelValues(model).Add(costUSD)
	}
}

// RecordCacheLookup records an embedding cache lookup
func RecordCacheLookup(tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	EmbeddingCacheLookups.WithLabelValues(tier, result).Inc()
}

// RecordVectorOperation records a vector store operation
func RecordVectorOperation(operation, status string, durationSeconds float64) {
	VectorOperations.WithLabelValues(operation, status).Inc()
	if durationSeconds > 0 {
		VectorOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
	}
}

// RecordRateLimitDecision records the outcome of a rate limit check
func RecordRateLimitDecision(allowed bool, reason string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	RateLimitDecisions.WithLabelValues(result, reason).Inc()
}

// RecordHTTPRequest records one served request
func RecordHTTPRequest(route string, code int, durationSeconds float64) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	HTTPDuration.WithLabelValues(route).Observe(durationSeconds)
}
