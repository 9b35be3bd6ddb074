package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EmbeddingRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "semdex_provider_request_duration_seconds",
		Help:    "Embedding provider request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"model", "status"})

	EmbeddingErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semdex_provider_errors_total",
		Help: "Total number of embedding provider errors",
	}, []string{"model", "error_type"})

	FallbackVectors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semdex_fallback_vectors_total",
		Help: "Total number of vectors produced by fallback synthesis",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semdex_cache_hits_total",
		Help: "Total number of embedding cache hits",
	}, []string{"tier"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semdex_cache_misses_total",
		Help: "Total number of embedding cache misses",
	}, []string{"tier"})

	BatchDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semdex_batch_documents_total",
		Help: "Total number of documents processed by the batch vectorizer",
	}, []string{"status"})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "semdex_search_duration_seconds",
		Help:    "Similarity search duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"mode"})

	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "semdex_searches_total",
		Help: "Total number of searches, by mode (semantic or degraded)",
	}, []string{"mode"})

	MaintenanceDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "semdex_maintenance_deleted_total",
		Help: "Total number of vectors removed by maintenance cleanup",
	})
)
