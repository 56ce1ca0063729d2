package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ttm_rag_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	PolicyDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_policy_decisions_total",
			Help: "Policy gate outcomes",
		},
		[]string{"decision"},
	)

	RetrievalHits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ttm_rag_retrieval_hits",
			Help:    "Number of hits surviving the similarity floor per query",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ttm_rag_answer_confidence",
			Help:    "Answer confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EmbeddingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ttm_rag_embedding_batch_duration_seconds",
			Help:    "Embedding backend call duration per batch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_documents_ingested_total",
			Help: "Documents ingested",
		},
		[]string{"status"},
	)

	ChunksWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ttm_rag_chunks_written_total",
			Help: "Chunks written to the vector store",
		},
	)

	GenerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_generation_total",
			Help: "Generation calls by model and outcome",
		},
		[]string{"model", "outcome"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ttm_rag_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			QueryDuration,
			QueryTotal,
			PolicyDecisions,
			RetrievalHits,
			ConfidenceScore,
			EmbeddingDuration,
			CacheHits,
			CacheMisses,
			DocumentsIngested,
			ChunksWritten,
			GenerationTotal,
			LLMTokensUsed,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
