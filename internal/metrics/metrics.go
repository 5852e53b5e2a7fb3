package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Memory operation metrics (Remember/Recall/Forget)
	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_memory_operations_total",
			Help: "Total number of memory operations",
		},
		[]string{"operation", "tier", "status"}, // operation: remember/recall/forget, status: ok/error
	)

	MemoryOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memex_memory_operation_duration_seconds",
			Help:    "Memory operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	RecallResultsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memex_recall_results_returned",
			Help:    "Number of results returned per recall query",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100},
		},
	)

	// Promotion engine metrics
	PromotionCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_promotion_cycles_total",
			Help: "Total number of promotion/demotion cycles run",
		},
		[]string{"status"},
	)

	PromotionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memex_promotion_cycle_duration_seconds",
			Help:    "Promotion cycle latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TierTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_tier_transitions_total",
			Help: "Total number of records promoted, demoted, or evicted",
		},
		[]string{"source_tier", "action"}, // action: promoted/demoted/evicted
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"provider", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memex_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memex_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memex_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Search pipeline metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_vector_search_total",
			Help: "Total number of per-tier vector searches",
		},
		[]string{"tier", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memex_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tier"},
	)

	RerankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_rerank_requests_total",
			Help: "Total number of reranking requests",
		},
		[]string{"status"},
	)

	// Agent metrics (Intent/Plan/Execute/Critique/Schedule)
	AgentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_agent_executions_total",
			Help: "Total number of agent executions",
		},
		[]string{"agent", "status"},
	)

	AgentExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memex_agent_execution_duration_seconds",
			Help:    "Agent execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	PlanSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memex_plan_steps",
			Help:    "Number of steps in a generated plan",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	CritiqueQualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memex_critique_quality_score",
			Help:    "Quality score assigned by the Critic agent (0-1)",
			Buckets: []float64{0, 0.25, 0.5, 0.75, 0.9, 1},
		},
	)

	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memex_tasks_scheduled_total",
			Help: "Total number of tasks scheduled",
		},
		[]string{"priority"},
	)

	// Actor runtime metrics
	ActorsSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memex_actors_spawned_total",
			Help: "Total number of actors spawned",
		},
	)

	ActorMailboxDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memex_actor_mailbox_depth",
			Help: "Current mailbox depth for a named actor",
		},
		[]string{"actor"},
	)
)

// RecordMemoryOperation records the outcome and latency of a Remember,
// Recall, or Forget call.
func RecordMemoryOperation(operation, tier, status string, durationSeconds float64) {
	MemoryOperations.WithLabelValues(operation, tier, status).Inc()
	MemoryOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordPromotionCycle records one promotion engine pass: its outcome,
// latency, and how many records in each source tier were promoted, demoted,
// or evicted.
func RecordPromotionCycle(status string, durationSeconds float64, promoted, demoted, evicted map[string]int) {
	PromotionCycles.WithLabelValues(status).Inc()
	PromotionCycleDuration.Observe(durationSeconds)
	addTierCounts("promoted", promoted)
	addTierCounts("demoted", demoted)
	addTierCounts("evicted", evicted)
}

func addTierCounts(action string, counts map[string]int) {
	for tier, count := range counts {
		if count > 0 {
			TierTransitions.WithLabelValues(tier, action).Add(float64(count))
		}
	}
}

// RecordEmbeddingRequest records an embedding provider call.
func RecordEmbeddingRequest(provider, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}

// RecordVectorSearch records one per-tier ANN search.
func RecordVectorSearch(tier, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(tier, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(tier).Observe(durationSeconds)
	}
}

// RecordAgentExecution records one agent's handled message.
func RecordAgentExecution(agent, status string, durationSeconds float64) {
	AgentExecutions.WithLabelValues(agent, status).Inc()
	AgentExecutionDuration.WithLabelValues(agent).Observe(durationSeconds)
}
