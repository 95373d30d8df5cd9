package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AbstractsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_abstracts_processed_total",
			Help: "Abstracts run through the merge pipeline",
		},
		[]string{"status"},
	)

	AbstractDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "biokg_abstract_duration_seconds",
			Help:    "Time to extract, merge and persist one abstract",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	NodesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biokg_nodes_created_total",
			Help: "Nodes added to the graph",
		},
	)

	NodeMerges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biokg_node_merges_total",
			Help: "Entity mentions merged into an existing node",
		},
	)

	EdgeUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_edge_upserts_total",
			Help: "Edge upserts by action",
		},
		[]string{"action"},
	)

	DuplicateEvidence = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biokg_duplicate_evidence_total",
			Help: "Evidence items skipped because the paper was already recorded on the edge",
		},
	)

	Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_entity_resolutions_total",
			Help: "Entity resolution outcomes",
		},
		[]string{"outcome"},
	)

	ExtractionRepairs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biokg_extraction_repair_attempts_total",
			Help: "Repair prompts sent after an invalid extraction",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	NormalizationLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_normalization_lookups_total",
			Help: "Identifier normalization lookups by result",
		},
		[]string{"result"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biokg_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	GraphNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "biokg_graph_nodes",
			Help: "Nodes in the knowledge graph",
		},
	)

	GraphEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "biokg_graph_edges",
			Help: "Edges in the knowledge graph",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AbstractsProcessed,
			AbstractDuration,
			NodesCreated,
			NodeMerges,
			EdgeUpserts,
			DuplicateEvidence,
			Resolutions,
			ExtractionRepairs,
			LLMTokensUsed,
			NormalizationLookups,
			CacheHits,
			CacheMisses,
			GraphNodes,
			GraphEdges,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
