package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "entity_resolver_resolution_duration_seconds",
			Help:    "End-to-end resolution duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"path"},
	)

	ResolutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_resolver_resolution_total",
			Help: "Total resolution runs by outcome",
		},
		[]string{"outcome"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entity_resolver_confidence_score",
			Help:    "Aggregated record confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EvidenceSources = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entity_resolver_evidence_sources",
			Help:    "Unique evidence sources per run",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	CandidatesAccepted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entity_resolver_candidates_accepted",
			Help:    "Verified candidates surviving per run",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	FetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "entity_resolver_fetch_failures_total",
			Help: "Total page fetches that failed under every identity",
		},
	)

	DisambiguationSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "entity_resolver_disambiguation_steps",
			Help:    "Refinement steps per disambiguation session",
			Buckets: []float64{0, 1, 2, 3},
		},
	)

	DisambiguationOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_resolver_disambiguation_outcome_total",
			Help: "Terminal disambiguation states",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_resolver_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entity_resolver_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(ResolutionDuration)
	prometheus.MustRegister(ResolutionTotal)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(EvidenceSources)
	prometheus.MustRegister(CandidatesAccepted)
	prometheus.MustRegister(FetchFailures)
	prometheus.MustRegister(DisambiguationSteps)
	prometheus.MustRegister(DisambiguationOutcome)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
