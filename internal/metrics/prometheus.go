package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_sessions_started_total",
			Help: "Total query sessions accepted",
		},
	)

	SessionsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_sessions_completed_total",
			Help: "Total query sessions reaching a terminal status",
		},
		[]string{"status"},
	)

	SessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_session_duration_seconds",
			Help:    "Wall-clock duration of a full planner run",
			Buckets: []float64{1, 5, 10, 20, 45, 90, 180},
		},
	)

	AttemptsPerSession = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_attempts_per_session",
			Help:    "Research attempts used before a terminal status",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_verification_decisions_total",
			Help: "Verification decisions by action",
		},
		[]string{"decision"},
	)

	ConfidenceLevels = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_confidence_levels_total",
			Help: "Final confidence levels by label",
		},
		[]string{"level"},
	)

	SearchCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_search_calls_total",
			Help: "Total search provider invocations",
		},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_fetch_duration_seconds",
			Help:    "Per-URL fetch and extract duration",
			Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 20},
		},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_query_cache_hits_total",
			Help: "Query cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_query_cache_misses_total",
			Help: "Query cache misses",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_llm_tokens_used_total",
			Help: "LLM tokens consumed",
		},
		[]string{"type"},
	)
)

func Init() {
	prometheus.MustRegister(SessionsStarted)
	prometheus.MustRegister(SessionsCompleted)
	prometheus.MustRegister(SessionDuration)
	prometheus.MustRegister(AttemptsPerSession)
	prometheus.MustRegister(Decisions)
	prometheus.MustRegister(ConfidenceLevels)
	prometheus.MustRegister(SearchCalls)
	prometheus.MustRegister(FetchDuration)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
