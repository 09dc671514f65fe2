// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LLMCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_calls_total",
			Help: "Total number of LLM provider calls by role and outcome",
		},
		[]string{"role", "model", "outcome"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "llm_call_duration_seconds",
			Help: "Duration of LLM provider calls in seconds",
		},
		[]string{"role", "model"},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total tokens consumed by direction (input/output)",
		},
		[]string{"model", "direction"},
	)

	LLMCostDollars = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_dollars_total",
			Help: "Accumulated LLM spend in dollars",
		},
		[]string{"model", "operation"},
	)

	EvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_duration_seconds",
			Help:    "Duration of full evaluation runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"outcome"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "search_duration_seconds",
			Help:    "Duration of discovery searches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"outcome"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Number of live evaluation sessions",
		},
	)

	RefinementActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refinement_actions_total",
			Help: "Refinement requests by resolved action type",
		},
		[]string{"action"},
	)
)
