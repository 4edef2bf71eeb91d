package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_requests_total",
			Help: "Total number of completions processed",
		},
		[]string{"provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_request_duration_seconds",
			Help:    "Completion duration in seconds, including retries and fallbacks",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_tokens_total",
			Help: "Total number of tokens reported by providers",
		},
		[]string{"provider", "model", "type"},
	)

	CostTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_cost_usd_total",
			Help: "Total cost in USD computed from provider-reported usage",
		},
		[]string{"provider", "model"},
	)

	SavingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_savings_usd_total",
			Help: "Estimated USD saved by routing away from the requested model",
		},
		[]string{"requested_model", "model"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_routing_decisions_total",
			Help: "Routing decisions by requested and selected model",
		},
		[]string{"requested_model", "model", "routed"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_cache_lookups_total",
			Help: "Cache lookups by layer and result",
		},
		[]string{"layer", "result"},
	)

	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_retries_total",
			Help: "Retries issued against a model after a transient failure",
		},
		[]string{"model"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_fallbacks_total",
			Help: "Fallback attempts by target model and outcome",
		},
		[]string{"model", "outcome"},
	)

	QualityScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmrouter_quality_score",
			Help:    "Quality score assigned to routed responses",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"model"},
	)

	QualityReissues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_quality_reissues_total",
			Help: "Calls re-issued against the requested model after failing the quality gate",
		},
		[]string{"requested_model", "model"},
	)

	TrackingResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_tracking_total",
			Help: "Tracking attempts by outcome (sent, failed, skipped, disabled)",
		},
		[]string{"outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmrouter_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmrouter_provider_errors_total",
			Help: "Total number of provider errors",
		},
		[]string{"provider", "error_type"},
	)

	SpendUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmrouter_spend_usage_ratio",
			Help: "Estimated spend as a fraction of the configured budget",
		},
	)
)

func RecordRequest(provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	RequestDuration.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordCost(provider, model string, costUSD float64) {
	CostTotal.WithLabelValues(provider, model).Add(costUSD)
}

func RecordSavings(requestedModel, model string, savingsUSD float64) {
	if savingsUSD <= 0 {
		return
	}
	SavingsTotal.WithLabelValues(requestedModel, model).Add(savingsUSD)
}

func RecordRouting(requestedModel, model string, routed bool) {
	RoutingDecisions.WithLabelValues(requestedModel, model, strconv.FormatBool(routed)).Inc()
}

func RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(layer, result).Inc()
}

func RecordRetry(model string) {
	Retries.WithLabelValues(model).Inc()
}

func RecordFallback(model string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	Fallbacks.WithLabelValues(model, outcome).Inc()
}

func RecordQualityScore(model string, score float64) {
	QualityScore.WithLabelValues(model).Observe(score)
}

func RecordQualityReissue(requestedModel, model string) {
	QualityReissues.WithLabelValues(requestedModel, model).Inc()
}

func RecordTracking(outcome string) {
	TrackingResults.WithLabelValues(outcome).Inc()
}

func RecordProviderError(provider, errorType string) {
	ProviderErrors.WithLabelValues(provider, errorType).Inc()
}

func SetCircuitBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func SetSpendUsage(ratio float64) {
	SpendUsageRatio.Set(ratio)
}
