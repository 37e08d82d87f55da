package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Skyrail gateway.
type Metrics struct {
	RequestTotal       *prometheus.CounterVec
	RequestDurationMs  *prometheus.HistogramVec
	GatewayOverheadMs  *prometheus.HistogramVec
	TokensTotal        *prometheus.CounterVec
	CostUSDTotal       *prometheus.CounterVec
	FilterActionTotal  *prometheus.CounterVec
	CacheEventsTotal   *prometheus.CounterVec
	FallbackTotal      *prometheus.CounterVec
	CircuitOpenTotal   *prometheus.CounterVec
	ProviderErrorTotal *prometheus.CounterVec
	RateLimitHitTotal  *prometheus.CounterVec
	BudgetAlert        prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		RequestTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_request_total",
			Help: "Total number of requests processed by the gateway.",
		}, []string{"org", "team", "model", "provider", "status", "classification"}),

		RequestDurationMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skyrail_request_duration_ms",
			Help:    "Total request duration in milliseconds (including provider latency).",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"model", "provider"}),

		GatewayOverheadMs: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "skyrail_gateway_overhead_ms",
			Help:    "Gateway processing overhead in milliseconds (excluding provider latency).",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"org"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"org", "team", "model", "direction"}),

		CostUSDTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_cost_usd_total",
			Help: "Estimated total cost in USD.",
		}, []string{"org", "team", "model", "provider"}),

		FilterActionTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_filter_action_total",
			Help: "Total filter actions taken.",
		}, []string{"filter", "action"}),

		CacheEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_cache_events_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),

		FallbackTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_fallback_total",
			Help: "Dispatches that fell back to an alternate provider.",
		}, []string{"model"}),

		CircuitOpenTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_circuit_open_total",
			Help: "Dispatch attempts skipped because a circuit breaker was open.",
		}, []string{"provider"}),

		ProviderErrorTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_provider_error_total",
			Help: "Upstream provider call failures.",
		}, []string{"provider", "transient"}),

		RateLimitHitTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "skyrail_rate_limit_hits_total",
			Help: "Requests rejected by a rate limit or budget check.",
		}, []string{"dimension", "scope"}),

		BudgetAlert: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "skyrail_budget_alert",
			Help: "1 while cumulative cost is past the configured alert threshold.",
		}),
	}
}

// RecordRequest records metrics for a completed request.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	m.RequestTotal.WithLabelValues(
		labels.Org, labels.Team, labels.Model, labels.Provider,
		labels.Status, labels.Classification,
	).Inc()

	m.RequestDurationMs.WithLabelValues(
		labels.Model, labels.Provider,
	).Observe(labels.DurationMs)

	m.GatewayOverheadMs.WithLabelValues(
		labels.Org,
	).Observe(labels.OverheadMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Org, labels.Team, labels.Model, "prompt",
		).Add(float64(labels.PromptTokens))
	}

	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(
			labels.Org, labels.Team, labels.Model, "completion",
		).Add(float64(labels.CompletionTokens))
	}

	if labels.CostUSD > 0 {
		m.CostUSDTotal.WithLabelValues(
			labels.Org, labels.Team, labels.Model, labels.Provider,
		).Add(labels.CostUSD)
	}
}

// RecordFilterAction records a filter action metric.
func (m *Metrics) RecordFilterAction(filter, action string) {
	m.FilterActionTotal.WithLabelValues(filter, action).Inc()
}

// RecordCacheHit counts a response served from cache.
func (m *Metrics) RecordCacheHit() {
	m.CacheEventsTotal.WithLabelValues("hit").Inc()
}

// RecordCacheMiss counts a cache lookup that found nothing live.
func (m *Metrics) RecordCacheMiss() {
	m.CacheEventsTotal.WithLabelValues("miss").Inc()
}

// RecordFallback counts a dispatch moving past its primary provider.
func (m *Metrics) RecordFallback(model string) {
	m.FallbackTotal.WithLabelValues(model).Inc()
}

// RecordCircuitOpen counts a candidate skipped for an open breaker.
func (m *Metrics) RecordCircuitOpen(provider string) {
	m.CircuitOpenTotal.WithLabelValues(provider).Inc()
}

// RecordProviderError counts one failed upstream call.
func (m *Metrics) RecordProviderError(provider string, transient bool) {
	label := "false"
	if transient {
		label = "true"
	}
	m.ProviderErrorTotal.WithLabelValues(provider, label).Inc()
}

// RecordRateLimitHit counts a rejection on the given limit dimension.
func (m *Metrics) RecordRateLimitHit(dimension, scope string) {
	m.RateLimitHitTotal.WithLabelValues(dimension, scope).Inc()
}

// SetBudgetAlert raises or clears the budget alert gauge.
func (m *Metrics) SetBudgetAlert(on bool) {
	if on {
		m.BudgetAlert.Set(1)
	} else {
		m.BudgetAlert.Set(0)
	}
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Org              string
	Team             string
	Model            string
	Provider         string
	Status           string
	Classification   string
	DurationMs       float64
	OverheadMs       float64
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}
