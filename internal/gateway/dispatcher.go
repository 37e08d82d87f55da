package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/cache"
	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/cost"
	"github.com/skyrail-ai/skyrail-gateway/internal/filter/secrets"
	"github.com/skyrail-ai/skyrail-gateway/internal/ratelimit"
	"github.com/skyrail-ai/skyrail-gateway/internal/router"
	"github.com/skyrail-ai/skyrail-gateway/internal/router/adapters"
	"github.com/skyrail-ai/skyrail-gateway/internal/telemetry"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
	"github.com/skyrail-ai/skyrail-gateway/internal/usage"
)

// Deps wires a Dispatcher to its collaborators. Registry, Breakers, Health,
// Limiter, Cache, Costs and Runtime are required. Metrics, Stats, Budget,
// Usage and Sanitizer may be nil, which disables the corresponding step.
type Deps struct {
	Registry  *router.Registry
	Breakers  *router.Breakers
	Health    *router.HealthTracker
	Limiter   *ratelimit.FixedWindow
	Cache     *cache.ResponseCache
	Costs     *cost.Tracker
	Runtime   *config.Runtime
	Metrics   *telemetry.Metrics
	Stats     *telemetry.Stats
	Budget    *ratelimit.BudgetTracker
	Usage     *usage.Recorder
	Sanitizer *secrets.Scanner
	Logger    *slog.Logger
}

// Dispatcher executes one logical request against the provider fleet. It
// resolves the model, consults the cache, builds the candidate list and walks
// it in order, applying the circuit breaker, the per-provider rate limit and
// the cost ceiling before each upstream call, falling back across providers
// on transient failure.
//
// All tunables are read from a single Runtime snapshot taken at the top of
// Dispatch, so a concurrent config update never changes the rules mid-request.
type Dispatcher struct {
	registry  *router.Registry
	breakers  *router.Breakers
	health    *router.HealthTracker
	limiter   *ratelimit.FixedWindow
	cache     *cache.ResponseCache
	costs     *cost.Tracker
	runtime   *config.Runtime
	metrics   *telemetry.Metrics
	stats     *telemetry.Stats
	budget    *ratelimit.BudgetTracker
	usage     *usage.Recorder
	sanitizer *secrets.Scanner
	logger    *slog.Logger
}

func NewDispatcher(deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:  deps.Registry,
		breakers:  deps.Breakers,
		health:    deps.Health,
		limiter:   deps.Limiter,
		cache:     deps.Cache,
		costs:     deps.Costs,
		runtime:   deps.Runtime,
		metrics:   deps.Metrics,
		stats:     deps.Stats,
		budget:    deps.Budget,
		usage:     deps.Usage,
		sanitizer: deps.Sanitizer,
		logger:    logger,
	}
}

// Dispatch runs the candidate loop for one request. onEvent, when non-nil,
// receives incremental output events from candidates that support streaming;
// the accumulated final response is returned either way.
func (d *Dispatcher) Dispatch(ctx context.Context, req *types.SkyrailRequest, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error) {
	start := time.Now()
	cfg := d.runtime.Snapshot()

	if cfg.EnableRequestValidation {
		if err := validateRequest(req, cfg); err != nil {
			return nil, err
		}
	}

	modelID, err := d.registry.ResolveModel(req.Model, cfg.ProviderSelectionStrategy)
	if err != nil {
		return nil, err
	}

	// Fingerprint over the resolved id so a defaulted model and an explicit
	// one land on the same cache entry.
	fpReq := *req
	fpReq.Model = modelID
	fingerprint := cache.Fingerprint(&fpReq)

	cacheable := cfg.EnableCaching && !req.Stream && !req.SkipCache
	if cacheable {
		if hit, ok := d.cache.Get(fingerprint); ok {
			hit.RequestID = req.RequestID
			hit.Cached = true
			if d.stats != nil {
				d.stats.RecordCacheHit()
				d.stats.RecordSuccess()
			}
			if d.metrics != nil && cfg.EnableMetrics {
				d.metrics.RecordCacheHit()
			}
			d.recordRequest(cfg, req, hit.Model, hit.Provider, "cached", types.Usage{}, 0, start, 0)
			d.enqueueUsage(req, hit, 0, true)
			return hit, nil
		}
		if d.stats != nil {
			d.stats.RecordCacheMiss()
		}
		if d.metrics != nil && cfg.EnableMetrics {
			d.metrics.RecordCacheMiss()
		}
	}

	candidates, err := d.registry.Candidates(modelID, cfg, req.Classification)
	if err != nil {
		// When classification filtering empties the list the providers do
		// exist, so report the per-provider exclusions rather than a lookup
		// miss.
		var exclErr *router.NoEligibleProviderError
		if errors.As(err, &exclErr) {
			d.logger.Warn("no provider eligible for request classification",
				"request_id", req.RequestID,
				"model", modelID,
				"classification", req.Classification)
			exclusions := make([]AttemptFailure, 0, len(exclErr.Exclusions))
			for _, ex := range exclErr.Exclusions {
				exclusions = append(exclusions, AttemptFailure{Provider: ex.Provider, Reason: ex.Reason})
			}
			return nil, &AggregateDispatchError{Model: modelID, Attempts: exclusions}
		}
		return nil, err
	}

	callerKey := req.APIKeyID
	if callerKey == "" {
		callerKey = "anonymous"
	}

	attempts := make([]AttemptFailure, 0, len(candidates))
	openSkips := 0

	for i, cand := range candidates {
		if i > 0 {
			if d.stats != nil {
				d.stats.RecordFallback()
			}
			if d.metrics != nil && cfg.EnableMetrics {
				d.metrics.RecordFallback(modelID)
			}
			d.logger.Info("falling back to next provider",
				"request_id", req.RequestID,
				"provider", cand.Provider,
				"model", cand.Model,
				"attempt", i+1)
			if delay := cfg.FallbackDelayDuration(); delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		}

		br := d.breakers.Get(cand.Provider)
		if cfg.EnableCircuitBreaker && !br.Allow(cfg.CircuitBreakerTimeoutDuration()) {
			if d.metrics != nil && cfg.EnableMetrics {
				d.metrics.RecordCircuitOpen(cand.Provider)
			}
			attempts = append(attempts, AttemptFailure{Provider: cand.Provider, Reason: "circuit breaker open"})
			openSkips++
			continue
		}

		if err := cand.Adapter.ValidateConfig(); err != nil {
			if cfg.EnableCircuitBreaker {
				br.CancelProbe()
			}
			var cfgErr *adapters.InvalidProviderConfigError
			if i == 0 && errors.As(err, &cfgErr) && cfgErr.Field == "api_key" {
				return nil, &UnauthorizedError{Provider: cand.Provider}
			}
			d.logger.Warn("skipping provider with incomplete configuration",
				"request_id", req.RequestID, "provider", cand.Provider)
			attempts = append(attempts, AttemptFailure{Provider: cand.Provider, Reason: "provider not configured"})
			continue
		}

		if cfg.EnableRateLimiting {
			res := d.limiter.Allow(cand.Provider+"|"+callerKey, cfg.RateLimitMaxRequests, cfg.RateLimitWindowDuration())
			if !res.Allowed {
				if cfg.EnableCircuitBreaker {
					br.CancelProbe()
				}
				if d.metrics != nil && cfg.EnableMetrics {
					d.metrics.RecordRateLimitHit("provider_window", cand.Provider)
				}
				rlErr := &RateLimitExceededError{Provider: cand.Provider, RetryAfter: res.RetryAfter}
				attempts = append(attempts, AttemptFailure{Provider: cand.Provider, Reason: rlErr.Error()})
				continue
			}
		}

		if cfg.EnableCostTracking && cfg.MaxCostPerRequest > 0 {
			if est := cost.Estimate(req, cand.Info.Pricing); est > cfg.MaxCostPerRequest {
				if cfg.EnableCircuitBreaker {
					br.CancelProbe()
				}
				return nil, &CostCeilingExceededError{
					Model:        cand.Model,
					EstimatedUSD: est,
					CeilingUSD:   cfg.MaxCostPerRequest,
				}
			}
		}

		upstreamStart := time.Now()
		resp, err := d.invoke(ctx, cand, req, onEvent)
		upstreamTook := time.Since(upstreamStart)

		if err != nil {
			transient := isTransient(err)
			if cfg.EnableCircuitBreaker {
				br.RecordFailure(cfg.CircuitBreakerThreshold)
			}
			d.health.RecordFailure(cand.Provider)
			if d.metrics != nil && cfg.EnableMetrics {
				d.metrics.RecordProviderError(cand.Provider, transient)
			}
			d.logger.Warn("provider call failed",
				"request_id", req.RequestID,
				"provider", cand.Provider,
				"model", cand.Model,
				"transient", transient,
				"error", err)
			attempts = append(attempts, AttemptFailure{Provider: cand.Provider, Reason: upstreamReason(err)})
			if !transient {
				if d.stats != nil {
					d.stats.RecordFailure()
				}
				d.recordRequest(cfg, req, cand.Model, cand.Provider, "error", types.Usage{}, 0, start, upstreamTook)
				return nil, &UpstreamProviderError{Provider: cand.Provider, Transient: false, Reason: upstreamReason(err), Err: err}
			}
			continue
		}

		if cfg.EnableCircuitBreaker {
			br.RecordSuccess()
		}
		d.health.RecordSuccess(cand.Provider)

		resp.RequestID = req.RequestID
		resp.Model = cand.Model
		resp.Provider = cand.Provider

		// Redaction happens before the cache write so stored entries are
		// already clean. Delta events were emitted live and are not revisited.
		if cfg.EnableResponseSanitization && d.sanitizer != nil {
			sanitizeResponse(d.sanitizer, resp)
		}

		var actualCost float64
		if cfg.EnableCostTracking {
			actualCost = cost.Calculate(cand.Info.Pricing, resp.Usage)
			resp.EstimatedCostUSD = actualCost
			if d.costs.Record(cand.Provider, cand.Model, actualCost, cfg.BudgetAlert) {
				d.logger.Warn("budget alert threshold crossed",
					"total_usd", d.costs.Total().TotalCostUSD,
					"threshold_usd", cfg.BudgetAlert)
				if d.metrics != nil {
					d.metrics.SetBudgetAlert(true)
				}
			}
			if d.budget != nil && req.TeamID != "" {
				cents := int64(math.Round(actualCost * 100))
				if err := d.budget.RecordSpend(ctx, req.TeamID, cents); err != nil {
					d.logger.Warn("recording team spend failed", "team", req.TeamID, "error", err)
				}
			}
		}

		if cacheable {
			d.cache.Put(fingerprint, resp, cfg.CacheTTLDuration(), cfg.CacheMaxSize)
		}

		if d.stats != nil {
			d.stats.RecordSuccess()
		}
		d.recordRequest(cfg, req, cand.Model, cand.Provider, "success", resp.Usage, actualCost, start, upstreamTook)
		d.enqueueUsage(req, resp, actualCost, false)

		if cfg.EnableDetailedLogging {
			d.logger.Info("request dispatched",
				"request_id", req.RequestID,
				"provider", cand.Provider,
				"model", cand.Model,
				"attempt", i+1,
				"duration_ms", time.Since(start).Milliseconds(),
				"prompt_tokens", resp.Usage.PromptTokens,
				"completion_tokens", resp.Usage.CompletionTokens,
				"cost_usd", actualCost)
		} else {
			d.logger.Debug("request dispatched",
				"request_id", req.RequestID,
				"provider", cand.Provider,
				"duration_ms", time.Since(start).Milliseconds())
		}
		return resp, nil
	}

	if d.stats != nil {
		d.stats.RecordFailure()
	}
	d.recordRequest(cfg, req, modelID, "", "error", types.Usage{}, 0, start, 0)

	// When no candidate ever got past its breaker the failure is purely
	// availability, so report it as such rather than as a provider error.
	if openSkips == len(candidates) {
		last := candidates[len(candidates)-1]
		d.logger.Error("all candidate circuits open",
			"request_id", req.RequestID, "model", modelID, "candidates", len(candidates))
		return nil, &CircuitOpenError{Provider: last.Provider}
	}

	d.logger.Error("all candidates exhausted",
		"request_id", req.RequestID, "model", modelID, "attempts", len(attempts))
	return nil, &AggregateDispatchError{Model: modelID, Attempts: attempts}
}

// invoke chooses between the streaming and blocking adapter call. Streaming
// needs a listener, a request that wants incremental delivery and a model
// that can produce it.
func (d *Dispatcher) invoke(ctx context.Context, cand router.Candidate, req *types.SkyrailRequest, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error) {
	if onEvent != nil && (req.Stream || req.Background) && cand.Info.SupportsStreaming {
		return cand.Adapter.InvokeStream(ctx, req, cand.Info.UpstreamName, onEvent)
	}
	return cand.Adapter.Invoke(ctx, req, cand.Info.UpstreamName)
}

// sanitizeResponse redacts secret material from the response output fields
// in place.
func sanitizeResponse(s *secrets.Scanner, resp *types.SkyrailResponse) {
	resp.OutputText, _ = s.Redact(resp.OutputText)
	if resp.ReasoningSummary != "" {
		resp.ReasoningSummary, _ = s.Redact(resp.ReasoningSummary)
	}
	for i := range resp.Output {
		resp.Output[i].Content, _ = s.Redact(resp.Output[i].Content)
	}
}

func validateRequest(req *types.SkyrailRequest, cfg config.GatewayConfig) error {
	if len(req.Input) == 0 {
		return &ValidationError{Message: "input is required and must be a non-empty array"}
	}
	for _, msg := range req.Input {
		if msg.Role == "" {
			return &ValidationError{Message: "every input message requires a role"}
		}
	}
	if cfg.ProviderSelectionStrategy == config.StrategyManual && req.Model == "" {
		return &ValidationError{Message: "model is required when provider selection is manual"}
	}
	return nil
}

func (d *Dispatcher) recordRequest(cfg config.GatewayConfig, req *types.SkyrailRequest, model, provider, status string, u types.Usage, costUSD float64, start time.Time, upstream time.Duration) {
	if d.metrics == nil || !cfg.EnableMetrics {
		return
	}
	total := time.Since(start)
	overhead := total - upstream
	if overhead < 0 {
		overhead = 0
	}
	d.metrics.RecordRequest(telemetry.RequestLabels{
		Org:              req.OrganizationID,
		Team:             req.TeamID,
		Model:            model,
		Provider:         provider,
		Status:           status,
		Classification:   string(req.Classification),
		DurationMs:       float64(total.Microseconds()) / 1000.0,
		OverheadMs:       float64(overhead.Microseconds()) / 1000.0,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CostUSD:          costUSD,
	})
}

func (d *Dispatcher) enqueueUsage(req *types.SkyrailRequest, resp *types.SkyrailResponse, costUSD float64, cached bool) {
	if d.usage == nil {
		return
	}
	d.usage.Record(usage.Record{
		RequestID:        req.RequestID,
		APIKeyID:         req.APIKeyID,
		OrganizationID:   req.OrganizationID,
		TeamID:           req.TeamID,
		UserID:           req.UserID,
		Model:            resp.Model,
		Provider:         resp.Provider,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		ReasoningTokens:  resp.Usage.ReasoningTokens,
		CostUSD:          costUSD,
		Cached:           cached,
		CreatedAt:        time.Now().UTC(),
	})
}

// isTransient classifies an upstream failure. Transient failures move the
// dispatch to the next candidate; permanent ones fail it immediately, since
// retrying a malformed request elsewhere cannot succeed.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *adapters.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode >= 500 {
			return true
		}
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout
	}
	// Network-level failures (connection refused, reset, DNS) are worth a
	// retry against another provider.
	return true
}

// upstreamReason reduces an upstream failure to a short description safe for
// error envelopes and task logs. Upstream response bodies stay out of it; the
// full error goes to the logs.
func upstreamReason(err error) string {
	var httpErr *adapters.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("upstream status %d", httpErr.StatusCode)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "request cancelled or timed out"
	}
	return "upstream request failed"
}

// HTTPStatus maps a dispatch error to the status code the route layer should
// answer with.
func HTTPStatus(err error) int {
	var (
		validation  *ValidationError
		unauth      *UnauthorizedError
		unkModel    *router.UnknownModelError
		unkProvider *router.UnknownProviderError
		rateLimited *RateLimitExceededError
		circuitOpen *CircuitOpenError
		costCeiling *CostCeilingExceededError
		upstream    *UpstreamProviderError
		aggregate   *AggregateDispatchError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &unauth):
		return http.StatusUnauthorized
	case errors.As(err, &unkModel), errors.As(err, &unkProvider):
		return http.StatusNotFound
	case errors.As(err, &rateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &circuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &costCeiling):
		return http.StatusPaymentRequired
	case errors.As(err, &upstream), errors.As(err, &aggregate):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType names a dispatch error for the JSON error envelope.
func ErrorType(err error) string {
	var (
		validation  *ValidationError
		unauth      *UnauthorizedError
		unkModel    *router.UnknownModelError
		unkProvider *router.UnknownProviderError
		rateLimited *RateLimitExceededError
		circuitOpen *CircuitOpenError
		costCeiling *CostCeilingExceededError
		upstream    *UpstreamProviderError
		aggregate   *AggregateDispatchError
	)
	switch {
	case errors.As(err, &validation):
		return "validation_error"
	case errors.As(err, &unauth):
		return "unauthorized"
	case errors.As(err, &unkModel):
		return "model_not_found"
	case errors.As(err, &unkProvider):
		return "provider_not_found"
	case errors.As(err, &rateLimited):
		return "rate_limit_exceeded"
	case errors.As(err, &circuitOpen):
		return "circuit_open"
	case errors.As(err, &costCeiling):
		return "cost_ceiling_exceeded"
	case errors.As(err, &upstream):
		return "upstream_error"
	case errors.As(err, &aggregate):
		return "all_providers_failed"
	default:
		return "internal_error"
	}
}
