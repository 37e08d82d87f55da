package gateway

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError rejects a malformed request before any provider work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UnauthorizedError means the resolved provider has no usable credential.
type UnauthorizedError struct {
	Provider string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("No credential configured for provider %s", e.Provider)
}

// RateLimitExceededError rejects a candidate whose window is exhausted.
// Other candidates may still be tried within the same dispatch.
type RateLimitExceededError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("Rate limit exceeded for provider %s, retry after %dms", e.Provider, e.RetryAfter.Milliseconds())
}

// CircuitOpenError marks a candidate skipped because its breaker is open.
// Surfaced to the caller only when no other candidate succeeds.
type CircuitOpenError struct {
	Provider string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("Circuit breaker open for provider %s", e.Provider)
}

// CostCeilingExceededError rejects the whole request before dispatch when
// the projected cost is over maxCostPerRequest.
type CostCeilingExceededError struct {
	Model        string
	EstimatedUSD float64
	CeilingUSD   float64
}

func (e *CostCeilingExceededError) Error() string {
	return fmt.Sprintf("Estimated cost $%.6f for model %s exceeds the per-request ceiling $%.6f", e.EstimatedUSD, e.Model, e.CeilingUSD)
}

// UpstreamProviderError wraps a failure returned by one provider attempt.
// Transient failures trigger fallback to the next candidate; non-transient
// ones fail the dispatch immediately. Reason is a short client-safe
// description; the full error is kept in Err for logs and unwrapping only,
// so upstream response bodies never reach an error envelope.
type UpstreamProviderError struct {
	Provider  string
	Transient bool
	Reason    string
	Err       error
}

func (e *UpstreamProviderError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("Provider %s failed", e.Provider)
	}
	return fmt.Sprintf("Provider %s failed: %s", e.Provider, e.Reason)
}

func (e *UpstreamProviderError) Unwrap() error {
	return e.Err
}

// AttemptFailure records why one candidate did not produce a response.
type AttemptFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// AggregateDispatchError reports a dispatch whose every candidate failed or
// was skipped, with the per-provider reasons in attempt order.
type AggregateDispatchError struct {
	Model    string
	Attempts []AttemptFailure
}

func (e *AggregateDispatchError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, attempt := range e.Attempts {
		reasons = append(reasons, attempt.Provider+": "+attempt.Reason)
	}
	return fmt.Sprintf("All providers failed for model %s: %s", e.Model, strings.Join(reasons, "; "))
}

// InternalError wraps an unexpected fault. The underlying error is kept for
// logs; Error() stays generic so internals never leak to callers.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return "Internal gateway error"
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
