package cost

import (
	"math"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

const (
	// Rough chars-per-token ratio used for pre-flight estimates. Upstream
	// tokenizers differ per model; precision here only needs to be good
	// enough for ceiling checks.
	estCharsPerToken = 4

	// Output and reasoning allowances assumed when the request does not
	// bound them itself.
	estOutputTokens    = 1024
	estReasoningTokens = 1024

	costPrecision = 1e6
)

// Calculate prices a request from its token counts: tokens are billed per
// thousand against the model's pricing table, rounded to six decimal places.
func Calculate(pricing config.Pricing, usage types.Usage) float64 {
	cost := float64(usage.PromptTokens)/1000*pricing.Input +
		float64(usage.CompletionTokens)/1000*pricing.Output +
		float64(usage.ReasoningTokens)/1000*pricing.Reasoning
	return math.Round(cost*costPrecision) / costPrecision
}

// EstimateUsage projects token counts for a request that has not been sent
// yet. Input tokens come from message length; output and reasoning tokens
// use fixed allowances unless the request caps them via MaxTokens.
func EstimateUsage(req *types.SkyrailRequest) types.Usage {
	var inputChars int
	for _, msg := range req.Input {
		inputChars += len(msg.Role) + len(msg.Content)
	}

	usage := types.Usage{
		PromptTokens:     inputChars / estCharsPerToken,
		CompletionTokens: estOutputTokens,
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		usage.CompletionTokens = *req.MaxTokens
	}
	if req.Reasoning != nil {
		usage.ReasoningTokens = estReasoningTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens + usage.ReasoningTokens
	return usage
}

// Estimate projects the cost of dispatching req against a model's pricing.
func Estimate(req *types.SkyrailRequest, pricing config.Pricing) float64 {
	return Calculate(pricing, EstimateUsage(req))
}
