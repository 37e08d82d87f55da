package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// fingerprintPayload fixes the field order so the hash is stable across
// processes. Maps are deliberately absent.
type fingerprintPayload struct {
	Model       string                 `json:"model"`
	Input       []types.Message        `json:"input"`
	Reasoning   *types.ReasoningConfig `json:"reasoning,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
}

// Fingerprint derives the cache key for a request: a SHA-256 over the
// parameters that determine the response. Two requests with equal
// fingerprints are interchangeable for caching purposes.
func Fingerprint(req *types.SkyrailRequest) string {
	payload := fingerprintPayload{
		Model:       req.Model,
		Input:       req.Input,
		Reasoning:   req.Reasoning,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of plain structs and strings cannot fail; guard anyway.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
