package types

import "time"

// SkyrailRequest is the canonical internal representation of an incoming AI request.
// All provider-specific formats are converted to/from this type.
type SkyrailRequest struct {
	// Identity (set by auth middleware)
	RequestID      string         `json:"request_id"`
	OrganizationID string         `json:"organization_id"`
	TeamID         string         `json:"team_id"`
	UserID         string         `json:"user_id"`
	APIKeyID       string         `json:"api_key_id"`
	Classification Classification `json:"classification"`

	// Request content
	Model       string           `json:"model"`
	Input       []Message        `json:"input"`
	Stream      bool             `json:"stream"`
	Background  bool             `json:"background"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`

	// Metadata
	SkipCache bool `json:"skip_cache,omitempty"`

	// Internal tracking
	ReceivedAt time.Time `json:"-"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ReasoningConfig controls extended-thinking behavior for models that support it.
type ReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`  // minimal, low, medium, high
	Summary string `json:"summary,omitempty"` // auto, concise, detailed
}
