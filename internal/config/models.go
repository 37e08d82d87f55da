package config

// CatalogConfig describes the models the gateway serves. Map keys are
// gateway model IDs in provider-prefixed form ("openai/gpt-4o").
type CatalogConfig struct {
	DefaultModel string               `yaml:"default_model"`
	Models       map[string]ModelInfo `yaml:"models"`
}

// ModelInfo is the static metadata for one model. Provider and UpstreamName
// default to the two halves of the prefixed ID when left empty.
type ModelInfo struct {
	ID                string   `yaml:"-" json:"id"`
	Provider          string   `yaml:"provider" json:"provider"`
	UpstreamName      string   `yaml:"upstream_name" json:"upstream_name"`
	DisplayName       string   `yaml:"display_name" json:"display_name"`
	ContextWindow     int      `yaml:"context_window" json:"context_window"`
	SupportsStreaming bool     `yaml:"supports_streaming" json:"supports_streaming"`
	SupportsReasoning bool     `yaml:"supports_reasoning" json:"supports_reasoning"`
	Pricing           Pricing  `yaml:"pricing" json:"pricing"`
	Fallbacks         []string `yaml:"fallbacks" json:"fallbacks,omitempty"`
}

// Pricing is USD per 1000 tokens.
type Pricing struct {
	Input     float64 `yaml:"input" json:"input"`
	Output    float64 `yaml:"output" json:"output"`
	Reasoning float64 `yaml:"reasoning" json:"reasoning"`
}
