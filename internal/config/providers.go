package config

import "time"

// ProvidersConfig lists upstream providers. Order is significant: fallback
// candidates without an explicit route are tried in this order.
type ProvidersConfig struct {
	DefaultProvider string           `yaml:"default_provider"`
	Providers       []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Name                  string            `yaml:"name"`
	Type                  string            `yaml:"type"`
	BaseURL               string            `yaml:"base_url"`
	APIKey                string            `yaml:"api_key"`
	APIVersion            string            `yaml:"api_version,omitempty"`
	MaxConcurrent         int               `yaml:"max_concurrent"`
	Timeout               time.Duration     `yaml:"timeout"`
	Headers               map[string]string `yaml:"headers,omitempty"`
	DefaultModel          string            `yaml:"default_model"`
	ClassificationCeiling string            `yaml:"classification_ceiling"`
}
