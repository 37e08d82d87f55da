package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
gateway:
  providerSelectionStrategy: manual
  maxFallbackAttempts: 4
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg := DefaultConfig()
	if err := LoadFile(tmpFile.Name(), cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Gateway.ProviderSelectionStrategy != StrategyManual {
		t.Errorf("expected manual strategy, got %s", cfg.Gateway.ProviderSelectionStrategy)
	}
	if cfg.Gateway.MaxFallbackAttempts != 4 {
		t.Errorf("expected maxFallbackAttempts 4, got %d", cfg.Gateway.MaxFallbackAttempts)
	}
	// Keys absent from the file keep their defaults.
	if !cfg.Gateway.EnableCaching {
		t.Error("expected caching to stay enabled by default")
	}
	if cfg.Gateway.CircuitBreakerThreshold != 5 {
		t.Errorf("expected default breaker threshold 5, got %d", cfg.Gateway.CircuitBreakerThreshold)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"gateway.yaml": `
server:
  port: 8181
gateway:
  cacheTTL: 60000
`,
		"models.yaml": `
default_model: openai/gpt-4o
models:
  openai/gpt-4o:
    display_name: GPT-4o
    context_window: 128000
    supports_streaming: true
    pricing:
      input: 0.0025
      output: 0.01
    fallbacks:
      - anthropic/claude-sonnet-4
  anthropic/claude-sonnet-4:
    display_name: Claude Sonnet 4
    context_window: 200000
    supports_streaming: true
    pricing:
      input: 0.003
      output: 0.015
`,
		"providers.yaml": `
default_provider: openai
providers:
  - name: openai
    type: openai
    base_url: https://api.openai.com/v1
    api_key: ${OPENAI_API_KEY:}
    default_model: openai/gpt-4o
  - name: anthropic
    type: anthropic
    base_url: https://api.anthropic.com
    api_key: ${ANTHROPIC_API_KEY:}
    default_model: anthropic/claude-sonnet-4
`,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	loader := NewLoader(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := loader.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := loader.Config().Server.Port; got != 8181 {
		t.Errorf("expected port 8181, got %d", got)
	}
	if got := loader.Config().Gateway.CacheTTL; got != 60000 {
		t.Errorf("expected cacheTTL 60000, got %d", got)
	}

	catalog := loader.Catalog()
	if catalog.DefaultModel != "openai/gpt-4o" {
		t.Errorf("expected default model openai/gpt-4o, got %s", catalog.DefaultModel)
	}
	if len(catalog.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(catalog.Models))
	}
	if catalog.Models["openai/gpt-4o"].Pricing.Output != 0.01 {
		t.Errorf("unexpected output pricing: %v", catalog.Models["openai/gpt-4o"].Pricing.Output)
	}
	if len(catalog.Models["openai/gpt-4o"].Fallbacks) != 1 {
		t.Errorf("expected 1 explicit fallback, got %d", len(catalog.Models["openai/gpt-4o"].Fallbacks))
	}

	providers := loader.Providers()
	if providers.DefaultProvider != "openai" {
		t.Errorf("expected default provider openai, got %s", providers.DefaultProvider)
	}
	if len(providers.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers.Providers))
	}
	if providers.Providers[0].Name != "openai" || providers.Providers[1].Name != "anthropic" {
		t.Errorf("provider order not preserved: %s, %s", providers.Providers[0].Name, providers.Providers[1].Name)
	}
}

func TestLoaderLoad_MissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := loader.Load(); err == nil {
		t.Error("expected error for missing config files")
	}
}
