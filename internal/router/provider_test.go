package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// fakeAdapter implements adapters.ProviderAdapter for testing.
type fakeAdapter struct {
	name string
}

func (f *fakeAdapter) Name() string                         { return f.name }
func (f *fakeAdapter) ValidateConfig() error                { return nil }
func (f *fakeAdapter) DefaultConfig() config.ProviderConfig { return config.ProviderConfig{} }
func (f *fakeAdapter) SupportedModels() []string            { return nil }
func (f *fakeAdapter) SupportsStreaming() bool              { return false }
func (f *fakeAdapter) Invoke(_ context.Context, _ *types.SkyrailRequest, _ string) (*types.SkyrailResponse, error) {
	return &types.SkyrailResponse{Provider: f.name}, nil
}
func (f *fakeAdapter) InvokeStream(_ context.Context, _ *types.SkyrailRequest, _ string, _ func(types.StreamEvent)) (*types.SkyrailResponse, error) {
	return &types.SkyrailResponse{Provider: f.name}, nil
}

type testProvider struct {
	name         string
	defaultModel string
	ceiling      types.Classification
}

func newTestRegistry(providers ...testProvider) *Registry {
	r := NewRegistry()
	for _, p := range providers {
		r.Register(&Descriptor{
			Name:    p.name,
			Type:    "openai",
			Config:  config.ProviderConfig{Name: p.name, DefaultModel: p.defaultModel},
			Adapter: &fakeAdapter{name: p.name},
			Ceiling: p.ceiling,
		})
	}
	return r
}

func fallbackConfig(attempts int) config.GatewayConfig {
	cfg := config.DefaultGatewayConfig()
	cfg.EnableFallback = true
	cfg.MaxFallbackAttempts = attempts
	return cfg
}

func TestProviderForModel_Prefix(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"}, testProvider{name: "anthropic"})

	provider, err := r.ProviderForModel("anthropic/claude-sonnet-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "anthropic" {
		t.Errorf("expected anthropic, got %s", provider)
	}
}

func TestProviderForModel_DefaultForUnknownPrefix(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})
	r.SetDefaults("openai", "")

	provider, err := r.ProviderForModel("mystery/model-x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider != "openai" {
		t.Errorf("expected default provider openai, got %s", provider)
	}
}

func TestProviderForModel_UnknownWithoutDefault(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})

	_, err := r.ProviderForModel("mystery/model-x")
	if err == nil {
		t.Fatal("expected error without a default provider")
	}
	var unknownProvider *UnknownProviderError
	if !errors.As(err, &unknownProvider) {
		t.Fatalf("expected UnknownProviderError, got %T", err)
	}
	if unknownProvider.Provider != "mystery" {
		t.Errorf("expected provider mystery in error, got %s", unknownProvider.Provider)
	}
}

func TestAddModel_FillsDefaultsFromID(t *testing.T) {
	r := NewRegistry()
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})

	info, ok := r.ModelInfo("openai/gpt-4o")
	if !ok {
		t.Fatal("expected model to be registered")
	}
	if info.Provider != "openai" {
		t.Errorf("expected provider openai, got %s", info.Provider)
	}
	if info.UpstreamName != "gpt-4o" {
		t.Errorf("expected upstream name gpt-4o, got %s", info.UpstreamName)
	}
}

func TestValidateModel(t *testing.T) {
	r := NewRegistry()
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})

	if !r.ValidateModel("openai/gpt-4o") {
		t.Error("expected known model to validate")
	}
	if r.ValidateModel("foo/bar") {
		t.Error("expected unknown model to fail validation")
	}
}

func TestResolveModel_AutomaticFillsDefault(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.SetDefaults("openai", "openai/gpt-4o")

	model, err := r.ResolveModel("", config.StrategyAutomatic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "openai/gpt-4o" {
		t.Errorf("expected default model, got %s", model)
	}
}

func TestResolveModel_AutomaticInfersPrefix(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.SetDefaults("openai", "openai/gpt-4o")

	model, err := r.ResolveModel("gpt-4o", config.StrategyAutomatic)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "openai/gpt-4o" {
		t.Errorf("expected inferred openai/gpt-4o, got %s", model)
	}
}

func TestResolveModel_ManualRequiresExactID(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.SetDefaults("openai", "openai/gpt-4o")

	if _, err := r.ResolveModel("gpt-4o", config.StrategyManual); err == nil {
		t.Error("expected error for unprefixed model in manual strategy")
	}

	model, err := r.ResolveModel("openai/gpt-4o", config.StrategyManual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "openai/gpt-4o" {
		t.Errorf("expected openai/gpt-4o, got %s", model)
	}
}

func TestResolveModel_UnknownModelErrorMessage(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})

	_, err := r.ResolveModel("foo/bar", config.StrategyAutomatic)
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "Model foo/bar not found" {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestCandidates_UnknownModel(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai"})

	_, err := r.Candidates("nonexistent", fallbackConfig(2), "")
	if err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestCandidates_PrimaryOnlyWhenFallbackDisabled(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o"},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4"},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})

	cfg := fallbackConfig(2)
	cfg.EnableFallback = false

	candidates, err := r.Candidates("openai/gpt-4o", cfg, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Provider != "openai" {
		t.Errorf("expected openai, got %s", candidates[0].Provider)
	}
}

func TestCandidates_ExplicitFallbacksFirst(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o"},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4"},
		testProvider{name: "vertex", defaultModel: "vertex/gemini-pro"},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o", Fallbacks: []string{"vertex/gemini-pro"}})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})
	r.AddModel(config.ModelInfo{ID: "vertex/gemini-pro"})

	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	// Explicit fallback route ahead of registration-order fill
	if candidates[0].Provider != "openai" || candidates[1].Provider != "vertex" || candidates[2].Provider != "anthropic" {
		t.Errorf("unexpected order: %s, %s, %s", candidates[0].Provider, candidates[1].Provider, candidates[2].Provider)
	}
	if candidates[1].Model != "vertex/gemini-pro" {
		t.Errorf("expected fallback model vertex/gemini-pro, got %s", candidates[1].Model)
	}
}

func TestCandidates_RegistrationOrderFill(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o"},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4"},
		testProvider{name: "vertex", defaultModel: "vertex/gemini-pro"},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})
	r.AddModel(config.ModelInfo{ID: "vertex/gemini-pro"})

	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	if candidates[1].Provider != "anthropic" || candidates[2].Provider != "vertex" {
		t.Errorf("expected registration order, got %s then %s", candidates[1].Provider, candidates[2].Provider)
	}
}

func TestCandidates_CappedAtMaxFallbackAttempts(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o"},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4"},
		testProvider{name: "vertex", defaultModel: "vertex/gemini-pro"},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})
	r.AddModel(config.ModelInfo{ID: "vertex/gemini-pro"})

	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(1), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected primary + 1 fallback, got %d", len(candidates))
	}
}

func TestCandidates_DeduplicatesProviders(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o"},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4"},
	)
	// The explicit fallback is another model on the same provider
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o", Fallbacks: []string{"openai/gpt-4o-mini"}})
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o-mini"})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})

	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates after dedupe, got %d", len(candidates))
	}
	if candidates[1].Provider != "anthropic" {
		t.Errorf("expected anthropic as only fallback, got %s", candidates[1].Provider)
	}
}

func TestCandidates_ClassificationCeilingSkipsProvider(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o", ceiling: types.ClassInternal},
		testProvider{name: "internal_vllm", defaultModel: "internal_vllm/llama-70b", ceiling: types.ClassRestricted},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "internal_vllm/llama-70b"})

	// RESTRICTED data exceeds openai's INTERNAL ceiling
	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), types.ClassRestricted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	if candidates[0].Provider != "internal_vllm" {
		t.Errorf("expected internal_vllm, got %s", candidates[0].Provider)
	}
}

func TestCandidates_AllBelowCeiling_ReturnsError(t *testing.T) {
	r := newTestRegistry(
		testProvider{name: "openai", defaultModel: "openai/gpt-4o", ceiling: types.ClassInternal},
		testProvider{name: "anthropic", defaultModel: "anthropic/claude-sonnet-4", ceiling: types.ClassConfidential},
	)
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "anthropic/claude-sonnet-4"})

	_, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), types.ClassRestricted)
	if err == nil {
		t.Fatal("expected error when every provider is below the classification ceiling")
	}
	var noneEligible *NoEligibleProviderError
	if !errors.As(err, &noneEligible) {
		t.Fatalf("expected NoEligibleProviderError, got %T", err)
	}
	if noneEligible.Model != "openai/gpt-4o" {
		t.Errorf("expected model openai/gpt-4o in error, got %s", noneEligible.Model)
	}
	if len(noneEligible.Exclusions) != 2 {
		t.Fatalf("expected 2 exclusions, got %d", len(noneEligible.Exclusions))
	}
	if noneEligible.Exclusions[0].Provider != "openai" || noneEligible.Exclusions[1].Provider != "anthropic" {
		t.Errorf("unexpected exclusion order: %s, %s",
			noneEligible.Exclusions[0].Provider, noneEligible.Exclusions[1].Provider)
	}
	if !strings.Contains(noneEligible.Exclusions[0].Reason, "ceiling INTERNAL") {
		t.Errorf("exclusion reason missing the ceiling: %q", noneEligible.Exclusions[0].Reason)
	}
	if !strings.Contains(noneEligible.Exclusions[0].Reason, "RESTRICTED") {
		t.Errorf("exclusion reason missing the data classification: %q", noneEligible.Exclusions[0].Reason)
	}
}

func TestCandidates_UnregisteredProviderNotFound(t *testing.T) {
	r := NewRegistry()
	r.AddModel(config.ModelInfo{ID: "ghost/model-x"})

	_, err := r.Candidates("ghost/model-x", fallbackConfig(2), types.ClassRestricted)
	var unknownProvider *UnknownProviderError
	if !errors.As(err, &unknownProvider) {
		t.Fatalf("expected UnknownProviderError, got %T", err)
	}
	if unknownProvider.Provider != "ghost" {
		t.Errorf("expected provider ghost in error, got %s", unknownProvider.Provider)
	}
}

func TestCandidates_NoCeilingAllowsAll(t *testing.T) {
	r := newTestRegistry(testProvider{name: "openai", defaultModel: "openai/gpt-4o"})
	r.AddModel(config.ModelInfo{ID: "openai/gpt-4o"})

	candidates, err := r.Candidates("openai/gpt-4o", fallbackConfig(2), types.ClassRestricted)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
}

func TestBuildFromConfig_PreservesProviderOrder(t *testing.T) {
	provCfg := &config.ProvidersConfig{
		DefaultProvider: "openai",
		Providers: []config.ProviderConfig{
			{Name: "openai", Type: "openai", APIKey: "k1", DefaultModel: "openai/gpt-4o"},
			{Name: "anthropic", Type: "anthropic", APIKey: "k2", DefaultModel: "anthropic/claude-sonnet-4"},
		},
	}
	catalog := &config.CatalogConfig{
		DefaultModel: "openai/gpt-4o",
		Models: map[string]config.ModelInfo{
			"openai/gpt-4o":             {},
			"anthropic/claude-sonnet-4": {},
		},
	}

	r, err := BuildFromConfig(provCfg, catalog, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("BuildFromConfig failed: %v", err)
	}

	providers := r.Providers()
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].Name != "openai" || providers[1].Name != "anthropic" {
		t.Errorf("provider order not preserved: %s, %s", providers[0].Name, providers[1].Name)
	}
	if r.DefaultModel() != "openai/gpt-4o" {
		t.Errorf("expected default model openai/gpt-4o, got %s", r.DefaultModel())
	}
}

func TestBuildFromConfig_RejectsUnknownDefaultProvider(t *testing.T) {
	provCfg := &config.ProvidersConfig{
		DefaultProvider: "missing",
		Providers: []config.ProviderConfig{
			{Name: "openai", Type: "openai", APIKey: "k1"},
		},
	}
	catalog := &config.CatalogConfig{Models: map[string]config.ModelInfo{}}

	_, err := BuildFromConfig(provCfg, catalog, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for unregistered default provider")
	}
}

func TestBuildFromConfig_RejectsDuplicateProvider(t *testing.T) {
	provCfg := &config.ProvidersConfig{
		Providers: []config.ProviderConfig{
			{Name: "openai", Type: "openai", APIKey: "k1"},
			{Name: "openai", Type: "openai", APIKey: "k2"},
		},
	}
	catalog := &config.CatalogConfig{Models: map[string]config.ModelInfo{}}

	_, err := BuildFromConfig(provCfg, catalog, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for duplicate provider name")
	}
}
