package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/router/adapters"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// Descriptor is the registration record for one provider. Immutable after
// registration.
type Descriptor struct {
	Name    string
	Type    string
	Config  config.ProviderConfig
	Adapter adapters.ProviderAdapter
	Ceiling types.Classification // empty means no ceiling
}

// Candidate is one (provider, model) pair the dispatcher may attempt.
type Candidate struct {
	Provider string
	Model    string
	Info     config.ModelInfo
	Adapter  adapters.ProviderAdapter
}

// Registry maps model ids to provider adapters and their static metadata.
// Registration order is significant: candidates without an explicit fallback
// route are tried in this order.
type Registry struct {
	mu              sync.RWMutex
	order           []string
	byName          map[string]*Descriptor
	models          map[string]config.ModelInfo
	defaultProvider string
	defaultModel    string
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		models: make(map[string]config.ModelInfo),
	}
}

func (r *Registry) Register(desc *Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[desc.Name]; exists {
		return fmt.Errorf("provider %s registered twice", desc.Name)
	}
	r.order = append(r.order, desc.Name)
	r.byName[desc.Name] = desc
	return nil
}

// AddModel registers catalog metadata for one model. Provider and
// UpstreamName default to the two halves of the prefixed id.
func (r *Registry) AddModel(info config.ModelInfo) {
	prefix, rest, found := strings.Cut(info.ID, "/")
	if info.Provider == "" && found {
		info.Provider = prefix
	}
	if info.UpstreamName == "" {
		if found {
			info.UpstreamName = rest
		} else {
			info.UpstreamName = info.ID
		}
	}
	if info.DisplayName == "" {
		info.DisplayName = info.UpstreamName
	}

	r.mu.Lock()
	r.models[info.ID] = info
	r.mu.Unlock()
}

func (r *Registry) SetDefaults(provider, model string) {
	r.mu.Lock()
	r.defaultProvider = provider
	r.defaultModel = model
	r.mu.Unlock()
}

// ReplaceAll swaps the registry contents for those of src, which must be
// freshly built and not shared. Used on config reload.
func (r *Registry) ReplaceAll(src *Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = src.order
	r.byName = src.byName
	r.models = src.models
	r.defaultProvider = src.defaultProvider
	r.defaultModel = src.defaultModel
}

func (r *Registry) DefaultProvider() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultProvider
}

func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

func (r *Registry) Adapter(name string) (adapters.ProviderAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return d.Adapter, true
}

func (r *Registry) Provider(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Providers returns descriptors in registration order.
func (r *Registry) Providers() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// ProviderForModel parses the provider prefix (text before the first "/")
// and returns the owning provider, falling back to the default provider when
// the prefix is unrecognized.
func (r *Registry) ProviderForModel(modelID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix, _, _ := strings.Cut(modelID, "/")
	if _, ok := r.byName[prefix]; ok {
		return prefix, nil
	}
	if r.defaultProvider != "" {
		return r.defaultProvider, nil
	}
	return "", &UnknownProviderError{Provider: prefix}
}

// ValidateModel reports whether the model id is in the catalog.
func (r *Registry) ValidateModel(modelID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[modelID]
	return ok
}

func (r *Registry) ModelInfo(modelID string) (config.ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.models[modelID]
	return info, ok
}

// ListModels returns catalog entries sorted by id.
func (r *Registry) ListModels() []config.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ModelInfo, 0, len(r.models))
	for _, info := range r.models {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveModel canonicalizes a requested model id. Automatic strategy fills
// in the catalog default for an empty model and tries the default provider's
// prefix for an unprefixed one; manual strategy requires an exact catalog id.
func (r *Registry) ResolveModel(requested, strategy string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if requested == "" && strategy != config.StrategyManual {
		requested = r.defaultModel
	}
	if _, ok := r.models[requested]; ok {
		return requested, nil
	}
	if strategy != config.StrategyManual && !strings.Contains(requested, "/") && r.defaultProvider != "" {
		inferred := r.defaultProvider + "/" + requested
		if _, ok := r.models[inferred]; ok {
			return inferred, nil
		}
	}
	return "", &UnknownModelError{Model: requested}
}

// Candidates builds the ordered attempt list for one dispatch: the model's
// own provider first, then its explicit fallback routes, then the remaining
// providers in registration order via their default models. Providers whose
// classification ceiling is below the request classification are excluded;
// when the exclusions leave the list empty the NoEligibleProviderError names
// each excluded provider and why. The list is capped at 1+maxFallbackAttempts
// entries when fallback is enabled, 1 otherwise.
func (r *Registry) Candidates(modelID string, gcfg config.GatewayConfig, class types.Classification) ([]Candidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.models[modelID]
	if !ok {
		return nil, &UnknownModelError{Model: modelID}
	}

	max := 1
	if gcfg.EnableFallback && gcfg.MaxFallbackAttempts > 0 {
		max += gcfg.MaxFallbackAttempts
	}

	seen := make(map[string]bool, max)
	out := make([]Candidate, 0, max)
	var excluded []ProviderExclusion
	add := func(mi config.ModelInfo) {
		if len(out) >= max || seen[mi.Provider] {
			return
		}
		desc, ok := r.byName[mi.Provider]
		if !ok {
			return
		}
		if desc.Ceiling != "" && class != "" && !desc.Ceiling.Allows(class) {
			seen[mi.Provider] = true
			excluded = append(excluded, ProviderExclusion{
				Provider: mi.Provider,
				Reason:   fmt.Sprintf("ceiling %s below data classification %s", desc.Ceiling, class),
			})
			return
		}
		seen[mi.Provider] = true
		out = append(out, Candidate{Provider: mi.Provider, Model: mi.ID, Info: mi, Adapter: desc.Adapter})
	}

	add(info)
	for _, fb := range info.Fallbacks {
		if mi, ok := r.models[fb]; ok {
			add(mi)
		}
	}
	for _, name := range r.order {
		if len(out) >= max {
			break
		}
		if seen[name] {
			continue
		}
		if dm := r.byName[name].Config.DefaultModel; dm != "" {
			if mi, ok := r.models[dm]; ok {
				add(mi)
			}
		}
	}

	if len(out) == 0 {
		if len(excluded) > 0 {
			return nil, &NoEligibleProviderError{Model: modelID, Exclusions: excluded}
		}
		return nil, &UnknownProviderError{Provider: info.Provider}
	}
	return out, nil
}

// BuildFromConfig builds the registry from the providers and models config.
func BuildFromConfig(provCfg *config.ProvidersConfig, catalog *config.CatalogConfig, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry()

	for id, info := range catalog.Models {
		info.ID = id
		registry.AddModel(info)
	}

	modelsByProvider := make(map[string][]string)
	for _, info := range registry.ListModels() {
		modelsByProvider[info.Provider] = append(modelsByProvider[info.Provider], info.ID)
	}

	for _, cfg := range provCfg.Providers {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		// No client-level timeout: it would cut off long streaming responses.
		// Non-streaming calls bound their context instead.
		client := &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:          cfg.MaxConcurrent,
				MaxIdleConnsPerHost:   cfg.MaxConcurrent,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: timeout,
				ForceAttemptHTTP2:     true,
			},
		}

		supported := modelsByProvider[cfg.Name]

		var adapter adapters.ProviderAdapter
		switch cfg.Type {
		case "anthropic":
			adapter = adapters.NewAnthropicAdapter(cfg, supported, client)
		case "openai":
			adapter = adapters.NewOpenAIAdapter(cfg, supported, client)
		default:
			// Unknown types are treated as OpenAI-compatible
			adapter = adapters.NewOpenAIAdapter(cfg, supported, client)
		}

		if err := adapter.ValidateConfig(); err != nil {
			logger.Warn("provider configuration incomplete, requests to it will be rejected",
				"provider", cfg.Name, "error", err)
		}

		var ceiling types.Classification
		if cfg.ClassificationCeiling != "" {
			parsed, ok := types.ParseClassification(cfg.ClassificationCeiling)
			if !ok {
				return nil, fmt.Errorf("provider %s: invalid classification_ceiling %q", cfg.Name, cfg.ClassificationCeiling)
			}
			ceiling = parsed
		}

		if err := registry.Register(&Descriptor{
			Name:    cfg.Name,
			Type:    cfg.Type,
			Config:  cfg,
			Adapter: adapter,
			Ceiling: ceiling,
		}); err != nil {
			return nil, err
		}
	}

	if provCfg.DefaultProvider != "" {
		if _, ok := registry.Provider(provCfg.DefaultProvider); !ok {
			return nil, fmt.Errorf("default_provider %s is not a registered provider", provCfg.DefaultProvider)
		}
	}
	if catalog.DefaultModel != "" && !registry.ValidateModel(catalog.DefaultModel) {
		return nil, fmt.Errorf("default_model %s is not in the catalog", catalog.DefaultModel)
	}
	registry.SetDefaults(provCfg.DefaultProvider, catalog.DefaultModel)

	for _, info := range registry.ListModels() {
		if _, ok := registry.Provider(info.Provider); !ok {
			logger.Warn("model references unregistered provider", "model", info.ID, "provider", info.Provider)
		}
	}

	return registry, nil
}
