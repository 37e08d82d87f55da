package adapters

import (
	"context"
	"fmt"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
	"github.com/skyrail-ai/skyrail-gateway/internal/types"
)

// ProviderAdapter is the capability surface the dispatcher needs from one
// upstream provider: config validation plus blocking and streaming
// invocation in the gateway's canonical request/response format.
type ProviderAdapter interface {
	Name() string
	ValidateConfig() error
	DefaultConfig() config.ProviderConfig
	SupportedModels() []string
	SupportsStreaming() bool

	// Invoke performs one blocking upstream call. upstreamModel is the
	// provider's own model name, not the gateway catalog id.
	Invoke(ctx context.Context, req *types.SkyrailRequest, upstreamModel string) (*types.SkyrailResponse, error)

	// InvokeStream performs one streaming call, emitting normalized text
	// delta events as they arrive and returning the accumulated final
	// response once the upstream stream ends.
	InvokeStream(ctx context.Context, req *types.SkyrailRequest, upstreamModel string, onEvent func(types.StreamEvent)) (*types.SkyrailResponse, error)
}

// InvalidProviderConfigError reports a provider configuration that cannot
// serve requests, such as a missing credential or base URL.
type InvalidProviderConfigError struct {
	Provider string
	Field    string
	Reason   string
}

func (e *InvalidProviderConfigError) Error() string {
	return fmt.Sprintf("provider %s: invalid %s: %s", e.Provider, e.Field, e.Reason)
}

// HTTPError is a non-2xx upstream reply. The dispatcher classifies it as
// transient or permanent by status code.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, body)
}
