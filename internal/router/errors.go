package router

import (
	"fmt"
	"strings"
)

// UnknownModelError is returned when a model id is not in the catalog.
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("Model %s not found", e.Model)
}

// UnknownProviderError is returned when a model's provider prefix does not
// match any registered provider and no default provider is configured.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("Provider %s not found", e.Provider)
}

// ProviderExclusion records why one registered provider was removed from a
// candidate list before dispatch.
type ProviderExclusion struct {
	Provider string
	Reason   string
}

// NoEligibleProviderError is returned when providers are registered for a
// model but every one was excluded from the candidate list. Exclusions hold
// the per-provider reasons in the order the providers were considered.
type NoEligibleProviderError struct {
	Model      string
	Exclusions []ProviderExclusion
}

func (e *NoEligibleProviderError) Error() string {
	reasons := make([]string, 0, len(e.Exclusions))
	for _, ex := range e.Exclusions {
		reasons = append(reasons, ex.Provider+": "+ex.Reason)
	}
	return fmt.Sprintf("No eligible provider for model %s: %s", e.Model, strings.Join(reasons, "; "))
}
