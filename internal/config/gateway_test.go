package config

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDefaultGatewayConfig(t *testing.T) {
	cfg := DefaultGatewayConfig()

	if cfg.ProviderSelectionStrategy != StrategyAutomatic {
		t.Errorf("expected automatic strategy, got %s", cfg.ProviderSelectionStrategy)
	}
	if !cfg.EnableFallback || cfg.MaxFallbackAttempts != 2 {
		t.Errorf("unexpected fallback defaults: enabled=%v attempts=%d", cfg.EnableFallback, cfg.MaxFallbackAttempts)
	}
	if cfg.RateLimitWindow != 60000 || cfg.RateLimitMaxRequests != 60 {
		t.Errorf("unexpected rate limit defaults: window=%d max=%d", cfg.RateLimitWindow, cfg.RateLimitMaxRequests)
	}
	if cfg.CacheMaxSize != 1000 || cfg.CacheTTL != 300000 {
		t.Errorf("unexpected cache defaults: size=%d ttl=%d", cfg.CacheMaxSize, cfg.CacheTTL)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerTimeout != 30000 {
		t.Errorf("unexpected breaker defaults: threshold=%d timeout=%d", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerTimeout)
	}
	if cfg.MaxCostPerRequest != 0 {
		t.Errorf("per-request ceiling should default to disabled, got %v", cfg.MaxCostPerRequest)
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := GatewayConfig{
		FallbackDelay:         100,
		RateLimitWindow:       60000,
		CacheTTL:              300000,
		CircuitBreakerTimeout: 30000,
		HealthCheckInterval:   15000,
	}

	if cfg.FallbackDelayDuration() != 100*time.Millisecond {
		t.Errorf("FallbackDelayDuration = %v", cfg.FallbackDelayDuration())
	}
	if cfg.RateLimitWindowDuration() != time.Minute {
		t.Errorf("RateLimitWindowDuration = %v", cfg.RateLimitWindowDuration())
	}
	if cfg.CacheTTLDuration() != 5*time.Minute {
		t.Errorf("CacheTTLDuration = %v", cfg.CacheTTLDuration())
	}
	if cfg.CircuitBreakerTimeoutDuration() != 30*time.Second {
		t.Errorf("CircuitBreakerTimeoutDuration = %v", cfg.CircuitBreakerTimeoutDuration())
	}
	if cfg.HealthCheckIntervalDuration() != 15*time.Second {
		t.Errorf("HealthCheckIntervalDuration = %v", cfg.HealthCheckIntervalDuration())
	}
}

func TestRuntimeApply(t *testing.T) {
	rt := NewRuntime(DefaultGatewayConfig())

	threshold := 9
	enabled := false
	updated := rt.Apply(GatewayPatch{
		CircuitBreakerThreshold: &threshold,
		EnableCaching:           &enabled,
	})

	if updated.CircuitBreakerThreshold != 9 {
		t.Errorf("expected threshold 9, got %d", updated.CircuitBreakerThreshold)
	}
	if updated.EnableCaching {
		t.Error("expected caching disabled after patch")
	}
	// Untouched fields keep their previous values.
	if updated.MaxFallbackAttempts != 2 {
		t.Errorf("expected attempts unchanged at 2, got %d", updated.MaxFallbackAttempts)
	}
	if updated.RateLimitMaxRequests != 60 {
		t.Errorf("expected rate limit unchanged at 60, got %d", updated.RateLimitMaxRequests)
	}

	snap := rt.Snapshot()
	if snap.CircuitBreakerThreshold != 9 || snap.EnableCaching {
		t.Error("Apply result not visible via Snapshot")
	}
}

func TestRuntimeApply_UnknownKeysIgnored(t *testing.T) {
	var patch GatewayPatch
	body := `{"circuitBreakerThreshold": 7, "noSuchOption": true, "cacheTTL": 1000}`
	if err := json.Unmarshal([]byte(body), &patch); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}

	rt := NewRuntime(DefaultGatewayConfig())
	updated := rt.Apply(patch)

	if updated.CircuitBreakerThreshold != 7 {
		t.Errorf("expected threshold 7, got %d", updated.CircuitBreakerThreshold)
	}
	if updated.CacheTTL != 1000 {
		t.Errorf("expected cacheTTL 1000, got %d", updated.CacheTTL)
	}
	if !updated.EnableCaching {
		t.Error("unrelated field changed by patch with unknown key")
	}
}

func TestRuntimeSnapshotIsolation(t *testing.T) {
	rt := NewRuntime(DefaultGatewayConfig())

	snap := rt.Snapshot()
	snap.CircuitBreakerThreshold = 99

	if rt.Snapshot().CircuitBreakerThreshold != 5 {
		t.Error("mutating a snapshot leaked into the runtime config")
	}
}

func TestRuntimeReplace(t *testing.T) {
	rt := NewRuntime(DefaultGatewayConfig())

	next := DefaultGatewayConfig()
	next.ProviderSelectionStrategy = StrategyManual
	next.EnableFallback = false
	rt.Replace(next)

	snap := rt.Snapshot()
	if snap.ProviderSelectionStrategy != StrategyManual || snap.EnableFallback {
		t.Errorf("Replace did not take effect: %+v", snap)
	}
}
