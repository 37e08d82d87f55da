package config

import (
	"sync"
	"time"
)

// Provider selection strategies.
const (
	StrategyAutomatic = "automatic"
	StrategyManual    = "manual"
)

// GatewayConfig holds the runtime-tunable dispatch options exposed at
// GET/PUT /gateway/config. Interval fields are integer milliseconds to match
// the JSON admin surface.
type GatewayConfig struct {
	ProviderSelectionStrategy string `yaml:"providerSelectionStrategy" json:"providerSelectionStrategy"`

	EnableFallback      bool  `yaml:"enableFallback" json:"enableFallback"`
	MaxFallbackAttempts int   `yaml:"maxFallbackAttempts" json:"maxFallbackAttempts"`
	FallbackDelay       int64 `yaml:"fallbackDelay" json:"fallbackDelay"`

	EnableRateLimiting   bool  `yaml:"enableRateLimiting" json:"enableRateLimiting"`
	RateLimitWindow      int64 `yaml:"rateLimitWindow" json:"rateLimitWindow"`
	RateLimitMaxRequests int   `yaml:"rateLimitMaxRequests" json:"rateLimitMaxRequests"`

	EnableCaching bool  `yaml:"enableCaching" json:"enableCaching"`
	CacheMaxSize  int   `yaml:"cacheMaxSize" json:"cacheMaxSize"`
	CacheTTL      int64 `yaml:"cacheTTL" json:"cacheTTL"`

	EnableCircuitBreaker    bool  `yaml:"enableCircuitBreaker" json:"enableCircuitBreaker"`
	CircuitBreakerThreshold int   `yaml:"circuitBreakerThreshold" json:"circuitBreakerThreshold"`
	CircuitBreakerTimeout   int64 `yaml:"circuitBreakerTimeout" json:"circuitBreakerTimeout"`

	EnableCostTracking bool    `yaml:"enableCostTracking" json:"enableCostTracking"`
	MaxCostPerRequest  float64 `yaml:"maxCostPerRequest" json:"maxCostPerRequest"`
	BudgetAlert        float64 `yaml:"budgetAlert" json:"budgetAlert"`

	EnableHealthMonitoring bool  `yaml:"enableHealthMonitoring" json:"enableHealthMonitoring"`
	HealthCheckInterval    int64 `yaml:"healthCheckInterval" json:"healthCheckInterval"`
	UnhealthyThreshold     int   `yaml:"unhealthyThreshold" json:"unhealthyThreshold"`

	EnableRequestValidation    bool `yaml:"enableRequestValidation" json:"enableRequestValidation"`
	EnableResponseSanitization bool `yaml:"enableResponseSanitization" json:"enableResponseSanitization"`
	EnableDetailedLogging      bool `yaml:"enableDetailedLogging" json:"enableDetailedLogging"`
	EnableMetrics              bool `yaml:"enableMetrics" json:"enableMetrics"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		ProviderSelectionStrategy:  StrategyAutomatic,
		EnableFallback:             true,
		MaxFallbackAttempts:        2,
		FallbackDelay:              100,
		EnableRateLimiting:         true,
		RateLimitWindow:            60_000,
		RateLimitMaxRequests:       60,
		EnableCaching:              true,
		CacheMaxSize:               1000,
		CacheTTL:                   300_000,
		EnableCircuitBreaker:       true,
		CircuitBreakerThreshold:    5,
		CircuitBreakerTimeout:      30_000,
		EnableCostTracking:         true,
		MaxCostPerRequest:          0, // 0 disables the per-request ceiling
		BudgetAlert:                100.0,
		EnableHealthMonitoring:     true,
		HealthCheckInterval:        30_000,
		UnhealthyThreshold:         3,
		EnableRequestValidation:    true,
		EnableResponseSanitization: false,
		EnableDetailedLogging:      false,
		EnableMetrics:              true,
	}
}

func (c GatewayConfig) FallbackDelayDuration() time.Duration {
	return time.Duration(c.FallbackDelay) * time.Millisecond
}

func (c GatewayConfig) RateLimitWindowDuration() time.Duration {
	return time.Duration(c.RateLimitWindow) * time.Millisecond
}

func (c GatewayConfig) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Millisecond
}

func (c GatewayConfig) CircuitBreakerTimeoutDuration() time.Duration {
	return time.Duration(c.CircuitBreakerTimeout) * time.Millisecond
}

func (c GatewayConfig) HealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// GatewayPatch is the allow-list for PUT /gateway/config: only the fields
// below are recognized, and only non-nil ones are applied. Unknown JSON keys
// are dropped by the decoder and ignored.
type GatewayPatch struct {
	ProviderSelectionStrategy *string `json:"providerSelectionStrategy"`

	EnableFallback      *bool  `json:"enableFallback"`
	MaxFallbackAttempts *int   `json:"maxFallbackAttempts"`
	FallbackDelay       *int64 `json:"fallbackDelay"`

	EnableRateLimiting   *bool  `json:"enableRateLimiting"`
	RateLimitWindow      *int64 `json:"rateLimitWindow"`
	RateLimitMaxRequests *int   `json:"rateLimitMaxRequests"`

	EnableCaching *bool  `json:"enableCaching"`
	CacheMaxSize  *int   `json:"cacheMaxSize"`
	CacheTTL      *int64 `json:"cacheTTL"`

	EnableCircuitBreaker    *bool  `json:"enableCircuitBreaker"`
	CircuitBreakerThreshold *int   `json:"circuitBreakerThreshold"`
	CircuitBreakerTimeout   *int64 `json:"circuitBreakerTimeout"`

	EnableCostTracking *bool    `json:"enableCostTracking"`
	MaxCostPerRequest  *float64 `json:"maxCostPerRequest"`
	BudgetAlert        *float64 `json:"budgetAlert"`

	EnableHealthMonitoring *bool  `json:"enableHealthMonitoring"`
	HealthCheckInterval    *int64 `json:"healthCheckInterval"`
	UnhealthyThreshold     *int   `json:"unhealthyThreshold"`

	EnableRequestValidation    *bool `json:"enableRequestValidation"`
	EnableResponseSanitization *bool `json:"enableResponseSanitization"`
	EnableDetailedLogging      *bool `json:"enableDetailedLogging"`
	EnableMetrics              *bool `json:"enableMetrics"`
}

// Runtime holds the live gateway options. Dispatches take one Snapshot up
// front, so an update applies to subsequent requests only and never resets
// accumulated breaker, rate-limit, or cost state.
type Runtime struct {
	mu  sync.RWMutex
	cfg GatewayConfig
}

func NewRuntime(cfg GatewayConfig) *Runtime {
	return &Runtime{cfg: cfg}
}

func (r *Runtime) Snapshot() GatewayConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Replace swaps the full option set (used by config hot reload).
func (r *Runtime) Replace(cfg GatewayConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Apply merges the non-nil patch fields and returns the resulting config.
func (r *Runtime) Apply(p GatewayPatch) GatewayConfig {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ProviderSelectionStrategy != nil {
		r.cfg.ProviderSelectionStrategy = *p.ProviderSelectionStrategy
	}
	if p.EnableFallback != nil {
		r.cfg.EnableFallback = *p.EnableFallback
	}
	if p.MaxFallbackAttempts != nil {
		r.cfg.MaxFallbackAttempts = *p.MaxFallbackAttempts
	}
	if p.FallbackDelay != nil {
		r.cfg.FallbackDelay = *p.FallbackDelay
	}
	if p.EnableRateLimiting != nil {
		r.cfg.EnableRateLimiting = *p.EnableRateLimiting
	}
	if p.RateLimitWindow != nil {
		r.cfg.RateLimitWindow = *p.RateLimitWindow
	}
	if p.RateLimitMaxRequests != nil {
		r.cfg.RateLimitMaxRequests = *p.RateLimitMaxRequests
	}
	if p.EnableCaching != nil {
		r.cfg.EnableCaching = *p.EnableCaching
	}
	if p.CacheMaxSize != nil {
		r.cfg.CacheMaxSize = *p.CacheMaxSize
	}
	if p.CacheTTL != nil {
		r.cfg.CacheTTL = *p.CacheTTL
	}
	if p.EnableCircuitBreaker != nil {
		r.cfg.EnableCircuitBreaker = *p.EnableCircuitBreaker
	}
	if p.CircuitBreakerThreshold != nil {
		r.cfg.CircuitBreakerThreshold = *p.CircuitBreakerThreshold
	}
	if p.CircuitBreakerTimeout != nil {
		r.cfg.CircuitBreakerTimeout = *p.CircuitBreakerTimeout
	}
	if p.EnableCostTracking != nil {
		r.cfg.EnableCostTracking = *p.EnableCostTracking
	}
	if p.MaxCostPerRequest != nil {
		r.cfg.MaxCostPerRequest = *p.MaxCostPerRequest
	}
	if p.BudgetAlert != nil {
		r.cfg.BudgetAlert = *p.BudgetAlert
	}
	if p.EnableHealthMonitoring != nil {
		r.cfg.EnableHealthMonitoring = *p.EnableHealthMonitoring
	}
	if p.HealthCheckInterval != nil {
		r.cfg.HealthCheckInterval = *p.HealthCheckInterval
	}
	if p.UnhealthyThreshold != nil {
		r.cfg.UnhealthyThreshold = *p.UnhealthyThreshold
	}
	if p.EnableRequestValidation != nil {
		r.cfg.EnableRequestValidation = *p.EnableRequestValidation
	}
	if p.EnableResponseSanitization != nil {
		r.cfg.EnableResponseSanitization = *p.EnableResponseSanitization
	}
	if p.EnableDetailedLogging != nil {
		r.cfg.EnableDetailedLogging = *p.EnableDetailedLogging
	}
	if p.EnableMetrics != nil {
		r.cfg.EnableMetrics = *p.EnableMetrics
	}

	return r.cfg
}
