package router

import (
	"context"
	"sync"
	"time"

	"github.com/skyrail-ai/skyrail-gateway/internal/config"
)

// Provider health statuses.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// HealthStatus is the per-provider view served at /gateway/health.
type HealthStatus struct {
	Status              string    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheck           time.Time `json:"last_check"`
}

type providerHealth struct {
	failures    int
	lastCheck   time.Time
	circuitOpen bool // set by passive probes while the breaker is open
}

// HealthTracker aggregates dispatch outcomes into per-provider statuses.
// The unhealthy threshold is passed at read time so runtime config changes
// reclassify providers without touching recorded counts.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]*providerHealth
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{statuses: make(map[string]*providerHealth)}
}

// Track registers a provider so it appears in health reports before any
// dispatch has touched it.
func (t *HealthTracker) Track(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.statuses[provider]; !ok {
		t.statuses[provider] = &providerHealth{lastCheck: time.Now()}
	}
}

func (t *HealthTracker) get(provider string) *providerHealth {
	if ph, ok := t.statuses[provider]; ok {
		return ph
	}
	ph := &providerHealth{}
	t.statuses[provider] = ph
	return ph
}

func (t *HealthTracker) RecordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ph := t.get(provider)
	ph.failures = 0
	ph.circuitOpen = false
	ph.lastCheck = time.Now()
}

func (t *HealthTracker) RecordFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ph := t.get(provider)
	ph.failures++
	ph.lastCheck = time.Now()
}

func (ph *providerHealth) status(threshold int) string {
	switch {
	case threshold > 0 && ph.failures >= threshold:
		return HealthUnhealthy
	case ph.failures > 0 || ph.circuitOpen:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// Status returns one provider's current status.
func (t *HealthTracker) Status(provider string, threshold int) HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ph, ok := t.statuses[provider]
	if !ok {
		return HealthStatus{Status: HealthHealthy}
	}
	return HealthStatus{
		Status:              ph.status(threshold),
		ConsecutiveFailures: ph.failures,
		LastCheck:           ph.lastCheck,
	}
}

// Statuses returns the full per-provider map.
func (t *HealthTracker) Statuses(threshold int) map[string]HealthStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]HealthStatus, len(t.statuses))
	for name, ph := range t.statuses {
		out[name] = HealthStatus{
			Status:              ph.status(threshold),
			ConsecutiveFailures: ph.failures,
			LastCheck:           ph.lastCheck,
		}
	}
	return out
}

// Overall returns the worst status across all tracked providers.
func (t *HealthTracker) Overall(threshold int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	overall := HealthHealthy
	for _, ph := range t.statuses {
		switch ph.status(threshold) {
		case HealthUnhealthy:
			return HealthUnhealthy
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return overall
}

// Probe refreshes every tracked provider without a network call: it stamps
// the check time and syncs the open-circuit marker from the breaker state.
func (t *HealthTracker) Probe(breakers *Breakers, timeout time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for name, ph := range t.statuses {
		ph.lastCheck = now
		ph.circuitOpen = breakers.Get(name).State(timeout) == StateOpen
	}
}

// Monitor runs passive probes at the configured interval until ctx is done.
// The interval is re-read every cycle so config updates take effect on the
// next tick.
func (t *HealthTracker) Monitor(ctx context.Context, breakers *Breakers, runtime *config.Runtime) {
	for {
		interval := runtime.Snapshot().HealthCheckIntervalDuration()
		if interval <= 0 {
			interval = 30 * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		cfg := runtime.Snapshot()
		if !cfg.EnableHealthMonitoring {
			continue
		}
		t.Probe(breakers, cfg.CircuitBreakerTimeoutDuration())
	}
}
