package router

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // healthy, requests flow
	StateOpen                         // unhealthy, requests blocked
	StateHalfOpen                     // probing, one request allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker is a per-provider failure state machine. Threshold and
// timeout are passed per call so runtime config changes apply to subsequent
// requests without resetting accumulated failure counts.
type CircuitBreaker struct {
	mu sync.Mutex

	state         CircuitState
	failures      int
	lastFailure   time.Time
	probeInFlight bool
}

func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{state: StateClosed}
}

// currentState transitions Open to HalfOpen once timeout has elapsed since
// the last failure. Must be called with mu held.
func (cb *CircuitBreaker) currentState(timeout time.Duration) CircuitState {
	if cb.state == StateOpen && time.Since(cb.lastFailure) >= timeout {
		cb.state = StateHalfOpen
		cb.probeInFlight = false
	}
	return cb.state
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State(timeout time.Duration) CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(timeout)
}

// Allow reports whether a request may proceed. In HalfOpen exactly one
// caller is admitted as the trial request; an admitted caller that ends up
// not invoking the provider must release its slot via CancelProbe.
func (cb *CircuitBreaker) Allow(timeout time.Duration) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState(timeout) {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default:
		return false
	}
}

// CancelProbe releases the HalfOpen trial slot without recording an outcome.
func (cb *CircuitBreaker) CancelProbe() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probeInFlight = false
}

// RecordSuccess resets the consecutive-failure count and, after a successful
// HalfOpen probe, closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probeInFlight = false
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
	}
}

// RecordFailure increments the consecutive-failure count, opening the
// circuit at threshold. A failed HalfOpen probe reopens it and restarts the
// timeout.
func (cb *CircuitBreaker) RecordFailure(threshold int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = time.Now()
	cb.probeInFlight = false

	switch cb.state {
	case StateClosed:
		if threshold > 0 && cb.failures >= threshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
	}
}

// Reset returns the breaker to Closed with counters cleared.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}

// CircuitSnapshot is a point-in-time view for health and admin surfaces.
type CircuitSnapshot struct {
	State       string    `json:"state"`
	Failures    int       `json:"consecutive_failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

func (cb *CircuitBreaker) Snapshot(timeout time.Duration) CircuitSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitSnapshot{
		State:       cb.currentState(timeout).String(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
	}
}

// Breakers holds one circuit breaker per provider, created lazily.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

func NewBreakers() *Breakers {
	return &Breakers{breakers: make(map[string]*CircuitBreaker)}
}

// Get returns (or lazily creates) the circuit breaker for a provider.
func (b *Breakers) Get(provider string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.breakers[provider]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// Double-check after acquiring write lock
	if cb, ok := b.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker()
	b.breakers[provider] = cb
	return cb
}

// Snapshot returns per-provider circuit snapshots.
func (b *Breakers) Snapshot(timeout time.Duration) map[string]CircuitSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]CircuitSnapshot, len(b.breakers))
	for name, cb := range b.breakers {
		out[name] = cb.Snapshot(timeout)
	}
	return out
}
