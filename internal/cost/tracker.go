package cost

import (
	"sync"
)

// Ledger accumulates spend and request counts for one accounting key.
type Ledger struct {
	TotalCostUSD float64 `json:"total_cost_usd"`
	Requests     int64   `json:"requests"`
}

// Tracker is the in-process cost ledger: a global running total plus
// per-provider and per-model breakdowns. The budget alert is a latch; it
// trips once when the total crosses the configured threshold and stays up
// until an explicit Reset.
type Tracker struct {
	mu            sync.Mutex
	total         Ledger
	byProvider    map[string]*Ledger
	byModel       map[string]*Ledger
	budgetAlerted bool
}

// NewTracker creates an empty cost tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byProvider: make(map[string]*Ledger),
		byModel:    make(map[string]*Ledger),
	}
}

// Record adds the actual cost of one completed request to the ledgers.
// It returns true exactly once: on the call where the running total first
// crosses budgetAlert. A non-positive budgetAlert never trips.
func (t *Tracker) Record(provider, model string, costUSD float64, budgetAlert float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.TotalCostUSD += costUSD
	t.total.Requests++

	p := t.byProvider[provider]
	if p == nil {
		p = &Ledger{}
		t.byProvider[provider] = p
	}
	p.TotalCostUSD += costUSD
	p.Requests++

	m := t.byModel[model]
	if m == nil {
		m = &Ledger{}
		t.byModel[model] = m
	}
	m.TotalCostUSD += costUSD
	m.Requests++

	if !t.budgetAlerted && budgetAlert > 0 && t.total.TotalCostUSD >= budgetAlert {
		t.budgetAlerted = true
		return true
	}
	return false
}

// Total returns the global ledger.
func (t *Tracker) Total() Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// BudgetAlerted reports whether the budget alert latch has tripped.
func (t *Tracker) BudgetAlerted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetAlerted
}

// Snapshot is a point-in-time copy of all ledgers.
type Snapshot struct {
	TotalCostUSD  float64           `json:"total_cost_usd"`
	TotalRequests int64             `json:"total_requests"`
	ByProvider    map[string]Ledger `json:"by_provider"`
	ByModel       map[string]Ledger `json:"by_model"`
	BudgetAlerted bool              `json:"budget_alerted"`
}

// Snapshot copies the current ledgers for reporting.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		TotalCostUSD:  t.total.TotalCostUSD,
		TotalRequests: t.total.Requests,
		ByProvider:    make(map[string]Ledger, len(t.byProvider)),
		ByModel:       make(map[string]Ledger, len(t.byModel)),
		BudgetAlerted: t.budgetAlerted,
	}
	for provider, ledger := range t.byProvider {
		snap.ByProvider[provider] = *ledger
	}
	for model, ledger := range t.byModel {
		snap.ByModel[model] = *ledger
	}
	return snap
}

// Reset clears all ledgers and the alert latch.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total = Ledger{}
	t.byProvider = make(map[string]*Ledger)
	t.byModel = make(map[string]*Ledger)
	t.budgetAlerted = false
}
