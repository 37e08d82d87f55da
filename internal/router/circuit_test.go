package router

import (
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosedAndAllows(t *testing.T) {
	cb := NewCircuitBreaker()
	if cb.State(30*time.Second) != StateClosed {
		t.Errorf("expected StateClosed, got %s", cb.State(30*time.Second))
	}
	if !cb.Allow(30 * time.Second) {
		t.Error("expected Allow=true for closed circuit")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(3)
	cb.RecordFailure(3)
	if cb.State(30*time.Second) != StateClosed {
		t.Error("expected StateClosed after 2 failures")
	}

	cb.RecordFailure(3) // 3rd failure = threshold
	if cb.State(30*time.Second) != StateOpen {
		t.Errorf("expected StateOpen after 3 failures, got %s", cb.State(30*time.Second))
	}
	if cb.Allow(30 * time.Second) {
		t.Error("expected Allow=false for open circuit")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(1)
	if cb.State(10*time.Millisecond) != StateOpen {
		t.Fatal("expected StateOpen")
	}

	time.Sleep(15 * time.Millisecond)

	if cb.State(10*time.Millisecond) != StateHalfOpen {
		t.Errorf("expected StateHalfOpen after timeout, got %s", cb.State(10*time.Millisecond))
	}
	if !cb.Allow(10 * time.Millisecond) {
		t.Error("expected Allow=true for half-open circuit (probe)")
	}
}

func TestCircuitBreaker_HalfOpen_AdmitsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(1)
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow(10 * time.Millisecond) {
		t.Fatal("expected first probe to be admitted")
	}
	if cb.Allow(10 * time.Millisecond) {
		t.Error("expected second concurrent probe to be rejected")
	}

	// Releasing the slot without an outcome re-admits a probe
	cb.CancelProbe()
	if !cb.Allow(10 * time.Millisecond) {
		t.Error("expected probe slot to be free after CancelProbe")
	}
}

func TestCircuitBreaker_HalfOpen_SuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(1)
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow(10 * time.Millisecond) {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordSuccess()

	if cb.State(10*time.Millisecond) != StateClosed {
		t.Errorf("expected StateClosed after successful probe, got %s", cb.State(10*time.Millisecond))
	}
	if !cb.Allow(10 * time.Millisecond) {
		t.Error("expected Allow=true after circuit closed")
	}
}

func TestCircuitBreaker_HalfOpen_FailureReopens(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(1)
	time.Sleep(15 * time.Millisecond)

	if !cb.Allow(10 * time.Millisecond) {
		t.Fatal("expected probe to be admitted")
	}
	cb.RecordFailure(1)

	if cb.State(time.Minute) != StateOpen {
		t.Errorf("expected StateOpen after failed probe, got %s", cb.State(time.Minute))
	}
	if cb.Allow(time.Minute) {
		t.Error("expected Allow=false while timeout restarts")
	}
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker()

	cb.RecordFailure(3)
	cb.RecordFailure(3)
	cb.RecordSuccess()

	cb.RecordFailure(3)
	cb.RecordFailure(3)
	if cb.State(30*time.Second) != StateClosed {
		t.Error("expected StateClosed, failures were not consecutive")
	}

	cb.RecordFailure(3)
	if cb.State(30*time.Second) != StateOpen {
		t.Errorf("expected StateOpen after 3 consecutive failures, got %s", cb.State(30*time.Second))
	}
}

func TestCircuitBreaker_ThresholdChangeAppliesWithoutReset(t *testing.T) {
	cb := NewCircuitBreaker()

	// Accumulate under a high threshold, then lower it
	cb.RecordFailure(5)
	cb.RecordFailure(5)
	if cb.State(30*time.Second) != StateClosed {
		t.Fatal("expected StateClosed under threshold 5")
	}

	cb.RecordFailure(3)
	if cb.State(30*time.Second) != StateOpen {
		t.Errorf("expected accumulated failures to trip the lowered threshold, got %s", cb.State(30*time.Second))
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker()
	cb.RecordFailure(1)
	if cb.State(30*time.Second) != StateOpen {
		t.Fatal("expected StateOpen")
	}

	cb.Reset()
	if cb.State(30*time.Second) != StateClosed {
		t.Errorf("expected StateClosed after reset, got %s", cb.State(30*time.Second))
	}
	if !cb.Allow(30 * time.Second) {
		t.Error("expected Allow=true after reset")
	}
}

func TestCircuitState_String(t *testing.T) {
	tests := []struct {
		state CircuitState
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestBreakers_GetReturnsSameBreaker(t *testing.T) {
	b := NewBreakers()
	first := b.Get("openai")
	second := b.Get("openai")
	if first != second {
		t.Error("expected the same breaker instance per provider")
	}

	first.RecordFailure(1)
	snap := b.Snapshot(30 * time.Second)
	if snap["openai"].State != "open" {
		t.Errorf("expected open in snapshot, got %s", snap["openai"].State)
	}
	if snap["openai"].Failures != 1 {
		t.Errorf("expected 1 failure in snapshot, got %d", snap["openai"].Failures)
	}
}
