package router

import (
	"testing"
	"time"
)

func TestHealthTracker_StartsHealthy(t *testing.T) {
	ht := NewHealthTracker()
	ht.Track("openai")

	status := ht.Status("openai", 3)
	if status.Status != HealthHealthy {
		t.Errorf("expected healthy, got %s", status.Status)
	}
	if ht.Overall(3) != HealthHealthy {
		t.Errorf("expected overall healthy, got %s", ht.Overall(3))
	}
}

func TestHealthTracker_DegradedBelowThreshold(t *testing.T) {
	ht := NewHealthTracker()

	ht.RecordFailure("openai")
	status := ht.Status("openai", 3)
	if status.Status != HealthDegraded {
		t.Errorf("expected degraded after 1 failure, got %s", status.Status)
	}

	ht.RecordFailure("openai")
	status = ht.Status("openai", 3)
	if status.Status != HealthDegraded {
		t.Errorf("expected degraded after 2 failures, got %s", status.Status)
	}
	if status.ConsecutiveFailures != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", status.ConsecutiveFailures)
	}
}

func TestHealthTracker_UnhealthyAtThreshold(t *testing.T) {
	ht := NewHealthTracker()

	ht.RecordFailure("openai")
	ht.RecordFailure("openai")
	ht.RecordFailure("openai")

	if got := ht.Status("openai", 3).Status; got != HealthUnhealthy {
		t.Errorf("expected unhealthy at 3 failures, got %s", got)
	}
}

func TestHealthTracker_SuccessResets(t *testing.T) {
	ht := NewHealthTracker()

	ht.RecordFailure("openai")
	ht.RecordFailure("openai")
	ht.RecordFailure("openai")
	ht.RecordSuccess("openai")

	status := ht.Status("openai", 3)
	if status.Status != HealthHealthy {
		t.Errorf("expected healthy after success, got %s", status.Status)
	}
	if status.ConsecutiveFailures != 0 {
		t.Errorf("expected failure count reset, got %d", status.ConsecutiveFailures)
	}
}

func TestHealthTracker_IndependentProviders(t *testing.T) {
	ht := NewHealthTracker()
	ht.Track("anthropic")

	ht.RecordFailure("openai")

	if got := ht.Status("openai", 3).Status; got != HealthDegraded {
		t.Errorf("expected openai degraded, got %s", got)
	}
	if got := ht.Status("anthropic", 3).Status; got != HealthHealthy {
		t.Errorf("expected anthropic healthy (independent), got %s", got)
	}
}

func TestHealthTracker_OverallIsWorstStatus(t *testing.T) {
	ht := NewHealthTracker()
	ht.Track("openai")
	ht.Track("anthropic")
	ht.Track("vertex")

	if ht.Overall(3) != HealthHealthy {
		t.Fatalf("expected healthy, got %s", ht.Overall(3))
	}

	ht.RecordFailure("anthropic")
	if ht.Overall(3) != HealthDegraded {
		t.Errorf("expected degraded with one degraded provider, got %s", ht.Overall(3))
	}

	ht.RecordFailure("vertex")
	ht.RecordFailure("vertex")
	ht.RecordFailure("vertex")
	if ht.Overall(3) != HealthUnhealthy {
		t.Errorf("expected unhealthy with one unhealthy provider, got %s", ht.Overall(3))
	}
}

func TestHealthTracker_ThresholdAppliedAtReadTime(t *testing.T) {
	ht := NewHealthTracker()

	ht.RecordFailure("openai")
	ht.RecordFailure("openai")

	if got := ht.Status("openai", 3).Status; got != HealthDegraded {
		t.Errorf("expected degraded under threshold 3, got %s", got)
	}
	// Same recorded counts, lower threshold
	if got := ht.Status("openai", 2).Status; got != HealthUnhealthy {
		t.Errorf("expected unhealthy under threshold 2, got %s", got)
	}
}

func TestHealthTracker_ProbeMarksOpenCircuit(t *testing.T) {
	ht := NewHealthTracker()
	ht.Track("openai")

	breakers := NewBreakers()
	breakers.Get("openai").RecordFailure(1)

	before := ht.Status("openai", 3)
	ht.Probe(breakers, 30*time.Second)
	after := ht.Status("openai", 3)

	if after.Status != HealthDegraded {
		t.Errorf("expected degraded while circuit open, got %s", after.Status)
	}
	if !after.LastCheck.After(before.LastCheck) && !after.LastCheck.Equal(before.LastCheck) {
		t.Error("expected probe to refresh last check time")
	}

	// Circuit resets, next probe clears the marker
	breakers.Get("openai").Reset()
	ht.Probe(breakers, 30*time.Second)
	if got := ht.Status("openai", 3).Status; got != HealthHealthy {
		t.Errorf("expected healthy after circuit closed, got %s", got)
	}
}
