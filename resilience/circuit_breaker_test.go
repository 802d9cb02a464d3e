package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{CoolDown: 30 * time.Second})

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be CLOSED, got %v", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected initial failures to be 0, got %d", cb.Failures())
	}
	if !cb.LastFailure().IsZero() {
		t.Errorf("Expected zero last failure, got %v", cb.LastFailure())
	}
}

func TestCircuitBreaker_OpensAfterFiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{CoolDown: time.Minute})

	for i := 1; i < DefaultFailureThreshold; i++ {
		if opened := cb.RecordFailure(); opened {
			t.Fatalf("circuit opened early after %d failures", i)
		}
		if cb.IsOpen() {
			t.Fatalf("Expected circuit closed after %d failures", i)
		}
	}

	if opened := cb.RecordFailure(); !opened {
		t.Error("Expected fifth failure to open the circuit")
	}
	if !cb.IsOpen() {
		t.Error("Expected circuit to be open")
	}
	if opened := cb.RecordFailure(); opened {
		t.Error("An already open circuit must not report opening again")
	}
}

func TestCircuitBreaker_SuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 5, CoolDown: time.Minute})
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN, got %v", cb.State())
	}

	cb.RecordSuccess()

	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED after success, got %v", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failures reset to 0, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_CoolDownCloses(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, CoolDown: 30 * time.Millisecond})
	cb.RecordFailure()
	cb.RecordFailure()
	if !cb.IsOpen() {
		t.Fatal("Expected circuit to be open")
	}

	time.Sleep(40 * time.Millisecond)

	if cb.IsOpen() {
		t.Error("Expected circuit to close after cool-down")
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failures reset after cool-down, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_ResetAndStats(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, CoolDown: time.Minute})
	cb.RecordFailure()

	stats := cb.Stats()
	if stats.Failures != 1 || stats.IsOpen {
		t.Errorf("unexpected stats %+v", stats)
	}

	cb.RecordFailure()
	if stats = cb.Stats(); !stats.IsOpen || stats.State != StateOpen {
		t.Errorf("Expected open stats, got %+v", stats)
	}

	cb.Reset()
	if cb.State() != StateClosed || cb.Failures() != 0 {
		t.Errorf("Expected closed and zero failures after reset, got %v/%d", cb.State(), cb.Failures())
	}
}

func TestCircuitBreakerState_String(t *testing.T) {
	if StateClosed.String() != "CLOSED" || StateOpen.String() != "OPEN" {
		t.Error("unexpected state names")
	}
	if CircuitBreakerState(9).String() != "UNKNOWN" {
		t.Error("Expected UNKNOWN for invalid state")
	}
}
