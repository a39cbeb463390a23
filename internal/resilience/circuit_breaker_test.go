package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %d", cb.GetState())
	}

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected call to succeed in Closed state, got %v", err)
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	failing := func() error { return errors.New("boom") }

	cb.Call(failing)
	cb.Call(failing)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.Call(failing)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 consecutive failures")
	}

	err := cb.Call(func() error { return nil })
	if err == nil {
		t.Error("Expected circuit-open error while circuit is Open")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	failing := func() error { return errors.New("boom") }
	cb.Call(failing)
	cb.Call(failing)
	cb.Call(failing)

	if cb.GetState() != StateOpen {
		t.Fatal("Expected circuit to be Open")
	}

	time.Sleep(150 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected a probe request to be allowed after timeout, got %v", err)
	}
}

func TestCircuitBreaker_CloseAfterSuccessesInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	failing := func() error { return errors.New("boom") }
	cb.Call(failing)
	cb.Call(failing)
	cb.Call(failing)

	time.Sleep(150 * time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.Call(func() error { return nil })
	}

	if cb.GetState() != StateClosed {
		t.Errorf("Expected state to be Closed after successful probes, got %d", cb.GetState())
	}
}

func TestCircuitBreaker_ReopensOnFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 100*time.Millisecond)

	failing := func() error { return errors.New("boom") }
	cb.Call(failing)
	cb.Call(failing)
	cb.Call(failing)

	time.Sleep(150 * time.Millisecond)

	cb.Call(failing) // a failing probe while half-open

	if cb.GetState() != StateOpen {
		t.Errorf("Expected state to be Open after a failed half-open probe, got %d", cb.GetState())
	}
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cb := NewCircuitBreaker("test", 5, 1*time.Second)

	cb.Call(func() error { return nil })
	cb.Call(func() error { return nil })
	cb.Call(func() error { return errors.New("boom") })

	state, requestCount, failureCount, failureRate := cb.GetStats()

	if state != StateClosed {
		t.Errorf("Expected state Closed, got %d", state)
	}
	if requestCount != 3 {
		t.Errorf("Expected 3 requests, got %d", requestCount)
	}
	if failureCount != 1 {
		t.Errorf("Expected 1 failure, got %d", failureCount)
	}
	if failureRate < 33.0 || failureRate > 34.0 {
		t.Errorf("Expected failure rate around 33.33%%, got %.2f%%", failureRate)
	}
}
