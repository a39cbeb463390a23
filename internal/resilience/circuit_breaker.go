package resilience

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitState mirrors gobreaker's three states under the names the rest of
// this codebase (and its metrics) already use.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func fromGobreakerState(s gobreaker.State) CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// CircuitBreaker wraps gobreaker.CircuitBreaker behind the Call(fn)-shaped
// API this repo's provider clients (STT/TTS/LLM/telephony) already expect,
// so adopting the real library required no churn at call sites.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewCircuitBreaker creates a circuit breaker that opens after maxFailures
// consecutive failures and waits resetTimeout before probing again in
// half-open state.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3, // probes allowed while half-open
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Call executes fn under circuit breaker protection.
func (cb *CircuitBreaker) Call(fn func() error) error {
	_, err := cb.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.New("circuit breaker is open")
	}
	return err
}

// GetState returns the current circuit state.
func (cb *CircuitBreaker) GetState() CircuitState {
	return fromGobreakerState(cb.cb.State())
}

// GetStats returns request/failure counts for the current window, in the
// shape callers already consume for metrics and logging.
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	counts := cb.cb.Counts()
	state = fromGobreakerState(cb.cb.State())
	requestCount = int64(counts.Requests)
	failureCount = int64(counts.TotalFailures)
	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}
