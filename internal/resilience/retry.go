// Package resilience supplies the guards every outbound provider call in
// the call engine goes through: a circuit breaker around request/response
// clients (STT writes, TTS, LLM, telephony REST), a bounded retry loop
// for one-shot calls that may transiently fail (the origination
// preflight's tunnel round-trip), and a redial loop for streaming
// sessions (the STT WebSocket). Telephony origination itself is the one
// call deliberately outside the retry path — a repeat on an ambiguous
// failure can place a duplicate real-world phone call.
package resilience

import "time"

// RetryConfig bounds one retry loop: how many attempts, and how the
// pause between them grows.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig mirrors the engine's RETRY_* environment defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Retry runs fn until it returns nil or the attempts are exhausted,
// sleeping an exponentially growing backoff between attempts. When
// retryable is non-nil, an error it rejects aborts the loop immediately;
// with a nil retryable every error is retried. Returns the last error.
func Retry(fn func() error, cfg *RetryConfig, retryable func(error) bool) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if retryable != nil && !retryable(err) {
			return err
		}

		if attempt < cfg.MaxAttempts-1 {
			time.Sleep(backoff)
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return lastErr
}
