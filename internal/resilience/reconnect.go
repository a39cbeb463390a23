package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectConfig bounds the redial loop for a streaming provider
// session (the STT WebSocket is the one consumer today).
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration
}

// DefaultReconnectConfig mirrors the engine's RECONNECT_* environment
// defaults.
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Reconnect redials fn with exponential backoff until it succeeds, the
// attempts run out, or ctx is cancelled. The call session treats a
// final failure here as "continue the call without this stream", so the
// loop itself never escalates beyond returning the last error.
func Reconnect(ctx context.Context, fn func() error, cfg *ReconnectConfig) error {
	if cfg == nil {
		cfg = DefaultReconnectConfig()
	}

	backoff := cfg.Backoff
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}

		if attempt < cfg.MaxAttempts-1 {
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt+1).
				Int("maxAttempts", cfg.MaxAttempts).
				Dur("backoff", backoff).
				Msg("stream dial failed, backing off")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return lastErr
}
