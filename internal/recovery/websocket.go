// Package recovery implements the three independent recovery mechanisms of
// §4.13: websocket reconnection with exponential backoff, a token-bucket
// rate limiter guarding outbound exchange requests, and a per-tier circuit
// breaker guarding the pipeline's external boundaries.
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaxBackoff caps the reconnection delay at 60s (§4.13 "WebSocket
// reconnection").
const MaxBackoff = 60 * time.Second

// WebSocketRecovery retries a connect function with exponential backoff
// 2^(n-1) seconds, capped at MaxBackoff, until it succeeds or ctx is
// cancelled.
type WebSocketRecovery struct {
	logger *zap.Logger
	name   string
}

// NewWebSocketRecovery builds a recovery helper labelled name for logging.
func NewWebSocketRecovery(logger *zap.Logger, name string) *WebSocketRecovery {
	return &WebSocketRecovery{logger: logger.Named("recovery." + name), name: name}
}

// AwaitReconnect calls connect repeatedly with exponential backoff until it
// returns nil (true) or ctx is cancelled (false).
func (r *WebSocketRecovery) AwaitReconnect(ctx context.Context, connect func(context.Context) error) bool {
	attempt := 0
	for {
		attempt++
		delay := backoffFor(attempt)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := connect(ctx); err != nil {
			r.logger.Warn("reconnect attempt failed",
				zap.String("target", r.name),
				zap.Int("attempt", attempt),
				zap.Duration("nextDelay", backoffFor(attempt+1)),
				zap.Error(err))
			continue
		}

		r.logger.Info("reconnected", zap.String("target", r.name), zap.Int("attempts", attempt))
		return true
	}
}

// backoffFor returns 2^(n-1) seconds capped at MaxBackoff.
func backoffFor(n int) time.Duration {
	delay := time.Second
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= MaxBackoff {
			return MaxBackoff
		}
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}
