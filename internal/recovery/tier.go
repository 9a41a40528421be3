package recovery

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ConsecutiveFailureCriticalThreshold is the number of consecutive tier
// failures that escalates a log line to critical (§4.13 "Tier health").
const ConsecutiveFailureCriticalThreshold = 3

// TierCircuit wraps a pipeline tier's external boundary (predictor call,
// exchange order call, LLM call) in a gobreaker.CircuitBreaker, tripping
// after repeated failures so the Engine can short-circuit to a degraded
// path instead of hammering a dead dependency.
type TierCircuit struct {
	logger              *zap.Logger
	name                string
	breaker             *gobreaker.CircuitBreaker
	consecutiveFailures int
}

// NewTierCircuit builds a circuit breaker for the named tier. It trips
// after 5 consecutive failures within a 60s window and stays open for 30s
// before allowing a single trial request through.
func NewTierCircuit(logger *zap.Logger, name string) *TierCircuit {
	tc := &TierCircuit{logger: logger.Named("recovery.tier." + name), name: name}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			tc.logger.Warn("tier circuit state change",
				zap.String("tier", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	tc.breaker = gobreaker.NewCircuitBreaker(settings)
	return tc
}

// Execute runs fn through the breaker, tracking consecutive failures for
// the critical-log escalation independent of the breaker's own trip state.
func (tc *TierCircuit) Execute(_ context.Context, fn func() (interface{}, error)) (interface{}, error) {
	result, err := tc.breaker.Execute(fn)
	if err != nil {
		tc.consecutiveFailures++
		if tc.consecutiveFailures >= ConsecutiveFailureCriticalThreshold {
			tc.logger.Error("tier critical: repeated consecutive failures",
				zap.String("tier", tc.name), zap.Int("consecutiveFailures", tc.consecutiveFailures))
		}
		return result, err
	}
	tc.consecutiveFailures = 0
	return result, nil
}

// Healthy reports whether the breaker is currently closed (i.e. not
// tripped open) for the Engine's health monitor (§4.14 "Health monitor").
func (tc *TierCircuit) Healthy() bool {
	return tc.breaker.State() == gobreaker.StateClosed
}
