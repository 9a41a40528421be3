package engine

import (
	"context"

	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// EmergencyStop implements §4.14 "Emergency stop": flips the engine's
// operational flags, closes every open position with EMERGENCY_CLOSE, and
// leaves the flag set until an operator explicitly clears it via Resume.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) {
	e.mu.Lock()
	alreadyActive := e.emergencyStopActive
	e.emergencyStopActive = true
	e.autoTradingEnabled = false
	e.status = StatusEmergencyStop
	e.mu.Unlock()

	if alreadyActive {
		return
	}

	e.logger.Error("emergency stop triggered", zap.String("reason", reason))
	e.activity.Log("EMERGENCY_STOP", "critical", reason)

	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		e.logger.Error("loading open positions during emergency stop failed", zap.Error(err))
		return
	}

	for _, p := range positions {
		if err := e.positions.Close(ctx, p, types.PositionEmergencyClose); err != nil {
			e.logger.Error("emergency close failed", zap.String("position", p.ID), zap.Error(err))
			continue
		}
		e.activity.Log("EMERGENCY_CLOSE", "critical", string(p.Pair)+" closed by emergency stop")
	}
}

// Resume clears the emergency-stop flag and re-enables automated trading.
// This is the only path that can clear it (§4.14 "The flag is only cleared
// by an explicit operator call").
func (e *Engine) Resume(changedBy string) {
	e.mu.Lock()
	e.emergencyStopActive = false
	e.autoTradingEnabled = true
	e.status = StatusRunning
	e.mu.Unlock()

	e.logger.Warn("emergency stop cleared by operator", zap.String("changedBy", changedBy))
	e.activity.Log("EMERGENCY_CLEARED", "warn", "emergency stop cleared by "+changedBy)
}

// SetAutoTrading toggles automated trading without touching the
// emergency-stop flag, exposed over the HTTP control surface.
func (e *Engine) SetAutoTrading(enabled bool) {
	e.mu.Lock()
	e.autoTradingEnabled = enabled
	e.mu.Unlock()
}
