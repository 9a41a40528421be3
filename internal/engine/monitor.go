package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// PendingDecisionLimit bounds each catch-up sweep (§4.11 "limit 10").
const PendingDecisionLimit = 10

func (e *Engine) runPositionMonitor(ctx context.Context) {
	defer e.wg.Done()
	interval := e.config.Timing.PositionMonitor
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.positionMonitorTick(ctx)
		}
	}
}

func (e *Engine) positionMonitorTick(ctx context.Context) {
	actions, err := e.positions.Monitor(ctx)
	if err != nil {
		e.logger.Warn("position monitor tick failed", zap.Error(err))
		return
	}

	positions, err := e.store.OpenPositions(ctx)
	if err != nil {
		e.logger.Warn("loading open positions for close failed", zap.Error(err))
		return
	}
	byID := make(map[string]*types.Position, len(positions))
	for _, p := range positions {
		byID[p.ID] = p
	}

	for _, action := range actions {
		p, ok := byID[action.PositionID]
		if !ok {
			continue
		}
		if err := e.positions.Close(ctx, p, action.Reason); err != nil {
			e.logger.Error("closing triggered position failed", zap.String("position", p.ID), zap.Error(err))
			continue
		}
		e.activity.Log("POSITION_CLOSED", "info", fmt.Sprintf("%s closed: %s", p.Pair, action.Reason))
	}
}

func (e *Engine) runHealthMonitor(ctx context.Context) {
	defer e.wg.Done()
	interval := e.config.Timing.HealthMonitor
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.healthTick(ctx)
		}
	}
}

// healthTick implements §4.14 "Health monitor (every 30s)".
func (e *Engine) healthTick(ctx context.Context) {
	if e.priceStream != nil && !e.priceStream.Connected() {
		e.logger.Warn("price stream disconnected, reconnecting")
		go e.priceStream.Run(ctx)
	}

	if err := e.store.Ping(ctx); err != nil {
		e.logger.Error("database liveness check failed", zap.Error(err))
	}

	if e.predictor != nil && !e.predictor.Healthy() {
		e.logger.Warn("predictor tier circuit open")
	}
	if e.strategic != nil && e.strategic.Enabled() && !e.strategic.Healthy() {
		e.logger.Warn("strategic gate tier circuit open")
	}

	state, err := e.store.PortfolioState(ctx)
	if err != nil {
		e.logger.Error("loading portfolio state for drawdown check failed", zap.Error(err))
	} else if state.CurrentDrawdownPct.GreaterThan(e.config.Risk.MaxDrawdownPct) {
		e.EmergencyStop(ctx, fmt.Sprintf("drawdown %s exceeds limit %s", state.CurrentDrawdownPct, e.config.Risk.MaxDrawdownPct))
	}

	e.mu.Lock()
	e.lastHeartbeat = time.Now().UTC()
	tradingEnabled := e.autoTradingEnabled
	emergencyActive := e.emergencyStopActive
	e.mu.Unlock()

	if tradingEnabled && !emergencyActive {
		e.runCatchup(ctx)
	}
}

// runCatchup implements §4.11: sweep decisions stuck pending for up to 24h,
// re-run the portfolio risk check (conditions may have changed), and
// either execute, reject with the recheck code, or mark execution failed.
func (e *Engine) runCatchup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-e.config.Timing.DecisionCatchupWindow)
	pending, err := e.store.PendingDecisions(ctx, cutoff, PendingDecisionLimit)
	if err != nil {
		e.logger.Error("loading pending decisions for catch-up failed", zap.Error(err))
		return
	}

	for _, decision := range pending {
		e.catchupOne(ctx, decision)
	}
}

func (e *Engine) catchupOne(ctx context.Context, decision *types.RiskDecision) {
	params := &types.TradeParameters{
		PositionSizeZAR: decision.PositionSizeZAR,
		Leverage:        decision.Leverage,
		StopLossPct:     decision.StopLossPct,
		TakeProfitPct:   decision.TakeProfitPct,
	}

	assessment, err := e.riskMgr.Evaluate(ctx, decision.Pair, params)
	if err != nil {
		e.logger.Error("catch-up risk re-evaluation failed", zap.String("decision", decision.ID), zap.Error(err))
		return
	}
	if !assessment.Passed {
		if err := e.store.MarkRejected(ctx, decision.ID, types.RejectedByPortfolioRecheck, assessment.Reason); err != nil {
			e.logger.Error("recording catch-up rejection failed", zap.String("decision", decision.ID), zap.Error(err))
		}
		e.activity.Log("CATCHUP_REJECTED", "warn", fmt.Sprintf("pending decision %s rejected on recheck: %s", decision.ID, assessment.Reason))
		return
	}

	side := signalSide(decision.Signal)
	position, err := e.positions.Open(ctx, decision.Pair, side, params, "")
	if err != nil {
		if markErr := e.store.MarkRejected(ctx, decision.ID, types.RejectedByExecutionFailed, err.Error()); markErr != nil {
			e.logger.Error("recording catch-up execution failure failed", zap.String("decision", decision.ID), zap.Error(markErr))
		}
		e.activity.Log("CATCHUP_EXECUTION_FAILED", "error", fmt.Sprintf("pending decision %s failed on catch-up: %s", decision.ID, err.Error()))
		return
	}

	if err := e.store.MarkExecuted(ctx, decision.ID, position.ID); err != nil {
		e.logger.Error("marking catch-up decision executed failed", zap.String("decision", decision.ID), zap.Error(err))
		return
	}
	e.activity.Log("CATCHUP_EXECUTED", "info", fmt.Sprintf("pending decision %s executed as position %s", decision.ID, position.ID))
}
