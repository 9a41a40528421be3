package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

// CandleFetchRetries and CandleFetchSpacing implement §4.14 step 2: the
// poller's commit may race the NEW_CANDLE event it published.
const (
	CandleFetchRetries = 5
	CandleFetchSpacing = 200 * time.Millisecond
)

// runCycle drives the 9-step pipeline cycle for a single NEW_CANDLE event
// (§4.14 "Pipeline cycle for a NEW_CANDLE event").
func (e *Engine) runCycle(ctx context.Context, event types.Event) error {
	pair := event.Pair
	now := time.Now().UTC()

	atomicIncrementCycle(e)
	e.mu.Lock()
	e.lastCycleAt = now
	e.mu.Unlock()
	defer e.setStage(types.StageNone)

	e.setStage(types.StageDataIngestion)

	candle, err := e.fetchCandleWithRetry(ctx, pair, event.Timeframe, event.OpenTime)
	if err != nil {
		return wrapStage(types.StageDataIngestion, err)
	}

	features, err := computeFeatures(ctx, e.store, pair, now)
	if err != nil {
		return wrapStage(types.StageDataIngestion, fmt.Errorf("computing feature vector: %w", err))
	}
	if err := e.store.PutFeatureVector(ctx, features); err != nil {
		return wrapStage(types.StageDataIngestion, fmt.Errorf("persisting feature vector: %w", err))
	}
	e.activity.Log("FEATURE_COMPUTED", "info", fmt.Sprintf("%s features computed from candle closing %s", pair, candle.Close.String()))

	if e.tradingGated() {
		e.activity.Log("CYCLE_SKIPPED", "info", fmt.Sprintf("%s trading gated, feature-only cycle", pair))
		return nil
	}

	e.setStage(types.StageNeuralPrediction)
	prediction, err := e.predictor.Predict(ctx, pair)
	if err != nil {
		return wrapStage(types.StageNeuralPrediction, err)
	}
	if prediction.Class == types.SignalHold {
		e.activity.Log("HOLD", "info", fmt.Sprintf("%s predictor returned HOLD", pair))
		return nil
	}

	e.setStage(types.StagePositionSizing)
	state, err := e.store.PortfolioState(ctx)
	if err != nil {
		return wrapStage(types.StagePositionSizing, fmt.Errorf("loading portfolio state: %w", err))
	}

	params, decision, err := e.sizer.Size(ctx, pair, prediction.Class, prediction.Confidence, state.TotalValueZAR)
	if err != nil {
		return wrapStage(types.StagePositionSizing, err)
	}
	if params == nil {
		e.activity.Log("REJECTED", "info", fmt.Sprintf("%s rejected by risk sizer", pair))
		return nil
	}

	side := signalSide(prediction.Class)
	strategicReasoning := ""

	if e.strategic != nil && e.strategic.Enabled() {
		e.setStage(types.StageLLMDecision)
		result := e.strategic.Evaluate(ctx, pair, prediction.Class, prediction.Confidence, params)
		strategicReasoning = result.Reasoning

		switch result.Decision {
		case strategic.VerdictReject:
			if err := e.store.MarkLLMRejected(ctx, decision.ID, result.Reasoning); err != nil {
				return wrapStage(types.StageLLMDecision, fmt.Errorf("recording llm rejection: %w", err))
			}
			e.activity.Log("LLM_REJECTED", "info", fmt.Sprintf("%s rejected by strategic gate: %s", pair, result.Reasoning))
			return nil
		case strategic.VerdictModify:
			params = result.FinalParams
		}
	}

	e.setStage(types.StageRiskValidation)
	assessment, err := e.riskMgr.Evaluate(ctx, pair, params)
	if err != nil {
		return wrapStage(types.StageRiskValidation, err)
	}
	if !assessment.Passed {
		if err := e.store.MarkRejected(ctx, decision.ID, types.RejectedByPortfolioRisk, assessment.Reason); err != nil {
			return wrapStage(types.StageRiskValidation, fmt.Errorf("recording portfolio rejection: %w", err))
		}
		e.activity.Log("PORTFOLIO_REJECTED", "warn", fmt.Sprintf("%s rejected by portfolio risk: %s", pair, assessment.Reason))
		return nil
	}

	e.setStage(types.StageTradeExecution)
	position, err := e.positions.Open(ctx, pair, side, params, strategicReasoning)
	if err != nil {
		if markErr := e.store.MarkRejected(ctx, decision.ID, types.RejectedByExecutionFailed, err.Error()); markErr != nil {
			return wrapStage(types.StageTradeExecution, fmt.Errorf("recording execution failure (original error %v): %w", err, markErr))
		}
		e.activity.Log("EXECUTION_FAILED", "error", fmt.Sprintf("%s execution failed: %s", pair, err.Error()))
		return nil
	}

	if err := e.store.MarkExecuted(ctx, decision.ID, position.ID); err != nil {
		return wrapStage(types.StageTradeExecution, fmt.Errorf("marking decision executed: %w", err))
	}
	e.logger.Info("position opened", zap.String("pair", string(pair)), zap.String("position", position.ID), zap.String("side", string(side)))
	e.activity.Log("POSITION_OPENED", "info", fmt.Sprintf("%s %s opened at %s", pair, side, position.EntryPrice.String()))

	return nil
}

// fetchCandleWithRetry implements §4.14 step 2: the aggregator/poller
// commit may race the event that announces it.
func (e *Engine) fetchCandleWithRetry(ctx context.Context, pair types.Pair, tf types.Timeframe, openTime time.Time) (*types.Candle, error) {
	var lastErr error
	for attempt := 0; attempt < CandleFetchRetries; attempt++ {
		candle, err := e.store.GetCandle(ctx, pair, tf, openTime)
		if err == nil && candle != nil {
			return candle, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(CandleFetchSpacing):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("candle not found after retries")
	}
	return nil, fmt.Errorf("fetching candle %s/%s/%s: %w", pair, tf, openTime, lastErr)
}

// signalSide maps a non-HOLD SignalClass to its order side.
func signalSide(signal types.SignalClass) types.OrderSide {
	if signal == types.SignalSell {
		return types.OrderSideSell
	}
	return types.OrderSideBuy
}

func atomicIncrementCycle(e *Engine) {
	e.mu.Lock()
	e.cycleCount++
	e.mu.Unlock()
}
