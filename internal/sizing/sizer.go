// Package sizing implements the Risk Sizer (Tier 3, §4.5): given a
// pair/signal/confidence, it produces TradeParameters sized by a
// fractional-Kelly rule scaled by confidence, or rejects with no edge.
// Adapted from the teacher's position_sizer.go, replaced the float-based
// ad hoc % inputs with a decimal volatility-forecast-driven stop/take and
// a mandatory Risk Decision row on every path (§4.5 invariant).
package sizing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/pkg/types"
	"github.com/heliostrading/core/pkg/utils"
)

// decisionStore is the subset of *store.Store the sizer needs.
type decisionStore interface {
	InsertDecision(ctx context.Context, d *types.RiskDecision) error
}

// VolatilityForecaster supplies the forward-looking volatility estimate
// used to derive stop-loss/take-profit percentages (§4.5 "Derive stop-loss
// and take-profit percentages from a volatility forecast"). A pair with no
// forecast available falls back to config.RiskConfig.DefaultVolatilityPct.
type VolatilityForecaster interface {
	Forecast(ctx context.Context, pair types.Pair) (decimal.Decimal, bool)
}

// TradeStatsProvider supplies the historical win rate / average win / loss
// feeding the Kelly calculation, per pair.
type TradeStatsProvider interface {
	Stats(pair types.Pair) (winRate, avgWin, avgLoss decimal.Decimal)
}

// Sizer is the Tier 3 Risk Sizer.
type Sizer struct {
	logger     *zap.Logger
	store      decisionStore
	vol        VolatilityForecaster
	stats      TradeStatsProvider
	riskConfig config.RiskConfig
}

// New constructs a Sizer.
func New(logger *zap.Logger, store decisionStore, vol VolatilityForecaster, stats TradeStatsProvider, riskConfig config.RiskConfig) *Sizer {
	return &Sizer{
		logger:     logger.Named("sizing"),
		store:      store,
		vol:        vol,
		stats:      stats,
		riskConfig: riskConfig,
	}
}

// Size evaluates (pair, signal, confidence, portfolioValue) and either
// returns TradeParameters with the decision row already inserted, or nil
// with the rejection row already inserted (§4.5 invariant: every call
// writes exactly one Risk Decision row before returning).
func (s *Sizer) Size(ctx context.Context, pair types.Pair, signal types.SignalClass, confidence decimal.Decimal, portfolioValue decimal.Decimal) (*types.TradeParameters, *types.RiskDecision, error) {
	decisionID := utils.GenerateDecisionID()
	decision := &types.RiskDecision{
		ID:           decisionID,
		Pair:         pair,
		Signal:       signal,
		MLConfidence: confidence,
	}

	if confidence.LessThan(s.riskConfig.ConfidenceThreshold) {
		reason := fmt.Sprintf("confidence %s below threshold %s", confidence.String(), s.riskConfig.ConfidenceThreshold.String())
		code := types.RejectedByRiskSizer
		decision.RejectedBy = &code
		decision.RejectionReason = &reason
		if err := s.store.InsertDecision(ctx, decision); err != nil {
			return nil, nil, fmt.Errorf("inserting below-threshold decision: %w", err)
		}
		return nil, decision, nil
	}

	volatility := s.riskConfig.DefaultVolatilityPct
	if s.vol != nil {
		if forecast, ok := s.vol.Forecast(ctx, pair); ok {
			volatility = forecast
		}
	}

	winRate, avgWin, avgLoss := decimal.Zero, decimal.Zero, decimal.Zero
	if s.stats != nil {
		winRate, avgWin, avgLoss = s.stats.Stats(pair)
	}

	kelly := calculateKelly(winRate, avgWin, avgLoss)
	fractionalKelly := kelly.Mul(s.riskConfig.KellyFraction)

	positionFraction := fractionalKelly.Mul(confidence)
	if positionFraction.GreaterThan(s.riskConfig.MaxPositionFraction) {
		positionFraction = s.riskConfig.MaxPositionFraction
	}
	if positionFraction.LessThanOrEqual(decimal.Zero) {
		reason := "fractional Kelly position size is non-positive"
		code := types.RejectedByRiskSizer
		decision.RejectedBy = &code
		decision.RejectionReason = &reason
		if err := s.store.InsertDecision(ctx, decision); err != nil {
			return nil, nil, fmt.Errorf("inserting no-edge decision: %w", err)
		}
		return nil, decision, nil
	}

	positionSize := portfolioValue.Mul(positionFraction)

	stopLossPct := volatility
	takeProfitPct := volatility.Mul(decimal.NewFromInt(2))

	maxLoss := positionSize.Mul(stopLossPct)
	expectedGain := positionSize.Mul(takeProfitPct).Mul(winRate)

	params := &types.TradeParameters{
		PositionSizeZAR: positionSize,
		Leverage:        decimal.NewFromInt(1),
		StopLossPct:     stopLossPct,
		TakeProfitPct:   takeProfitPct,
		MaxLossZAR:      maxLoss,
		ExpectedGainZAR: expectedGain,
	}

	decision.PositionSizeZAR = params.PositionSizeZAR
	decision.Leverage = params.Leverage
	decision.StopLossPct = params.StopLossPct
	decision.TakeProfitPct = params.TakeProfitPct

	if err := s.store.InsertDecision(ctx, decision); err != nil {
		return nil, nil, fmt.Errorf("inserting candidate decision: %w", err)
	}

	return params, decision, nil
}

// calculateKelly implements f* = p - q/b, clamped to [0,1] (adapted from
// the teacher's float implementation; decimal throughout here since it
// feeds monetary sizing downstream).
func calculateKelly(winRate, avgWin, avgLoss decimal.Decimal) decimal.Decimal {
	if winRate.LessThanOrEqual(decimal.Zero) || winRate.GreaterThanOrEqual(decimal.NewFromInt(1)) || avgLoss.IsZero() {
		return decimal.Zero
	}

	p := winRate
	q := decimal.NewFromInt(1).Sub(p)
	b := avgWin.Div(avgLoss)

	if b.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	kelly := p.Sub(q.Div(b))
	if kelly.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if kelly.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return kelly
}
