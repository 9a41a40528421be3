// Package portfolio implements the Tier 5 gatekeeper (§4.7): seven
// portfolio-level invariants that every proposed trade must satisfy before
// the Position Manager is allowed to open it. Adapted from the teacher's
// internal/execution/risk_manager.go structure (named checks returning a
// violated-limits list) generalized to the 7 checks this spec names.
package portfolio

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/pkg/types"
	"github.com/heliostrading/core/pkg/utils"
)

// positionStore is the subset of *store.Store the risk manager needs.
type positionStore interface {
	OpenPositions(ctx context.Context) ([]*types.Position, error)
	PortfolioState(ctx context.Context) (*types.PortfolioState, error)
	RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error)
	DailyTradeCount(ctx context.Context) (int64, error)
}

// BalanceSource is the minimal shape the risk manager needs from the execution
// client for cash-sufficiency checks (§4.7 check 3).
type BalanceSource interface {
	AvailableZAR(ctx context.Context) (decimal.Decimal, error)
}

// Assessment is the Portfolio Risk Manager's verdict for a single trade.
type Assessment struct {
	Passed         bool
	Reason         string
	ViolatedLimits []string
	Metrics        map[string]decimal.Decimal
}

// RiskManager is the Tier 5 gatekeeper.
type RiskManager struct {
	logger  *zap.Logger
	store   positionStore
	balance BalanceSource
	config  config.RiskConfig
}

// New constructs a RiskManager.
func New(logger *zap.Logger, store positionStore, balance BalanceSource, riskConfig config.RiskConfig) *RiskManager {
	return &RiskManager{
		logger:  logger.Named("portfolio.risk"),
		store:   store,
		balance: balance,
		config:  riskConfig,
	}
}

// Evaluate runs all 7 checks for a proposed trade. All must pass; any
// failure is collected (not short-circuited at the first check) so the
// reason string names every violation (§4.7 "all violations").
func (r *RiskManager) Evaluate(ctx context.Context, pair types.Pair, params *types.TradeParameters) (*Assessment, error) {
	metrics := make(map[string]decimal.Decimal)
	var violations []string

	state, err := r.store.PortfolioState(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading portfolio state: %w", err)
	}
	if state.TotalValueZAR.IsZero() {
		return &Assessment{Passed: false, Reason: "portfolio value is zero", ViolatedLimits: []string{"ZERO_PORTFOLIO_VALUE"}, Metrics: metrics}, nil
	}

	openPositions, err := r.store.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading open positions: %w", err)
	}

	metrics["currentDrawdownPct"] = state.CurrentDrawdownPct
	if state.CurrentDrawdownPct.GreaterThan(r.config.MaxDrawdownPct) {
		violations = append(violations, fmt.Sprintf("drawdown %s exceeds limit %s", state.CurrentDrawdownPct, r.config.MaxDrawdownPct))
	}

	dailyPnLPct := r.dailyPnLPct(state)
	metrics["dailyPnLPct"] = dailyPnLPct
	if dailyPnLPct.LessThan(r.config.DailyLossLimitPct.Neg()) {
		violations = append(violations, fmt.Sprintf("daily loss %s exceeds limit %s", dailyPnLPct, r.config.DailyLossLimitPct.Neg()))
	}

	if err := r.checkRiskCapacity(ctx, pair, params, state, openPositions, metrics, &violations); err != nil {
		return nil, err
	}

	singlePositionPct := params.PositionSizeZAR.Div(state.TotalValueZAR)
	metrics["singlePositionPct"] = singlePositionPct
	if singlePositionPct.GreaterThan(r.config.MaxSinglePositionPct) {
		violations = append(violations, fmt.Sprintf("position size %s exceeds single-position limit %s", singlePositionPct, r.config.MaxSinglePositionPct))
	}

	sectorExposurePct := r.sectorExposurePct(openPositions, params, state)
	metrics["sectorExposurePct"] = sectorExposurePct
	if sectorExposurePct.GreaterThan(r.config.MaxSectorExposurePct) {
		violations = append(violations, fmt.Sprintf("sector exposure %s exceeds limit %s", sectorExposurePct, r.config.MaxSectorExposurePct))
	}

	if err := r.checkCorrelation(ctx, pair, openPositions, &violations); err != nil {
		return nil, err
	}

	leverageRatio := r.leverageRatio(openPositions, params, state)
	metrics["leverageRatio"] = leverageRatio
	if leverageRatio.GreaterThan(r.config.MaxLeverageRatio) {
		violations = append(violations, fmt.Sprintf("leverage ratio %s exceeds limit %s", leverageRatio, r.config.MaxLeverageRatio))
	}

	if len(violations) > 0 {
		return &Assessment{Passed: false, Reason: joinReasons(violations), ViolatedLimits: violations, Metrics: metrics}, nil
	}
	return &Assessment{Passed: true, Metrics: metrics}, nil
}

// checkRiskCapacity implements §4.7 check 3: volatility-scaled dynamic risk
// capacity, cash sufficiency, and the minimum 5% position-size floor.
func (r *RiskManager) checkRiskCapacity(ctx context.Context, pair types.Pair, params *types.TradeParameters, state *types.PortfolioState, open []*types.Position, metrics map[string]decimal.Decimal, violations *[]string) error {
	positionFraction := params.PositionSizeZAR.Div(state.TotalValueZAR)
	if positionFraction.LessThan(r.config.MinPositionFloorPct) {
		*violations = append(*violations, fmt.Sprintf("position size fraction %s below minimum floor %s", positionFraction, r.config.MinPositionFloorPct))
	}

	aggregateAtRisk := decimal.Zero
	for _, p := range open {
		if p.EntryPrice.IsZero() {
			continue
		}
		atRisk := p.PositionValueZAR.Mul(p.StopLossPrice.Sub(p.EntryPrice).Abs().Div(p.EntryPrice))
		aggregateAtRisk = aggregateAtRisk.Add(atRisk)
	}

	tradeAtRisk := params.PositionSizeZAR.Mul(params.StopLossPct)
	totalAtRisk := aggregateAtRisk.Add(tradeAtRisk)
	metrics["aggregateAtRiskZAR"] = totalAtRisk

	volatility, err := r.portfolioVolatility(ctx)
	if err != nil {
		return err
	}
	riskLimitFraction := utils.ClampDecimal(volatility.Mul(decimal.NewFromInt(10)), r.config.VolatilityRiskFloorPct, r.config.VolatilityRiskCapPct)
	riskLimitZAR := state.TotalValueZAR.Mul(riskLimitFraction)
	metrics["riskCapacityLimitZAR"] = riskLimitZAR

	if totalAtRisk.GreaterThan(riskLimitZAR) {
		*violations = append(*violations, fmt.Sprintf("aggregate at-risk %s exceeds volatility-scaled capacity %s", totalAtRisk, riskLimitZAR))
	}

	if r.balance != nil {
		available, err := r.balance.AvailableZAR(ctx)
		if err != nil {
			return fmt.Errorf("checking cash sufficiency: %w", err)
		}
		if params.PositionSizeZAR.GreaterThan(available) {
			*violations = append(*violations, fmt.Sprintf("position size %s exceeds available cash %s", params.PositionSizeZAR, available))
		}
	}

	return nil
}

// portfolioVolatility returns the standard deviation of BTC daily-close
// returns over the last 30 daily candles, or DefaultVolatilityPct when fewer
// than two candles exist (§4.7 check 3). It does not compute the volatility
// of portfolio value itself.
func (r *RiskManager) portfolioVolatility(ctx context.Context) (decimal.Decimal, error) {
	candles, err := r.store.RecentCandles(ctx, "BTCZAR", types.Timeframe1d, 30)
	if err != nil {
		return decimal.Zero, fmt.Errorf("loading volatility proxy candles: %w", err)
	}
	if len(candles) < 2 {
		return r.config.DefaultVolatilityPct, nil
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	returns := utils.CalculateReturns(closes)
	if len(returns) == 0 {
		return r.config.DefaultVolatilityPct, nil
	}
	return utils.CalculateStdDev(returns), nil
}

// sectorExposurePct sums all open positions' value (the system trades a
// single crypto sector) plus this trade, as a fraction of portfolio value
// (§4.7 check 5).
func (r *RiskManager) sectorExposurePct(open []*types.Position, params *types.TradeParameters, state *types.PortfolioState) decimal.Decimal {
	total := params.PositionSizeZAR
	for _, p := range open {
		total = total.Add(p.PositionValueZAR)
	}
	return total.Div(state.TotalValueZAR)
}

// checkCorrelation requires the 30-day daily-return correlation between
// the new pair and every existing open pair to stay below 0.90 (§4.7 check
// 6).
func (r *RiskManager) checkCorrelation(ctx context.Context, pair types.Pair, open []*types.Position, violations *[]string) error {
	seen := make(map[types.Pair]bool)
	newReturns, err := r.dailyReturns(ctx, pair)
	if err != nil {
		return err
	}

	for _, p := range open {
		if p.Pair == pair || seen[p.Pair] {
			continue
		}
		seen[p.Pair] = true

		existingReturns, err := r.dailyReturns(ctx, p.Pair)
		if err != nil {
			return err
		}

		correlation := utils.CalculateCorrelation(newReturns, existingReturns)
		if correlation.GreaterThanOrEqual(r.config.MaxCorrelation) {
			*violations = append(*violations, fmt.Sprintf("correlation %s with %s exceeds limit %s", correlation, p.Pair, r.config.MaxCorrelation))
		}
	}
	return nil
}

func (r *RiskManager) dailyReturns(ctx context.Context, pair types.Pair) ([]decimal.Decimal, error) {
	candles, err := r.store.RecentCandles(ctx, pair, types.Timeframe1d, 30)
	if err != nil {
		return nil, fmt.Errorf("loading daily candles for %s: %w", pair, err)
	}
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return utils.CalculateReturns(closes), nil
}

// leverageRatio computes Σ(size·leverage)/portfolio_value across open
// positions plus the new trade (§4.7 check 7).
func (r *RiskManager) leverageRatio(open []*types.Position, params *types.TradeParameters, state *types.PortfolioState) decimal.Decimal {
	total := params.PositionSizeZAR.Mul(params.Leverage)
	for _, p := range open {
		total = total.Add(p.PositionValueZAR.Mul(p.Leverage))
	}
	return total.Div(state.TotalValueZAR)
}

// dailyPnLPct approximates today's P&L as the drawdown delta from peak;
// the store's schema tracks cumulative total/peak rather than a separate
// daily-reset ledger, so this is a proxy bounded the same direction as the
// spec's literal "today's P&L pct" check.
func (r *RiskManager) dailyPnLPct(state *types.PortfolioState) decimal.Decimal {
	if state.PeakValueZAR.IsZero() {
		return decimal.Zero
	}
	return state.TotalValueZAR.Sub(state.PeakValueZAR).Div(state.PeakValueZAR)
}

func joinReasons(violations []string) string {
	out := ""
	for i, v := range violations {
		if i > 0 {
			out += "; "
		}
		out += v
	}
	return out
}
