package strategic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// contextStore is the subset of *store.Store the default ContextBuilder
// needs to assemble a MarketContext (§4.6 expansion, grounded on
// original_source's MarketContextAggregator._get_price_action/_get_volatility_regime).
type contextStore interface {
	RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error)
	PortfolioState(ctx context.Context) (*types.PortfolioState, error)
	OpenPositions(ctx context.Context) ([]*types.Position, error)
}

// candlesPer24h/7d/30d count 5m candles back from "now" the same way the
// original aggregator windows its price-action query, since the core keeps
// 5m as its shortest aggregate timeframe above 1m raw ticks.
const (
	candlesPer24h = 288  // 24h / 5m
	candlesPer7d  = 2016 // 7d / 5m
	candlesPer30d = 8640 // 30d / 5m
)

// DefaultContextBuilder gathers the MarketContext straight from the store:
// price action over three horizons via 5m candles, a volatility regime
// derived from the 24h true range, and a portfolio snapshot. It has no
// cross-asset correlation or order-book feed wired up: CorrelationRegime is
// reported as "UNKNOWN" and OrderBookImbalance is left at zero.
type DefaultContextBuilder struct {
	store contextStore
}

// NewDefaultContextBuilder constructs a DefaultContextBuilder.
func NewDefaultContextBuilder(store contextStore) *DefaultContextBuilder {
	return &DefaultContextBuilder{store: store}
}

// Build implements ContextBuilder.
func (b *DefaultContextBuilder) Build(ctx context.Context, pair types.Pair) (*MarketContext, error) {
	candles, err := b.store.RecentCandles(ctx, pair, types.Timeframe5m, candlesPer30d)
	if err != nil {
		return nil, fmt.Errorf("loading candles for market context: %w", err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles available for %s", pair)
	}

	// store.RecentCandles returns oldest-first, so the most recent candle
	// is the last element.
	current := candles[len(candles)-1].Close
	mc := &MarketContext{
		Pair:              pair,
		Change24h:         changeOver(candles, current, candlesPer24h),
		Change7d:          changeOver(candles, current, candlesPer7d),
		Change30d:         changeOver(candles, current, candlesPer30d),
		CorrelationRegime: "UNKNOWN",
		LiquidityRegime:   liquidityRegime(candles, candlesPer24h),
		VolatilityRegime:  volatilityRegime(candles, candlesPer24h),
	}

	state, err := b.store.PortfolioState(ctx)
	if err == nil && state != nil {
		mc.PortfolioTotalValueZAR = state.TotalValueZAR
		mc.PortfolioDrawdownPct = state.CurrentDrawdownPct
	}

	positions, err := b.store.OpenPositions(ctx)
	if err == nil {
		mc.OpenPositionCount = len(positions)
	}

	return mc, nil
}

// changeOver computes the percentage change from the candle `back` entries
// before the most recent one to current, clamping to however much history
// is actually available.
func changeOver(candles []*types.Candle, current decimal.Decimal, back int) decimal.Decimal {
	idx := len(candles) - 1 - back
	if idx < 0 {
		idx = 0
	}
	past := candles[idx].Close
	if past.IsZero() {
		return decimal.Zero
	}
	return current.Sub(past).Div(past)
}

// volatilityRegime buckets the trailing window's high-low range relative to
// its average close into LOW/NORMAL/HIGH, the same three-way split the
// original aggregator's _get_volatility_regime used.
func volatilityRegime(candles []*types.Candle, window int) string {
	if window > len(candles) {
		window = len(candles)
	}
	if window == 0 {
		return "UNKNOWN"
	}
	recent := candles[len(candles)-window:]

	sumRange := decimal.Zero
	sumClose := decimal.Zero
	for _, c := range recent {
		sumRange = sumRange.Add(c.High.Sub(c.Low))
		sumClose = sumClose.Add(c.Close)
	}
	avgClose := sumClose.Div(decimal.NewFromInt(int64(window)))
	if avgClose.IsZero() {
		return "UNKNOWN"
	}
	avgRangePct := sumRange.Div(decimal.NewFromInt(int64(window))).Div(avgClose)

	switch {
	case avgRangePct.LessThan(decimal.NewFromFloat(0.01)):
		return "LOW"
	case avgRangePct.GreaterThan(decimal.NewFromFloat(0.03)):
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// liquidityRegime buckets the trailing window's average volume relative to
// the full lookback's average into THIN/NORMAL/DEEP.
func liquidityRegime(candles []*types.Candle, window int) string {
	if window > len(candles) {
		window = len(candles)
	}
	if window == 0 || len(candles) == 0 {
		return "UNKNOWN"
	}

	recentVol := decimal.Zero
	for _, c := range candles[len(candles)-window:] {
		recentVol = recentVol.Add(c.Volume)
	}
	recentAvg := recentVol.Div(decimal.NewFromInt(int64(window)))

	overallVol := decimal.Zero
	for _, c := range candles {
		overallVol = overallVol.Add(c.Volume)
	}
	overallAvg := overallVol.Div(decimal.NewFromInt(int64(len(candles))))
	if overallAvg.IsZero() {
		return "UNKNOWN"
	}

	ratio := recentAvg.Div(overallAvg)
	switch {
	case ratio.LessThan(decimal.NewFromFloat(0.5)):
		return "THIN"
	case ratio.GreaterThan(decimal.NewFromFloat(1.5)):
		return "DEEP"
	default:
		return "NORMAL"
	}
}
