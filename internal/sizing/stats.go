package sizing

import (
	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// NeutralTradeStats is a TradeStatsProvider with no historical data to
// learn from yet: a 50/50 win rate at the same 1:2 risk:reward the sizer
// already derives from the volatility forecast (stop-loss = volatility,
// take-profit = 2x volatility), so the Kelly fraction starts modestly
// positive instead of pinned to zero. Swap in a store-backed provider
// once enough closed positions exist to estimate the real per-pair
// figures.
type NeutralTradeStats struct{}

// Stats implements TradeStatsProvider.
func (NeutralTradeStats) Stats(pair types.Pair) (winRate, avgWin, avgLoss decimal.Decimal) {
	return decimal.NewFromFloat(0.5), decimal.NewFromInt(2), decimal.NewFromInt(1)
}
