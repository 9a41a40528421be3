package portfolio_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/portfolio"
	"github.com/heliostrading/core/pkg/types"
)

type fakeStore struct {
	state      *types.PortfolioState
	positions  []*types.Position
	candles    map[types.Pair][]*types.Candle
	dailyTrade int64
}

func (f *fakeStore) OpenPositions(ctx context.Context) ([]*types.Position, error) {
	return f.positions, nil
}
func (f *fakeStore) PortfolioState(ctx context.Context) (*types.PortfolioState, error) {
	return f.state, nil
}
func (f *fakeStore) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	return f.candles[pair], nil
}
func (f *fakeStore) DailyTradeCount(ctx context.Context) (int64, error) {
	return f.dailyTrade, nil
}

type fakeBalance struct {
	available decimal.Decimal
}

func (b fakeBalance) AvailableZAR(ctx context.Context) (decimal.Decimal, error) {
	return b.available, nil
}

func flatCandles(pair types.Pair, price decimal.Decimal, n int) []*types.Candle {
	out := make([]*types.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = &types.Candle{Pair: pair, Timeframe: types.Timeframe1d, OpenTime: time.Now().Add(-time.Duration(n-i) * 24 * time.Hour), Close: price}
	}
	return out
}

func defaultRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxDrawdownPct:         decimal.NewFromFloat(0.15),
		DailyLossLimitPct:      decimal.NewFromFloat(0.05),
		MaxSinglePositionPct:   decimal.NewFromFloat(0.20),
		MaxSectorExposurePct:   decimal.NewFromFloat(0.60),
		MaxCorrelation:         decimal.NewFromFloat(0.90),
		MaxLeverageRatio:       decimal.NewFromFloat(3.0),
		MinPositionFloorPct:    decimal.NewFromFloat(0.01),
		DefaultVolatilityPct:   decimal.NewFromFloat(0.015),
		VolatilityRiskFloorPct: decimal.NewFromFloat(0.25),
		VolatilityRiskCapPct:   decimal.NewFromFloat(0.50),
	}
}

func TestEvaluatePassesWithinLimits(t *testing.T) {
	store := &fakeStore{
		state:   &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(100000), PeakValueZAR: decimal.NewFromInt(100000)},
		candles: map[types.Pair][]*types.Candle{"BTCZAR": flatCandles("BTCZAR", decimal.NewFromInt(100), 30)},
	}
	riskMgr := portfolio.New(zap.NewNop(), store, fakeBalance{available: decimal.NewFromInt(100000)}, defaultRiskConfig())

	params := &types.TradeParameters{PositionSizeZAR: decimal.NewFromInt(5000), Leverage: decimal.NewFromInt(1), StopLossPct: decimal.NewFromFloat(0.02), TakeProfitPct: decimal.NewFromFloat(0.04)}
	assessment, err := riskMgr.Evaluate(context.Background(), "BTCZAR", params)
	require.NoError(t, err)
	assert.True(t, assessment.Passed, assessment.Reason)
}

func TestEvaluateFailsOnDrawdown(t *testing.T) {
	store := &fakeStore{
		state:   &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(80000), PeakValueZAR: decimal.NewFromInt(100000), CurrentDrawdownPct: decimal.NewFromFloat(0.20)},
		candles: map[types.Pair][]*types.Candle{"BTCZAR": flatCandles("BTCZAR", decimal.NewFromInt(100), 30)},
	}
	riskMgr := portfolio.New(zap.NewNop(), store, fakeBalance{available: decimal.NewFromInt(100000)}, defaultRiskConfig())

	params := &types.TradeParameters{PositionSizeZAR: decimal.NewFromInt(5000), Leverage: decimal.NewFromInt(1), StopLossPct: decimal.NewFromFloat(0.02), TakeProfitPct: decimal.NewFromFloat(0.04)}
	assessment, err := riskMgr.Evaluate(context.Background(), "BTCZAR", params)
	require.NoError(t, err)
	assert.False(t, assessment.Passed)
	assert.Contains(t, assessment.Reason, "drawdown")
}

func TestEvaluateFailsOnInsufficientCash(t *testing.T) {
	store := &fakeStore{
		state:   &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(100000), PeakValueZAR: decimal.NewFromInt(100000)},
		candles: map[types.Pair][]*types.Candle{"BTCZAR": flatCandles("BTCZAR", decimal.NewFromInt(100), 30)},
	}
	riskMgr := portfolio.New(zap.NewNop(), store, fakeBalance{available: decimal.NewFromInt(100)}, defaultRiskConfig())

	params := &types.TradeParameters{PositionSizeZAR: decimal.NewFromInt(5000), Leverage: decimal.NewFromInt(1), StopLossPct: decimal.NewFromFloat(0.02), TakeProfitPct: decimal.NewFromFloat(0.04)}
	assessment, err := riskMgr.Evaluate(context.Background(), "BTCZAR", params)
	require.NoError(t, err)
	assert.False(t, assessment.Passed)
	assert.Contains(t, assessment.Reason, "available cash")
}

func TestEvaluateFailsOnZeroPortfolioValue(t *testing.T) {
	store := &fakeStore{state: &types.PortfolioState{TotalValueZAR: decimal.Zero}}
	riskMgr := portfolio.New(zap.NewNop(), store, fakeBalance{}, defaultRiskConfig())

	params := &types.TradeParameters{PositionSizeZAR: decimal.NewFromInt(100), Leverage: decimal.NewFromInt(1)}
	assessment, err := riskMgr.Evaluate(context.Background(), "BTCZAR", params)
	require.NoError(t, err)
	assert.False(t, assessment.Passed)
	assert.Contains(t, assessment.ViolatedLimits, "ZERO_PORTFOLIO_VALUE")
}
