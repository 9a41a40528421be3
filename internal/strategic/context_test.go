package strategic_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

type fakeContextStore struct {
	candles    []*types.Candle
	state      *types.PortfolioState
	positions  []*types.Position
}

func (f *fakeContextStore) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	return f.candles, nil
}

func (f *fakeContextStore) PortfolioState(ctx context.Context) (*types.PortfolioState, error) {
	return f.state, nil
}

func (f *fakeContextStore) OpenPositions(ctx context.Context) ([]*types.Position, error) {
	return f.positions, nil
}

// risingCandles builds n oldest-first 5m candles, each worth 0.1% more than
// the last, mirroring store.RecentCandles' return ordering.
func risingCandles(n int) []*types.Candle {
	out := make([]*types.Candle, n)
	price := decimal.NewFromInt(100000)
	step := decimal.NewFromFloat(0.001)
	base := time.Now().Add(-time.Duration(n) * 5 * time.Minute)
	for i := 0; i < n; i++ {
		out[i] = &types.Candle{
			OpenTime: base.Add(time.Duration(i) * 5 * time.Minute),
			Open: price, High: price.Mul(decimal.NewFromFloat(1.001)), Low: price.Mul(decimal.NewFromFloat(0.999)),
			Close: price, Volume: decimal.NewFromInt(10),
		}
		price = price.Add(price.Mul(step))
	}
	return out
}

func TestBuildComputesChangeFromMostRecentCandle(t *testing.T) {
	store := &fakeContextStore{
		candles: risingCandles(300),
		state:   &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(100000), CurrentDrawdownPct: decimal.NewFromFloat(0.05)},
	}
	builder := strategic.NewDefaultContextBuilder(store)

	mc, err := builder.Build(context.Background(), "BTCZAR")
	require.NoError(t, err)
	assert.Equal(t, types.Pair("BTCZAR"), mc.Pair)
	assert.True(t, mc.Change24h.GreaterThan(decimal.Zero), "price rose over the window, change should be positive")
	assert.True(t, mc.PortfolioTotalValueZAR.Equal(decimal.NewFromInt(100000)))
	assert.True(t, mc.PortfolioDrawdownPct.Equal(decimal.NewFromFloat(0.05)))
}

func TestBuildErrorsOnNoCandles(t *testing.T) {
	store := &fakeContextStore{}
	builder := strategic.NewDefaultContextBuilder(store)

	_, err := builder.Build(context.Background(), "BTCZAR")
	require.Error(t, err)
}

func TestBuildReportsOpenPositionCount(t *testing.T) {
	store := &fakeContextStore{
		candles:   risingCandles(50),
		state:     &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(50000)},
		positions: []*types.Position{{ID: "p1"}, {ID: "p2"}},
	}
	builder := strategic.NewDefaultContextBuilder(store)

	mc, err := builder.Build(context.Background(), "ETHZAR")
	require.NoError(t, err)
	assert.Equal(t, 2, mc.OpenPositionCount)
}
