package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

type fakeCandleStore struct {
	recent    []*types.Candle
	upserted  []*types.Candle
}

func (f *fakeCandleStore) InsertCandleIgnoreConflict(ctx context.Context, c *types.Candle) error {
	return nil
}

func (f *fakeCandleStore) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	return f.recent, nil
}

func (f *fakeCandleStore) UpsertAggregateCandle(ctx context.Context, c *types.Candle) error {
	f.upserted = append(f.upserted, c)
	return nil
}

func TestAlignToPeriodFloorsToBoundary(t *testing.T) {
	// 2026-01-01 00:07:30 UTC should floor to 00:05:00 on a 5-minute bucket.
	ts := time.Date(2026, 1, 1, 0, 7, 30, 0, time.UTC)
	got := alignToPeriod(ts, 5)
	want := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	assert.True(t, got.Equal(want), "got %v want %v", got, want)
}

func TestAlignToPeriodOnExactBoundary(t *testing.T) {
	ts := time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)
	got := alignToPeriod(ts, 60)
	assert.True(t, got.Equal(ts))
}

func TestFoldCandlesCombinesOHLCV(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	members := []*types.Candle{
		{OpenTime: start.Add(2 * time.Minute), Open: decimal.NewFromInt(102), High: decimal.NewFromInt(105), Low: decimal.NewFromInt(101), Close: decimal.NewFromInt(103), Volume: decimal.NewFromInt(5)},
		{OpenTime: start, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(104), Low: decimal.NewFromInt(98), Close: decimal.NewFromInt(102), Volume: decimal.NewFromInt(10)},
		{OpenTime: start.Add(4 * time.Minute), Open: decimal.NewFromInt(103), High: decimal.NewFromInt(106), Low: decimal.NewFromInt(102), Close: decimal.NewFromInt(104), Volume: decimal.NewFromInt(7)},
	}

	agg := foldCandles("BTCZAR", types.Timeframe5m, start, start.Add(5*time.Minute), members)
	assert.True(t, agg.Open.Equal(decimal.NewFromInt(100)), "open should come from the earliest member")
	assert.True(t, agg.Close.Equal(decimal.NewFromInt(104)), "close should come from the latest member")
	assert.True(t, agg.High.Equal(decimal.NewFromInt(106)))
	assert.True(t, agg.Low.Equal(decimal.NewFromInt(98)))
	assert.True(t, agg.Volume.Equal(decimal.NewFromInt(22)))
}

func TestAggregatePairSkipsIncompletePeriod(t *testing.T) {
	now := time.Now().UTC()
	store := &fakeCandleStore{
		recent: []*types.Candle{
			{OpenTime: alignToPeriod(now, 5), Open: decimal.NewFromInt(100), High: decimal.NewFromInt(100), Low: decimal.NewFromInt(100), Close: decimal.NewFromInt(100)},
		},
	}
	agg := NewAggregator(zap.NewNop(), store, []types.Pair{"BTCZAR"})

	target := aggregatorTarget{timeframe: types.Timeframe5m, source: types.Timeframe1m}
	err := agg.aggregatePair(context.Background(), "BTCZAR", target, now)
	require.NoError(t, err)
	assert.Empty(t, store.upserted, "the current incomplete period must never be aggregated")
}

func TestAggregatePairUpsertsCompletePeriod(t *testing.T) {
	periodStart := alignToPeriod(time.Now().UTC().Add(-10*time.Minute), 5)
	store := &fakeCandleStore{
		recent: []*types.Candle{
			{OpenTime: periodStart, Open: decimal.NewFromInt(100), High: decimal.NewFromInt(101), Low: decimal.NewFromInt(99), Close: decimal.NewFromInt(100)},
		},
	}
	agg := NewAggregator(zap.NewNop(), store, []types.Pair{"BTCZAR"})

	target := aggregatorTarget{timeframe: types.Timeframe5m, source: types.Timeframe1m}
	err := agg.aggregatePair(context.Background(), "BTCZAR", target, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, types.Timeframe5m, store.upserted[0].Timeframe)
}
