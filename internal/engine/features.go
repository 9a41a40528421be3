package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
	"github.com/heliostrading/core/pkg/utils"
)

// MinOneMinuteCandles is the minimum 1m history required before a feature
// vector is computed (§4.14 step 3: "≥50 of 1m required").
const MinOneMinuteCandles = 50

// featureCandleSource is the subset of *store.Store the feature computer
// needs.
type featureCandleSource interface {
	RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error)
}

// computeFeatures builds the feature vector for pair from recent 1m/5m/15m
// candles (§4.14 step 3). The core has no standalone ML feature-engineering
// service in this implementation, so this step plays that role directly:
// a fixed-width vector of return/volatility/momentum statistics across the
// three source timeframes, padded to the spec's 90-wide convention so the
// predictor's external model contract stays stable regardless of which
// statistics this core computes.
func computeFeatures(ctx context.Context, store featureCandleSource, pair types.Pair, computedAt time.Time) (*types.FeatureVector, error) {
	oneMin, err := store.RecentCandles(ctx, pair, types.Timeframe1m, 200)
	if err != nil {
		return nil, fmt.Errorf("loading 1m candles: %w", err)
	}
	if len(oneMin) < MinOneMinuteCandles {
		return nil, fmt.Errorf("insufficient 1m history for %s: have %d, need %d", pair, len(oneMin), MinOneMinuteCandles)
	}

	fiveMin, err := store.RecentCandles(ctx, pair, types.Timeframe5m, 60)
	if err != nil {
		return nil, fmt.Errorf("loading 5m candles: %w", err)
	}
	fifteenMin, err := store.RecentCandles(ctx, pair, types.Timeframe15m, 40)
	if err != nil {
		return nil, fmt.Errorf("loading 15m candles: %w", err)
	}

	var values []float64
	var names []string

	addBlock := func(label string, candles []*types.Candle) {
		closes := closesOf(candles)
		returns := utils.CalculateReturns(closes)

		mean, _ := utils.CalculateMean(returns).Float64()
		stddev, _ := utils.CalculateStdDev(returns).Float64()
		momentum := 0.0
		if len(closes) >= 2 {
			momentum, _ = utils.CalculatePercentageChange(closes[0], closes[len(closes)-1]).Float64()
		}
		volume := 0.0
		for _, c := range candles {
			v, _ := c.Volume.Float64()
			volume += v
		}

		values = append(values, mean, stddev, momentum, volume)
		names = append(names, label+"_mean_return", label+"_stddev_return", label+"_momentum", label+"_volume_sum")
	}

	addBlock("1m", oneMin)
	addBlock("5m", fiveMin)
	addBlock("15m", fifteenMin)

	for len(values) < 90 {
		values = append(values, 0)
		names = append(names, fmt.Sprintf("reserved_%d", len(values)))
	}
	values = values[:90]
	names = names[:90]

	return &types.FeatureVector{
		Pair:       pair,
		ComputedAt: computedAt,
		Values:     values,
		Names:      names,
	}, nil
}

func closesOf(candles []*types.Candle) []decimal.Decimal {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	return closes
}
