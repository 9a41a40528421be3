package ingest

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// AggregatorCycle is the cadence at which the aggregator wakes up; every
// configured timeframe is re-evaluated against its own gating rule on each
// wake (§4.3).
const AggregatorCycle = 5 * time.Minute

// aggregatorTarget pairs a higher timeframe with the source timeframe it is
// rolled up from and the minimum time between two recomputations (zero
// means every wake).
type aggregatorTarget struct {
	timeframe    types.Timeframe
	source       types.Timeframe
	minInterval  time.Duration
}

var aggregatorTargets = []aggregatorTarget{
	{types.Timeframe5m, types.Timeframe1m, 0},
	{types.Timeframe15m, types.Timeframe1m, 0},
	{types.Timeframe1h, types.Timeframe1m, 15 * time.Minute},
	{types.Timeframe4h, types.Timeframe1h, 60 * time.Minute},
	{types.Timeframe1d, types.Timeframe1h, 60 * time.Minute},
}

// Aggregator rolls 1m (and 1h) candles into coarser timeframes on a
// periodic cadence (§4.3).
type Aggregator struct {
	logger *zap.Logger
	store  candleStore
	pairs  []types.Pair

	lastRun map[types.Timeframe]time.Time
}

// NewAggregator constructs an Aggregator over the given pairs.
func NewAggregator(logger *zap.Logger, store candleStore, pairs []types.Pair) *Aggregator {
	return &Aggregator{
		logger:  logger.Named("aggregator"),
		store:   store,
		pairs:   pairs,
		lastRun: make(map[types.Timeframe]time.Time),
	}
}

// Run wakes every AggregatorCycle until ctx is cancelled, re-evaluating
// every configured target timeframe's gating rule on each wake.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(AggregatorCycle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("aggregator stopping")
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Aggregator) tick(ctx context.Context) {
	now := time.Now().UTC()
	for _, target := range aggregatorTargets {
		if target.minInterval > 0 {
			if last, ok := a.lastRun[target.timeframe]; ok && now.Sub(last) < target.minInterval {
				continue
			}
		}
		a.lastRun[target.timeframe] = now

		for _, pair := range a.pairs {
			if ctx.Err() != nil {
				return
			}
			if err := a.aggregatePair(ctx, pair, target, now); err != nil {
				a.logger.Warn("aggregation failed",
					zap.String("pair", string(pair)),
					zap.String("timeframe", string(target.timeframe)),
					zap.Error(err))
			}
		}
	}
}

// aggregatePair rolls up and upserts every complete period of
// target.timeframe found in the source lookback window (§4.3 steps 1-3). It
// keeps no record of which periods were already aggregated, so each call
// re-upserts every complete period in the window.
func (a *Aggregator) aggregatePair(ctx context.Context, pair types.Pair, target aggregatorTarget, now time.Time) error {
	periodMinutes := target.timeframe.Minutes()

	recentSource, err := a.store.RecentCandles(ctx, pair, target.source, sourceLookback(target))
	if err != nil {
		return err
	}
	if len(recentSource) == 0 {
		return nil
	}

	buckets := make(map[time.Time][]*types.Candle)
	for _, c := range recentSource {
		periodStart := alignToPeriod(c.OpenTime, periodMinutes)
		buckets[periodStart] = append(buckets[periodStart], c)
	}

	for periodStart, members := range buckets {
		periodEnd := periodStart.Add(time.Duration(periodMinutes) * time.Minute)
		if now.Before(periodEnd) {
			continue // §4.3: never aggregate the current incomplete period
		}

		agg := foldCandles(pair, target.timeframe, periodStart, periodEnd, members)
		if err := a.store.UpsertAggregateCandle(ctx, agg); err != nil {
			return err
		}
	}

	return nil
}

// alignToPeriod floors t to the start of its periodMinutes-wide bucket,
// using integer division of UTC minutes since the Unix epoch (§4.3 "Align
// period start to timeframe boundaries in UTC minutes since epoch").
func alignToPeriod(t time.Time, periodMinutes int64) time.Time {
	minutesSinceEpoch := t.Unix() / 60
	bucketStart := (minutesSinceEpoch / periodMinutes) * periodMinutes
	return time.Unix(bucketStart*60, 0).UTC()
}

// foldCandles combines chronologically-ordered source candles into one
// aggregate: open=first, close=last, high=max, low=min, volume=sum (§4.3).
func foldCandles(pair types.Pair, tf types.Timeframe, periodStart, periodEnd time.Time, members []*types.Candle) *types.Candle {
	sorted := make([]*types.Candle, len(members))
	copy(sorted, members)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].OpenTime.Before(sorted[j-1].OpenTime); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}

	agg := &types.Candle{
		Pair:      pair,
		Timeframe: tf,
		OpenTime:  periodStart,
		CloseTime: periodEnd,
		Open:      sorted[0].Open,
		Close:     sorted[len(sorted)-1].Close,
		High:      sorted[0].High,
		Low:       sorted[0].Low,
		Volume:    decimal.Zero,
	}
	for _, c := range sorted {
		if c.High.GreaterThan(agg.High) {
			agg.High = c.High
		}
		if c.Low.LessThan(agg.Low) {
			agg.Low = c.Low
		}
		agg.Volume = agg.Volume.Add(c.Volume)
	}
	return agg
}

// sourceLookback bounds how many source candles to pull per pair per tick:
// enough to cover a handful of target periods without scanning the whole
// table.
func sourceLookback(target aggregatorTarget) int {
	switch target.timeframe {
	case types.Timeframe5m, types.Timeframe15m:
		return 60 // up to 1h of 1m candles
	case types.Timeframe1h:
		return 180 // up to 3h of 1m candles
	default:
		return 240 // up to 10 days of 1h candles
	}
}
