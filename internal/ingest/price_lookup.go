package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// candleSource is the subset of *store.Store the price lookup needs,
// narrowed to an interface so internal/position can be tested without a
// real database.
type candleSource interface {
	RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error)
}

// StaleCandleWindow is how old a fallback candle may be before it is
// rejected outright (§3 "Price Cache").
const StaleCandleWindow = 10 * time.Minute

// PriceLookup composes the in-memory PriceCache with the candle store to
// implement the tiered fallback in §4.8 "Monitor" step 1: cache (<5s), then
// 1m candle (≤10min), then 5m candle (≤10min), then the most recent 1m
// candle regardless of age as a last resort (no separate tick/trade store
// exists in this core; the most
// recent persisted candle close is the closest available proxy for "the
// most recent trade record").
type PriceLookup struct {
	cache  *PriceCache
	store  candleSource
}

// NewPriceLookup constructs a PriceLookup over the given cache and store.
func NewPriceLookup(cache *PriceCache, store candleSource) *PriceLookup {
	return &PriceLookup{cache: cache, store: store}
}

// GetPrice resolves the current usable price for pair, returning the
// source it was resolved from for observability.
func (p *PriceLookup) GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error) {
	if price, ok := p.cache.Get(pair); ok {
		return price, "cache", nil
	}

	candles, err := p.store.RecentCandles(ctx, pair, types.Timeframe1m, 1)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("fetching fallback candle: %w", err)
	}
	if len(candles) == 1 && time.Since(candles[0].CloseTime) <= StaleCandleWindow {
		return candles[0].Close, "candle_1m", nil
	}

	candles, err = p.store.RecentCandles(ctx, pair, types.Timeframe5m, 1)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("fetching fallback candle: %w", err)
	}
	if len(candles) == 1 && time.Since(candles[0].CloseTime) <= StaleCandleWindow {
		return candles[0].Close, "candle_5m", nil
	}

	candles, err = p.store.RecentCandles(ctx, pair, types.Timeframe1m, 1)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("fetching last-resort candle: %w", err)
	}
	if len(candles) == 1 {
		return candles[0].Close, "last_trade", nil
	}

	return decimal.Zero, "", fmt.Errorf("no price available for %s", pair)
}
