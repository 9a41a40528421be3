// Package ingest implements the L1 layer: the candle poller, the live
// price stream, the candle aggregator, and the price cache they share.
package ingest

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// FreshnessWindow is the cutoff below which a cached price is usable (§3
// "Price Cache"). Exactly 5 seconds old is stale (§8 boundary behaviors,
// strict `<`).
const FreshnessWindow = 5 * time.Second

// PriceCache is the Engine-owned in-memory map of pair → (price, timestamp)
// (§3 "Ownership": written only by the event loop, read by the position
// monitor and execution). Backed by patrickmn/go-cache for its built-in
// per-entry expiry and concurrency-safe map.
type PriceCache struct {
	c *gocache.Cache
}

type entry struct {
	price     decimal.Decimal
	timestamp time.Time
}

// NewPriceCache creates a price cache whose entries expire after the
// freshness window, with janitor cleanup every minute.
func NewPriceCache() *PriceCache {
	return &PriceCache{c: gocache.New(FreshnessWindow, time.Minute)}
}

// Set records a PRICE_UPDATE observation (§4.14 dispatch).
func (p *PriceCache) Set(pair types.Pair, price decimal.Decimal, ts time.Time) {
	p.c.Set(string(pair), entry{price: price, timestamp: ts}, FreshnessWindow)
}

// Get returns the cached price for pair if it is strictly younger than
// FreshnessWindow, per the boundary rule "exactly 5 seconds old is stale".
func (p *PriceCache) Get(pair types.Pair) (decimal.Decimal, bool) {
	v, ok := p.c.Get(string(pair))
	if !ok {
		return decimal.Zero, false
	}
	e := v.(entry)
	if time.Since(e.timestamp) >= FreshnessWindow {
		return decimal.Zero, false
	}
	return e.price, true
}
