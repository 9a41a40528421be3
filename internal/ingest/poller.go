package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// candleStore is the subset of *store.Store the poller and aggregator need.
type candleStore interface {
	InsertCandleIgnoreConflict(ctx context.Context, c *types.Candle) error
	RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error)
	UpsertAggregateCandle(ctx context.Context, c *types.Candle) error
}

// PollerConfig configures the Candle Poller (§4.1).
type PollerConfig struct {
	Pairs        []types.Pair
	PollInterval time.Duration
	MinRequestGap time.Duration
}

// DefaultPollerConfig returns the spec's literal 60s/1s cadence.
func DefaultPollerConfig(pairs []types.Pair) PollerConfig {
	return PollerConfig{
		Pairs:         pairs,
		PollInterval:  60 * time.Second,
		MinRequestGap: time.Second,
	}
}

// Poller polls each configured pair sequentially every PollInterval,
// applying per-pair exponential backoff on error (§4.1).
type Poller struct {
	logger  *zap.Logger
	client  *PublicDataClient
	store   candleStore
	config  PollerConfig
	events  chan<- types.Event

	mu              sync.Mutex
	lastSeen        map[types.Pair]time.Time
	consecutiveErrs map[types.Pair]int
	lastRequest     time.Time
}

// NewPoller constructs a Poller emitting NEW_CANDLE events onto events.
func NewPoller(logger *zap.Logger, client *PublicDataClient, store candleStore, config PollerConfig, events chan<- types.Event) *Poller {
	return &Poller{
		logger:          logger.Named("poller"),
		client:          client,
		store:           store,
		config:          config,
		events:          events,
		lastSeen:        make(map[types.Pair]time.Time),
		consecutiveErrs: make(map[types.Pair]int),
	}
}

// Run blocks, polling every config.PollInterval until ctx is cancelled
// (§4.1 "Shutdown").
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	defer p.client.Close()

	p.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, pair := range p.config.Pairs {
		if ctx.Err() != nil {
			return
		}
		p.pollPair(ctx, pair)
	}
}

func (p *Poller) pollPair(ctx context.Context, pair types.Pair) {
	p.rateLimit()

	buckets, err := p.client.RecentBuckets(ctx, pair, 60, 2)
	if err != nil {
		p.onError(pair, err)
		return
	}

	p.mu.Lock()
	lastSeen := p.lastSeen[pair]
	p.mu.Unlock()

	newest := lastSeen
	for _, b := range buckets {
		openTime, err := time.Parse(time.RFC3339, b.StartTime)
		if err != nil {
			p.logger.Warn("unparseable candle open time", zap.String("pair", string(pair)), zap.Error(err))
			continue
		}
		openTime = openTime.UTC()

		if !openTime.After(lastSeen) {
			continue // §4.1 step 3: open_time ≤ last_seen is skipped
		}

		candle := &types.Candle{
			Pair:      pair,
			Timeframe: types.Timeframe1m,
			OpenTime:  openTime,
			CloseTime: openTime.Add(time.Minute),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		}

		if err := p.store.InsertCandleIgnoreConflict(ctx, candle); err != nil {
			p.onError(pair, err)
			return
		}

		select {
		case p.events <- types.Event{
			Type:      types.EventNewCandle,
			Pair:      pair,
			Timeframe: types.Timeframe1m,
			OpenTime:  openTime,
			Timestamp: time.Now().UTC(),
		}:
		case <-ctx.Done():
			return
		}

		if openTime.After(newest) {
			newest = openTime
		}
	}

	p.mu.Lock()
	p.lastSeen[pair] = newest
	p.consecutiveErrs[pair] = 0
	p.mu.Unlock()
}

func (p *Poller) onError(pair types.Pair, err error) {
	p.mu.Lock()
	p.consecutiveErrs[pair]++
	n := p.consecutiveErrs[pair]
	p.mu.Unlock()

	backoff := p.backoffFor(n, err)
	p.logger.Warn("candle poll failed, backing off",
		zap.String("pair", string(pair)),
		zap.Int("consecutiveErrors", n),
		zap.Duration("backoff", backoff),
		zap.Error(err))

	if n >= 5 {
		p.logger.Error("candle poller critical: repeated failures",
			zap.String("pair", string(pair)), zap.Int("consecutiveErrors", n))
	}

	time.Sleep(backoff)
}

// backoffFor computes min(60s, 5·2^(n-1)), clamped at 60s on rate-limit
// (§4.1, §7).
func (p *Poller) backoffFor(n int, err error) time.Duration {
	if errors.Is(err, ErrRateLimited) {
		return 60 * time.Second
	}
	delay := time.Duration(5) * time.Second
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= 60*time.Second {
			return 60 * time.Second
		}
	}
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	return delay
}

func (p *Poller) rateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.lastRequest)
	if elapsed < p.config.MinRequestGap {
		time.Sleep(p.config.MinRequestGap - elapsed)
	}
	p.lastRequest = time.Now()
}
