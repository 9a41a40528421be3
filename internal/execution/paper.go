package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
	"github.com/heliostrading/core/pkg/utils"
)

// priceSource resolves the current usable market price for a pair,
// narrowed from internal/ingest.PriceLookup.
type priceSource interface {
	GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error)
}

// PaperClient simulates fills against the cached market price (§4.10
// "Paper client").
type PaperClient struct {
	logger   *zap.Logger
	prices   priceSource
	baseFeePct decimal.Decimal

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	rand     *rand.Rand
}

// NewPaperClient constructs a PaperClient seeded with a ZAR balance.
func NewPaperClient(logger *zap.Logger, prices priceSource, feePct decimal.Decimal, startingZAR decimal.Decimal) *PaperClient {
	return &PaperClient{
		logger:     logger.Named("execution.paper"),
		prices:     prices,
		baseFeePct: feePct,
		balances:   map[string]decimal.Decimal{"ZAR": startingZAR},
		rand:       rand.New(rand.NewSource(1)),
	}
}

// PlaceMarketOrder simulates latency, slippage, and fees against the
// cached market price and logs the simulated fill (§4.10). The fill is not
// written to the store; the client holds no store handle.
func (p *PaperClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*types.OrderResult, error) {
	start := time.Now()

	marketPrice, _, err := p.prices.GetPrice(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("resolving market price: %w", err)
	}

	latency := time.Duration(50+p.rand.Intn(151)) * time.Millisecond
	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	orderValue := marketPrice.Mul(req.Quantity)
	slippagePct := p.slippagePct(orderValue)

	fillPrice := marketPrice
	adverse := decimal.NewFromInt(req.Side.Sign())
	fillPrice = marketPrice.Add(marketPrice.Mul(slippagePct).Mul(adverse))

	fees := orderValue.Mul(p.baseFeePct)

	p.mu.Lock()
	p.balances["ZAR"] = p.balances["ZAR"].Sub(fees)
	p.mu.Unlock()

	result := &types.OrderResult{
		Success:     true,
		OrderID:     utils.GenerateOrderID(),
		Pair:        req.Pair,
		Side:        req.Side,
		Quantity:    req.Quantity,
		FillPrice:   fillPrice,
		MarketPrice: marketPrice,
		SlippagePct: slippagePct,
		Fees:        fees,
		LatencyMS:   time.Since(start).Milliseconds(),
		Status:      types.OrderStatusFilled,
		FilledAt:    nowUTC(),
		Mode:        types.ModePaper,
	}

	p.logger.Info("paper order filled",
		zap.String("pair", string(req.Pair)),
		zap.String("side", string(req.Side)),
		zap.String("fillPrice", fillPrice.String()),
		zap.String("slippagePct", slippagePct.String()))

	return result, nil
}

// slippagePct = base_bps + order_value/100,000,000 + uniform(-2,2) bps,
// clamped to [0, 50] bps (§4.10).
func (p *PaperClient) slippagePct(orderValue decimal.Decimal) decimal.Decimal {
	const baseBps = 5.0
	volumeBps, _ := orderValue.Div(decimal.NewFromInt(100_000_000)).Mul(decimal.NewFromInt(10000)).Float64()
	randomBps := -2.0 + p.randomFloat()*4.0

	bps := baseBps + volumeBps + randomBps
	if bps < 0 {
		bps = 0
	}
	if bps > 50 {
		bps = 50
	}
	return decimal.NewFromFloat(bps / 10000)
}

func (p *PaperClient) randomFloat() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rand.Float64()
}

// GetBalance returns the simulated balance for currency.
func (p *PaperClient) GetBalance(_ context.Context, currency string) (*types.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &types.Balance{Currency: currency, Available: p.balances[currency]}, nil
}

// GetAllBalances returns every simulated balance.
func (p *PaperClient) GetAllBalances(_ context.Context) ([]*types.Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*types.Balance, 0, len(p.balances))
	for currency, available := range p.balances {
		out = append(out, &types.Balance{Currency: currency, Available: available})
	}
	return out, nil
}
