// Package position implements the Position Manager (Tier 5 executor,
// §4.8): open, monitor (SL/TP/timeout), and close positions, updating
// portfolio state on every close. Adapted from the teacher's
// internal/execution/order_manager.go lifecycle structure, generalized to
// this spec's stop/take sign convention and 24h hard timeout.
package position

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/execution"
	"github.com/heliostrading/core/pkg/types"
	"github.com/heliostrading/core/pkg/utils"
)

// PositionTimeout is the 24-hour hard timeout every position is subject to
// (§3 "Position", §4.8 step 5).
const PositionTimeout = 24 * time.Hour

// positionStore is the subset of *store.Store the manager needs.
type positionStore interface {
	InsertPosition(ctx context.Context, p *types.Position) error
	OpenPositions(ctx context.Context) ([]*types.Position, error)
	ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, pnlPct, pnlZAR decimal.Decimal, reason types.CloseReason) error
	ApplyRealizedPnL(ctx context.Context, pnlZAR decimal.Decimal) (*types.PortfolioState, error)
}

// priceSource resolves the current usable price for a pair.
type priceSource interface {
	GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error)
}

// Action is a triggered close action returned by Monitor (§4.8 "Monitor").
type Action struct {
	PositionID string
	Reason     types.CloseReason
	Price      decimal.Decimal
}

// Manager is the Position Manager.
type Manager struct {
	logger *zap.Logger
	store  positionStore
	prices priceSource
	router *execution.Router
}

// New constructs a Manager.
func New(logger *zap.Logger, store positionStore, prices priceSource, router *execution.Router) *Manager {
	return &Manager{
		logger: logger.Named("position"),
		store:  store,
		prices: prices,
		router: router,
	}
}

// Open fetches the current price, places a market order, and on success
// inserts the Position row with stop/take prices derived by sign
// convention (§4.8 "Open"). On failure, no position is inserted; the
// caller marks the decision TIER5_EXECUTION_FAILED.
func (m *Manager) Open(ctx context.Context, pair types.Pair, side types.OrderSide, params *types.TradeParameters, strategicReasoning string) (*types.Position, error) {
	price, _, err := m.prices.GetPrice(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("resolving entry price: %w", err)
	}
	if price.IsZero() {
		return nil, fmt.Errorf("entry price for %s is zero", pair)
	}

	quantity := params.PositionSizeZAR.Div(price)

	result, err := m.router.PlaceMarketOrder(ctx, execution.OrderRequest{Pair: pair, Side: side, Quantity: quantity})
	if err != nil {
		return nil, fmt.Errorf("placing entry order: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("entry order failed: %s", result.Error)
	}

	stopLossPrice, takeProfitPrice := stopTakePrices(side, result.FillPrice, params.StopLossPct, params.TakeProfitPct)

	pos := &types.Position{
		ID:                 utils.GeneratePositionID(),
		Pair:               pair,
		Side:               side,
		EntryPrice:         result.FillPrice,
		EntryTime:          result.FilledAt,
		Quantity:           result.Quantity,
		PositionValueZAR:   params.PositionSizeZAR,
		Leverage:           params.Leverage,
		StopLossPrice:      stopLossPrice,
		TakeProfitPrice:    takeProfitPrice,
		Status:             types.PositionOpen,
		StrategicReasoning: strategicReasoning,
		OrderID:            result.OrderID,
	}

	if err := m.store.InsertPosition(ctx, pos); err != nil {
		return nil, fmt.Errorf("persisting position: %w", err)
	}

	return pos, nil
}

// stopTakePrices derives stop-loss/take-profit prices from entry price and
// pct parameters using the side's sign convention (§4.8 "Open"):
// BUY: stop = entry·(1−sl_pct), take = entry·(1+tp_pct); SELL mirrors.
func stopTakePrices(side types.OrderSide, entry, stopLossPct, takeProfitPct decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	sign := decimal.NewFromInt(side.Sign())
	stop := entry.Sub(entry.Mul(stopLossPct).Mul(sign))
	take := entry.Add(entry.Mul(takeProfitPct).Mul(sign))
	return stop, take
}

// Monitor evaluates every open position against its stop/take/timeout and
// returns the triggered close actions (§4.8 "Monitor").
func (m *Manager) Monitor(ctx context.Context) ([]Action, error) {
	positions, err := m.store.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading open positions: %w", err)
	}

	var actions []Action
	now := time.Now().UTC()

	for _, p := range positions {
		price, _, err := m.prices.GetPrice(ctx, p.Pair)
		if err != nil {
			m.logger.Warn("price lookup failed during monitor tick", zap.String("position", p.ID), zap.Error(err))
			continue
		}

		if reason, triggered := evaluateTrigger(p, price, now); triggered {
			actions = append(actions, Action{PositionID: p.ID, Reason: reason, Price: price})
		}
	}

	return actions, nil
}

// evaluateTrigger implements §4.8 steps 3-5: stop-loss checked before
// take-profit on a tie, then the 24h hard timeout.
func evaluateTrigger(p *types.Position, price decimal.Decimal, now time.Time) (types.CloseReason, bool) {
	sign := p.Side.Sign()

	if sign == 1 { // BUY
		if price.LessThanOrEqual(p.StopLossPrice) {
			return types.PositionStopLoss, true
		}
		if price.GreaterThanOrEqual(p.TakeProfitPrice) {
			return types.PositionTakeProfit, true
		}
	} else { // SELL
		if price.GreaterThanOrEqual(p.StopLossPrice) {
			return types.PositionStopLoss, true
		}
		if price.LessThanOrEqual(p.TakeProfitPrice) {
			return types.PositionTakeProfit, true
		}
	}

	if now.Sub(p.EntryTime) > PositionTimeout {
		return types.PositionTimeout, true
	}

	return "", false
}

// Close submits the opposite-side order, records exit details, and updates
// portfolio state (§4.8 "Close").
func (m *Manager) Close(ctx context.Context, p *types.Position, reason types.CloseReason) error {
	opposite := types.OrderSideSell
	if p.Side == types.OrderSideSell {
		opposite = types.OrderSideBuy
	}

	result, err := m.router.PlaceMarketOrder(ctx, execution.OrderRequest{Pair: p.Pair, Side: opposite, Quantity: p.Quantity})
	if err != nil {
		return fmt.Errorf("placing exit order: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("exit order failed: %s", result.Error)
	}

	sign := decimal.NewFromInt(p.Side.Sign())
	pnlPct := result.FillPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(sign).Mul(p.Leverage)
	pnlZAR := p.PositionValueZAR.Mul(pnlPct)

	if err := m.store.ClosePosition(ctx, p.ID, result.FillPrice, result.FilledAt, pnlPct, pnlZAR, reason); err != nil {
		return fmt.Errorf("recording close: %w", err)
	}

	if _, err := m.store.ApplyRealizedPnL(ctx, pnlZAR); err != nil {
		return fmt.Errorf("applying realized pnl: %w", err)
	}

	m.logger.Info("position closed",
		zap.String("position", p.ID), zap.String("reason", string(reason)),
		zap.String("exitPrice", result.FillPrice.String()), zap.String("pnlZar", pnlZAR.String()))

	return nil
}
