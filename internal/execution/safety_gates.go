package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/pkg/types"
)

// safetyStore is the subset of *store.Store the live safety gates need.
type safetyStore interface {
	DailyTradeCount(ctx context.Context) (int64, error)
	OpenPositionsForPair(ctx context.Context, pair types.Pair) ([]*types.Position, error)
	PortfolioState(ctx context.Context) (*types.PortfolioState, error)
}

// SafetyGates runs the five LIVE-mode-only checks of §4.12 before an order
// reaches the Live Client.
type SafetyGates struct {
	logger *zap.Logger
	store  safetyStore
	client Client
	config config.RiskConfig
}

// NewSafetyGates constructs a SafetyGates evaluator. client is used for
// the balance-sufficiency check (§4.12 check 4).
func NewSafetyGates(logger *zap.Logger, store safetyStore, client Client, riskConfig config.RiskConfig) *SafetyGates {
	return &SafetyGates{
		logger: logger.Named("execution.safety"),
		store:  store,
		client: client,
		config: riskConfig,
	}
}

// Check runs all five checks, fail-safe on any error (§4.12: "Any check
// error blocks the trade").
func (g *SafetyGates) Check(ctx context.Context, req OrderRequest, orderValue decimal.Decimal) (bool, string) {
	if orderValue.LessThan(g.config.MinOrderValueZAR) {
		return false, fmt.Sprintf("order value %s below minimum %s", orderValue, g.config.MinOrderValueZAR)
	}
	if orderValue.GreaterThan(g.config.MaxOrderSizeZAR) {
		return false, fmt.Sprintf("order value %s exceeds maximum %s", orderValue, g.config.MaxOrderSizeZAR)
	}

	tradeCount, err := g.store.DailyTradeCount(ctx)
	if err != nil {
		return false, fmt.Sprintf("daily trade count check failed: %v", err)
	}
	if tradeCount >= int64(g.config.MaxDailyTrades) {
		return false, fmt.Sprintf("daily trade count %d reached limit %d", tradeCount, g.config.MaxDailyTrades)
	}

	if ok, reason := g.checkBalanceSufficiency(ctx, req, orderValue); !ok {
		return false, reason
	}

	if req.Side == types.OrderSideBuy {
		if ok, reason := g.checkPositionExposure(ctx, req, orderValue); !ok {
			return false, reason
		}
	}

	return true, ""
}

// checkBalanceSufficiency implements §4.12 check 4: quote-side for BUY
// needs order_value·(1+fee_pct+buffer_pct); base-side for SELL needs
// quantity.
func (g *SafetyGates) checkBalanceSufficiency(ctx context.Context, req OrderRequest, orderValue decimal.Decimal) (bool, string) {
	if req.Side == types.OrderSideBuy {
		required := orderValue.Mul(decimal.NewFromInt(1).Add(g.config.FeePct).Add(g.config.BalanceBufferPct))
		balance, err := g.client.GetBalance(ctx, "ZAR")
		if err != nil {
			return false, fmt.Sprintf("balance check failed: %v", err)
		}
		if balance.Available.LessThan(required) {
			return false, fmt.Sprintf("available ZAR %s below required %s", balance.Available, required)
		}
		return true, ""
	}

	base := baseCurrency(req.Pair)
	balance, err := g.client.GetBalance(ctx, base)
	if err != nil {
		return false, fmt.Sprintf("balance check failed: %v", err)
	}
	if balance.Available.LessThan(req.Quantity) {
		return false, fmt.Sprintf("available %s %s below required %s", base, balance.Available, req.Quantity)
	}
	return true, ""
}

// checkPositionExposure implements §4.12 check 5.
func (g *SafetyGates) checkPositionExposure(ctx context.Context, req OrderRequest, orderValue decimal.Decimal) (bool, string) {
	state, err := g.store.PortfolioState(ctx)
	if err != nil {
		return false, fmt.Sprintf("position exposure check failed: %v", err)
	}
	if state.TotalValueZAR.IsZero() {
		return false, "portfolio value is zero"
	}

	positions, err := g.store.OpenPositionsForPair(ctx, req.Pair)
	if err != nil {
		return false, fmt.Sprintf("position exposure check failed: %v", err)
	}

	existing := decimal.Zero
	for _, p := range positions {
		existing = existing.Add(p.PositionValueZAR)
	}

	exposurePct := existing.Add(orderValue).Div(state.TotalValueZAR)
	if exposurePct.GreaterThan(g.config.MaxPositionExposurePct) {
		return false, fmt.Sprintf("position exposure %s exceeds limit %s", exposurePct, g.config.MaxPositionExposurePct)
	}
	return true, ""
}

// baseCurrency extracts the base asset from a pair like "BTCZAR" by
// stripping the fixed "ZAR" quote suffix (§3 "Pair").
func baseCurrency(pair types.Pair) string {
	s := string(pair)
	if len(s) > 3 && s[len(s)-3:] == "ZAR" {
		return s[:len(s)-3]
	}
	return s
}
