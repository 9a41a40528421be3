package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// modeSource resolves the current trading mode on every call; the router
// must never cache it across orders (§4.9 step 1, §3 "Trading Mode").
type modeSource interface {
	CurrentMode(ctx context.Context) (*types.TradingMode, error)
}

// pricer resolves the current market price, used to compute order notional
// for the safety gates (§4.12).
type pricer interface {
	GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error)
}

// Router is the Execution Router (§4.9): on every order, it re-reads the
// current mode, resolves paper or live, runs live safety gates in LIVE
// mode, and enriches the result with routing metadata.
type Router struct {
	logger *zap.Logger
	mode   modeSource
	prices pricer
	paper  Client
	live   *LiveClient
	safety *SafetyGates
}

// NewRouter constructs a Router.
func NewRouter(logger *zap.Logger, mode modeSource, prices pricer, paper Client, live *LiveClient, safety *SafetyGates) *Router {
	return &Router{
		logger: logger.Named("execution.router"),
		mode:   mode,
		prices: prices,
		paper:  paper,
		live:   live,
		safety: safety,
	}
}

// PlaceMarketOrder implements the per-order algorithm of §4.9.
func (r *Router) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*types.OrderResult, error) {
	mode, err := r.mode.CurrentMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving current mode: %w", err)
	}

	if mode.CurrentMode == types.ModePaper {
		result, err := r.paper.PlaceMarketOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		result.RoutedVia = "paper"
		result.ClientType = ClientTypePaper
		return result, nil
	}

	if r.live == nil || !r.live.Configured() {
		return &types.OrderResult{
			Success: false,
			Pair:    req.Pair,
			Side:    req.Side,
			Mode:    types.ModeLive,
			Error:   "LIVE mode active but no live credentials configured",
		}, nil
	}

	price, _, err := r.prices.GetPrice(ctx, req.Pair)
	if err != nil {
		return nil, fmt.Errorf("resolving price for safety gates: %w", err)
	}
	orderValue := price.Mul(req.Quantity)

	if ok, reason := r.safety.Check(ctx, req, orderValue); !ok {
		r.logger.Warn("live safety gate blocked order",
			zap.String("pair", string(req.Pair)), zap.String("reason", reason))
		return &types.OrderResult{
			Success:       false,
			Pair:          req.Pair,
			Side:          req.Side,
			Mode:          types.ModeLive,
			Error:         reason,
			SafetyChecked: true,
			SafetyStatus:  "BLOCKED",
		}, nil
	}

	result, err := r.live.PlaceMarketOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	result.RoutedVia = "live"
	result.ClientType = ClientTypeLive
	result.SafetyChecked = true
	result.SafetyStatus = "PASSED"
	return result, nil
}

// GetBalance passes through to whichever client is currently selected
// (§4.9 "Balance queries are passed through to the currently selected
// client").
func (r *Router) GetBalance(ctx context.Context, currency string) (*types.Balance, error) {
	mode, err := r.mode.CurrentMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving current mode: %w", err)
	}
	if mode.CurrentMode == types.ModePaper {
		return r.paper.GetBalance(ctx, currency)
	}
	if r.live == nil {
		return nil, fmt.Errorf("LIVE mode active but no live client configured")
	}
	return r.live.GetBalance(ctx, currency)
}

// AvailableZAR implements portfolio.BalanceSource so the Tier 5 gatekeeper
// can check cash sufficiency against whichever client is currently
// selected (§4.7 check 3).
func (r *Router) AvailableZAR(ctx context.Context) (decimal.Decimal, error) {
	balance, err := r.GetBalance(ctx, "ZAR")
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Available, nil
}
