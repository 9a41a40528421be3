// Package execution implements §4.9-§4.12: the Execution Router, the Paper
// and Live clients it dispatches to, and the Live Safety Gates that guard
// LIVE-mode orders. Adapted from the teacher's internal/execution package
// (Executor/OrderManager/adapters.BinanceAdapter), replaced with this
// spec's stateless per-call mode lookup and the VALR HMAC-SHA512 wire
// format (§4.10).
package execution

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// OrderRequest is the input both clients accept (§4.10).
type OrderRequest struct {
	Pair     types.Pair
	Side     types.OrderSide
	Quantity decimal.Decimal
}

// Client is the shared surface both Paper and Live clients expose (§4.10
// "Both expose the same small surface").
type Client interface {
	PlaceMarketOrder(ctx context.Context, req OrderRequest) (*types.OrderResult, error)
	GetBalance(ctx context.Context, currency string) (*types.Balance, error)
	GetAllBalances(ctx context.Context) ([]*types.Balance, error)
}

// clientType labels OrderResult.ClientType (§4.9 step 4).
const (
	ClientTypePaper = "paper"
	ClientTypeLive  = "live"
)

func nowUTC() time.Time { return time.Now().UTC() }
