package execution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/execution"
	"github.com/heliostrading/core/pkg/types"
)

type fixedPrice struct {
	price decimal.Decimal
}

func (f fixedPrice) GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error) {
	return f.price, "cache", nil
}

func TestPaperClientFillsAtSlippedPrice(t *testing.T) {
	prices := fixedPrice{price: decimal.NewFromInt(1000000)}
	client := execution.NewPaperClient(zap.NewNop(), prices, decimal.NewFromFloat(0.001), decimal.NewFromInt(100000))

	result, err := client.PlaceMarketOrder(context.Background(), execution.OrderRequest{
		Pair: "BTCZAR", Side: types.OrderSideBuy, Quantity: decimal.NewFromFloat(0.01),
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, types.ModePaper, result.Mode)

	// BUY slips the fill price up relative to the market price.
	assert.True(t, result.FillPrice.GreaterThanOrEqual(result.MarketPrice))
	assert.True(t, result.SlippagePct.GreaterThanOrEqual(decimal.Zero))
	assert.True(t, result.SlippagePct.LessThanOrEqual(decimal.NewFromFloat(0.005)))
}

func TestPaperClientSellSlipsDown(t *testing.T) {
	prices := fixedPrice{price: decimal.NewFromInt(1000000)}
	client := execution.NewPaperClient(zap.NewNop(), prices, decimal.NewFromFloat(0.001), decimal.NewFromInt(100000))

	result, err := client.PlaceMarketOrder(context.Background(), execution.OrderRequest{
		Pair: "BTCZAR", Side: types.OrderSideSell, Quantity: decimal.NewFromFloat(0.01),
	})
	require.NoError(t, err)
	assert.True(t, result.FillPrice.LessThanOrEqual(result.MarketPrice))
}

func TestPaperClientDeductsFeesFromBalance(t *testing.T) {
	prices := fixedPrice{price: decimal.NewFromInt(1000000)}
	starting := decimal.NewFromInt(100000)
	client := execution.NewPaperClient(zap.NewNop(), prices, decimal.NewFromFloat(0.01), starting)

	_, err := client.PlaceMarketOrder(context.Background(), execution.OrderRequest{
		Pair: "BTCZAR", Side: types.OrderSideBuy, Quantity: decimal.NewFromFloat(0.01),
	})
	require.NoError(t, err)

	balance, err := client.GetBalance(context.Background(), "ZAR")
	require.NoError(t, err)
	assert.True(t, balance.Available.LessThan(starting))
}

func TestPaperClientGetAllBalancesIncludesSeeded(t *testing.T) {
	prices := fixedPrice{price: decimal.NewFromInt(1000000)}
	client := execution.NewPaperClient(zap.NewNop(), prices, decimal.NewFromFloat(0.001), decimal.NewFromInt(50000))

	balances, err := client.GetAllBalances(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "ZAR", balances[0].Currency)
}
