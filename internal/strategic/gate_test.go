package strategic_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

type stubContextBuilder struct {
	mc  *strategic.MarketContext
	err error
}

func (s stubContextBuilder) Build(ctx context.Context, pair types.Pair) (*strategic.MarketContext, error) {
	return s.mc, s.err
}

func testParams() *types.TradeParameters {
	return &types.TradeParameters{
		PositionSizeZAR: decimal.NewFromInt(1000),
		Leverage:        decimal.NewFromInt(1),
		StopLossPct:     decimal.NewFromFloat(0.02),
		TakeProfitPct:   decimal.NewFromFloat(0.04),
		MaxLossZAR:      decimal.NewFromInt(20),
		ExpectedGainZAR: decimal.NewFromInt(40),
	}
}

func TestGateDisabledAlwaysApproves(t *testing.T) {
	gate := strategic.New(zap.NewNop(), false, "", time.Second, stubContextBuilder{})
	result := gate.Evaluate(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), testParams())
	assert.Equal(t, strategic.VerdictApprove, result.Decision)
	assert.NotNil(t, result.FinalParams)
}

func TestGateApprovesOnLLMApprove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"decision": "APPROVE", "reasoning": "looks fine"})
	}))
	defer srv.Close()

	gate := strategic.New(zap.NewNop(), true, srv.URL, 2*time.Second, stubContextBuilder{mc: &strategic.MarketContext{Pair: "BTCZAR"}})
	result := gate.Evaluate(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), testParams())
	require.Equal(t, strategic.VerdictApprove, result.Decision)
	assert.NotNil(t, result.FinalParams)
}

func TestGateModifiesPositionSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"decision": "MODIFY", "reasoning": "reduce size",
			"position_size_multiplier": 0.5,
		})
	}))
	defer srv.Close()

	gate := strategic.New(zap.NewNop(), true, srv.URL, 2*time.Second, stubContextBuilder{mc: &strategic.MarketContext{Pair: "BTCZAR"}})
	params := testParams()
	result := gate.Evaluate(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), params)
	require.Equal(t, strategic.VerdictModify, result.Decision)
	require.NotNil(t, result.FinalParams)
	assert.True(t, result.FinalParams.PositionSizeZAR.Equal(decimal.NewFromInt(500)))
}

func TestGateRejectsOnContextBuildFailure(t *testing.T) {
	gate := strategic.New(zap.NewNop(), true, "http://unused", time.Second, stubContextBuilder{err: assertError{}})
	result := gate.Evaluate(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), testParams())
	assert.Equal(t, strategic.VerdictReject, result.Decision)
	assert.Nil(t, result.FinalParams)
}

func TestGateDegradesToRejectOnTransportFailure(t *testing.T) {
	gate := strategic.New(zap.NewNop(), true, "http://127.0.0.1:1", 200*time.Millisecond, stubContextBuilder{mc: &strategic.MarketContext{Pair: "BTCZAR"}})
	result := gate.Evaluate(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), testParams())
	assert.Equal(t, strategic.VerdictReject, result.Decision)
}

type assertError struct{}

func (assertError) Error() string { return "context build failed" }
