package sizing_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/sizing"
	"github.com/heliostrading/core/pkg/types"
)

type recordingStore struct {
	decisions []*types.RiskDecision
}

func (r *recordingStore) InsertDecision(ctx context.Context, d *types.RiskDecision) error {
	r.decisions = append(r.decisions, d)
	return nil
}

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		DefaultVolatilityPct: decimal.NewFromFloat(0.02),
		ConfidenceThreshold:  decimal.NewFromFloat(0.4),
		KellyFraction:        decimal.NewFromFloat(0.25),
		MaxPositionFraction:  decimal.NewFromFloat(0.1),
	}
}

func TestSizeRejectsBelowConfidenceThreshold(t *testing.T) {
	store := &recordingStore{}
	sizer := sizing.New(zap.NewNop(), store, nil, sizing.NeutralTradeStats{}, riskConfig())

	params, decision, err := sizer.Size(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.1), decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.Nil(t, params)
	require.NotNil(t, decision)
	assert.NotNil(t, decision.RejectedBy)
	assert.Equal(t, types.RejectedByRiskSizer, *decision.RejectedBy)
	require.Len(t, store.decisions, 1)
}

func TestSizeProducesPositiveSizeAboveThreshold(t *testing.T) {
	store := &recordingStore{}
	sizer := sizing.New(zap.NewNop(), store, nil, sizing.NeutralTradeStats{}, riskConfig())

	params, decision, err := sizer.Size(context.Background(), "BTCZAR", types.SignalBuy, decimal.NewFromFloat(0.8), decimal.NewFromInt(100000))
	require.NoError(t, err)
	require.NotNil(t, params)
	assert.True(t, params.PositionSizeZAR.GreaterThan(decimal.Zero))
	assert.True(t, params.TakeProfitPct.GreaterThan(params.StopLossPct))
	assert.Nil(t, decision.RejectedBy)
	require.Len(t, store.decisions, 1)
}

func TestSizeUsesVolatilityForecastWhenAvailable(t *testing.T) {
	store := &recordingStore{}
	forecaster := stubForecaster{pct: decimal.NewFromFloat(0.05), ok: true}
	sizer := sizing.New(zap.NewNop(), store, forecaster, sizing.NeutralTradeStats{}, riskConfig())

	params, _, err := sizer.Size(context.Background(), "ETHZAR", types.SignalBuy, decimal.NewFromFloat(0.9), decimal.NewFromInt(50000))
	require.NoError(t, err)
	require.NotNil(t, params)
	assert.True(t, params.StopLossPct.Equal(decimal.NewFromFloat(0.05)))
}

type stubForecaster struct {
	pct decimal.Decimal
	ok  bool
}

func (s stubForecaster) Forecast(ctx context.Context, pair types.Pair) (decimal.Decimal, bool) {
	return s.pct, s.ok
}
