package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/execution"
	"github.com/heliostrading/core/internal/mode"
	"github.com/heliostrading/core/internal/portfolio"
	"github.com/heliostrading/core/internal/position"
	"github.com/heliostrading/core/internal/predictor"
	"github.com/heliostrading/core/internal/sizing"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

type stubEngineStore struct {
	candle       *types.Candle
	candleErr    error
	openPositions []*types.Position
	closeErr     error
	marked       []string
}

func (s *stubEngineStore) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	n := 60
	if limit < n {
		n = limit
	}
	out := make([]*types.Candle, n)
	price := decimal.NewFromInt(100)
	for i := 0; i < n; i++ {
		out[i] = &types.Candle{Pair: pair, Timeframe: tf, Close: price, Volume: decimal.NewFromInt(1)}
	}
	return out, nil
}
func (s *stubEngineStore) GetCandle(ctx context.Context, pair types.Pair, tf types.Timeframe, openTime time.Time) (*types.Candle, error) {
	return s.candle, s.candleErr
}
func (s *stubEngineStore) PutFeatureVector(ctx context.Context, fv *types.FeatureVector) error { return nil }
func (s *stubEngineStore) PendingDecisions(ctx context.Context, olderThan time.Time, limit int) ([]*types.RiskDecision, error) {
	return nil, nil
}
func (s *stubEngineStore) MarkExecuted(ctx context.Context, decisionID, positionID string) error {
	s.marked = append(s.marked, "executed:"+decisionID)
	return nil
}
func (s *stubEngineStore) MarkRejected(ctx context.Context, decisionID string, code types.RejectionCode, reason string) error {
	s.marked = append(s.marked, "rejected:"+decisionID)
	return nil
}
func (s *stubEngineStore) MarkLLMRejected(ctx context.Context, decisionID, reasoning string) error {
	s.marked = append(s.marked, "llm_rejected:"+decisionID)
	return nil
}
func (s *stubEngineStore) PortfolioState(ctx context.Context) (*types.PortfolioState, error) {
	return &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(100000)}, nil
}
func (s *stubEngineStore) OpenPositions(ctx context.Context) ([]*types.Position, error) {
	return s.openPositions, nil
}
func (s *stubEngineStore) Ping(ctx context.Context) error { return nil }
func (s *stubEngineStore) DailyTradeCount(ctx context.Context) (int64, error) { return 0, nil }
func (s *stubEngineStore) OpenPositionsForPair(ctx context.Context, pair types.Pair) ([]*types.Position, error) {
	return nil, nil
}

type stubPriceSource struct{}

func (stubPriceSource) GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error) {
	return decimal.NewFromInt(100), "cache", nil
}

type recordingPositionStore struct {
	positions map[string]*types.Position
}

func (r *recordingPositionStore) InsertPosition(ctx context.Context, p *types.Position) error {
	r.positions[p.ID] = p
	return nil
}
func (r *recordingPositionStore) OpenPositions(ctx context.Context) ([]*types.Position, error) {
	out := make([]*types.Position, 0, len(r.positions))
	for _, p := range r.positions {
		out = append(out, p)
	}
	return out, nil
}
func (r *recordingPositionStore) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, pnlPct, pnlZAR decimal.Decimal, reason types.CloseReason) error {
	delete(r.positions, id)
	return nil
}
func (r *recordingPositionStore) ApplyRealizedPnL(ctx context.Context, pnlZAR decimal.Decimal) (*types.PortfolioState, error) {
	return &types.PortfolioState{}, nil
}

func newTestEngineWithStore(store *stubEngineStore) *Engine {
	logger := zap.NewNop()
	cfg := config.DefaultConfig()

	sizer := sizing.New(logger, &recordingSizerStore{}, nil, sizing.NeutralTradeStats{}, cfg.Risk)
	strategicGate := strategic.New(logger, false, "", time.Second, nil)
	riskMgr := portfolio.New(logger, store, fakeAlwaysFundedBalance{}, cfg.Risk)

	modeStore := &inlineModeStore{current: types.ModePaper}
	orchestrator := mode.New(logger, modeStore)

	posStore := &recordingPositionStore{positions: map[string]*types.Position{}}
	prices := stubPriceSource{}
	paper := execution.NewPaperClient(logger, prices, cfg.Risk.FeePct, decimal.NewFromInt(1000000))
	safety := execution.NewSafetyGates(logger, store, nil, cfg.Risk)
	router := execution.NewRouter(logger, orchestrator, prices, paper, nil, safety)
	positions := position.New(logger, posStore, prices, router)

	predictorClient := predictor.New(logger, "http://unused.invalid")

	events := make(chan types.Event, 16)
	return New(logger, cfg, store, predictorClient, sizer, strategicGate, riskMgr, positions, orchestrator, nil, nil, events, []types.Pair{"BTCZAR"})
}

type recordingSizerStore struct{}

func (recordingSizerStore) InsertDecision(ctx context.Context, d *types.RiskDecision) error { return nil }

type fakeAlwaysFundedBalance struct{}

func (fakeAlwaysFundedBalance) AvailableZAR(ctx context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000000), nil
}

type inlineModeStore struct {
	current types.TradingModeValue
}

func (m *inlineModeStore) CurrentMode(ctx context.Context) (*types.TradingMode, error) {
	return &types.TradingMode{CurrentMode: m.current}, nil
}
func (m *inlineModeStore) SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) (bool, error) {
	changed := m.current != newMode
	m.current = newMode
	return changed, nil
}
func (m *inlineModeStore) ModeHistory(ctx context.Context, limit int) ([]*types.TradingModeHistory, error) {
	return nil, nil
}

func TestFetchCandleWithRetrySucceedsImmediately(t *testing.T) {
	store := &stubEngineStore{candle: &types.Candle{Pair: "BTCZAR", Close: decimal.NewFromInt(100)}}
	eng := newTestEngineWithStore(store)

	candle, err := eng.fetchCandleWithRetry(context.Background(), "BTCZAR", types.Timeframe5m, time.Now())
	require.NoError(t, err)
	assert.Equal(t, types.Pair("BTCZAR"), candle.Pair)
}

func TestFetchCandleWithRetryExhaustsAndFails(t *testing.T) {
	store := &stubEngineStore{candle: nil}
	eng := newTestEngineWithStore(store)

	start := time.Now()
	_, err := eng.fetchCandleWithRetry(context.Background(), "BTCZAR", types.Timeframe5m, time.Now())
	require.Error(t, err)
	assert.True(t, time.Since(start) >= CandleFetchRetries*CandleFetchSpacing-CandleFetchSpacing)
}

func TestRunCycleSkipsWhenTradingGated(t *testing.T) {
	store := &stubEngineStore{candle: &types.Candle{Pair: "BTCZAR", Close: decimal.NewFromInt(100)}}
	eng := newTestEngineWithStore(store)
	eng.SetAutoTrading(false)

	err := eng.runCycle(context.Background(), types.Event{Type: types.EventNewCandle, Pair: "BTCZAR", Timeframe: types.Timeframe5m, OpenTime: time.Now()})
	require.NoError(t, err)
	assert.Empty(t, store.marked, "gated cycle must stop before any decision is recorded")
}

func TestEmergencyStopIsIdempotent(t *testing.T) {
	store := &stubEngineStore{openPositions: []*types.Position{}}
	eng := newTestEngineWithStore(store)

	eng.EmergencyStop(context.Background(), "first trigger")
	assert.Equal(t, StatusEmergencyStop, eng.Status())

	// A second call while already active must not re-log or re-close.
	eng.EmergencyStop(context.Background(), "second trigger")
	assert.Equal(t, StatusEmergencyStop, eng.Status())
}

func TestResumeClearsEmergencyStop(t *testing.T) {
	store := &stubEngineStore{openPositions: []*types.Position{}}
	eng := newTestEngineWithStore(store)

	eng.EmergencyStop(context.Background(), "test")
	eng.Resume("operator")
	assert.Equal(t, StatusRunning, eng.Status())
	assert.False(t, eng.tradingGated())
}
