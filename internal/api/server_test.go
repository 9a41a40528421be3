package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/api"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/engine"
	"github.com/heliostrading/core/internal/execution"
	"github.com/heliostrading/core/internal/mode"
	"github.com/heliostrading/core/internal/portfolio"
	"github.com/heliostrading/core/internal/position"
	"github.com/heliostrading/core/internal/predictor"
	"github.com/heliostrading/core/internal/sizing"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

// fakeStore satisfies every narrow store interface the wired components
// need, returning a static, always-passing state.
type fakeStore struct{}

func (fakeStore) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	return nil, nil
}
func (fakeStore) GetCandle(ctx context.Context, pair types.Pair, tf types.Timeframe, openTime time.Time) (*types.Candle, error) {
	return &types.Candle{Pair: pair, Timeframe: tf, OpenTime: openTime, Close: decimal.NewFromInt(100)}, nil
}
func (fakeStore) PutFeatureVector(ctx context.Context, fv *types.FeatureVector) error { return nil }
func (fakeStore) PendingDecisions(ctx context.Context, olderThan time.Time, limit int) ([]*types.RiskDecision, error) {
	return nil, nil
}
func (fakeStore) MarkExecuted(ctx context.Context, decisionID, positionID string) error { return nil }
func (fakeStore) MarkRejected(ctx context.Context, decisionID string, code types.RejectionCode, reason string) error {
	return nil
}
func (fakeStore) MarkLLMRejected(ctx context.Context, decisionID, reasoning string) error { return nil }
func (fakeStore) PortfolioState(ctx context.Context) (*types.PortfolioState, error) {
	return &types.PortfolioState{TotalValueZAR: decimal.NewFromInt(100000), PeakValueZAR: decimal.NewFromInt(100000)}, nil
}
func (fakeStore) OpenPositions(ctx context.Context) ([]*types.Position, error) { return nil, nil }
func (fakeStore) Ping(ctx context.Context) error                              { return nil }
func (fakeStore) InsertDecision(ctx context.Context, d *types.RiskDecision) error { return nil }
func (fakeStore) DailyTradeCount(ctx context.Context) (int64, error)          { return 0, nil }
func (fakeStore) InsertPosition(ctx context.Context, p *types.Position) error { return nil }
func (fakeStore) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, pnlPct, pnlZAR decimal.Decimal, reason types.CloseReason) error {
	return nil
}
func (fakeStore) ApplyRealizedPnL(ctx context.Context, pnlZAR decimal.Decimal) (*types.PortfolioState, error) {
	return &types.PortfolioState{}, nil
}
func (fakeStore) OpenPositionsForPair(ctx context.Context, pair types.Pair) ([]*types.Position, error) {
	return nil, nil
}

// fakeModeStore backs the Mode Orchestrator in-memory.
type fakeModeStore struct {
	current types.TradingModeValue
}

func (f *fakeModeStore) CurrentMode(ctx context.Context) (*types.TradingMode, error) {
	return &types.TradingMode{CurrentMode: f.current}, nil
}
func (f *fakeModeStore) SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) (bool, error) {
	if newMode == types.ModeLive && !confirmed {
		return false, nil
	}
	changed := f.current != newMode
	f.current = newMode
	return changed, nil
}
func (f *fakeModeStore) ModeHistory(ctx context.Context, limit int) ([]*types.TradingModeHistory, error) {
	return nil, nil
}

type fakePriceSource struct{}

func (fakePriceSource) GetPrice(ctx context.Context, pair types.Pair) (decimal.Decimal, string, error) {
	return decimal.NewFromInt(100), "cache", nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	logger := zap.NewNop()
	cfg := config.DefaultConfig()

	store := fakeStore{}
	prices := fakePriceSource{}

	sizer := sizing.New(logger, store, nil, nil, cfg.Risk)
	strategicGate := strategic.New(logger, false, "", time.Second, nil)
	riskMgr := portfolio.New(logger, store, nil, cfg.Risk)

	modeStore := &fakeModeStore{current: types.ModePaper}
	orchestrator := mode.New(logger, modeStore)

	safety := execution.NewSafetyGates(logger, store, nil, cfg.Risk)
	paper := execution.NewPaperClient(logger, prices, cfg.Risk.FeePct, decimal.NewFromInt(100000))
	router := execution.NewRouter(logger, orchestrator, prices, paper, nil, safety)

	positions := position.New(logger, store, prices, router)
	predictorClient := predictor.New(logger, "http://unused.invalid")

	events := make(chan types.Event, 16)
	eng := engine.New(logger, cfg, store, predictorClient, sizer, strategicGate, riskMgr, positions, orchestrator, nil, nil, events, []types.Pair{"BTCZAR"})
	return eng
}

func TestHealthEndpoint(t *testing.T) {
	eng := newTestEngine(t)
	server := api.NewServer(zap.NewNop(), &config.ServerConfig{Addr: ":0"}, eng)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestEngineStatusEndpoint(t *testing.T) {
	eng := newTestEngine(t)
	server := api.NewServer(zap.NewNop(), &config.ServerConfig{Addr: ":0"}, eng)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/engine/status")
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestModeSetRefusesUnconfirmedLive(t *testing.T) {
	eng := newTestEngine(t)
	server := api.NewServer(zap.NewNop(), &config.ServerConfig{Addr: ":0"}, eng)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/mode/set", "application/json",
		strings.NewReader(`{"mode":"LIVE","confirmed":false,"reason":"test"}`))
	if err != nil {
		t.Fatalf("mode set request failed: %v", err)
	}
	resp.Body.Close()

	current, err := http.Get(ts.URL + "/mode/current")
	if err != nil {
		t.Fatalf("mode current request failed: %v", err)
	}
	defer current.Body.Close()
	if current.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", current.StatusCode)
	}

	var got types.TradingMode
	if err := json.NewDecoder(current.Body).Decode(&got); err != nil {
		t.Fatalf("decoding current mode failed: %v", err)
	}
	if got.CurrentMode != types.ModePaper {
		t.Errorf("expected mode to stay PAPER, got %s", got.CurrentMode)
	}
}

func TestEmergencyStopAndClear(t *testing.T) {
	eng := newTestEngine(t)
	server := api.NewServer(zap.NewNop(), &config.ServerConfig{Addr: ":0"}, eng)
	ts := httptest.NewServer(server.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/engine/emergency-stop", "application/json", nil)
	if err != nil {
		t.Fatalf("emergency-stop request failed: %v", err)
	}
	resp.Body.Close()

	if eng.Status() != engine.StatusEmergencyStop {
		t.Fatalf("expected emergency stop status, got %s", eng.Status())
	}

	clearResp, err := http.Post(ts.URL+"/engine/emergency-stop/clear", "application/json", nil)
	if err != nil {
		t.Fatalf("emergency-stop clear request failed: %v", err)
	}
	clearResp.Body.Close()

	if eng.Status() != engine.StatusRunning {
		t.Fatalf("expected running status after clear, got %s", eng.Status())
	}
}
