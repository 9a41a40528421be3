// Package engine implements the Engine (§4.14): the event queue, its three
// cooperative loops, pending-trade catch-up, and emergency stop. Adapted
// from the teacher's general goroutine-loop/ticker idiom (select on
// ctx.Done() plus a ticker channel), generalized to this spec's dispatch
// table and synchronous NEW_CANDLE pipeline.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/internal/ingest"
	"github.com/heliostrading/core/internal/mode"
	"github.com/heliostrading/core/internal/portfolio"
	"github.com/heliostrading/core/internal/position"
	"github.com/heliostrading/core/internal/predictor"
	"github.com/heliostrading/core/internal/sizing"
	"github.com/heliostrading/core/internal/strategic"
	"github.com/heliostrading/core/pkg/types"
)

// MaxConsecutiveErrors triggers emergency_stop when the event loop fails
// this many times in a row (§4.14 "Event loop").
const MaxConsecutiveErrors = 10

// engineStore is the subset of *store.Store the Engine itself needs
// (narrower concerns are passed to sizing/portfolio/position/execution at
// their own construction).
type engineStore interface {
	featureCandleSource
	GetCandle(ctx context.Context, pair types.Pair, tf types.Timeframe, openTime time.Time) (*types.Candle, error)
	PutFeatureVector(ctx context.Context, fv *types.FeatureVector) error
	PendingDecisions(ctx context.Context, olderThan time.Time, limit int) ([]*types.RiskDecision, error)
	MarkExecuted(ctx context.Context, decisionID, positionID string) error
	MarkRejected(ctx context.Context, decisionID string, code types.RejectionCode, reason string) error
	MarkLLMRejected(ctx context.Context, decisionID, reasoning string) error
	PortfolioState(ctx context.Context) (*types.PortfolioState, error)
	OpenPositions(ctx context.Context) ([]*types.Position, error)
	Ping(ctx context.Context) error
}

// priceStreamReconnector lets the health monitor reconnect a disconnected
// price stream (§4.14 "Health monitor").
type priceStreamReconnector interface {
	Connected() bool
	Run(ctx context.Context)
}

// Status is the Engine's coarse operational state, exposed over the HTTP
// control surface.
type Status string

const (
	StatusRunning       Status = "RUNNING"
	StatusEmergencyStop Status = "EMERGENCY_STOP"
	StatusShuttingDown  Status = "SHUTTING_DOWN"
)

// Engine owns the event channel and the three cooperative loops.
type Engine struct {
	logger *zap.Logger
	config *config.Config

	store      engineStore
	predictor  *predictor.Client
	sizer      *sizing.Sizer
	strategic  *strategic.Gate
	riskMgr    *portfolio.RiskManager
	positions  *position.Manager
	orchestrator *mode.Orchestrator
	priceStream priceStreamReconnector
	priceCache  *ingest.PriceCache

	events chan types.Event
	pairs  []types.Pair

	activity *ActivityLog

	mu                   sync.Mutex
	autoTradingEnabled   bool
	emergencyStopActive  bool
	status               Status
	currentStage         types.EngineStage
	cycleCount           int64
	lastCycleAt          time.Time
	lastHeartbeat        time.Time
	consecutiveErrors    int

	wg sync.WaitGroup
}

// New constructs an Engine. events is the single channel L1 components
// publish onto and the Engine exclusively consumes (§3 "Price Cache", §5
// "Scheduling model").
func New(
	logger *zap.Logger,
	cfg *config.Config,
	store engineStore,
	predictorClient *predictor.Client,
	sizer *sizing.Sizer,
	strategicGate *strategic.Gate,
	riskMgr *portfolio.RiskManager,
	positions *position.Manager,
	orchestrator *mode.Orchestrator,
	priceStream priceStreamReconnector,
	priceCache *ingest.PriceCache,
	events chan types.Event,
	pairs []types.Pair,
) *Engine {
	return &Engine{
		logger:             logger.Named("engine"),
		config:             cfg,
		store:              store,
		predictor:          predictorClient,
		sizer:              sizer,
		strategic:          strategicGate,
		riskMgr:            riskMgr,
		positions:          positions,
		orchestrator:       orchestrator,
		priceStream:        priceStream,
		priceCache:         priceCache,
		events:             events,
		pairs:              pairs,
		activity:           NewActivityLog(),
		autoTradingEnabled: true,
		status:             StatusRunning,
	}
}

// Activity exposes the rolling activity log for the HTTP control surface.
func (e *Engine) Activity() *ActivityLog { return e.activity }

// Orchestrator exposes the Mode Orchestrator for the HTTP control surface's
// mode endpoints (§4.15, §6).
func (e *Engine) Orchestrator() *mode.Orchestrator { return e.orchestrator }

// Run starts the event loop, position monitor, and health monitor, and
// blocks until ctx is cancelled (§4.14 "Shutdown").
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(3)
	go e.runEventLoop(ctx)
	go e.runPositionMonitor(ctx)
	go e.runHealthMonitor(ctx)

	<-ctx.Done()
	e.setStatus(StatusShuttingDown)
	e.logger.Info("engine shutdown signalled, awaiting loops")
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

func (e *Engine) runEventLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-e.events:
			e.dispatch(ctx, event)
		case <-time.After(time.Second):
			// empty timeout tick: lets the loop observe ctx.Done() promptly
			// even when idle (§4.14 "event_channel.recv(timeout=1s)").
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, event types.Event) {
	var err error
	switch event.Type {
	case types.EventNewCandle:
		err = e.runCycle(ctx, event)
	case types.EventPriceUpdate:
		if e.priceCache != nil {
			e.priceCache.Set(event.Pair, event.Price, event.Timestamp)
		}
	case types.EventOrderBookUpdate:
		// reserved; no-op (§4.14).
	case types.EventAlert:
		e.logger.Warn("alert event", zap.String("message", event.Message))
	}

	e.mu.Lock()
	if err != nil {
		e.consecutiveErrors++
		n := e.consecutiveErrors
		e.mu.Unlock()
		e.logger.Error("pipeline cycle failed", zap.Error(err), zap.Int("consecutiveErrors", n))
		if n >= MaxConsecutiveErrors {
			e.EmergencyStop(ctx, "consecutive pipeline errors exceeded threshold")
		}
		return
	}
	e.consecutiveErrors = 0
	e.mu.Unlock()
}

func (e *Engine) setStage(stage types.EngineStage) {
	e.mu.Lock()
	e.currentStage = stage
	e.mu.Unlock()
}

func (e *Engine) setStatus(s Status) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// Status returns the Engine's current coarse status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Snapshot returns the Engine's observability fields (§4.14 "cycle_count,
// current_stage... last_cycle_at").
type Snapshot struct {
	Status              Status
	CurrentStage        types.EngineStage
	CycleCount          int64
	LastCycleAt         time.Time
	LastHeartbeat       time.Time
	AutoTradingEnabled  bool
	EmergencyStopActive bool
}

// Snapshot returns a point-in-time copy of the Engine's observability
// state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Status:              e.status,
		CurrentStage:        e.currentStage,
		CycleCount:          e.cycleCount,
		LastCycleAt:         e.lastCycleAt,
		LastHeartbeat:       e.lastHeartbeat,
		AutoTradingEnabled:  e.autoTradingEnabled,
		EmergencyStopActive: e.emergencyStopActive,
	}
}

// tradingGated reports whether the pipeline should stop before reaching
// the predictor (§4.14 step 4).
func (e *Engine) tradingGated() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.autoTradingEnabled || e.emergencyStopActive
}

func wrapStage(stage types.EngineStage, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", stage, err)
}
