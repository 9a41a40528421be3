// Package store provides typed, transactional operations over the core's
// persisted state (§3, §6 "Persisted state"). It exclusively owns the
// database handle (§3 "Ownership") — nothing outside this package opens a
// *gorm.DB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heliostrading/core/internal/config"
	"github.com/heliostrading/core/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Store wraps a gorm.DB and exposes the core's persistence operations as
// typed methods, mirroring the teacher's Store struct idiom (logger held
// alongside the handle, callers never see the ORM directly).
type Store struct {
	logger *zap.Logger
	db     *gorm.DB
}

// New opens the database connection and ensures the schema exists.
func New(logger *zap.Logger, cfg config.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &Store{logger: logger, db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&types.Candle{},
		&types.FeatureVector{},
		&types.RiskDecision{},
		&types.Position{},
		&types.PortfolioState{},
		&types.TradingMode{},
		&types.TradingModeHistory{},
	)
}

// Session returns a fresh, independent handle bound to ctx. Spec §4.14 step
// 1 requires the pipeline cycle to "open a fresh database session" rather
// than share one across concurrent loops; gorm's *gorm.DB is already safe
// for concurrent use, but WithContext gives each caller its own statement
// context and keeps the ownership rule explicit at call sites.
func (s *Store) Session(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Ping performs the health monitor's trivial liveness check (§4.14).
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool, run on Engine shutdown.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Candles (§4.1, §4.3, invariant 2) ---

// InsertCandleIgnoreConflict inserts a candle, silently ignoring a
// (pair, timeframe, open_time) collision (§4.1 step 4).
func (s *Store) InsertCandleIgnoreConflict(ctx context.Context, c *types.Candle) error {
	err := s.Session(ctx).
		Where(types.Candle{Pair: c.Pair, Timeframe: c.Timeframe, OpenTime: c.OpenTime}).
		FirstOrCreate(c).Error
	if err != nil {
		return fmt.Errorf("inserting candle: %w", err)
	}
	return nil
}

// GetCandle fetches one candle by its unique key.
func (s *Store) GetCandle(ctx context.Context, pair types.Pair, tf types.Timeframe, openTime time.Time) (*types.Candle, error) {
	var c types.Candle
	err := s.Session(ctx).
		Where("pair = ? AND timeframe = ? AND open_time = ?", pair, tf, openTime).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching candle: %w", err)
	}
	return &c, nil
}

// RecentCandles returns up to limit candles at the given timeframe, most
// recent last (chronological order), for feature computation and
// aggregation.
func (s *Store) RecentCandles(ctx context.Context, pair types.Pair, tf types.Timeframe, limit int) ([]*types.Candle, error) {
	var candles []*types.Candle
	err := s.Session(ctx).
		Where("pair = ? AND timeframe = ?", pair, tf).
		Order("open_time DESC").
		Limit(limit).
		Find(&candles).Error
	if err != nil {
		return nil, fmt.Errorf("fetching recent candles: %w", err)
	}
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// UpsertAggregateCandle inserts or updates an aggregated higher-timeframe
// candle (§4.3 "Upsert on (pair, timeframe, open_time)").
func (s *Store) UpsertAggregateCandle(ctx context.Context, c *types.Candle) error {
	err := s.Session(ctx).
		Where(types.Candle{Pair: c.Pair, Timeframe: c.Timeframe, OpenTime: c.OpenTime}).
		Assign(types.Candle{
			CloseTime: c.CloseTime,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
			NumTrades: c.NumTrades,
		}).
		FirstOrCreate(c).Error
	if err != nil {
		return fmt.Errorf("upserting aggregate candle: %w", err)
	}
	return nil
}

// --- Feature vectors ---

// PutFeatureVector persists a feature vector unconditionally, even when
// trading is disabled (§4.14 step 3: "feature calculation is the
// heartbeat").
func (s *Store) PutFeatureVector(ctx context.Context, fv *types.FeatureVector) error {
	err := s.Session(ctx).
		Where(types.FeatureVector{Pair: fv.Pair, ComputedAt: fv.ComputedAt}).
		FirstOrCreate(fv).Error
	if err != nil {
		return fmt.Errorf("persisting feature vector: %w", err)
	}
	return nil
}

// --- Risk decisions (§4.5, §4.11, invariant 1) ---

// InsertDecision writes a new Risk Decision row before any execution
// attempt.
func (s *Store) InsertDecision(ctx context.Context, d *types.RiskDecision) error {
	if err := s.Session(ctx).Create(d).Error; err != nil {
		return fmt.Errorf("inserting risk decision: %w", err)
	}
	return nil
}

// MarkExecuted sets a decision's terminal executed=true state.
func (s *Store) MarkExecuted(ctx context.Context, decisionID, positionID string) error {
	err := s.Session(ctx).Model(&types.RiskDecision{}).
		Where("id = ?", decisionID).
		Updates(map[string]any{"executed": true, "execution_id": positionID}).Error
	if err != nil {
		return fmt.Errorf("marking decision executed: %w", err)
	}
	return nil
}

// MarkRejected sets a decision's terminal rejected state.
func (s *Store) MarkRejected(ctx context.Context, decisionID string, code types.RejectionCode, reason string) error {
	err := s.Session(ctx).Model(&types.RiskDecision{}).
		Where("id = ?", decisionID).
		Updates(map[string]any{"rejected_by": code, "rejection_reason": reason}).Error
	if err != nil {
		return fmt.Errorf("marking decision rejected: %w", err)
	}
	return nil
}

// MarkLLMRejected records the Tier 4 LLM's rejection reasoning alongside
// the rejection code.
func (s *Store) MarkLLMRejected(ctx context.Context, decisionID, reasoning string) error {
	err := s.Session(ctx).Model(&types.RiskDecision{}).
		Where("id = ?", decisionID).
		Updates(map[string]any{
			"rejected_by":             types.RejectedByLLM,
			"llm_rejection_reasoning": reasoning,
		}).Error
	if err != nil {
		return fmt.Errorf("marking decision LLM-rejected: %w", err)
	}
	return nil
}

// PendingDecisions returns up to limit decisions that are neither executed
// nor rejected and were created within the catch-up window (§4.11).
func (s *Store) PendingDecisions(ctx context.Context, olderThan time.Time, limit int) ([]*types.RiskDecision, error) {
	var decisions []*types.RiskDecision
	err := s.Session(ctx).
		Where("executed = false AND rejected_by IS NULL AND created_at > ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&decisions).Error
	if err != nil {
		return nil, fmt.Errorf("fetching pending decisions: %w", err)
	}
	return decisions, nil
}

// --- Positions (§4.8) ---

// InsertPosition persists a newly opened position.
func (s *Store) InsertPosition(ctx context.Context, p *types.Position) error {
	if err := s.Session(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("inserting position: %w", err)
	}
	return nil
}

// OpenPositions returns every position with status OPEN.
func (s *Store) OpenPositions(ctx context.Context) ([]*types.Position, error) {
	var positions []*types.Position
	err := s.Session(ctx).
		Where("status = ?", types.PositionOpen).
		Order("entry_time ASC").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("fetching open positions: %w", err)
	}
	return positions, nil
}

// OpenPositionsForPair returns open positions for a single pair, used by
// the sector/single-position/leverage checks in the Portfolio Risk Manager.
func (s *Store) OpenPositionsForPair(ctx context.Context, pair types.Pair) ([]*types.Position, error) {
	var positions []*types.Position
	err := s.Session(ctx).
		Where("status = ? AND pair = ?", types.PositionOpen, pair).
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("fetching open positions for pair: %w", err)
	}
	return positions, nil
}

// ClosePosition transitions a position to a terminal status and records
// its exit fields (§4.8 "Close").
func (s *Store) ClosePosition(ctx context.Context, id string, exitPrice decimal.Decimal, exitTime time.Time, pnlPct, pnlZAR decimal.Decimal, reason types.CloseReason) error {
	err := s.Session(ctx).Model(&types.Position{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"exit_price":   exitPrice,
			"exit_time":    exitTime,
			"pnl_pct":      pnlPct,
			"pnl_zar":      pnlZAR,
			"status":       reason,
			"close_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("closing position: %w", err)
	}
	return nil
}

// DailyTradeCount counts positions opened since 00:00 UTC today (§4.12
// check 3).
func (s *Store) DailyTradeCount(ctx context.Context) (int64, error) {
	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	var count int64
	err := s.Session(ctx).Model(&types.Position{}).
		Where("entry_time >= ?", startOfDay).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting daily trades: %w", err)
	}
	return count, nil
}

// --- Portfolio state (§3, invariants 4–5) ---

// PortfolioState returns the singleton row, initializing it if absent.
func (s *Store) PortfolioState(ctx context.Context) (*types.PortfolioState, error) {
	var state types.PortfolioState
	err := s.Session(ctx).Where("id = 1").First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = types.PortfolioState{
			ID:            1,
			TotalValueZAR: decimal.NewFromInt(100000),
			PeakValueZAR:  decimal.NewFromInt(100000),
			LastUpdated:   time.Now().UTC(),
		}
		if err := s.Session(ctx).Create(&state).Error; err != nil {
			return nil, fmt.Errorf("initializing portfolio state: %w", err)
		}
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching portfolio state: %w", err)
	}
	return &state, nil
}

// ApplyRealizedPnL atomically folds a closed position's P&L into the
// portfolio total, advancing peak and max-drawdown monotonically. Expressed
// as a single transaction so concurrent closes from the position monitor
// and catch-up paths compose safely (§5 "Shared resources").
func (s *Store) ApplyRealizedPnL(ctx context.Context, pnlZAR decimal.Decimal) (*types.PortfolioState, error) {
	var result types.PortfolioState
	err := s.Session(ctx).Transaction(func(tx *gorm.DB) error {
		var state types.PortfolioState
		if err := tx.Set("gorm:query_option", "FOR UPDATE").Where("id = 1").First(&state).Error; err != nil {
			return err
		}

		state.TotalValueZAR = state.TotalValueZAR.Add(pnlZAR)
		if state.TotalValueZAR.GreaterThan(state.PeakValueZAR) {
			state.PeakValueZAR = state.TotalValueZAR
		}

		if state.PeakValueZAR.Sign() > 0 {
			state.CurrentDrawdownPct = state.PeakValueZAR.Sub(state.TotalValueZAR).Div(state.PeakValueZAR)
		} else {
			state.CurrentDrawdownPct = decimal.Zero
		}
		if state.CurrentDrawdownPct.GreaterThan(state.MaxDrawdownPct) {
			state.MaxDrawdownPct = state.CurrentDrawdownPct
		}
		state.LastUpdated = time.Now().UTC()

		if err := tx.Save(&state).Error; err != nil {
			return err
		}
		result = state
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("applying realized pnl: %w", err)
	}
	return &result, nil
}

// --- Trading mode (§3, §4.15) ---

// CurrentMode reads the singleton row, creating it at PAPER if missing.
func (s *Store) CurrentMode(ctx context.Context) (*types.TradingMode, error) {
	var mode types.TradingMode
	err := s.Session(ctx).Where("id = 1").First(&mode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		mode = types.TradingMode{
			ID:            1,
			CurrentMode:   types.ModePaper,
			LastChangedAt: time.Now().UTC(),
			ChangedBy:     "system",
			Reason:        "initial state",
		}
		if err := s.Session(ctx).Create(&mode).Error; err != nil {
			return nil, fmt.Errorf("initializing trading mode: %w", err)
		}
		return &mode, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching trading mode: %w", err)
	}
	return &mode, nil
}

// SetMode validates and persists a mode transition, appending a history row
// only when the mode actually changes (§9 open-question resolution #2).
func (s *Store) SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) (changed bool, err error) {
	if newMode != types.ModePaper && newMode != types.ModeLive {
		return false, fmt.Errorf("invalid mode: %s", newMode)
	}

	current, err := s.CurrentMode(ctx)
	if err != nil {
		return false, err
	}

	if current.CurrentMode == newMode {
		return false, nil
	}

	if newMode == types.ModeLive && !confirmed {
		return false, errors.New("switching to LIVE mode requires explicit confirmation")
	}

	err = s.Session(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&types.TradingMode{}).Where("id = 1").Updates(map[string]any{
			"current_mode":    newMode,
			"last_changed_at": time.Now().UTC(),
			"changed_by":      changedBy,
			"reason":          reason,
		}).Error; err != nil {
			return err
		}
		return tx.Create(&types.TradingModeHistory{
			FromMode:  current.CurrentMode,
			ToMode:    newMode,
			ChangedAt: time.Now().UTC(),
			Reason:    reason,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("setting trading mode: %w", err)
	}

	return true, nil
}

// ModeHistory returns the most recent mode transitions.
func (s *Store) ModeHistory(ctx context.Context, limit int) ([]*types.TradingModeHistory, error) {
	var history []*types.TradingModeHistory
	err := s.Session(ctx).Order("changed_at DESC").Limit(limit).Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("fetching mode history: %w", err)
	}
	return history, nil
}
