// Package mode implements the Mode Orchestrator (§4.15): a thin,
// audit-logging wrapper over the Store's mode singleton and history table.
// Every mode change is logged at WARN or higher so operators can grep a
// single level for trading-mode transitions.
package mode

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"github.com/heliostrading/core/pkg/types"
)

// modeStore is the subset of *store.Store the orchestrator needs.
type modeStore interface {
	CurrentMode(ctx context.Context) (*types.TradingMode, error)
	SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) (bool, error)
	ModeHistory(ctx context.Context, limit int) ([]*types.TradingModeHistory, error)
}

// Orchestrator is the Mode Orchestrator.
type Orchestrator struct {
	logger *zap.Logger
	store  modeStore
}

// New constructs an Orchestrator.
func New(logger *zap.Logger, store modeStore) *Orchestrator {
	return &Orchestrator{logger: logger.Named("mode"), store: store}
}

// CurrentMode implements execution.modeSource: it is read fresh on every
// call and never cached across events (§3 "Trading Mode", §5 "Ordering
// guarantees").
func (o *Orchestrator) CurrentMode(ctx context.Context) (*types.TradingMode, error) {
	return o.store.CurrentMode(ctx)
}

// SetMode validates and applies a mode transition, refusing LIVE without
// confirmed=true, and logs the change at WARN (§4.15).
func (o *Orchestrator) SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) error {
	if newMode != types.ModePaper && newMode != types.ModeLive {
		return fmt.Errorf("invalid trading mode %q", newMode)
	}

	changed, err := o.store.SetMode(ctx, newMode, confirmed, changedBy, reason)
	if err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}

	if changed {
		o.logger.Warn("trading mode changed",
			zap.String("newMode", string(newMode)), zap.String("changedBy", changedBy), zap.String("reason", reason))
	} else {
		o.logger.Info("trading mode unchanged, no-op", zap.String("mode", string(newMode)))
	}

	return nil
}

// History returns the append-only mode-change audit trail.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]*types.TradingModeHistory, error) {
	return o.store.ModeHistory(ctx, limit)
}
