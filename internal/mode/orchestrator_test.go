package mode_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/mode"
	"github.com/heliostrading/core/pkg/types"
)

// fakeModeStore mirrors the store's confirmation rule for LIVE transitions
// without touching a database.
type fakeModeStore struct {
	current types.TradingModeValue
	history []*types.TradingModeHistory
}

func (f *fakeModeStore) CurrentMode(ctx context.Context) (*types.TradingMode, error) {
	return &types.TradingMode{CurrentMode: f.current}, nil
}

func (f *fakeModeStore) SetMode(ctx context.Context, newMode types.TradingModeValue, confirmed bool, changedBy, reason string) (bool, error) {
	if f.current == newMode {
		return false, nil
	}
	if newMode == types.ModeLive && !confirmed {
		return false, errors.New("switching to LIVE mode requires explicit confirmation")
	}
	f.history = append(f.history, &types.TradingModeHistory{FromMode: f.current, ToMode: newMode, Reason: reason})
	f.current = newMode
	return true, nil
}

func (f *fakeModeStore) ModeHistory(ctx context.Context, limit int) ([]*types.TradingModeHistory, error) {
	return f.history, nil
}

func TestSetModeRejectsUnconfirmedLive(t *testing.T) {
	store := &fakeModeStore{current: types.ModePaper}
	orch := mode.New(zap.NewNop(), store)

	err := orch.SetMode(context.Background(), types.ModeLive, false, "operator", "testing")
	require.Error(t, err)
	assert.Equal(t, types.ModePaper, store.current)
}

func TestSetModeAcceptsConfirmedLive(t *testing.T) {
	store := &fakeModeStore{current: types.ModePaper}
	orch := mode.New(zap.NewNop(), store)

	err := orch.SetMode(context.Background(), types.ModeLive, true, "operator", "testing")
	require.NoError(t, err)
	assert.Equal(t, types.ModeLive, store.current)
	require.Len(t, store.history, 1)
}

func TestSetModeAcceptsPaperUnconditionally(t *testing.T) {
	store := &fakeModeStore{current: types.ModeLive}
	orch := mode.New(zap.NewNop(), store)

	err := orch.SetMode(context.Background(), types.ModePaper, false, "operator", "reverting")
	require.NoError(t, err)
	assert.Equal(t, types.ModePaper, store.current)
}

func TestSetModeRejectsInvalidMode(t *testing.T) {
	store := &fakeModeStore{current: types.ModePaper}
	orch := mode.New(zap.NewNop(), store)

	err := orch.SetMode(context.Background(), types.TradingModeValue("BOGUS"), true, "operator", "")
	require.Error(t, err)
}

func TestCurrentModePassesThrough(t *testing.T) {
	store := &fakeModeStore{current: types.ModeLive}
	orch := mode.New(zap.NewNop(), store)

	m, err := orch.CurrentMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ModeLive, m.CurrentMode)
}
