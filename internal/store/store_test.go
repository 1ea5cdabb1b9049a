package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "executor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleConfig(id string) types.StrategyConfig {
	v := 0.0
	return types.StrategyConfig{
		ID:        id,
		Name:      "trend-follow",
		Symbol:    "EURUSD",
		Side:      types.SideBuy,
		Timeframe: types.M1,
		EntryTree: types.EntryTree{Kind: types.NodeLeaf, Leaf: &types.Condition{Indicator: "price", Comparator: types.CompGT, RHS: types.RHS{Const: &v}}},
		ExitSpec:  types.ExitSpec{StopLoss: types.StopLossSpec{Kind: types.StopLossPips, Value: 0.005}},
		RiskSpec:  types.RiskSpec{RiskPercentPerTrade: 1},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveAndListStrategiesRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := sampleConfig("s1")
	require.NoError(t, s.SaveStrategy(ctx, cfg))

	got, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cfg.ID, got[0].ID)
	assert.Equal(t, cfg.Symbol, got[0].Symbol)
	assert.Equal(t, cfg.Side, got[0].Side)
}

func TestSaveStrategyUpsertsById(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := sampleConfig("s1")
	require.NoError(t, s.SaveStrategy(ctx, cfg))
	cfg.Name = "renamed"
	require.NoError(t, s.SaveStrategy(ctx, cfg))

	got, err := s.ListStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Name)
}

func TestDeleteStrategyPermanentCascadesTradeLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg := sampleConfig("s1")
	require.NoError(t, s.SaveStrategy(ctx, cfg))
	require.NoError(t, s.LogTrade(ctx, types.TradeEvent{ID: "e1", StrategyID: "s1", EventKind: types.EventEntry, Ticket: "t1", Time: time.Now()}))
	require.NoError(t, s.LogTrade(ctx, types.TradeEvent{ID: "e2", StrategyID: "s1", EventKind: types.EventExit, Ticket: "t1", Time: time.Now()}))

	deleted, err := s.DeleteStrategyPermanent(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = s.GetStrategy(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := s.TradeHistory(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestLogTradeIsIdempotentByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	event := types.TradeEvent{ID: "e1", StrategyID: "s1", EventKind: types.EventEntry, Ticket: "t1", Price: decimal.NewFromFloat(1.1), Time: time.Now()}
	require.NoError(t, s.LogTrade(ctx, event))
	require.NoError(t, s.LogTrade(ctx, event))

	history, err := s.TradeHistory(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestOpenTradesExcludesClosedTickets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LogTrade(ctx, types.TradeEvent{ID: "e1", StrategyID: "s1", EventKind: types.EventEntry, Ticket: "open-1", Time: time.Now()}))
	require.NoError(t, s.LogTrade(ctx, types.TradeEvent{ID: "e2", StrategyID: "s1", EventKind: types.EventEntry, Ticket: "closed-1", Time: time.Now()}))
	require.NoError(t, s.LogTrade(ctx, types.TradeEvent{ID: "e3", StrategyID: "s1", EventKind: types.EventExit, Ticket: "closed-1", Time: time.Now()}))

	open, err := s.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "open-1", open[0].Ticket)
}

func TestSeenCommandPersistsAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seen, err := s.SeenCommand(ctx, "cmd-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.RecordCommand(ctx, "cmd-1", time.Now()))

	seen, err = s.SeenCommand(ctx, "cmd-1")
	require.NoError(t, err)
	assert.True(t, seen)
}
