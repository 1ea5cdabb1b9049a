package strategyrt

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/executor-core/internal/broker"
	"github.com/atlas-desktop/executor-core/internal/filter"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

type fakeEvents struct {
	mu     sync.Mutex
	events []types.TradeEvent
}

func (f *fakeEvents) QueueTrade(event types.TradeEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEvents) all() []types.TradeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.TradeEvent, len(f.events))
	copy(out, f.events)
	return out
}

func seededSymbolInfo() types.SymbolInfo {
	return types.SymbolInfo{
		Symbol:     "EURUSD",
		PointSize:  decimal.NewFromFloat(0.0001),
		TickValue:  decimal.NewFromFloat(1),
		VolumeMin:  decimal.NewFromFloat(0.01),
		VolumeMax:  decimal.NewFromFloat(100),
		VolumeStep: decimal.NewFromFloat(0.01),
	}
}

func risingBars(n int, start float64) []types.OHLCV {
	out := make([]types.OHLCV, n)
	price := start
	now := time.Now().Add(-time.Duration(n) * time.Minute)
	for i := 0; i < n; i++ {
		price += 0.0005
		out[i] = types.OHLCV{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      decimal.NewFromFloat(price - 0.0002),
			High:      decimal.NewFromFloat(price + 0.0003),
			Low:       decimal.NewFromFloat(price - 0.0003),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromInt(100),
			Closed:    true,
		}
	}
	return out
}

func constRHS(v float64) types.RHS { return types.RHS{Const: &v} }

func alwaysTrueEntryTree() types.EntryTree {
	return types.EntryTree{Kind: types.NodeLeaf, Leaf: &types.Condition{
		Indicator:  "price",
		Comparator: types.CompGT,
		RHS:        constRHS(0),
	}}
}

func baseConfig() types.StrategyConfig {
	return types.StrategyConfig{
		ID:        "strat-1",
		Name:      "trend-rider",
		Symbol:    "EURUSD",
		Side:      types.SideBuy,
		Timeframe: types.M1,
		EntryTree: alwaysTrueEntryTree(),
		ExitSpec: types.ExitSpec{
			StopLoss: types.StopLossSpec{Kind: types.StopLossPips, Value: 0.0050},
		},
		RiskSpec: types.RiskSpec{RiskPercentPerTrade: 1, MaxPositions: 5, MaxPositionsPerSymbol: 5, MaxDailyTrades: 10},
	}
}

func newTestDeps(t *testing.T, p *broker.PaperClient) Deps {
	t.Helper()
	return Deps{
		Broker:  p,
		Gate:    risk.NewGate(nil),
		Filters: filter.NewStack(nil, nil),
	}
}

func newSeededPaperForRuntime() *broker.PaperClient {
	p := broker.NewPaperClient(decimal.NewFromInt(10000))
	p.SeedSymbol(seededSymbolInfo())
	p.SeedTick(types.Tick{Symbol: "EURUSD", Bid: decimal.NewFromFloat(1.1000), Ask: decimal.NewFromFloat(1.1002), Timestamp: time.Now()})
	p.SeedBars("EURUSD", risingBars(60, 1.0900))
	return p
}

func TestRuntimeOpensPositionOnEntrySignal(t *testing.T) {
	p := newSeededPaperForRuntime()
	events := &fakeEvents{}
	deps := newTestDeps(t, p)
	deps.Events = events

	rt := NewRuntime(nil, baseConfig(), deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rt.Run(ctx)
	time.Sleep(1200 * time.Millisecond)

	positions, _ := p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 1)

	found := false
	for _, ev := range events.all() {
		if ev.EventKind == types.EventEntry {
			found = true
		}
	}
	assert.True(t, found, "expected an ENTRY trade event to be emitted")
}

func TestRuntimePausedSkipsNewEntries(t *testing.T) {
	p := newSeededPaperForRuntime()
	deps := newTestDeps(t, p)

	rt := NewRuntime(nil, baseConfig(), deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rt.Run(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, rt.Send(ctx, types.CmdPause, nil))
	assert.Equal(t, types.StatusPaused, rt.Status())

	time.Sleep(1200 * time.Millisecond)
	positions, _ := p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 0)
}

func TestRuntimeStopAndCloseClosesOpenPositions(t *testing.T) {
	p := newSeededPaperForRuntime()
	deps := newTestDeps(t, p)

	rt := NewRuntime(nil, baseConfig(), deps)
	ctx := context.Background()

	go rt.Run(ctx)
	time.Sleep(1200 * time.Millisecond)

	positions, _ := p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 1)

	assert.NoError(t, rt.Send(ctx, types.CmdStopAndClose, nil))
	<-rt.Stopped()

	positions, _ = p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 0)
	assert.Equal(t, types.StatusStopped, rt.Status())
}

// TestRuntimeStaysStartingUntilWarmupBarsAvailable pins an EntryTree to a
// 50-period SMA but seeds only 10 bars, so indicatorCache can never produce
// a non-NaN signal; the runtime must stay StatusStarting and open nothing
// for as long as that holds.
func TestRuntimeStaysStartingUntilWarmupBarsAvailable(t *testing.T) {
	p := broker.NewPaperClient(decimal.NewFromInt(10000))
	p.SeedSymbol(seededSymbolInfo())
	p.SeedTick(types.Tick{Symbol: "EURUSD", Bid: decimal.NewFromFloat(1.1000), Ask: decimal.NewFromFloat(1.1002), Timestamp: time.Now()})
	p.SeedBars("EURUSD", risingBars(10, 1.0900))
	deps := newTestDeps(t, p)

	cfg := baseConfig()
	cfg.EntryTree = types.EntryTree{Kind: types.NodeLeaf, Leaf: &types.Condition{
		Indicator:  "sma",
		Params:     map[string]any{"period": 50},
		Comparator: types.CompGT,
		RHS:        constRHS(0),
	}}

	rt := NewRuntime(nil, cfg, deps)
	assert.Equal(t, 52, requiredWarmupBars(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rt.Run(ctx)
	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, types.StatusStarting, rt.Status())
	positions, _ := p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 0)
}

// erroringTickBroker wraps a seeded PaperClient but always fails Tick, so
// poll's tick-unavailable branch fires every cycle.
type erroringTickBroker struct {
	*broker.PaperClient
}

func (erroringTickBroker) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{}, errBrokerDown
}

var errBrokerDown = assertTestErr("broker down")

type assertTestErr string

func (e assertTestErr) Error() string { return string(e) }

func TestRuntimeSurfacesLastErrorFromBroker(t *testing.T) {
	p := newSeededPaperForRuntime()
	deps := Deps{Broker: erroringTickBroker{p}, Gate: risk.NewGate(nil), Filters: filter.NewStack(nil, nil)}

	rt := NewRuntime(nil, baseConfig(), deps)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go rt.Run(ctx)
	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, errBrokerDown.Error(), rt.Stats().LastError)
}

func TestRuntimeStopDoesNotCloseOpenPositions(t *testing.T) {
	p := newSeededPaperForRuntime()
	deps := newTestDeps(t, p)

	rt := NewRuntime(nil, baseConfig(), deps)
	ctx := context.Background()

	go rt.Run(ctx)
	time.Sleep(1200 * time.Millisecond)

	assert.NoError(t, rt.Send(ctx, types.CmdStop, nil))
	<-rt.Stopped()

	positions, _ := p.ListPositions(context.Background(), 0)
	assert.Len(t, positions, 1)
}
