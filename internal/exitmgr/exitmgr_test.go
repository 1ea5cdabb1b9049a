package exitmgr

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

type fakeBroker struct {
	closeErr  error
	modifyErr error
	closedVol decimal.Decimal
	modified  []decimal.Decimal
}

func (f *fakeBroker) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error {
	if f.modifyErr != nil {
		return f.modifyErr
	}
	f.modified = append(f.modified, stopLoss)
	return nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, ticket string, volume decimal.Decimal) (decimal.Decimal, error) {
	if f.closeErr != nil {
		return decimal.Zero, f.closeErr
	}
	f.closedVol = f.closedVol.Add(volume)
	return decimal.NewFromFloat(1.1050), nil
}

func (f *fakeBroker) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{}, nil
}

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func basePosition() *types.PositionRecord {
	return &types.PositionRecord{
		Ticket:          "T1",
		StrategyID:      "strat1",
		Symbol:          "EURUSD",
		Side:            types.SideBuy,
		EntryPrice:      d(1.1000),
		EntryTime:       time.Now().Add(-time.Hour),
		VolumeOriginal:  d(1.0),
		VolumeRemaining: d(1.0),
		StopLoss:        d(1.0950),
		State:           types.PositionOpen,
	}
}

func TestStopLossHitClosesPosition(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.0940), Ask: d(1.0941)},
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit:       types.ExitSpec{StopLoss: types.StopLossSpec{Value: 50}},
	}
	events := m.Evaluate(context.Background(), "T1", in)
	assert.Len(t, events, 1)
	assert.Equal(t, types.EventExit, events[0].EventKind)
	assert.Equal(t, types.PositionClosed, pos.State)
}

func TestCloseFailureMarksClosingForRetry(t *testing.T) {
	broker := &fakeBroker{closeErr: assertErr{}}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.0940), Ask: d(1.0941)},
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit:       types.ExitSpec{StopLoss: types.StopLossSpec{Value: 50}},
	}
	m.Evaluate(context.Background(), "T1", in)
	assert.Equal(t, types.PositionClosing, pos.State)
}

type assertErr struct{}

func (assertErr) Error() string { return "broker unavailable" }

func TestClosingRetryOnceThenGivesUp(t *testing.T) {
	broker := &fakeBroker{closeErr: assertErr{}}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	pos.State = types.PositionClosing
	pos.ClosingSince = time.Now().Add(-40 * time.Second)
	m.Track(pos)

	in := EvaluateInputs{Now: time.Now()}
	events := m.Evaluate(context.Background(), "T1", in)
	assert.Nil(t, events)
	assert.True(t, pos.ClosingRetried)
	assert.Equal(t, types.PositionClosing, pos.State) // still failed, now gives up silently
}

func TestClosingRetrySucceeds(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	pos.State = types.PositionClosing
	pos.ClosingSince = time.Now().Add(-40 * time.Second)
	m.Track(pos)

	events := m.Evaluate(context.Background(), "T1", EvaluateInputs{Now: time.Now()})
	assert.Len(t, events, 1)
	assert.Equal(t, types.PositionClosed, pos.State)
}

func TestBreakevenMovesStopOnce(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition() // risk = 0.0050
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.1060), Ask: d(1.1061)}, // moved 0.0060, 1.2R
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit: types.ExitSpec{
			StopLoss: types.StopLossSpec{Value: 50},
			Smart:    types.SmartExitSpec{BreakevenTriggerRatio: 1.0, BreakevenBufferPips: 2},
		},
	}
	events := m.Evaluate(context.Background(), "T1", in)
	assert.True(t, pos.BreakevenMoved)
	assert.True(t, len(events) >= 1)
}

func TestPartialLevelClosesFraction(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.1050), Ask: d(1.1051)}, // 1R move
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit: types.ExitSpec{
			StopLoss: types.StopLossSpec{Value: 50},
			TakeProfit: types.TakeProfitSpec{
				Kind:   types.TakeProfitPartial,
				Levels: []types.PartialLevel{{ID: "tp1", Percentage: 0.5, AtRR: 1.0}},
			},
		},
	}
	events := m.Evaluate(context.Background(), "T1", in)
	assert.True(t, len(events) >= 1)
	assert.True(t, pos.VolumeRemaining.LessThan(pos.VolumeOriginal))
}

func TestTrailingStopAdvancesForward(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.1100), Ask: d(1.1101)}, // 2R move
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit: types.ExitSpec{
			StopLoss: types.StopLossSpec{Value: 50},
			Trailing: types.TrailingSpec{Enabled: true, ActivateAtRR: 1.0, DistancePips: 20},
		},
	}
	m.Evaluate(context.Background(), "T1", in)
	assert.True(t, pos.TrailingActive)
	assert.True(t, pos.StopLoss.GreaterThan(d(1.0950)))
}

// TestBreakevenAndTrailingCoalesceIntoOneModifyCall exercises a tick where
// both breakeven and trailing trigger together: breakeven stages 1.1002,
// then trailing (computed off that staged baseline, not the original stop)
// stages the further 1.1080. Only the final stop must reach the broker, in
// exactly one ModifyPosition call.
func TestBreakevenAndTrailingCoalesceIntoOneModifyCall(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition() // entry 1.1000, stop 1.0950, risk = 0.0050
	m.Track(pos)

	in := EvaluateInputs{
		Now:        time.Now(),
		Tick:       types.Tick{Bid: d(1.1100), Ask: d(1.1101)}, // 2R move triggers both
		SymbolInfo: types.SymbolInfo{PointSize: d(0.0001)},
		Exit: types.ExitSpec{
			StopLoss: types.StopLossSpec{Value: 50},
			Smart:    types.SmartExitSpec{BreakevenTriggerRatio: 1.0, BreakevenBufferPips: 2},
			Trailing: types.TrailingSpec{Enabled: true, ActivateAtRR: 1.0, DistancePips: 20},
		},
	}
	events := m.Evaluate(context.Background(), "T1", in)

	assert.Len(t, broker.modified, 1, "breakeven and trailing firing together must produce exactly one broker modify call")
	assert.True(t, broker.modified[0].Equal(d(1.1080)), "the single modify call must carry trailing's further stop, not breakeven's")

	assert.True(t, pos.BreakevenMoved)
	assert.True(t, pos.TrailingActive)
	assert.True(t, pos.StopLoss.Equal(d(1.1080)))

	var reasons []string
	for _, ev := range events {
		reasons = append(reasons, ev.Reason)
	}
	assert.Contains(t, reasons, "breakeven stop applied")
	assert.Contains(t, reasons, "trailing stop advanced")
}

func TestRegimeChangeExitClosesPosition(t *testing.T) {
	broker := &fakeBroker{}
	m := NewManager(zap.NewNop(), broker)
	pos := basePosition()
	m.Track(pos)

	in := EvaluateInputs{
		Now:           time.Now(),
		Tick:          types.Tick{Bid: d(1.1010), Ask: d(1.1011)},
		SymbolInfo:    types.SymbolInfo{PointSize: d(0.0001)},
		Exit:          types.ExitSpec{StopLoss: types.StopLossSpec{Value: 50}, Smart: types.SmartExitSpec{RegimeChangeExit: true}},
		RegimeChanged: true,
	}
	events := m.Evaluate(context.Background(), "T1", in)
	assert.Len(t, events, 1)
	assert.Equal(t, types.PositionClosed, pos.State)
}
