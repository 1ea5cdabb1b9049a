package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

func TestPositionSizeFixedFractional(t *testing.T) {
	in := SizeInputs{
		Account:       types.AccountInfo{Equity: decimal.NewFromInt(10000)},
		SymbolInfo:    types.SymbolInfo{PointSize: decimal.NewFromFloat(0.0001), TickValue: decimal.NewFromFloat(1), VolumeStep: decimal.NewFromFloat(0.01), VolumeMin: decimal.NewFromFloat(0.01), VolumeMax: decimal.NewFromFloat(100)},
		EntryPrice:    decimal.NewFromFloat(1.1000),
		StopLossPrice: decimal.NewFromFloat(1.0950), // 50 pips
	}
	vol := PositionSize(1.0, in) // risk 1% = $100, 50 pips * $1/pip = $50/lot -> 2 lots
	assert.True(t, vol.GreaterThan(decimal.Zero))
}

func TestPositionSizeBelowMinIsZero(t *testing.T) {
	in := SizeInputs{
		Account:       types.AccountInfo{Equity: decimal.NewFromInt(100)},
		SymbolInfo:    types.SymbolInfo{PointSize: decimal.NewFromFloat(0.0001), TickValue: decimal.NewFromFloat(1), VolumeStep: decimal.NewFromFloat(0.01), VolumeMin: decimal.NewFromFloat(0.01)},
		EntryPrice:    decimal.NewFromFloat(1.1000),
		StopLossPrice: decimal.NewFromFloat(1.0000), // huge stop distance
	}
	vol := PositionSize(0.1, in)
	assert.True(t, vol.IsZero())
}

func TestPositionSizeZeroStopDistance(t *testing.T) {
	in := SizeInputs{
		Account:       types.AccountInfo{Equity: decimal.NewFromInt(10000)},
		SymbolInfo:    types.SymbolInfo{PointSize: decimal.NewFromFloat(0.0001), TickValue: decimal.NewFromFloat(1)},
		EntryPrice:    decimal.NewFromFloat(1.1000),
		StopLossPrice: decimal.NewFromFloat(1.1000),
	}
	assert.True(t, PositionSize(1.0, in).IsZero())
}

func TestGateMaxPositions(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxPositions: 1}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)}

	assert.True(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved)
	g.RecordOpen("strat1", "EURUSD", now)
	assert.False(t, g.Check(spec, "strat1", "GBPUSD", account, now).Approved)
}

func TestGateMaxDailyTrades(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxDailyTrades: 2}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)}

	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(10), now)
	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(10), now)

	assert.False(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved)
}

// TestGateMaxDailyLossAllowsCumulativeUnderLimitButBlocksOverIt mirrors the
// worked scenario of two consecutive losing EXITs (-120, -90) against a 200
// ccy daily cap: after the first loss the cumulative loss is 120 < 200, so
// the next entry is approved; the second loss brings it to 210, so the third
// entry attempt that day is blocked.
func TestGateMaxDailyLossAllowsCumulativeUnderLimitButBlocksOverIt(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxDailyLossCcy: 200}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)}

	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(-120), now)
	assert.True(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved, "cumulative loss of 120 is still under the 200 cap")

	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(-90), now)
	result := g.Check(spec, "strat1", "EURUSD", account, now)
	assert.False(t, result.Approved, "cumulative loss of 210 exceeds the 200 cap")
	assert.Equal(t, "maxDailyLossCcy reached", result.Reason)
}

func TestGateMaxConsecutiveLosses(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxConsecutiveLosses: 2}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)}

	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(-10), now)
	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(-10), now)

	assert.False(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved)
}

func TestGateWinResetsConsecutiveLosses(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxConsecutiveLosses: 2}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(10000)}

	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(-10), now)
	g.RecordOpen("strat1", "EURUSD", now)
	g.RecordClose("strat1", "EURUSD", decimal.NewFromInt(10), now) // win

	assert.True(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved)
}

func TestGateMaxDrawdownPct(t *testing.T) {
	g := NewGate(nil)
	spec := types.RiskSpec{MaxDrawdownPct: 5}
	now := time.Now()
	account := types.AccountInfo{Balance: decimal.NewFromInt(10000), Equity: decimal.NewFromInt(9000)} // 10% DD

	assert.False(t, g.Check(spec, "strat1", "EURUSD", account, now).Approved)
}

func TestSharesCurrencyLeg(t *testing.T) {
	assert.True(t, sharesCurrencyLeg("EURUSD", "GBPUSD"))
	assert.True(t, sharesCurrencyLeg("EURUSD", "EURJPY"))
	assert.False(t, sharesCurrencyLeg("EURUSD", "AUDCAD"))
}

func TestCounterRetentionPrune(t *testing.T) {
	g := NewGate(nil)
	old := time.Now().Add(-8 * 24 * time.Hour)
	g.RecordOpen("strat1", "EURUSD", old)

	recent := time.Now()
	g.Check(types.RiskSpec{}, "strat1", "EURUSD", types.AccountInfo{}, recent) // prunes buckets older than counterRetention
	assert.Len(t, g.daily, 1)                                                  // only today's bucket remains
	c := g.Counters("strat1", recent)
	assert.Equal(t, 0, c.TradeCount) // old bucket pruned, fresh bucket for today
}
