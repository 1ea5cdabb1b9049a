package strategyrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/atlas-desktop/executor-core/internal/regime"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

func TestCheckCorrelationApprovedWhenCrossRuntimeViewUnwired(t *testing.T) {
	rt := NewRuntime(nil, baseConfig(), Deps{Gate: risk.NewGate(nil)})
	cfg := baseConfig()
	cfg.RiskSpec.Correlation = types.RiskCorrelationSpec{Enabled: true, Grouping: types.GroupingByCurrency, MaxPair: 0.1}

	result := rt.checkCorrelation(cfg)
	assert.True(t, result.Approved)
}

func TestCheckCorrelationBlocksHighlyCorrelatedCurrencyPair(t *testing.T) {
	deps := Deps{
		Gate:          risk.NewGate(nil),
		OpenSymbols:   func(exclude string) []string { return []string{"GBPUSD"} },
		CorrelationOf: func(a, b string) float64 { return 0.95 },
	}
	rt := NewRuntime(nil, baseConfig(), deps)

	cfg := baseConfig() // symbol EURUSD, shares USD leg with GBPUSD
	cfg.RiskSpec.Correlation = types.RiskCorrelationSpec{Enabled: true, Grouping: types.GroupingByCurrency, MaxPair: 0.5}

	result := rt.checkCorrelation(cfg)
	assert.False(t, result.Approved)
}

func TestCheckCorrelationIgnoresUnrelatedCurrencyPair(t *testing.T) {
	deps := Deps{
		Gate:          risk.NewGate(nil),
		OpenSymbols:   func(exclude string) []string { return []string{"USDJPY"} },
		CorrelationOf: func(a, b string) float64 { return 0.99 },
	}
	rt := NewRuntime(nil, baseConfig(), deps)

	cfg := baseConfig() // symbol overridden to EURGBP below: no currency leg shared with USDJPY
	cfg.Symbol = "EURGBP"
	cfg.RiskSpec.Correlation = types.RiskCorrelationSpec{Enabled: true, Grouping: types.GroupingByCurrency, MaxPair: 0.5}

	result := rt.checkCorrelation(cfg)
	assert.True(t, result.Approved)
}

func TestSymbolReturnsForCorrelationNilWhenUnwired(t *testing.T) {
	rt := NewRuntime(nil, baseConfig(), Deps{Gate: risk.NewGate(nil)})
	assert.Nil(t, rt.symbolReturnsForCorrelation("strat-1"))
}

func TestSymbolReturnsForCorrelationBuildsMapFromRegime(t *testing.T) {
	det := regime.NewDetector(nil, regime.DefaultConfig())
	det.Update("GBPUSD", 0.001, time.Now())
	det.Update("GBPUSD", 0.002, time.Now())

	deps := Deps{
		Gate:        risk.NewGate(nil),
		Regime:      det,
		OpenSymbols: func(exclude string) []string { return []string{"GBPUSD"} },
	}
	rt := NewRuntime(nil, baseConfig(), deps)

	out := rt.symbolReturnsForCorrelation("strat-1")
	assert.Equal(t, []float64{0.001, 0.002}, out["GBPUSD"])
}
