// Package condition evaluates a StrategyConfig's EntryTree against a bar
// history, resolving indicator values through an IndicatorCache so repeated
// sub-expressions never recompute the same series twice per bar close.
package condition

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/executor-core/internal/indicatorkit"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

// IndicatorCache memoizes indicator series for a single evaluation pass over
// one symbol/timeframe's bar window. It is rebuilt (or cleared) on every new
// closed bar; it holds no state across bar closes.
type IndicatorCache struct {
	bars   []indicatorkit.Bar
	series map[string][]float64
}

// NewIndicatorCache builds a cache over a bar window. bars must be ordered
// oldest-first with the most recent (possibly still-forming) bar last.
func NewIndicatorCache(bars []indicatorkit.Bar) *IndicatorCache {
	return &IndicatorCache{bars: bars, series: make(map[string][]float64)}
}

// cacheKey builds a stable key from indicator name + sorted param values.
func cacheKey(indicator string, params map[string]any) string {
	var sb strings.Builder
	sb.WriteString(indicator)
	for _, k := range []string{"period", "fast", "slow", "signal", "kPeriod", "dPeriod", "numStdDev", "accelStart", "accelStep", "accelMax"} {
		if v, ok := params[k]; ok {
			fmt.Fprintf(&sb, "|%s=%v", k, v)
		}
	}
	return sb.String()
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func floatParam(params map[string]any, key string, def float64) float64 {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

// Series returns the full series for the named indicator, computing and
// memoizing it on first access. The "price" pseudo-indicator returns closes.
func (c *IndicatorCache) Series(indicator string, params map[string]any) ([]float64, error) {
	switch indicator {
	case "price":
		return closesOf(c.bars), nil
	case "low":
		return lowsOf(c.bars), nil
	case "high":
		return highsOf(c.bars), nil
	}
	key := cacheKey(indicator, params)
	if s, ok := c.series[key]; ok {
		return s, nil
	}

	var out []float64
	switch indicator {
	case "sma":
		out = indicatorkit.CloseSMA(c.bars, intParam(params, "period", 20))
	case "ema":
		out = indicatorkit.CloseEMA(c.bars, intParam(params, "period", 20))
	case "rsi":
		out = indicatorkit.RSI(c.bars, intParam(params, "period", 14))
	case "atr":
		out = indicatorkit.ATR(c.bars, intParam(params, "period", 14))
	case "cci":
		out = indicatorkit.CCI(c.bars, intParam(params, "period", 20))
	case "adx":
		out = indicatorkit.ADX(c.bars, intParam(params, "period", 14))
	case "obv":
		out = indicatorkit.OBV(c.bars)
	case "macd":
		r := indicatorkit.MACD(c.bars, intParam(params, "fast", 12), intParam(params, "slow", 26), intParam(params, "signal", 9))
		out = r.MACD
	case "macd_signal":
		r := indicatorkit.MACD(c.bars, intParam(params, "fast", 12), intParam(params, "slow", 26), intParam(params, "signal", 9))
		out = r.Signal
	case "macd_histogram":
		r := indicatorkit.MACD(c.bars, intParam(params, "fast", 12), intParam(params, "slow", 26), intParam(params, "signal", 9))
		out = r.Histogram
	case "bollinger_upper":
		bb := indicatorkit.Bollinger(c.bars, intParam(params, "period", 20), floatParam(params, "numStdDev", 2))
		out = bb.Upper
	case "bollinger_middle":
		bb := indicatorkit.Bollinger(c.bars, intParam(params, "period", 20), floatParam(params, "numStdDev", 2))
		out = bb.Middle
	case "bollinger_lower":
		bb := indicatorkit.Bollinger(c.bars, intParam(params, "period", 20), floatParam(params, "numStdDev", 2))
		out = bb.Lower
	case "stochastic_k":
		r := indicatorkit.Stochastic(c.bars, intParam(params, "kPeriod", 14), intParam(params, "dPeriod", 3))
		out = r.K
	case "stochastic_d":
		r := indicatorkit.Stochastic(c.bars, intParam(params, "kPeriod", 14), intParam(params, "dPeriod", 3))
		out = r.D
	case "sar":
		out = indicatorkit.SAR(c.bars, floatParam(params, "accelStart", 0.02), floatParam(params, "accelStep", 0.02), floatParam(params, "accelMax", 0.2))
	default:
		return nil, fmt.Errorf("condition: unresolved indicator symbol %q", indicator)
	}

	c.series[key] = out
	return out, nil
}

func closesOf(bars []indicatorkit.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func lowsOf(bars []indicatorkit.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

func highsOf(bars []indicatorkit.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// barsFromOHLCV converts the decimal OHLCV domain type to indicatorkit's
// float64 Bar at the package boundary.
func barsFromOHLCV(candles []types.OHLCV) []indicatorkit.Bar {
	out := make([]indicatorkit.Bar, len(candles))
	for i, c := range candles {
		out[i] = indicatorkit.Bar{
			Open:   c.Open.InexactFloat64(),
			High:   c.High.InexactFloat64(),
			Low:    c.Low.InexactFloat64(),
			Close:  c.Close.InexactFloat64(),
			Volume: c.Volume.InexactFloat64(),
		}
	}
	return out
}

// NewIndicatorCacheFromOHLCV is a convenience constructor from the domain
// candle type.
func NewIndicatorCacheFromOHLCV(candles []types.OHLCV) *IndicatorCache {
	return NewIndicatorCache(barsFromOHLCV(candles))
}
