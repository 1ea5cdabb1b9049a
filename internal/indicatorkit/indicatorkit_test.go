package indicatorkit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func flatBars(closesVals []float64) []Bar {
	bars := make([]Bar, len(closesVals))
	for i, c := range closesVals {
		bars[i] = Bar{Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100}
	}
	return bars
}

func TestSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	out := SMA(vals, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestEMASeededFromSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6}
	out := EMA(vals, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9) // SMA(1,2,3)
	mult := 2.0 / 4.0
	want3 := (4.0-2.0)*mult + 2.0
	assert.InDelta(t, want3, out[3], 1e-9)
}

func TestEMADeterministicRepeat(t *testing.T) {
	vals := []float64{10, 11, 12, 9, 15, 14, 13, 20}
	a := EMA(vals, 4)
	b := EMA(vals, 4)
	assert.Equal(t, a, b)
}

func TestRSIBounds(t *testing.T) {
	vals := []float64{44, 44.3, 44.1, 44.5, 44.8, 45.1, 45.0, 45.5, 45.8, 46.1, 46.0, 46.5, 46.9, 47.1, 47.3}
	out := RSI(flatBars(vals), 14)
	last := out[len(out)-1]
	assert.False(t, math.IsNaN(last))
	assert.GreaterOrEqual(t, last, 0.0)
	assert.LessOrEqual(t, last, 100.0)
}

func TestRSIAllGainsHits100(t *testing.T) {
	vals := make([]float64, 20)
	for i := range vals {
		vals[i] = float64(i) + 1
	}
	out := RSI(flatBars(vals), 14)
	assert.InDelta(t, 100.0, out[len(out)-1], 1e-9)
}

func TestMACDHistogramConsistency(t *testing.T) {
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 100 + math.Sin(float64(i)/5)*10
	}
	res := MACD(flatBars(vals), 12, 26, 9)
	for i := range res.MACD {
		if math.IsNaN(res.MACD[i]) || math.IsNaN(res.Signal[i]) {
			continue
		}
		assert.InDelta(t, res.MACD[i]-res.Signal[i], res.Histogram[i], 1e-9)
	}
}

func TestATRNonNegative(t *testing.T) {
	bars := []Bar{
		{Open: 1, High: 10, Low: 5, Close: 8},
		{Open: 8, High: 12, Low: 7, Close: 9},
		{Open: 9, High: 11, Low: 6, Close: 7},
		{Open: 7, High: 9, Low: 4, Close: 6},
		{Open: 6, High: 8, Low: 5, Close: 7},
	}
	out := ATR(bars, 3)
	for _, v := range out {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

func TestBollingerBandsOrdering(t *testing.T) {
	vals := []float64{10, 11, 9, 12, 8, 13, 7, 14, 6, 15}
	bb := Bollinger(flatBars(vals), 5, 2.0)
	for i := range bb.Middle {
		if math.IsNaN(bb.Middle[i]) {
			continue
		}
		assert.True(t, bb.Upper[i] >= bb.Middle[i])
		assert.True(t, bb.Middle[i] >= bb.Lower[i])
	}
}

func TestStochasticRange(t *testing.T) {
	vals := []float64{10, 11, 12, 11, 10, 9, 10, 11, 12, 13}
	res := Stochastic(flatBars(vals), 5, 3)
	for _, v := range res.K {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestADXNonNegative(t *testing.T) {
	vals := make([]float64, 40)
	for i := range vals {
		vals[i] = 100 + float64(i)*0.3
	}
	out := ADX(flatBars(vals), 14)
	for _, v := range out {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestSARFlipsOnBreach(t *testing.T) {
	bars := []Bar{
		{Open: 10, High: 11, Low: 9, Close: 10.5},
		{Open: 10.5, High: 12, Low: 10, Close: 11.5},
		{Open: 11.5, High: 13, Low: 11, Close: 12.5},
		{Open: 12.5, High: 13, Low: 8, Close: 9}, // sharp drop should flip trend
	}
	out := SAR(bars, 0.02, 0.02, 0.2)
	assert.Equal(t, len(bars), len(out))
	for _, v := range out {
		assert.False(t, math.IsNaN(v))
	}
}

func TestOBVAccumulates(t *testing.T) {
	bars := []Bar{
		{Close: 10, Volume: 100},
		{Close: 11, Volume: 50}, // up
		{Close: 10, Volume: 30}, // down
		{Close: 10, Volume: 20}, // flat
	}
	out := OBV(bars)
	assert.InDelta(t, 0, out[0], 1e-9)
	assert.InDelta(t, 150, out[1], 1e-9)
	assert.InDelta(t, 120, out[2], 1e-9)
	assert.InDelta(t, 120, out[3], 1e-9)
}

func TestMaxPeriod(t *testing.T) {
	assert.Equal(t, 26, MaxPeriod(12, 26, 9))
	assert.Equal(t, 0, MaxPeriod())
}
