package regime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetectorUnknownBeforeWindowFilled(t *testing.T) {
	d := NewDetector(nil, Config{WindowSize: 10, VolThreshold: 0.25, TrendThreshold: 0.3, MRThreshold: -0.1})
	st := d.Update("EURUSD", 0.001, time.Now())
	assert.Equal(t, Unknown, st.Primary)
}

func TestDetectorClassifiesBullOnSustainedUptrend(t *testing.T) {
	d := NewDetector(nil, DefaultConfig())
	now := time.Now()
	var st State
	for i := 0; i < 60; i++ {
		r := 0.02 // alternating +2%/0% returns: positive drift, moderate volatility
		if i%2 == 1 {
			r = 0
		}
		st = d.Update("EURUSD", r, now)
	}
	assert.Equal(t, Bull, st.Primary)
}

func TestDetectorChangedDetectsTransition(t *testing.T) {
	d := NewDetector(nil, DefaultConfig())
	now := time.Now()
	for i := 0; i < 60; i++ {
		d.Update("EURUSD", 0.01, now)
	}
	first := d.Current("EURUSD").Primary
	assert.False(t, d.Changed("EURUSD", first))

	for i := 0; i < 60; i++ {
		r := -0.02
		if i%2 == 1 {
			r = 0
		}
		d.Update("EURUSD", r, now)
	}
	assert.Equal(t, Bear, d.Current("EURUSD").Primary)
	assert.True(t, d.Changed("EURUSD", first))
}

func TestAutocorrelationZeroOnShortSeries(t *testing.T) {
	assert.Equal(t, 0.0, autocorrelation([]float64{1, 2}))
}

func TestStdDevZeroOnSingleValue(t *testing.T) {
	assert.Equal(t, 0.0, stdDev([]float64{1}))
}

func TestReturnsIsACopyAndReflectsUpdates(t *testing.T) {
	d := NewDetector(nil, DefaultConfig())
	now := time.Now()
	d.Update("EURUSD", 0.001, now)
	d.Update("EURUSD", 0.002, now)

	got := d.Returns("EURUSD")
	assert.Equal(t, []float64{0.001, 0.002}, got)

	got[0] = 99 // mutating the returned slice must not affect the detector
	assert.Equal(t, []float64{0.001, 0.002}, d.Returns("EURUSD"))
}

func TestReturnsEmptyForUnknownSymbol(t *testing.T) {
	d := NewDetector(nil, DefaultConfig())
	assert.Empty(t, d.Returns("GBPUSD"))
}

func TestTrendOfClampsToUnitRange(t *testing.T) {
	huge := make([]float64, 30)
	for i := range huge {
		huge[i] = 0.5
	}
	tr := trendOf(huge)
	assert.True(t, math.Abs(tr) <= 1.0)
}
