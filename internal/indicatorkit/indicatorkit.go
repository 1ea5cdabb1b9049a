// Package indicatorkit provides pure, deterministic technical indicator
// functions over OHLCV windows. Every function takes a full bar window and
// returns a sequence of equal length with math.NaN() for warm-up entries.
// There is no I/O, no clock, and no randomness anywhere in this package.
package indicatorkit

import "math"

// Bar is a float64 OHLCV record used for indicator math. Callers convert
// from pkg/types.OHLCV (decimal.Decimal) at the package boundary.
type Bar struct {
	Open, High, Low, Close, Volume float64
}

func closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func nanSeries(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

// SMA computes the simple moving average over period bars.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA computes the exponential moving average over period bars, seeded from
// the SMA of the first `period` bars (standard EMA convention).
func EMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	mult := 2.0 / float64(period+1)

	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	prev := seed
	for i := period; i < len(values); i++ {
		cur := (values[i]-prev)*mult + prev
		out[i] = cur
		prev = cur
	}
	return out
}

// CloseSMA/CloseEMA are convenience wrappers operating on bar closes.
func CloseSMA(bars []Bar, period int) []float64 { return SMA(closes(bars), period) }
func CloseEMA(bars []Bar, period int) []float64 { return EMA(closes(bars), period) }

// wilderSmooth applies Wilder's smoothing (a period-N running average where
// each new value is (prevAvg*(period-1) + new) / period) to a raw series,
// seeded by a plain average of the first `period` values.
func wilderSmooth(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	seed /= float64(period)
	out[period-1] = seed

	prev := seed
	for i := period; i < len(values); i++ {
		cur := (prev*float64(period-1) + values[i]) / float64(period)
		out[i] = cur
		prev = cur
	}
	return out
}

// RSI computes the Relative Strength Index using Wilder smoothing of average
// gains/losses over `period` bars.
func RSI(bars []Bar, period int) []float64 {
	c := closes(bars)
	out := nanSeries(len(c))
	if period <= 0 || len(c) < period+1 {
		return out
	}

	gains := make([]float64, len(c))
	losses := make([]float64, len(c))
	for i := 1; i < len(c); i++ {
		delta := c[i] - c[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	avgGain := wilderSmooth(gains[1:], period)
	avgLoss := wilderSmooth(losses[1:], period)

	for i := range avgGain {
		if math.IsNaN(avgGain[i]) {
			continue
		}
		idx := i + 1 // shift back: gains[1:] dropped index 0
		if avgLoss[i] == 0 {
			out[idx] = 100
			continue
		}
		rs := avgGain[i] / avgLoss[i]
		out[idx] = 100 - (100 / (1 + rs))
	}
	return out
}

// MACDResult bundles the three MACD output series.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the standard MACD(fast, slow, signal) indicator.
func MACD(bars []Bar, fast, slow, signal int) MACDResult {
	c := closes(bars)
	fastEMA := EMA(c, fast)
	slowEMA := EMA(c, slow)

	macdLine := nanSeries(len(c))
	for i := range c {
		if math.IsNaN(fastEMA[i]) || math.IsNaN(slowEMA[i]) {
			continue
		}
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}

	// Build a dense series of the valid MACD values to EMA-seed the signal
	// line, then scatter the result back onto the full-length output.
	var dense []float64
	var denseIdx []int
	for i, v := range macdLine {
		if !math.IsNaN(v) {
			dense = append(dense, v)
			denseIdx = append(denseIdx, i)
		}
	}
	signalDense := EMA(dense, signal)
	signalLine := nanSeries(len(c))
	histogram := nanSeries(len(c))
	for j, idx := range denseIdx {
		if math.IsNaN(signalDense[j]) {
			continue
		}
		signalLine[idx] = signalDense[j]
		histogram[idx] = macdLine[idx] - signalDense[j]
	}

	return MACDResult{MACD: macdLine, Signal: signalLine, Histogram: histogram}
}

// trueRange computes the true range series (undefined at index 0).
func trueRange(bars []Bar) []float64 {
	out := nanSeries(len(bars))
	for i := 1; i < len(bars); i++ {
		hl := bars[i].High - bars[i].Low
		hc := math.Abs(bars[i].High - bars[i-1].Close)
		lc := math.Abs(bars[i].Low - bars[i-1].Close)
		out[i] = math.Max(hl, math.Max(hc, lc))
	}
	return out
}

// ATR computes the Average True Range using Wilder smoothing.
func ATR(bars []Bar, period int) []float64 {
	tr := trueRange(bars)
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period+1 {
		return out
	}
	smoothed := wilderSmooth(tr[1:], period)
	for i, v := range smoothed {
		out[i+1] = v
	}
	return out
}

// CCI computes the Commodity Channel Index over `period` bars.
func CCI(bars []Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period {
		return out
	}
	typical := make([]float64, len(bars))
	for i, b := range bars {
		typical[i] = (b.High + b.Low + b.Close) / 3
	}
	for i := period - 1; i < len(bars); i++ {
		window := typical[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		meanDev := 0.0
		for _, v := range window {
			meanDev += math.Abs(v - mean)
		}
		meanDev /= float64(period)
		if meanDev == 0 {
			out[i] = 0
			continue
		}
		out[i] = (typical[i] - mean) / (0.015 * meanDev)
	}
	return out
}

// BollingerBands bundles the three Bollinger Band output series.
type BollingerBands struct {
	Upper, Middle, Lower []float64
}

// Bollinger computes Bollinger Bands: an `period`-bar SMA with bands at
// +/- `numStdDev` population standard deviations.
func Bollinger(bars []Bar, period int, numStdDev float64) BollingerBands {
	c := closes(bars)
	mid := SMA(c, period)
	upper := nanSeries(len(c))
	lower := nanSeries(len(c))

	for i := period - 1; i < len(c); i++ {
		if period <= 0 || i < 0 || math.IsNaN(mid[i]) {
			continue
		}
		window := c[i-period+1 : i+1]
		var sumSq float64
		for _, v := range window {
			d := v - mid[i]
			sumSq += d * d
		}
		sd := math.Sqrt(sumSq / float64(period))
		upper[i] = mid[i] + numStdDev*sd
		lower[i] = mid[i] - numStdDev*sd
	}
	return BollingerBands{Upper: upper, Middle: mid, Lower: lower}
}

// StochasticResult bundles %K and %D.
type StochasticResult struct {
	K, D []float64
}

// Stochastic computes the stochastic oscillator: %K over kPeriod bars,
// %D as the dPeriod-bar SMA of %K.
func Stochastic(bars []Bar, kPeriod, dPeriod int) StochasticResult {
	k := nanSeries(len(bars))
	if kPeriod > 0 {
		for i := kPeriod - 1; i < len(bars); i++ {
			window := bars[i-kPeriod+1 : i+1]
			lo, hi := window[0].Low, window[0].High
			for _, b := range window {
				if b.Low < lo {
					lo = b.Low
				}
				if b.High > hi {
					hi = b.High
				}
			}
			if hi == lo {
				k[i] = 50
				continue
			}
			k[i] = (bars[i].Close - lo) / (hi - lo) * 100
		}
	}
	d := SMA(k, dPeriod)
	return StochasticResult{K: k, D: d}
}

// ADX computes the Average Directional Index over `period` bars using
// Wilder-smoothed +DI/-DI.
func ADX(bars []Bar, period int) []float64 {
	out := nanSeries(len(bars))
	if period <= 0 || len(bars) < period*2 {
		return out
	}

	plusDM := nanSeries(len(bars))
	minusDM := nanSeries(len(bars))
	for i := 1; i < len(bars); i++ {
		upMove := bars[i].High - bars[i-1].High
		downMove := bars[i-1].Low - bars[i].Low
		pd, md := 0.0, 0.0
		if upMove > downMove && upMove > 0 {
			pd = upMove
		}
		if downMove > upMove && downMove > 0 {
			md = downMove
		}
		plusDM[i] = pd
		minusDM[i] = md
	}

	tr := trueRange(bars)
	smoothTR := wilderSmooth(tr[1:], period)
	smoothPlusDM := wilderSmooth(plusDM[1:], period)
	smoothMinusDM := wilderSmooth(minusDM[1:], period)

	dx := nanSeries(len(smoothTR))
	for i := range smoothTR {
		if math.IsNaN(smoothTR[i]) || smoothTR[i] == 0 {
			continue
		}
		plusDI := 100 * smoothPlusDM[i] / smoothTR[i]
		minusDI := 100 * smoothMinusDM[i] / smoothTR[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}

	// dx is NaN until smoothTR is seeded at index period-1, so the ADX
	// smoothing starts from that first valid dx value (bar index period).
	adx := wilderSmooth(dx[period-1:], period)
	for i, v := range adx {
		out[i+period] = v
	}
	return out
}

// SAR computes the Parabolic SAR with acceleration factor stepping from
// `accelStart` by `accelStep` up to `accelMax`.
func SAR(bars []Bar, accelStart, accelStep, accelMax float64) []float64 {
	out := nanSeries(len(bars))
	if len(bars) < 2 {
		return out
	}

	uptrend := bars[1].Close >= bars[0].Close
	af := accelStart
	var ep float64
	var sar float64
	if uptrend {
		sar = bars[0].Low
		ep = bars[0].High
	} else {
		sar = bars[0].High
		ep = bars[0].Low
	}
	out[0] = sar

	for i := 1; i < len(bars); i++ {
		prevSAR := sar
		sar = prevSAR + af*(ep-prevSAR)

		if uptrend {
			if bars[i].Low < sar {
				uptrend = false
				sar = ep
				ep = bars[i].Low
				af = accelStart
			} else {
				if bars[i].High > ep {
					ep = bars[i].High
					af = math.Min(af+accelStep, accelMax)
				}
				if i >= 1 && sar > bars[i-1].Low {
					sar = bars[i-1].Low
				}
			}
		} else {
			if bars[i].High > sar {
				uptrend = true
				sar = ep
				ep = bars[i].High
				af = accelStart
			} else {
				if bars[i].Low < ep {
					ep = bars[i].Low
					af = math.Min(af+accelStep, accelMax)
				}
				if i >= 1 && sar < bars[i-1].High {
					sar = bars[i-1].High
				}
			}
		}
		out[i] = sar
	}
	return out
}

// OBV computes On-Balance Volume.
func OBV(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	if len(bars) == 0 {
		return out
	}
	for i := 1; i < len(bars); i++ {
		switch {
		case bars[i].Close > bars[i-1].Close:
			out[i] = out[i-1] + bars[i].Volume
		case bars[i].Close < bars[i-1].Close:
			out[i] = out[i-1] - bars[i].Volume
		default:
			out[i] = out[i-1]
		}
	}
	return out
}

// MaxPeriod returns the longest of the given indicator periods (0 for none).
// Callers add their own warm-up margin on top; strategyrt adds 2 bars.
func MaxPeriod(periods ...int) int {
	max := 0
	for _, p := range periods {
		if p > max {
			max = p
		}
	}
	return max
}
