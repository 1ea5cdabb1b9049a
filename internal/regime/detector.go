// Package regime classifies the recent-return character of a symbol/
// timeframe pair into a coarse market regime, used by ExitManager's
// regime-change exit trigger.
package regime

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Type is a coarse market regime label.
type Type string

const (
	Bull          Type = "bull"
	Bear          Type = "bear"
	HighVol       Type = "high_vol"
	LowVol        Type = "low_vol"
	MeanReverting Type = "mean_reverting"
	Unknown       Type = "unknown"
)

// State is the detector's current classification.
type State struct {
	Primary    Type
	Confidence float64 // 0-1
	Trend      float64 // -1..1
	Volatility float64
	StartedAt  time.Time
	Duration   time.Duration
}

// Config tunes classification thresholds.
type Config struct {
	WindowSize     int
	VolThreshold   float64
	TrendThreshold float64
	MRThreshold    float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:     50,
		VolThreshold:   0.25,
		TrendThreshold: 0.3,
		MRThreshold:    -0.1,
	}
}

// Detector tracks a rolling return series per symbol and classifies its
// regime on demand. One Detector instance is shared across strategies
// trading the same symbol.
type Detector struct {
	log    *zap.Logger
	config Config

	mu      sync.Mutex
	returns map[string][]float64
	state   map[string]*State
}

// NewDetector builds a Detector.
func NewDetector(log *zap.Logger, config Config) *Detector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Detector{
		log:     log.Named("regime"),
		config:  config,
		returns: make(map[string][]float64),
		state:   make(map[string]*State),
	}
}

// Update appends a new log-return observation for symbol and reclassifies.
func (d *Detector) Update(symbol string, logReturn float64, now time.Time) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	series := append(d.returns[symbol], logReturn)
	maxLen := d.config.WindowSize * 2
	if len(series) > maxLen {
		series = series[len(series)-d.config.WindowSize:]
	}
	d.returns[symbol] = series

	if len(series) < d.config.WindowSize {
		return State{Primary: Unknown}
	}

	window := series[len(series)-d.config.WindowSize:]
	trend := trendOf(window)
	vol := stdDev(window) * math.Sqrt(252)
	mr := autocorrelation(window)

	primary, confidence := classify(d.config, trend, vol, mr)

	prev := d.state[symbol]
	newState := State{Primary: primary, Confidence: confidence, Trend: trend, Volatility: vol, StartedAt: now}
	if prev != nil && prev.Primary == primary {
		newState.StartedAt = prev.StartedAt
		newState.Duration = now.Sub(prev.StartedAt)
	}
	d.state[symbol] = &newState
	return newState
}

// Current returns the last computed state for symbol without updating it.
func (d *Detector) Current(symbol string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.state[symbol]; ok {
		return *s
	}
	return State{Primary: Unknown}
}

// Changed reports whether symbol's regime differs from `since` (used by
// ExitManager to decide whether to flatten an open position).
func (d *Detector) Changed(symbol string, since Type) bool {
	cur := d.Current(symbol)
	return cur.Primary != Unknown && cur.Primary != since
}

// Returns exposes the per-symbol log-return series the detector already
// keeps for its own volatility/trend math, for callers that need it as
// input to a correlation computation (RiskGate's CorrelationGate in
// particular). The returned slice is a copy.
func (d *Detector) Returns(symbol string) []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	series := d.returns[symbol]
	out := make([]float64, len(series))
	copy(out, series)
	return out
}

func trendOf(returns []float64) float64 {
	sum := 0.0
	for _, r := range returns {
		sum += r
	}
	vol := stdDev(returns)
	if vol == 0 {
		return 0
	}
	t := sum / (vol * math.Sqrt(float64(len(returns))))
	if t > 1 {
		return 1
	}
	if t < -1 {
		return -1
	}
	return t
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

func autocorrelation(returns []float64) float64 {
	n := len(returns)
	if n < 3 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(n)

	var cov, variance float64
	for i := 1; i < n; i++ {
		cov += (returns[i] - mean) * (returns[i-1] - mean)
		variance += (returns[i] - mean) * (returns[i] - mean)
	}
	if variance == 0 {
		return 0
	}
	return cov / variance
}

func classify(cfg Config, trend, vol, mr float64) (Type, float64) {
	switch {
	case vol > cfg.VolThreshold:
		return HighVol, math.Min(1, 0.5+vol/2)
	case vol < cfg.VolThreshold/2 && vol > 0:
		return LowVol, math.Min(1, 0.5+(cfg.VolThreshold-vol)/cfg.VolThreshold)
	case math.Abs(trend) > cfg.TrendThreshold && trend > 0:
		return Bull, math.Min(1, 0.5+trend/2)
	case math.Abs(trend) > cfg.TrendThreshold && trend < 0:
		return Bear, math.Min(1, 0.5+math.Abs(trend)/2)
	case mr < cfg.MRThreshold:
		return MeanReverting, math.Min(1, 0.5+math.Abs(mr))
	default:
		return Unknown, 0.5
	}
}
