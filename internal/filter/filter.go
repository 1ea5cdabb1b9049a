// Package filter implements the pre-trade gate stack (session, spread,
// volatility, news, correlation) evaluated before every candidate entry.
package filter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/indicatorkit"
	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// Decision is the outcome of one gate.
type Decision struct {
	Blocked    bool
	SizeFactor float64 // 1.0 = no reduction; e.g. 0.5 for reduceSize gates
	Reason     string
}

func allow() Decision { return Decision{Blocked: false, SizeFactor: 1.0} }
func block(reason string) Decision {
	return Decision{Blocked: true, SizeFactor: 0, Reason: reason}
}
func reduce(factor float64, reason string) Decision {
	return Decision{Blocked: false, SizeFactor: factor, Reason: reason}
}

// sessionWindowsUTC are the nominal UTC trading-hour windows for each named
// session (standard forex session convention).
var sessionWindowsUTC = map[types.SessionName][2]int{
	types.SessionSydney:  {21, 6},  // 21:00 UTC previous day - 06:00 UTC
	types.SessionTokyo:   {23, 8},  // 23:00 UTC previous day - 08:00 UTC
	types.SessionLondon:  {7, 16},
	types.SessionNewYork: {12, 21},
}

func inSessionWindow(hour int, window [2]int) bool {
	start, end := window[0], window[1]
	if start <= end {
		return hour >= start && hour < end
	}
	// wraps midnight
	return hour >= start || hour < end
}

// SessionFilter gates entries to configured trading sessions and weekend
// allowances.
func SessionFilter(spec types.SessionFilterSpec, now time.Time) Decision {
	if len(spec.AllowedSessions) == 0 && !spec.WeekendMode {
		return allow()
	}
	now = now.UTC()

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		if !spec.WeekendMode {
			return block("weekend trading disabled")
		}
		for _, wa := range spec.OptimalTimes {
			if int(now.Weekday()) == wa.Weekday && now.Hour() >= wa.StartHr && now.Hour() < wa.EndHr {
				return allow()
			}
		}
		return block("outside weekend allowance window")
	}

	if len(spec.AllowedSessions) == 0 {
		return allow()
	}
	for _, s := range spec.AllowedSessions {
		if window, ok := sessionWindowsUTC[s]; ok && inSessionWindow(now.Hour(), window) {
			return allow()
		}
	}
	return block("outside allowed session windows")
}

// SpreadFilter blocks entries when the current spread exceeds the configured
// maximum.
func SpreadFilter(spec types.SpreadFilterSpec, tick types.Tick, symbolInfo types.SymbolInfo) Decision {
	if spec.MaxPips <= 0 {
		return allow()
	}
	spreadPips := tick.SpreadPips(symbolInfo.PointSize).InexactFloat64()
	if spreadPips > spec.MaxPips {
		return block("spread exceeds maxPips")
	}
	return allow()
}

// VolatilityFilter evaluates ATR-in-pips against the configured band,
// blocking or reducing size depending on spec.ReduceOverMax.
func VolatilityFilter(spec types.VolatilityFilterSpec, bars []indicatorkit.Bar, pointSize float64) Decision {
	if spec.ATRPeriod <= 0 || pointSize <= 0 {
		return allow()
	}
	atr := indicatorkit.ATR(bars, spec.ATRPeriod)
	if len(atr) == 0 {
		return allow()
	}
	last := atr[len(atr)-1]
	if last != last { // NaN warm-up
		return block("insufficient history for volatility filter")
	}
	atrPips := last / pointSize

	if spec.MinAtrPips > 0 && atrPips < spec.MinAtrPips {
		return block("volatility below minAtrPips")
	}
	if spec.MaxAtrPips > 0 && atrPips > spec.MaxAtrPips {
		if spec.ReduceOverMax {
			return reduce(0.5, "volatility above maxAtrPips, size reduced")
		}
		return block("volatility above maxAtrPips")
	}
	return allow()
}

// NewsEvent is a single calendar entry.
type NewsEvent struct {
	Symbol string
	Impact types.NewsImpactLevel
	Time   time.Time
}

// NewsCalendar is the injected dependency for upcoming news lookups. The
// executor core does not fetch calendar data itself.
type NewsCalendar interface {
	Events(ctx context.Context, symbol string, window time.Duration) ([]NewsEvent, error)
}

// NullNewsCalendar is a no-op NewsCalendar used when no real provider is
// configured; it never blocks trading.
type NullNewsCalendar struct{}

// Events always returns no events.
func (NullNewsCalendar) Events(ctx context.Context, symbol string, window time.Duration) ([]NewsEvent, error) {
	return nil, nil
}

// NewsFilter blocks entries within the configured blackout window around any
// matching-impact calendar event.
func NewsFilter(ctx context.Context, spec types.NewsFilterSpec, calendar NewsCalendar, symbol string, now time.Time) Decision {
	if calendar == nil || (spec.PauseBeforeMin <= 0 && spec.PauseAfterMin <= 0) {
		return allow()
	}
	window := time.Duration(spec.PauseBeforeMin+spec.PauseAfterMin+60) * time.Minute
	events, err := calendar.Events(ctx, symbol, window)
	if err != nil || len(events) == 0 {
		return allow()
	}

	levels := make(map[types.NewsImpactLevel]bool)
	for _, l := range spec.ImpactLevels {
		levels[l] = true
	}

	for _, e := range events {
		if len(levels) > 0 && !levels[e.Impact] {
			continue
		}
		before := e.Time.Add(-time.Duration(spec.PauseBeforeMin) * time.Minute)
		after := e.Time.Add(time.Duration(spec.PauseAfterMin) * time.Minute)
		if !now.Before(before) && !now.After(after) {
			return block("within news blackout window")
		}
	}
	return allow()
}

// CorrelationFilter blocks or reduces entries when `symbol`'s recent returns
// are too correlated with an already-open symbol's returns, per spec §4.3.
// Pairs whose overlapping window is shorter than LookbackPeriod are skipped
// (non-blocking) rather than evaluated on insufficient data.
func CorrelationFilter(log *zap.Logger, spec types.FilterCorrelationSpec, symbolReturns map[string][]float64, candidateSymbol string, candidateReturns []float64) Decision {
	if !spec.Enabled || spec.LookbackPeriod <= 0 {
		return allow()
	}
	if log == nil {
		log = zap.NewNop()
	}

	worst := 0.0
	for sym, returns := range symbolReturns {
		if sym == candidateSymbol {
			continue
		}
		n := min(len(returns), len(candidateReturns))
		if n < spec.LookbackPeriod {
			log.Debug("correlation filter: skipping pair with insufficient overlap",
				zap.String("symbol", candidateSymbol), zap.String("other", sym), zap.Int("overlap", n))
			continue
		}
		corr := utils.PearsonCorrelation(candidateReturns[len(candidateReturns)-n:], returns[len(returns)-n:])
		if abs(corr) > abs(worst) {
			worst = corr
		}
	}

	if abs(worst) > spec.MaxCorrelation {
		if spec.ReduceOnBreach {
			return reduce(0.5, "correlation breach, size reduced")
		}
		return block("correlation breach")
	}
	return allow()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
