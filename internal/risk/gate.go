package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// GateResult is the outcome of a portfolio-level risk check.
type GateResult struct {
	Approved bool
	Reason   string
}

func approved() GateResult  { return GateResult{Approved: true} }
func rejected(reason string) GateResult { return GateResult{Approved: false, Reason: reason} }

// counterRetention bounds how long DailyCounters history is kept in memory
// (spec.md §5: 7-day retention).
const counterRetention = 7 * 24 * time.Hour

type dayBucket struct {
	counters types.DailyCounters
	lastSeen time.Time
}

// Gate is a single-writer, mutex-guarded portfolio risk tracker. One Gate is
// shared by all strategies so cross-strategy limits (maxPositions,
// correlation grouping) can be enforced globally.
type Gate struct {
	log *zap.Logger
	mu  sync.Mutex

	openPositionsBySymbol   map[string]int
	openPositionsByStrategy map[string]int
	totalOpenPositions      int

	// strategyId|day -> bucket
	daily map[string]*dayBucket

	consecutiveLosses map[string]int
}

// NewGate builds an empty Gate.
func NewGate(log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		log:                     log.Named("risk"),
		openPositionsBySymbol:   make(map[string]int),
		openPositionsByStrategy: make(map[string]int),
		daily:                   make(map[string]*dayBucket),
		consecutiveLosses:       make(map[string]int),
	}
}

func bucketKey(strategyID, day string) string { return strategyID + "|" + day }

func (g *Gate) bucket(strategyID string, now time.Time) *dayBucket {
	day := utils.DayKey(now)
	key := bucketKey(strategyID, day)
	b, ok := g.daily[key]
	if !ok {
		b = &dayBucket{counters: types.DailyCounters{StrategyID: strategyID, Day: day}}
		g.daily[key] = b
	}
	b.lastSeen = now
	return b
}

// prune discards buckets untouched for longer than counterRetention. Must be
// called with g.mu held.
func (g *Gate) prune(now time.Time) {
	for key, b := range g.daily {
		if now.Sub(b.lastSeen) > counterRetention {
			delete(g.daily, key)
		}
	}
}

// Check evaluates every portfolio gate for a candidate entry. It changes no
// counter (it only prunes stale day buckets); call RecordOpen/RecordClose on
// actual fills.
func (g *Gate) Check(spec types.RiskSpec, strategyID, symbol string, account types.AccountInfo, now time.Time) GateResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prune(now)

	if spec.MaxPositions > 0 && g.totalOpenPositions >= spec.MaxPositions {
		return rejected("maxPositions reached")
	}
	if spec.MaxPositionsPerSymbol > 0 && g.openPositionsBySymbol[symbol] >= spec.MaxPositionsPerSymbol {
		return rejected("maxPositionsPerSymbol reached")
	}

	b := g.bucket(strategyID, now)
	if spec.MaxDailyTrades > 0 && b.counters.TradeCount >= spec.MaxDailyTrades {
		return rejected("maxDailyTrades reached")
	}
	if spec.MaxDailyLossCcy > 0 {
		loss, _ := b.counters.RealizedLoss.Float64()
		if loss >= spec.MaxDailyLossCcy {
			return rejected("maxDailyLossCcy reached")
		}
	}
	if spec.MaxDrawdownPct > 0 {
		if account.DrawdownPct().GreaterThan(decimal.NewFromFloat(spec.MaxDrawdownPct)) {
			return rejected("maxDrawdownPct reached")
		}
	}
	if spec.MaxConsecutiveLosses > 0 && g.consecutiveLosses[strategyID] >= spec.MaxConsecutiveLosses {
		return rejected("maxConsecutiveLosses reached")
	}

	return approved()
}

// RecordOpen updates the open-position counters when an entry fills.
func (g *Gate) RecordOpen(strategyID, symbol string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.totalOpenPositions++
	g.openPositionsBySymbol[symbol]++
	g.openPositionsByStrategy[strategyID]++

	b := g.bucket(strategyID, now)
	b.counters.TradeCount++
}

// RecordClose updates the open-position counters and PnL-derived counters
// when a position fully closes.
func (g *Gate) RecordClose(strategyID, symbol string, realizedPnL decimal.Decimal, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.totalOpenPositions > 0 {
		g.totalOpenPositions--
	}
	if g.openPositionsBySymbol[symbol] > 0 {
		g.openPositionsBySymbol[symbol]--
	}
	if g.openPositionsByStrategy[strategyID] > 0 {
		g.openPositionsByStrategy[strategyID]--
	}

	if realizedPnL.IsNegative() {
		b := g.bucket(strategyID, now)
		b.counters.RealizedLoss = b.counters.RealizedLoss.Add(realizedPnL.Abs())
		g.consecutiveLosses[strategyID]++
		g.log.Debug("consecutive loss recorded", zap.String("strategyId", strategyID), zap.Int("count", g.consecutiveLosses[strategyID]))
	} else {
		g.consecutiveLosses[strategyID] = 0
	}
}

// Counters returns a snapshot of a strategy's counters for the given day,
// for reporting/telemetry.
func (g *Gate) Counters(strategyID string, now time.Time) types.DailyCounters {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bucket(strategyID, now).counters
}

// OpenPositionCount returns the total number of open positions tracked.
func (g *Gate) OpenPositionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.totalOpenPositions
}

// CorrelationGate applies RiskSpec's symbol-correlation grouping: if
// grouping is byCurrency and a candidate symbol shares a currency leg with
// an already-open symbol beyond MaxPair correlation tolerance, reject.
// Correlation itself (Pearson coefficient) is supplied by the caller
// (ExecutorCore computes it from regime.Detector's return series) since Gate
// does not retain price history.
func (g *Gate) CorrelationGate(spec types.RiskCorrelationSpec, candidateSymbol string, openSymbols []string, correlationOf func(a, b string) float64) GateResult {
	if !spec.Enabled || spec.Grouping != types.GroupingByCurrency {
		return approved()
	}
	for _, other := range openSymbols {
		if other == candidateSymbol {
			continue
		}
		if !sharesCurrencyLeg(candidateSymbol, other) {
			continue
		}
		if correlationOf == nil {
			continue
		}
		if corr := correlationOf(candidateSymbol, other); abs(corr) > spec.MaxPair {
			return rejected("correlated exposure exceeds maxPair")
		}
	}
	return approved()
}

func sharesCurrencyLeg(a, b string) bool {
	if len(a) < 6 || len(b) < 6 {
		return false
	}
	return a[:3] == b[:3] || a[:3] == b[3:6] || a[3:6] == b[:3] || a[3:6] == b[3:6]
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
