package strategyrt

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/broker"
	"github.com/atlas-desktop/executor-core/internal/condition"
	"github.com/atlas-desktop/executor-core/internal/exitmgr"
	"github.com/atlas-desktop/executor-core/internal/filter"
	"github.com/atlas-desktop/executor-core/internal/indicatorkit"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// poll is the per-tick workhorse: it always runs exit management for
// tracked positions, and additionally evaluates for a new entry once a bar
// has closed and the runtime is allowed to open positions.
func (r *Runtime) poll(ctx context.Context) {
	cfg := r.cfgSnapshot()
	status := r.Status()
	if status != types.StatusRunning && status != types.StatusPaused && status != types.StatusStarting {
		return
	}

	tick, err := r.deps.Broker.Tick(ctx, cfg.Symbol)
	if err != nil {
		r.log.Debug("tick unavailable", zap.Error(err))
		r.setLastError(err)
		return
	}

	bars, err := r.deps.Broker.Bars(ctx, cfg.Symbol, cfg.Timeframe, barsLookback)
	if err != nil || len(bars) == 0 {
		r.log.Debug("bars unavailable", zap.Error(err))
		if err != nil {
			r.setLastError(err)
		}
		return
	}

	symbolInfo, err := r.deps.Broker.SymbolInfo(ctx, cfg.Symbol)
	if err != nil {
		r.log.Debug("symbol info unavailable", zap.Error(err))
		r.setLastError(err)
		return
	}
	r.clearLastError()

	if status == types.StatusStarting {
		if !r.warmedUp {
			if len(bars) < r.warmupBars {
				r.log.Debug("indicator warm-up not yet satisfied", zap.Int("barsAvailable", len(bars)), zap.Int("barsRequired", r.warmupBars))
				return
			}
			r.warmedUp = true
		}
		r.setStatus(types.StatusRunning)
		status = types.StatusRunning
	}

	ikBars := toIndicatorBars(bars)
	atrSeries := indicatorkit.ATR(ikBars, atrPeriodOrDefault(cfg.ExitSpec.StopLoss.ATRPeriod))
	atrValue := lastNonNaN(atrSeries)

	closedRegime := r.updateRegime(cfg.Symbol, ikBars, tick.Timestamp)

	r.evaluateExits(ctx, cfg, tick, symbolInfo, atrValue, closedRegime)

	if status.CanOpenEntries() && cfg.Validate() == nil {
		r.evaluateEntry(ctx, cfg, tick, bars, ikBars, symbolInfo, atrValue)
	}
}

// evaluateExits runs ExitManager.Evaluate for every tracked position in
// this runtime's symbol and forwards produced events.
func (r *Runtime) evaluateExits(ctx context.Context, cfg types.StrategyConfig, tick types.Tick, symbolInfo types.SymbolInfo, atrValue decimal.Decimal, regimeChanged bool) {
	sessionEnded := r.deps.Filters != nil && cfg.ExitSpec.Smart.SessionCloseFlatten && !sessionOpenFor(cfg.FilterSpec, tick.Timestamp)

	for _, pos := range r.exits.All() {
		events := r.exits.Evaluate(ctx, pos.Ticket, exitmgr.EvaluateInputs{
			Now:           tick.Timestamp,
			Tick:          tick,
			SymbolInfo:    symbolInfo,
			Exit:          cfg.ExitSpec,
			RegimeChanged: regimeChanged,
			SessionEnded:  sessionEnded,
			ATRValue:      atrValue,
		})
		for _, ev := range events {
			ev.ID = utils.GenerateID("evt")
			ev.StrategyID = cfg.ID
			if ev.EventKind == types.EventExit {
				pnl := decimal.Zero
				if ev.PnLRealized != nil {
					pnl = *ev.PnLRealized
				}
				r.deps.Gate.RecordClose(cfg.ID, cfg.Symbol, pnl, tick.Timestamp)
				r.exits.Untrack(pos.Ticket)
			}
			r.emit(ev)
		}
	}
}

// evaluateEntry evaluates the EntryTree once per newly closed bar and, if
// satisfied, runs it through FilterStack and RiskGate before opening a
// position.
func (r *Runtime) evaluateEntry(ctx context.Context, cfg types.StrategyConfig, tick types.Tick, bars []types.OHLCV, ikBars []indicatorkit.Bar, symbolInfo types.SymbolInfo, atrValue decimal.Decimal) {
	latest := bars[len(bars)-1]
	if !latest.Closed || !latest.Timestamp.After(r.lastBarTime) {
		return
	}
	r.lastBarTime = latest.Timestamp

	side := cfg.Side
	if side == "" {
		side = types.SideBuy
	}
	for _, pos := range r.exits.All() {
		if pos.Side == side {
			return // already holding a position in this direction for this strategy/symbol
		}
	}

	cache := condition.NewIndicatorCacheFromOHLCV(bars)
	if !r.eval.Evaluate(cfg.EntryTree, cache) {
		return
	}

	account, err := r.deps.Broker.AccountInfo(ctx)
	if err != nil {
		r.log.Warn("account info unavailable, skipping entry", zap.Error(err))
		r.setLastError(err)
		return
	}

	riskResult := r.deps.Gate.Check(cfg.RiskSpec, cfg.ID, cfg.Symbol, account, tick.Timestamp)
	if !riskResult.Approved {
		r.log.Info("entry blocked by risk gate", zap.String("reason", riskResult.Reason))
		return
	}

	if corrResult := r.checkCorrelation(cfg); !corrResult.Approved {
		r.log.Info("entry blocked by correlation gate", zap.String("reason", corrResult.Reason))
		return
	}

	filterDecision := r.evaluateFilters(ctx, cfg, tick, ikBars, symbolInfo)
	if filterDecision.Blocked {
		r.log.Info("entry blocked by filter stack", zap.String("reason", filterDecision.Reason))
		return
	}

	stopLoss := computeStopLoss(cfg.ExitSpec.StopLoss, side, tick, atrValue)
	sizeInputs := risk.SizeInputs{Account: account, SymbolInfo: symbolInfo, EntryPrice: tick.Ask, StopLossPrice: stopLoss, ATRValue: atrValue}
	volume := risk.PositionSize(cfg.RiskSpec.RiskPercentPerTrade, sizeInputs)
	if filterDecision.SizeFactor < 1 {
		volume = volume.Mul(decimal.NewFromFloat(filterDecision.SizeFactor))
	}
	if volume.LessThanOrEqual(decimal.Zero) {
		r.log.Debug("computed position size is zero, skipping entry")
		return
	}

	result, err := r.deps.Broker.OpenPosition(ctx, broker.OpenRequest{
		Symbol:   cfg.Symbol,
		Side:     side,
		Volume:   volume,
		StopLoss: stopLoss,
		Magic:    cfg.Magic,
		Comment:  cfg.Name,
	})
	if err != nil {
		r.log.Warn("broker rejected entry", zap.Error(err))
		r.setLastError(err)
		return
	}

	r.deps.Gate.RecordOpen(cfg.ID, cfg.Symbol, tick.Timestamp)
	pos := &types.PositionRecord{
		Ticket:             result.Ticket,
		StrategyID:         cfg.ID,
		Symbol:             cfg.Symbol,
		Side:               side,
		EntryPrice:         result.FillPrice,
		EntryTime:          result.Time,
		VolumeOriginal:     volume,
		VolumeRemaining:    volume,
		StopLoss:           stopLoss,
		PeakFavorablePrice: result.FillPrice,
		State:              types.PositionOpen,
		Magic:              cfg.Magic,
		Comment:            cfg.Name,
	}
	r.exits.Track(pos)

	r.emit(types.TradeEvent{
		ID:         utils.GenerateID("evt"),
		EventKind:  types.EventEntry,
		StrategyID: cfg.ID,
		Symbol:     cfg.Symbol,
		Ticket:     result.Ticket,
		Side:       side,
		Volume:     volume,
		Price:      result.FillPrice,
		Time:       result.Time,
	})
}

// checkCorrelation runs RiskGate's CorrelationGate against every symbol
// currently held open by other runtimes in the process. It is a no-op
// (always approved) when ExecutorCore hasn't wired the cross-runtime views
// into Deps, which keeps every existing single-runtime test construction
// valid without changes.
func (r *Runtime) checkCorrelation(cfg types.StrategyConfig) risk.GateResult {
	if r.deps.OpenSymbols == nil {
		return risk.GateResult{Approved: true}
	}
	openSymbols := r.deps.OpenSymbols(cfg.ID)
	return r.deps.Gate.CorrelationGate(cfg.RiskSpec.Correlation, cfg.Symbol, openSymbols, r.deps.CorrelationOf)
}

// symbolReturnsForCorrelation builds the other-open-symbols return map
// FilterStack's CorrelationFilter needs, from regime.Detector's shared
// return-series bookkeeping. Returns nil when the cross-runtime view isn't
// wired (standalone runtime construction, e.g. in tests).
func (r *Runtime) symbolReturnsForCorrelation(excludeStrategyID string) map[string][]float64 {
	if r.deps.OpenSymbols == nil || r.deps.Regime == nil {
		return nil
	}
	out := make(map[string][]float64)
	for _, sym := range r.deps.OpenSymbols(excludeStrategyID) {
		if _, ok := out[sym]; ok {
			continue
		}
		out[sym] = r.deps.Regime.Returns(sym)
	}
	return out
}

func (r *Runtime) evaluateFilters(ctx context.Context, cfg types.StrategyConfig, tick types.Tick, ikBars []indicatorkit.Bar, symbolInfo types.SymbolInfo) filter.Decision {
	if r.deps.Filters == nil {
		return filter.Decision{Blocked: false, SizeFactor: 1}
	}
	var candidateReturns []float64
	if r.deps.Regime != nil {
		candidateReturns = r.deps.Regime.Returns(cfg.Symbol)
	}
	return r.deps.Filters.Evaluate(ctx, cfg.FilterSpec, filter.Inputs{
		Now:              tick.Timestamp,
		Tick:             tick,
		SymbolInfo:       symbolInfo,
		Bars:             ikBars,
		Symbol:           cfg.Symbol,
		SymbolReturns:    r.symbolReturnsForCorrelation(cfg.ID),
		CandidateReturns: candidateReturns,
	})
}

func (r *Runtime) updateRegime(symbol string, ikBars []indicatorkit.Bar, now time.Time) bool {
	if r.deps.Regime == nil || len(ikBars) < 2 {
		return false
	}
	before := r.deps.Regime.Current(symbol).Primary
	last := ikBars[len(ikBars)-1]
	prev := ikBars[len(ikBars)-2]
	if prev.Close == 0 {
		return false
	}
	logReturn := (last.Close - prev.Close) / prev.Close
	state := r.deps.Regime.Update(symbol, logReturn, now)
	return before != "" && state.Primary != before
}

func toIndicatorBars(candles []types.OHLCV) []indicatorkit.Bar {
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

func lastNonNaN(series []float64) decimal.Decimal {
	for i := len(series) - 1; i >= 0; i-- {
		if series[i] == series[i] { // NaN check without importing math
			return decimal.NewFromFloat(series[i])
		}
	}
	return decimal.Zero
}

func atrPeriodOrDefault(period int) int {
	if period <= 0 {
		return 14
	}
	return period
}

func computeStopLoss(spec types.StopLossSpec, side types.Side, tick types.Tick, atrValue decimal.Decimal) decimal.Decimal {
	entry := tick.Ask
	if side == types.SideSell {
		entry = tick.Bid
	}
	switch spec.Kind {
	case types.StopLossATR:
		distance := atrValue.Mul(decimal.NewFromFloat(valueOrDefault(spec.ATRMultiplier, 2)))
		if side == types.SideSell {
			return entry.Add(distance)
		}
		return entry.Sub(distance)
	case types.StopLossPercent:
		distance := entry.Mul(decimal.NewFromFloat(spec.Value / 100))
		if side == types.SideSell {
			return entry.Add(distance)
		}
		return entry.Sub(distance)
	default: // pips, ema-ref: treat Value as a price-unit distance already in points
		distance := decimal.NewFromFloat(spec.Value)
		if side == types.SideSell {
			return entry.Add(distance)
		}
		return entry.Sub(distance)
	}
}

func valueOrDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// sessionOpenFor reports whether now falls inside any of the strategy's
// allowed sessions; used only for the session-close-flatten soft exit.
func sessionOpenFor(spec types.FilterSpec, now time.Time) bool {
	if len(spec.Session.AllowedSessions) == 0 {
		return true
	}
	decision := filter.SessionFilter(spec.Session, now)
	return !decision.Blocked
}
