// Package strategyrt runs one StrategyConfig to completion: one goroutine
// per running strategy, polling broker bars/ticks on the strategy's own
// cadence and driving the entry and exit pipelines built from
// indicatorkit/condition/filter/risk/exitmgr.
package strategyrt

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/broker"
	"github.com/atlas-desktop/executor-core/internal/condition"
	"github.com/atlas-desktop/executor-core/internal/exitmgr"
	"github.com/atlas-desktop/executor-core/internal/filter"
	"github.com/atlas-desktop/executor-core/internal/indicatorkit"
	"github.com/atlas-desktop/executor-core/internal/regime"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// tickInterval is how often the runtime loop wakes to evaluate exits and
// check for a newly closed bar, independent of the strategy's own
// timeframe.
const tickInterval = 1 * time.Second

// Broker is the full broker capability a runtime needs, same shape as
// internal/broker.Client (a Serializer or PaperClient satisfies it
// directly).
type Broker = broker.Client

// EventSink receives TradeEvents produced by a runtime for forwarding to
// PlatformLink.
type EventSink interface {
	QueueTrade(event types.TradeEvent)
}

// Deps bundles the shared, cross-strategy collaborators a Runtime needs.
// Gate and Regime are intentionally shared across every Runtime in the
// process (risk limits and regime state are process-wide); Filters is
// stateless and safe to share too.
//
// OpenSymbols and CorrelationOf are optional and populated by ExecutorCore:
// they give this runtime a cross-strategy view it cannot build on its own
// (the set of symbols other running strategies currently hold, and a
// Pearson-correlation lookup between any two symbols) so RiskGate's
// CorrelationGate can evaluate a candidate entry against the rest of the
// book. Either may be nil, in which case the correlation check is skipped.
type Deps struct {
	Broker        Broker
	Gate          *risk.Gate
	Filters       *filter.Stack
	Regime        *regime.Detector
	Events        EventSink
	OpenSymbols   func(excludeStrategyID string) []string
	CorrelationOf func(symbolA, symbolB string) float64
}

// barsLookback is how many historical bars are fetched per evaluation; it
// must comfortably exceed the longest indicator period strategies use.
const barsLookback = 250

// Runtime drives one StrategyConfig's full lifecycle from a single owning
// goroutine: it is not safe to call any method concurrently with Run except
// Send and Status.
type Runtime struct {
	log  *zap.Logger
	deps Deps

	mu     sync.RWMutex
	cfg    types.StrategyConfig
	status types.RuntimeStatus
	stats  types.RuntimeStats

	exits *exitmgr.Manager
	eval  *condition.Evaluator

	// warmupBars is the bar count the EntryTree's indicators and the exit
	// ATR period need before a signal can be trusted; warmedUp latches once
	// that much history has been observed so a pause/resume cycle before
	// warm-up completes can't skip straight to running.
	warmupBars int
	warmedUp   bool

	lastBarTime time.Time
	mailbox     chan mailboxMsg
	stopped     chan struct{}
}

// mailboxMsg is one control instruction delivered to a running Runtime.
type mailboxMsg struct {
	kind    types.CommandKind
	payload any
	done    chan struct{}
}

// NewRuntime builds a Runtime for cfg. Call Run in its own goroutine.
func NewRuntime(log *zap.Logger, cfg types.StrategyConfig, deps Deps) *Runtime {
	if log == nil {
		log = zap.NewNop()
	}
	named := log.Named("strategyrt").With(zap.String("strategyId", cfg.ID), zap.String("symbol", cfg.Symbol))
	return &Runtime{
		log:        named,
		deps:       deps,
		cfg:        cfg,
		status:     types.StatusStarting,
		exits:      exitmgr.NewManager(named, deps.Broker),
		eval:       condition.NewEvaluator(named),
		warmupBars: requiredWarmupBars(cfg),
		mailbox:    make(chan mailboxMsg, 16),
		stopped:    make(chan struct{}),
	}
}

// requiredWarmupBars is the longest period any EntryTree indicator or the
// exit ATR needs, plus indicatorkit's warm-up margin: indicatorCache can't
// be trusted to produce a non-NaN signal with fewer bars than this.
func requiredWarmupBars(cfg types.StrategyConfig) int {
	periods := collectTreePeriods(cfg.EntryTree)
	periods = append(periods, atrPeriodOrDefault(cfg.ExitSpec.StopLoss.ATRPeriod))
	return indicatorkit.MaxPeriod(periods...) + 2
}

func collectTreePeriods(tree types.EntryTree) []int {
	switch tree.Kind {
	case types.NodeLeaf:
		if tree.Leaf == nil {
			return nil
		}
		return leafPeriods(tree.Leaf.Params)
	case types.NodeAllOf, types.NodeAnyOf:
		var out []int
		for _, child := range tree.Children {
			out = append(out, collectTreePeriods(child)...)
		}
		return out
	default:
		return nil
	}
}

func leafPeriods(params map[string]any) []int {
	var out []int
	for _, key := range []string{"period", "fast", "slow", "signal", "kPeriod", "dPeriod"} {
		v, ok := params[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int:
			out = append(out, n)
		case float64:
			out = append(out, int(n))
		}
	}
	return out
}

// Status returns the runtime's current lifecycle status.
func (r *Runtime) Status() types.RuntimeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Stats returns a snapshot of the runtime's trade/pnl counters.
func (r *Runtime) Stats() types.RuntimeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// HasOpenPosition reports whether this runtime currently holds any tracked
// position. ExecutorCore uses this across runtimes to build the open-symbol
// view RiskGate's CorrelationGate needs.
func (r *Runtime) HasOpenPosition() bool {
	return len(r.exits.All()) > 0
}

func (r *Runtime) setStatus(s types.RuntimeStatus) {
	r.mu.Lock()
	r.status = s
	r.mu.Unlock()
}

// setLastError records the most recent broker/evaluation error for this
// runtime, surfaced through Stats() to the local API's health and strategy
// endpoints.
func (r *Runtime) setLastError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.stats.LastError = err.Error()
	r.mu.Unlock()
}

// clearLastError resets the last-error banner once a poll cycle completes
// cleanly.
func (r *Runtime) clearLastError() {
	r.mu.Lock()
	r.stats.LastError = ""
	r.mu.Unlock()
}

// Send delivers a control command to the runtime and blocks until it has
// been processed by the Run loop (or ctx is cancelled). Safe to call from
// any goroutine.
func (r *Runtime) Send(ctx context.Context, kind types.CommandKind, payload any) error {
	msg := mailboxMsg{kind: kind, payload: payload, done: make(chan struct{})}
	select {
	case r.mailbox <- msg:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return nil
	}
	select {
	case <-msg.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		return nil
	}
}

// Stopped returns a channel closed once the Run loop has exited.
func (r *Runtime) Stopped() <-chan struct{} { return r.stopped }

// Run executes the runtime loop until ctx is cancelled or a STOP/
// STOP_AND_CLOSE command is processed. It is meant to run in its own
// goroutine, one per live strategy.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.stopped)
	r.log.Info("strategy runtime started", zap.Int("warmupBarsRequired", r.warmupBars))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.setStatus(types.StatusStopped)
			return
		case msg := <-r.mailbox:
			if r.handleCommand(ctx, msg) {
				return
			}
		case <-ticker.C:
			r.poll(ctx)
		}
	}
}

// handleCommand applies one control command and reports whether the Run
// loop should exit.
func (r *Runtime) handleCommand(ctx context.Context, msg mailboxMsg) (exit bool) {
	defer close(msg.done)

	switch msg.kind {
	case types.CmdPause:
		r.setStatus(types.StatusPaused)
	case types.CmdResume:
		if r.warmedUp {
			r.setStatus(types.StatusRunning)
		} else {
			r.setStatus(types.StatusStarting)
		}
	case types.CmdUpdateSettings:
		if cfg, ok := msg.payload.(types.StrategyConfig); ok {
			r.mu.Lock()
			r.cfg = cfg
			r.mu.Unlock()
		}
	case types.CmdStop:
		r.setStatus(types.StatusStopping)
		r.setStatus(types.StatusStopped)
		return true
	case types.CmdStopAndClose:
		r.setStatus(types.StatusStopping)
		r.closeAllPositions(ctx, "stop_and_close")
		r.setStatus(types.StatusStopped)
		return true
	case types.CmdEmergencyStop:
		r.setStatus(types.StatusStopping)
		r.closeAllPositions(ctx, "emergency_stop")
		r.setStatus(types.StatusStopped)
		return true
	}
	return false
}

func (r *Runtime) closeAllPositions(ctx context.Context, reason string) {
	for _, pos := range r.exits.All() {
		fillPrice, err := r.deps.Broker.ClosePosition(ctx, pos.Ticket, pos.VolumeRemaining)
		if err != nil {
			r.log.Error("failed to close position during shutdown", zap.String("ticket", pos.Ticket), zap.Error(err))
			r.setLastError(err)
			continue
		}
		pnl := realizedExitPnL(*pos, fillPrice)
		r.deps.Gate.RecordClose(r.cfgSnapshot().ID, pos.Symbol, pnl, time.Now())
		r.exits.Untrack(pos.Ticket)
		r.emit(types.TradeEvent{
			ID:          utils.GenerateID("evt"),
			EventKind:   types.EventExit,
			StrategyID:  r.cfgSnapshot().ID,
			Symbol:      pos.Symbol,
			Ticket:      pos.Ticket,
			Side:        pos.Side,
			Volume:      pos.VolumeRemaining,
			Price:       fillPrice,
			Time:        time.Now(),
			PnLRealized: &pnl,
			Reason:      reason,
		})
	}
}

func (r *Runtime) cfgSnapshot() types.StrategyConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Config returns a snapshot of the StrategyConfig this runtime is currently
// executing, for read-only surfaces like the local HTTP API.
func (r *Runtime) Config() types.StrategyConfig { return r.cfgSnapshot() }

func (r *Runtime) emit(event types.TradeEvent) {
	if r.deps.Events != nil {
		r.deps.Events.QueueTrade(event)
	}
}

func realizedExitPnL(pos types.PositionRecord, exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == types.SideSell {
		diff = pos.EntryPrice.Sub(exitPrice)
	}
	return diff.Mul(pos.VolumeRemaining)
}
