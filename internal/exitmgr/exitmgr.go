// Package exitmgr owns the per-position exit lifecycle: breakeven moves,
// partial take-profits, trailing stops, and time/regime/session-driven
// flattening. It mutates its own PositionRecord bookkeeping and issues
// coalesced modify/close calls through a BrokerClient-shaped interface.
package exitmgr

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// BrokerClient is the subset of broker capabilities ExitManager needs. The
// concrete implementation lives in internal/broker; this interface exists
// so exitmgr never imports broker and the two packages stay decoupled.
type BrokerClient interface {
	ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket string, volume decimal.Decimal) (fillPrice decimal.Decimal, err error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)
}

// closingRetryWindow is how long a Closing position waits before the single
// permitted retry, per spec.md §4.5.
const closingRetryWindow = 30 * time.Second

// Manager owns the live PositionRecord set and runs the ordered per-tick
// exit pipeline: breakeven -> partials -> trailing -> time/regime/session.
type Manager struct {
	log    *zap.Logger
	broker BrokerClient

	positions map[string]*types.PositionRecord // keyed by ticket
}

// NewManager builds a Manager bound to a BrokerClient.
func NewManager(log *zap.Logger, broker BrokerClient) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:       log.Named("exitmgr"),
		broker:    broker,
		positions: make(map[string]*types.PositionRecord),
	}
}

// Track registers a newly opened position for exit management.
func (m *Manager) Track(pos *types.PositionRecord) {
	m.positions[pos.Ticket] = pos
}

// Untrack removes a fully-closed position from management.
func (m *Manager) Untrack(ticket string) {
	delete(m.positions, ticket)
}

// Get returns the tracked record for a ticket, or nil.
func (m *Manager) Get(ticket string) *types.PositionRecord {
	return m.positions[ticket]
}

// All returns every tracked position (callers must not mutate the slice's
// pointees without understanding Manager remains the owner).
func (m *Manager) All() []*types.PositionRecord {
	out := make([]*types.PositionRecord, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// EvaluateInputs bundles the per-tick context ExitManager needs for one
// position evaluation.
type EvaluateInputs struct {
	Now          time.Time
	Tick         types.Tick
	SymbolInfo   types.SymbolInfo
	Exit         types.ExitSpec
	RegimeChanged bool
	SessionEnded bool
	ATRValue     decimal.Decimal
}

// Evaluate runs the ordered exit pipeline for one tracked position against
// the current tick. It returns the TradeEvents produced (PARTIAL/EXIT/
// MODIFY) so the caller (StrategyRuntime) can forward them to PlatformLink.
func (m *Manager) Evaluate(ctx context.Context, ticket string, in EvaluateInputs) []types.TradeEvent {
	pos, ok := m.positions[ticket]
	if !ok {
		return nil
	}

	switch pos.State {
	case types.PositionClosing:
		return m.evaluateClosing(ctx, pos, in)
	case types.PositionClosed:
		return nil
	}

	currentPrice := favorablePrice(pos.Side, in.Tick)
	updateFavorablePeak(pos, currentPrice)

	var events []types.TradeEvent

	if ev, closed := m.checkHardExits(ctx, pos, in, currentPrice); closed {
		events = append(events, ev...)
		return events
	}

	events = append(events, m.applyStopAdjustments(ctx, pos, in, currentPrice)...)

	if ev := m.checkSoftExits(ctx, pos, in); ev != nil {
		events = append(events, *ev)
	}

	return events
}

// applyStopAdjustments runs breakeven, partials, and trailing in that order
// against in-memory staged values only, then issues at most one
// ModifyPosition call carrying the last stop staged (trailing's when it
// fires, since trailing only stages a stop beyond the one staged before it) —
// spec.md's ExitManager coalesces same-tick stop modifications into one
// broker round trip instead of one per mechanism. Partial closes themselves
// are independent ClosePosition calls and always happen regardless of
// whether the coalesced modify succeeds.
func (m *Manager) applyStopAdjustments(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs, currentPrice decimal.Decimal) []types.TradeEvent {
	originalStop := pos.StopLoss
	stagedStop := originalStop
	breakevenStaged := false
	var events []types.TradeEvent

	if newStop, ok := m.planBreakeven(pos, in); ok {
		stagedStop = newStop
		breakevenStaged = true
		events = append(events, types.TradeEvent{
			EventKind:  types.EventModify,
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Ticket:     pos.Ticket,
			Side:       pos.Side,
			Price:      newStop,
			Time:       in.Now,
			Reason:     "breakeven stop applied",
		})
	}

	partialEvents, partialStop, partialStaged := m.applyPartials(ctx, pos, in, currentPrice, breakevenStaged)
	events = append(events, partialEvents...)
	if partialStaged {
		stagedStop = partialStop
		breakevenStaged = true
		events = append(events, types.TradeEvent{
			EventKind:  types.EventModify,
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Ticket:     pos.Ticket,
			Side:       pos.Side,
			Price:      partialStop,
			Time:       in.Now,
			Reason:     "breakeven stop applied on partial",
		})
	}

	trailingStop, trailingOk, trailingActivates := m.planTrailing(pos, in, currentPrice, stagedStop)
	if trailingOk {
		stagedStop = trailingStop
		events = append(events, types.TradeEvent{
			EventKind:  types.EventModify,
			StrategyID: pos.StrategyID,
			Symbol:     pos.Symbol,
			Ticket:     pos.Ticket,
			Side:       pos.Side,
			Price:      trailingStop,
			Time:       in.Now,
			Reason:     "trailing stop advanced",
		})
	}

	if stagedStop.Equal(originalStop) {
		if trailingActivates {
			pos.TrailingActive = true
		}
		return events
	}

	if err := m.broker.ModifyPosition(ctx, pos.Ticket, stagedStop, pos.TakeProfit); err != nil {
		m.log.Warn("coalesced stop modify failed", zap.String("ticket", pos.Ticket), zap.Error(err))
		return filterOutModifyEvents(events)
	}

	pos.StopLoss = stagedStop
	if breakevenStaged {
		pos.BreakevenMoved = true
	}
	if trailingActivates {
		pos.TrailingActive = true
	}
	return events
}

// filterOutModifyEvents drops EventModify entries from a batch whose
// underlying broker call failed, while keeping independent events (partial
// closes) that already took effect.
func filterOutModifyEvents(events []types.TradeEvent) []types.TradeEvent {
	out := events[:0:0]
	for _, ev := range events {
		if ev.EventKind != types.EventModify {
			out = append(out, ev)
		}
	}
	return out
}

func favorablePrice(side types.Side, tick types.Tick) decimal.Decimal {
	if side == types.SideBuy {
		return tick.Bid // exiting a long sells at bid
	}
	return tick.Ask // exiting a short buys at ask
}

func updateFavorablePeak(pos *types.PositionRecord, currentPrice decimal.Decimal) {
	if pos.PeakFavorablePrice.IsZero() {
		pos.PeakFavorablePrice = currentPrice
		return
	}
	if pos.Side == types.SideBuy && currentPrice.GreaterThan(pos.PeakFavorablePrice) {
		pos.PeakFavorablePrice = currentPrice
	}
	if pos.Side == types.SideSell && currentPrice.LessThan(pos.PeakFavorablePrice) {
		pos.PeakFavorablePrice = currentPrice
	}
}

// checkHardExits evaluates the stop-loss, take-profit (non-partial), and
// max-holding-time triggers that unconditionally close the position.
func (m *Manager) checkHardExits(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs, currentPrice decimal.Decimal) ([]types.TradeEvent, bool) {
	stopHit := (pos.Side == types.SideBuy && currentPrice.LessThanOrEqual(pos.StopLoss)) ||
		(pos.Side == types.SideSell && currentPrice.GreaterThanOrEqual(pos.StopLoss))
	if stopHit && !pos.StopLoss.IsZero() {
		return m.closePosition(ctx, pos, in, "stop-loss hit")
	}

	if !pos.TakeProfit.IsZero() && in.Exit.TakeProfit.Kind != types.TakeProfitPartial {
		tpHit := (pos.Side == types.SideBuy && currentPrice.GreaterThanOrEqual(pos.TakeProfit)) ||
			(pos.Side == types.SideSell && currentPrice.LessThanOrEqual(pos.TakeProfit))
		if tpHit {
			return m.closePosition(ctx, pos, in, "take-profit hit")
		}
	}

	if in.Exit.StopLoss.MaxHoldingMinutes > 0 {
		maxHold := time.Duration(in.Exit.StopLoss.MaxHoldingMinutes) * time.Minute
		if in.Now.Sub(pos.EntryTime) >= maxHold {
			return m.closePosition(ctx, pos, in, "max holding time reached")
		}
	}

	return nil, false
}

// checkSoftExits evaluates session-close flatten and regime-change exit,
// which close the position but are lower priority than hard exits.
func (m *Manager) checkSoftExits(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs) *types.TradeEvent {
	if in.Exit.Smart.SessionCloseFlatten && in.SessionEnded {
		ev, _ := m.closePosition(ctx, pos, in, "session close flatten")
		if len(ev) > 0 {
			return &ev[0]
		}
	}
	if in.Exit.Smart.RegimeChangeExit && in.RegimeChanged {
		ev, _ := m.closePosition(ctx, pos, in, "regime change exit")
		if len(ev) > 0 {
			return &ev[0]
		}
	}
	return nil
}

func (m *Manager) closePosition(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs, reason string) ([]types.TradeEvent, bool) {
	fillPrice, err := m.broker.ClosePosition(ctx, pos.Ticket, pos.VolumeRemaining)
	if err != nil {
		pos.State = types.PositionClosing
		pos.ClosingSince = in.Now
		m.log.Warn("close position failed, marked closing for retry",
			zap.String("ticket", pos.Ticket), zap.Error(err))
		return nil, false
	}

	pnl := realizedPnL(pos, fillPrice, pos.VolumeRemaining)
	pos.State = types.PositionClosed
	pos.VolumeRemaining = decimal.Zero

	return []types.TradeEvent{{
		EventKind:   types.EventExit,
		StrategyID:  pos.StrategyID,
		Symbol:      pos.Symbol,
		Ticket:      pos.Ticket,
		Side:        pos.Side,
		Volume:      pos.VolumeOriginal,
		Price:       fillPrice,
		Time:        in.Now,
		PnLRealized: &pnl,
		Reason:      reason,
	}}, true
}

// evaluateClosing retries a stuck close exactly once after closingRetryWindow
// has elapsed, per spec.md §4.5. If the retry also fails, the position stays
// in Closing and each later evaluation only logs an error.
func (m *Manager) evaluateClosing(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs) []types.TradeEvent {
	if in.Now.Sub(pos.ClosingSince) < closingRetryWindow {
		return nil
	}
	if pos.ClosingRetried {
		m.log.Error("position stuck in closing after retry, giving up", zap.String("ticket", pos.Ticket))
		return nil
	}
	pos.ClosingRetried = true

	fillPrice, err := m.broker.ClosePosition(ctx, pos.Ticket, pos.VolumeRemaining)
	if err != nil {
		m.log.Error("closing retry failed", zap.String("ticket", pos.Ticket), zap.Error(err))
		return nil
	}

	pnl := realizedPnL(pos, fillPrice, pos.VolumeRemaining)
	pos.State = types.PositionClosed
	pos.VolumeRemaining = decimal.Zero

	return []types.TradeEvent{{
		EventKind:   types.EventExit,
		StrategyID:  pos.StrategyID,
		Symbol:      pos.Symbol,
		Ticket:      pos.Ticket,
		Side:        pos.Side,
		Volume:      pos.VolumeOriginal,
		Price:       fillPrice,
		Time:        in.Now,
		PnLRealized: &pnl,
		Reason:      "closing retry succeeded",
	}}
}

func realizedPnL(pos *types.PositionRecord, exitPrice, volume decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(pos.EntryPrice)
	if pos.Side == types.SideSell {
		diff = pos.EntryPrice.Sub(exitPrice)
	}
	return diff.Mul(volume)
}
