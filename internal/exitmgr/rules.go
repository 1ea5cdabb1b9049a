package exitmgr

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// planBreakeven computes the stop move to entry (plus buffer) once the
// position has moved favorably by BreakevenTriggerRatio * initial risk. It
// does not touch the broker or mutate pos: Evaluate stages this alongside
// whatever partials/trailing decide for the same tick and issues a single
// coalesced ModifyPosition call for all of them.
func (m *Manager) planBreakeven(pos *types.PositionRecord, in EvaluateInputs) (newStop decimal.Decimal, ok bool) {
	smart := in.Exit.Smart
	if smart.BreakevenTriggerRatio <= 0 || pos.BreakevenMoved {
		return decimal.Zero, false
	}
	initialRisk := initialRiskDistance(pos)
	if initialRisk.IsZero() {
		return decimal.Zero, false
	}

	favorable := favorablePrice(pos.Side, in.Tick)
	moveSoFar := favorable.Sub(pos.EntryPrice).Abs()
	trigger := initialRisk.Mul(decimal.NewFromFloat(smart.BreakevenTriggerRatio))
	if moveSoFar.LessThan(trigger) {
		return decimal.Zero, false
	}

	buffer := decimal.NewFromFloat(smart.BreakevenBufferPips).Mul(in.SymbolInfo.PointSize)
	newStop = pos.EntryPrice
	if pos.Side == types.SideBuy {
		newStop = newStop.Add(buffer)
	} else {
		newStop = newStop.Sub(buffer)
	}
	return newStop, true
}

// initialRiskDistance returns the distance between the entry and the
// original stop-loss; used as the "1R" unit for RR-based triggers. Since
// Manager does not retain the original stop once moved, this approximates
// using the current stop until BreakevenMoved, which is the only window in
// which it is consulted.
func initialRiskDistance(pos *types.PositionRecord) decimal.Decimal {
	return pos.EntryPrice.Sub(pos.StopLoss).Abs()
}

// applyPartials closes configured fractions of the position as RR targets
// are reached. Partial closes are independent ClosePosition calls (not stop
// modifications) and execute immediately; a level that requests
// MoveStopToBreakeven only stages that stop change (stopStaged/staged) for
// Evaluate's single coalesced ModifyPosition call, the same as breakeven and
// trailing. breakevenAlreadyStaged reflects both pos.BreakevenMoved and
// whatever planBreakeven already staged earlier in this tick, so at most one
// level's request actually takes effect.
func (m *Manager) applyPartials(ctx context.Context, pos *types.PositionRecord, in EvaluateInputs, currentPrice decimal.Decimal, breakevenAlreadyStaged bool) (events []types.TradeEvent, stagedStop decimal.Decimal, staged bool) {
	if in.Exit.TakeProfit.Kind != types.TakeProfitPartial || len(in.Exit.TakeProfit.Levels) == 0 {
		return nil, decimal.Zero, false
	}
	initialRisk := initialRiskDistance(pos)
	if initialRisk.IsZero() {
		return nil, decimal.Zero, false
	}

	done := make(map[string]bool)
	for _, rp := range pos.RealizedPartials {
		done[rp.LevelID] = true
	}

	favorableMove := currentPrice.Sub(pos.EntryPrice).Abs()

	for _, level := range in.Exit.TakeProfit.Levels {
		if done[level.ID] {
			continue
		}
		target := initialRisk.Mul(decimal.NewFromFloat(level.AtRR))
		if favorableMove.LessThan(target) {
			continue
		}

		closeVolume := pos.VolumeOriginal.Mul(decimal.NewFromFloat(level.Percentage))
		if closeVolume.GreaterThan(pos.VolumeRemaining) {
			closeVolume = pos.VolumeRemaining
		}
		if closeVolume.IsZero() {
			continue
		}

		fillPrice, err := m.broker.ClosePosition(ctx, pos.Ticket, closeVolume)
		if err != nil {
			m.log.Warn("partial close failed", zap.String("ticket", pos.Ticket), zap.String("level", level.ID), zap.Error(err))
			continue
		}

		pnl := realizedPnL(pos, fillPrice, closeVolume)
		pos.VolumeRemaining = pos.VolumeRemaining.Sub(closeVolume)
		pos.RealizedPartials = append(pos.RealizedPartials, types.RealizedPartial{
			LevelID:  level.ID,
			Fraction: level.Percentage,
			Price:    fillPrice,
			Time:     in.Now,
		})
		if pos.VolumeRemaining.GreaterThan(decimal.Zero) {
			pos.State = types.PositionPartiallyClosed
		}

		if level.MoveStopToBreakeven && !breakevenAlreadyStaged && !staged {
			stagedStop = pos.EntryPrice
			staged = true
		}

		events = append(events, types.TradeEvent{
			EventKind:   types.EventPartial,
			StrategyID:  pos.StrategyID,
			Symbol:      pos.Symbol,
			Ticket:      pos.Ticket,
			Side:        pos.Side,
			Volume:      closeVolume,
			Price:       fillPrice,
			Time:        in.Now,
			PnLRealized: &pnl,
			Reason:      "partial level " + level.ID,
		})
	}

	return events, stagedStop, staged
}

// planTrailing computes the advanced stop-loss once price has moved
// ActivateAtRR in favor, trailing it DistancePips (or ATRMultiplier*ATR)
// behind the peak favorable price. stopBaseline is the stop breakeven/
// partials have already staged for this tick (or pos.StopLoss if neither
// fired), so trailing never proposes moving backwards relative to a stop
// that's about to take effect anyway. Like planBreakeven, this neither
// touches the broker nor mutates pos — Evaluate applies the final staged
// stop (breakeven, partials, and trailing combined) with one
// ModifyPosition call.
func (m *Manager) planTrailing(pos *types.PositionRecord, in EvaluateInputs, currentPrice, stopBaseline decimal.Decimal) (newStop decimal.Decimal, ok, activates bool) {
	spec := in.Exit.Trailing
	if !spec.Enabled {
		return decimal.Zero, false, false
	}
	initialRisk := initialRiskDistance(pos)

	activates = pos.TrailingActive
	if !activates {
		if initialRisk.IsZero() {
			return decimal.Zero, false, false
		}
		moveSoFar := currentPrice.Sub(pos.EntryPrice).Abs()
		trigger := initialRisk.Mul(decimal.NewFromFloat(spec.ActivateAtRR))
		if moveSoFar.LessThan(trigger) {
			return decimal.Zero, false, false
		}
		activates = true
	}

	distance := decimal.NewFromFloat(spec.DistancePips).Mul(in.SymbolInfo.PointSize)
	if spec.ATRMultiplier > 0 && !in.ATRValue.IsZero() {
		distance = in.ATRValue.Mul(decimal.NewFromFloat(spec.ATRMultiplier))
	}
	if distance.IsZero() {
		return decimal.Zero, false, activates
	}

	if pos.Side == types.SideBuy {
		newStop = pos.PeakFavorablePrice.Sub(distance)
		if !newStop.GreaterThan(stopBaseline) {
			return decimal.Zero, false, activates // never trail backwards
		}
	} else {
		newStop = pos.PeakFavorablePrice.Add(distance)
		if !stopBaseline.IsZero() && !newStop.LessThan(stopBaseline) {
			return decimal.Zero, false, activates
		}
	}

	if spec.StepPips > 0 {
		step := decimal.NewFromFloat(spec.StepPips).Mul(in.SymbolInfo.PointSize)
		if newStop.Sub(stopBaseline).Abs().LessThan(step) {
			return decimal.Zero, false, activates // coalesce: skip sub-step moves
		}
	}

	return newStop, true, activates
}
