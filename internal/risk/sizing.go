// Package risk implements position sizing and the portfolio-level gates
// evaluated immediately before a position is opened.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// SizeInputs bundles everything needed to size a candidate entry.
type SizeInputs struct {
	Account       types.AccountInfo
	SymbolInfo    types.SymbolInfo
	EntryPrice    decimal.Decimal
	StopLossPrice decimal.Decimal
	ATRValue      decimal.Decimal // only used when ExitSpec.StopLoss.Kind == atr
}

// PositionSize computes the order volume in lots for the given risk
// percentage, using fixed-fractional sizing: riskAmount = equity * pct/100,
// volume = riskAmount / (stopDistance * tickValue / pointSize), clamped to
// the symbol's volume step/min/max.
func PositionSize(riskPercentPerTrade float64, in SizeInputs) decimal.Decimal {
	if in.EntryPrice.IsZero() || in.SymbolInfo.PointSize.IsZero() {
		return decimal.Zero
	}
	stopDistance := in.EntryPrice.Sub(in.StopLossPrice).Abs()
	if stopDistance.IsZero() {
		return decimal.Zero
	}

	riskAmount := in.Account.Equity.Mul(decimal.NewFromFloat(riskPercentPerTrade / 100))
	if riskAmount.IsZero() {
		return decimal.Zero
	}

	// value-per-unit-volume at this stop distance, in account currency
	valuePerLot := stopDistance.Div(in.SymbolInfo.PointSize).Mul(in.SymbolInfo.TickValue)
	if valuePerLot.IsZero() {
		return decimal.Zero
	}

	volume := riskAmount.Div(valuePerLot)
	return clampVolume(volume, in.SymbolInfo)
}

// ATRPositionSize sizes a position using the ATR-derived stop distance
// (atrMultiplier * ATR) instead of an explicit StopLossPrice.
func ATRPositionSize(riskPercentPerTrade, atrMultiplier float64, in SizeInputs) decimal.Decimal {
	if in.ATRValue.IsZero() || atrMultiplier <= 0 {
		return decimal.Zero
	}
	stopDistance := in.ATRValue.Mul(decimal.NewFromFloat(atrMultiplier))
	derivedStop := in.EntryPrice.Sub(stopDistance)
	return PositionSize(riskPercentPerTrade, SizeInputs{
		Account:       in.Account,
		SymbolInfo:    in.SymbolInfo,
		EntryPrice:    in.EntryPrice,
		StopLossPrice: derivedStop,
	})
}

func clampVolume(volume decimal.Decimal, symbolInfo types.SymbolInfo) decimal.Decimal {
	if !symbolInfo.VolumeStep.IsZero() {
		volume = volume.Div(symbolInfo.VolumeStep).Floor().Mul(symbolInfo.VolumeStep)
	}
	if !symbolInfo.VolumeMin.IsZero() && volume.LessThan(symbolInfo.VolumeMin) {
		return decimal.Zero // below broker minimum: cannot size this trade at all
	}
	if !symbolInfo.VolumeMax.IsZero() && volume.GreaterThan(symbolInfo.VolumeMax) {
		volume = symbolInfo.VolumeMax
	}
	return volume
}
