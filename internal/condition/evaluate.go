package condition

import (
	"math"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// Evaluator evaluates EntryTree expressions against a cache, resolving
// unresolved indicator symbols to false (never fatal) per spec.md design
// notes.
type Evaluator struct {
	log *zap.Logger
}

// NewEvaluator builds an Evaluator.
func NewEvaluator(log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{log: log.Named("condition")}
}

// Evaluate reports whether the tree holds true at the most recent (last)
// index of the cache's bar window.
func (e *Evaluator) Evaluate(tree types.EntryTree, cache *IndicatorCache) bool {
	if tree.IsEmpty() {
		return false
	}
	switch tree.Kind {
	case types.NodeLeaf:
		return e.evalLeaf(*tree.Leaf, cache)
	case types.NodeAllOf:
		for _, child := range tree.Children {
			if !e.Evaluate(child, cache) {
				return false
			}
		}
		return true
	case types.NodeAnyOf:
		for _, child := range tree.Children {
			if e.Evaluate(child, cache) {
				return true
			}
		}
		return false
	default:
		e.log.Warn("unknown entry tree node kind", zap.String("kind", string(tree.Kind)))
		return false
	}
}

func (e *Evaluator) evalLeaf(cond types.Condition, cache *IndicatorCache) bool {
	lhs, err := cache.Series(cond.Indicator, cond.Params)
	if err != nil {
		e.log.Warn("unresolved condition symbol, treating as false",
			zap.String("indicator", cond.Indicator), zap.Error(err))
		return false
	}
	if len(lhs) == 0 {
		return false
	}
	idx := len(lhs) - 1

	var rhs []float64
	if cond.RHS.IsConst() {
		rhs = constSeries(*cond.RHS.Const, len(lhs))
	} else {
		rhs, err = cache.Series(cond.RHS.Symbol, cond.Params)
		if err != nil {
			e.log.Warn("unresolved condition rhs symbol, treating as false",
				zap.String("symbol", cond.RHS.Symbol), zap.Error(err))
			return false
		}
		if len(rhs) != len(lhs) {
			e.log.Warn("rhs series length mismatch, treating as false",
				zap.String("indicator", cond.Indicator), zap.String("rhsSymbol", cond.RHS.Symbol))
			return false
		}
	}

	switch cond.Comparator {
	case types.CompGT:
		return cmpValid(lhs, rhs, idx) && lhs[idx] > rhs[idx]
	case types.CompLT:
		return cmpValid(lhs, rhs, idx) && lhs[idx] < rhs[idx]
	case types.CompEQ:
		return cmpValid(lhs, rhs, idx) && math.Abs(lhs[idx]-rhs[idx]) <= tolOrDefault(cond.Tolerance)
	case types.CompCrossesAbove:
		return crossesAbove(lhs, rhs, idx)
	case types.CompCrossesBelow:
		return crossesAbove(rhs, lhs, idx)
	case types.CompBouncesFrom:
		return e.bouncesFrom(cache, lhs, rhs, idx, cond.Tolerance, true)
	case types.CompRejectsFrom:
		return e.bouncesFrom(cache, lhs, rhs, idx, cond.Tolerance, false)
	default:
		e.log.Warn("unknown comparator", zap.String("comparator", string(cond.Comparator)))
		return false
	}
}

func tolOrDefault(t float64) float64 {
	if t <= 0 {
		return 1e-9
	}
	return t
}

func constSeries(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func cmpValid(lhs, rhs []float64, idx int) bool {
	return idx >= 0 && idx < len(lhs) && idx < len(rhs) &&
		!math.IsNaN(lhs[idx]) && !math.IsNaN(rhs[idx])
}

// crossesAbove reports whether `a` crossed above `b` between idx-1 and idx:
// a was <= b at idx-1, and a > b at idx.
func crossesAbove(a, b []float64, idx int) bool {
	if idx < 1 || idx >= len(a) || idx >= len(b) {
		return false
	}
	if math.IsNaN(a[idx-1]) || math.IsNaN(b[idx-1]) || math.IsNaN(a[idx]) || math.IsNaN(b[idx]) {
		return false
	}
	return a[idx-1] <= b[idx-1] && a[idx] > b[idx]
}

// bouncesFrom reports whether the low (upward=true, a bounce) or high
// (upward=false, a rejection) touched the band [ref-tol, ref+tol] at any of
// the 3 bars preceding idx, and the close at idx is back above (bounce) or
// below (reject) ref. close/ref are the price/reference series already
// resolved for this leaf (rhs is ref); the low/high extreme series is
// fetched directly from the cache since bouncesFrom/rejectsFrom always test
// against the wick, never whatever series cond.Indicator names.
func (e *Evaluator) bouncesFrom(cache *IndicatorCache, close, ref []float64, idx int, tolerance float64, upward bool) bool {
	if idx < 3 || idx >= len(close) || idx >= len(ref) {
		return false
	}
	if math.IsNaN(close[idx]) || math.IsNaN(ref[idx]) {
		return false
	}

	extremeName := "low"
	if !upward {
		extremeName = "high"
	}
	extreme, err := cache.Series(extremeName, nil)
	if err != nil {
		e.log.Warn("unresolved extreme series for bounce/reject", zap.String("series", extremeName), zap.Error(err))
		return false
	}

	tol := tolOrDefault(tolerance)
	touched := false
	for i := idx - 3; i <= idx-1; i++ {
		if i < 0 || i >= len(extreme) || i >= len(ref) {
			continue
		}
		if math.IsNaN(extreme[i]) || math.IsNaN(ref[i]) {
			continue
		}
		if math.Abs(extreme[i]-ref[i]) <= tol {
			touched = true
			break
		}
	}
	if !touched {
		return false
	}

	if upward {
		return close[idx] > ref[idx]
	}
	return close[idx] < ref[idx]
}
