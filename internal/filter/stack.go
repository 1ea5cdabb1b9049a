package filter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/indicatorkit"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

// Inputs bundles everything FilterStack needs to evaluate one candidate
// entry for one symbol.
type Inputs struct {
	Now              time.Time
	Tick             types.Tick
	SymbolInfo       types.SymbolInfo
	Bars             []indicatorkit.Bar
	Symbol           string
	SymbolReturns    map[string][]float64 // other open symbols' recent returns
	CandidateReturns []float64
}

// Stack runs the configured gates in order and combines their outcomes: any
// block short-circuits and is returned immediately; size reductions
// compound multiplicatively.
type Stack struct {
	log      *zap.Logger
	calendar NewsCalendar
}

// NewStack builds a Stack. A nil calendar defaults to NullNewsCalendar.
func NewStack(log *zap.Logger, calendar NewsCalendar) *Stack {
	if log == nil {
		log = zap.NewNop()
	}
	if calendar == nil {
		calendar = NullNewsCalendar{}
	}
	return &Stack{log: log.Named("filter"), calendar: calendar}
}

// Evaluate runs the full gate stack and returns the combined decision.
func (s *Stack) Evaluate(ctx context.Context, spec types.FilterSpec, in Inputs) Decision {
	sizeFactor := 1.0

	gates := []Decision{
		SessionFilter(spec.Session, in.Now),
		SpreadFilter(spec.Spread, in.Tick, in.SymbolInfo),
		VolatilityFilter(spec.Volatility, in.Bars, in.SymbolInfo.PointSize.InexactFloat64()),
		NewsFilter(ctx, spec.News, s.calendar, in.Symbol, in.Now),
		CorrelationFilter(s.log, spec.Correlation, in.SymbolReturns, in.Symbol, in.CandidateReturns),
	}

	for _, d := range gates {
		if d.Blocked {
			s.log.Debug("filter stack blocked entry", zap.String("symbol", in.Symbol), zap.String("reason", d.Reason))
			return d
		}
		if d.SizeFactor > 0 && d.SizeFactor < 1 {
			sizeFactor *= d.SizeFactor
		}
	}

	return Decision{Blocked: false, SizeFactor: sizeFactor}
}
