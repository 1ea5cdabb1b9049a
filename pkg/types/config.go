// Package types provides the strategy configuration model for the executor core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Comparator is a condition comparator.
type Comparator string

const (
	CompGT            Comparator = "gt"
	CompLT            Comparator = "lt"
	CompEQ            Comparator = "eq"
	CompCrossesAbove  Comparator = "crossesAbove"
	CompCrossesBelow  Comparator = "crossesBelow"
	CompBouncesFrom   Comparator = "bouncesFrom"
	CompRejectsFrom   Comparator = "rejectsFrom"
)

// RHS is the right-hand side of a Condition: either a numeric constant or a
// symbolic reference such as "price", "ema_50", "bollinger_upper".
type RHS struct {
	Const  *float64 `json:"const,omitempty"`
	Symbol string   `json:"symbol,omitempty"`
}

// IsConst reports whether the RHS is a numeric literal.
func (r RHS) IsConst() bool { return r.Const != nil }

// Condition is a single leaf predicate of an EntryTree.
type Condition struct {
	Indicator  string            `json:"indicator"`
	Params     map[string]any    `json:"params,omitempty"`
	Comparator Comparator        `json:"comparator"`
	RHS        RHS               `json:"rhs"`
	Tolerance  float64           `json:"tolerance,omitempty"` // used by bouncesFrom/rejectsFrom
}

// NodeKind identifies the variant of an EntryTree node.
type NodeKind string

const (
	NodeAllOf NodeKind = "allOf"
	NodeAnyOf NodeKind = "anyOf"
	NodeLeaf  NodeKind = "leaf"
)

// EntryTree is a boolean expression over Conditions.
type EntryTree struct {
	Kind     NodeKind    `json:"kind"`
	Children []EntryTree `json:"children,omitempty"`
	Leaf     *Condition  `json:"leaf,omitempty"`
}

// IsEmpty reports whether the tree has no evaluable content.
func (t EntryTree) IsEmpty() bool {
	switch t.Kind {
	case NodeLeaf:
		return t.Leaf == nil
	case NodeAllOf, NodeAnyOf:
		return len(t.Children) == 0
	default:
		return true
	}
}

// StopLossKind is the kind of stop-loss calculation.
type StopLossKind string

const (
	StopLossPips    StopLossKind = "pips"
	StopLossPercent StopLossKind = "percent"
	StopLossATR     StopLossKind = "atr"
	StopLossEMARef  StopLossKind = "ema-ref"
)

// StopLossSpec describes how the initial stop-loss is computed.
type StopLossSpec struct {
	Kind              StopLossKind `json:"kind"`
	Value             float64      `json:"value"`
	ATRMultiplier     float64      `json:"atrMultiplier,omitempty"`
	ATRPeriod         int          `json:"atrPeriod,omitempty"`
	MinPips           float64      `json:"minPips,omitempty"`
	MaxPips           float64      `json:"maxPips,omitempty"`
	MaxHoldingMinutes int          `json:"maxHoldingMinutes,omitempty"`
}

// TakeProfitKind is the kind of take-profit calculation.
type TakeProfitKind string

const (
	TakeProfitPips    TakeProfitKind = "pips"
	TakeProfitPercent TakeProfitKind = "percent"
	TakeProfitRR      TakeProfitKind = "rr"
	TakeProfitPartial TakeProfitKind = "partial"
)

// PartialLevel is one rung of a partial take-profit ladder.
type PartialLevel struct {
	ID                  string  `json:"id"`
	Percentage          float64 `json:"percentage"` // fraction of volumeOriginal, 0-1
	AtRR                float64 `json:"atRR"`
	MoveStopToBreakeven bool    `json:"moveStopToBreakeven,omitempty"`
}

// TakeProfitSpec describes how the position is taken profit on.
type TakeProfitSpec struct {
	Kind     TakeProfitKind `json:"kind"`
	Value    float64        `json:"value,omitempty"`
	RRRatio  float64        `json:"rrRatio,omitempty"`
	Levels   []PartialLevel `json:"levels,omitempty"`
}

// TrailingSpec describes trailing-stop behavior.
type TrailingSpec struct {
	Enabled       bool    `json:"enabled"`
	ActivateAtRR  float64 `json:"activateAtRR,omitempty"`
	DistancePips  float64 `json:"distancePips,omitempty"`
	ATRMultiplier float64 `json:"atrMultiplier,omitempty"`
	StepPips      float64 `json:"stepPips,omitempty"`
}

// SmartExitSpec bundles the remaining "smart exit" toggles.
type SmartExitSpec struct {
	BreakevenTriggerRatio float64 `json:"breakevenTriggerRatio,omitempty"`
	BreakevenBufferPips   float64 `json:"breakevenBufferPips,omitempty"`
	DynamicTrailingBase   float64 `json:"dynamicTrailingBase,omitempty"`
	DynamicTrailingATRMul float64 `json:"dynamicTrailingAtrMul,omitempty"`
	RegimeChangeExit      bool    `json:"regimeChangeExit,omitempty"`
	RegimeConfidenceMin   float64 `json:"regimeConfidenceMin,omitempty"`
	SessionCloseFlatten   bool    `json:"sessionCloseFlatten,omitempty"`
	SundayCloseUTC        string  `json:"sundayCloseUtc,omitempty"` // "HH:MM"
}

// ExitSpec is the full decision table for unwinding a position.
type ExitSpec struct {
	StopLoss   StopLossSpec   `json:"stopLoss"`
	TakeProfit TakeProfitSpec `json:"takeProfit"`
	Trailing   TrailingSpec   `json:"trailing"`
	Smart      SmartExitSpec  `json:"smart"`
}

// CorrelationGrouping controls how RiskGate groups correlated symbols.
type CorrelationGrouping string

const (
	GroupingNone       CorrelationGrouping = "none"
	GroupingByCurrency CorrelationGrouping = "byCurrency"
)

// RiskCorrelationSpec is the risk-side correlation configuration.
type RiskCorrelationSpec struct {
	Enabled  bool                `json:"enabled"`
	MaxPair  float64             `json:"maxPair"`
	Grouping CorrelationGrouping `json:"grouping"`
}

// RiskSpec is the per-strategy risk envelope.
type RiskSpec struct {
	RiskPercentPerTrade   float64             `json:"riskPercentPerTrade"`
	MaxPositions          int                 `json:"maxPositions"`
	MaxPositionsPerSymbol int                 `json:"maxPositionsPerSymbol"`
	MaxDailyLossCcy       float64             `json:"maxDailyLossCcy"`
	MaxDailyTrades        int                 `json:"maxDailyTrades"`
	MaxDrawdownPct        float64             `json:"maxDrawdownPct"`
	MaxConsecutiveLosses  int                 `json:"maxConsecutiveLosses"`
	Correlation           RiskCorrelationSpec `json:"correlation"`
}

// SessionName identifies a named trading session.
type SessionName string

const (
	SessionLondon   SessionName = "london"
	SessionNewYork  SessionName = "newyork"
	SessionTokyo    SessionName = "tokyo"
	SessionSydney   SessionName = "sydney"
)

// WeekendAllowance allows trading during an explicit day+hour window.
type WeekendAllowance struct {
	Weekday int `json:"weekday"` // time.Weekday
	StartHr int `json:"startHour"`
	EndHr   int `json:"endHour"`
}

// SessionFilterSpec configures the SessionFilter gate.
type SessionFilterSpec struct {
	AllowedSessions []SessionName      `json:"allowedSessions,omitempty"`
	WeekendMode     bool               `json:"weekendMode,omitempty"`
	OptimalTimes    []WeekendAllowance `json:"optimalTimes,omitempty"`
}

// SpreadFilterSpec configures the SpreadFilter gate.
type SpreadFilterSpec struct {
	MaxPips float64 `json:"maxPips"`
}

// VolatilityFilterSpec configures the VolatilityFilter gate.
type VolatilityFilterSpec struct {
	ATRPeriod      int     `json:"atrPeriod"`
	MinAtrPips     float64 `json:"minAtrPips"`
	MaxAtrPips     float64 `json:"maxAtrPips"`
	OptimalMinPips float64 `json:"optimalMinPips,omitempty"`
	OptimalMaxPips float64 `json:"optimalMaxPips,omitempty"`
	ReduceOverMax  bool    `json:"reduceOverMax,omitempty"` // true: reduceSize(0.5); false: block
}

// NewsImpactLevel is the severity of a news calendar event.
type NewsImpactLevel string

const (
	NewsImpactLow    NewsImpactLevel = "low"
	NewsImpactMedium NewsImpactLevel = "medium"
	NewsImpactHigh   NewsImpactLevel = "high"
)

// NewsFilterSpec configures the NewsFilter gate.
type NewsFilterSpec struct {
	PauseBeforeMin int               `json:"pauseBeforeMin"`
	PauseAfterMin  int               `json:"pauseAfterMin"`
	ImpactLevels   []NewsImpactLevel `json:"impactLevels,omitempty"`
}

// FilterCorrelationSpec is the filter-side correlation configuration.
type FilterCorrelationSpec struct {
	Enabled        bool    `json:"enabled"`
	LookbackPeriod int     `json:"lookbackPeriod"`
	MaxCorrelation float64 `json:"maxCorrelation"`
	ReduceOnBreach bool    `json:"reduceOnBreach,omitempty"`
}

// FilterSpec bundles the pre-trade gates evaluated by FilterStack.
type FilterSpec struct {
	Session     SessionFilterSpec      `json:"session"`
	Spread      SpreadFilterSpec       `json:"spread"`
	Volatility  VolatilityFilterSpec   `json:"volatility"`
	News        NewsFilterSpec         `json:"news"`
	Correlation FilterCorrelationSpec  `json:"correlation"`
}

// StrategyConfig is the immutable blueprint authored on the platform.
type StrategyConfig struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Symbol     string     `json:"symbol"`
	Side       Side       `json:"side"` // direction this strategy's EntryTree opens; mirror with a second config for both-sides coverage
	Timeframe  Timeframe  `json:"timeframe"`
	EntryTree  EntryTree  `json:"entryTree"`
	ExitSpec   ExitSpec   `json:"exitSpec"`
	RiskSpec   RiskSpec   `json:"riskSpec"`
	FilterSpec FilterSpec `json:"filterSpec"`
	Magic      int64      `json:"magic"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Validate checks the structural invariants of spec.md §3.
func (c StrategyConfig) Validate() error {
	if c.EntryTree.IsEmpty() {
		return errInvalidConfig("entryTree must not be empty")
	}
	hasStop := c.ExitSpec.StopLoss.Value > 0 || c.ExitSpec.StopLoss.Kind == StopLossATR
	hasMaxHold := c.ExitSpec.StopLoss.MaxHoldingMinutes > 0
	if !hasStop && !hasMaxHold {
		return errInvalidConfig("at least one of stopLoss or maxHoldingTime must be defined")
	}
	return nil
}

type configError string

func (e configError) Error() string { return string(e) }

func errInvalidConfig(msg string) error { return configError(msg) }

// CommandKind identifies the kind of an inbound Command.
type CommandKind string

const (
	CmdStart          CommandKind = "START"
	CmdStop           CommandKind = "STOP"
	CmdStopAndClose   CommandKind = "STOP_AND_CLOSE"
	CmdPause          CommandKind = "PAUSE"
	CmdResume         CommandKind = "RESUME"
	CmdEmergencyStop  CommandKind = "EMERGENCY_STOP"
	CmdUpdateSettings CommandKind = "UPDATE_SETTINGS"
	CmdPing           CommandKind = "PING"
)

// Command is a single instruction delivered over the command stream.
type Command struct {
	ID        string      `json:"id"`
	Kind      CommandKind `json:"kind"`
	Payload   any         `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	ExpiresAt time.Time   `json:"expiresAt,omitempty"`
}

// CommandPayload is the concrete shape of Command.Payload for every kind
// except PING (which carries none). StrategyID targets the runtime; Config
// is only populated for START and UPDATE_SETTINGS.
type CommandPayload struct {
	StrategyID string          `json:"strategyId"`
	Config     *StrategyConfig `json:"config,omitempty"`
}

// RuntimeStatus is the lifecycle state of a StrategyRuntime.
type RuntimeStatus string

const (
	StatusStarting RuntimeStatus = "starting"
	StatusRunning  RuntimeStatus = "running"
	StatusPaused   RuntimeStatus = "paused"
	StatusStopping RuntimeStatus = "stopping"
	StatusStopped  RuntimeStatus = "stopped"
	StatusErrored  RuntimeStatus = "errored"
)

// CanOpenEntries reports whether a runtime in this status is allowed to open
// new positions (invariant 4 of spec.md §8).
func (s RuntimeStatus) CanOpenEntries() bool {
	return s == StatusRunning
}

// RuntimeStats is the per-strategy trade/pnl counter bundle.
type RuntimeStats struct {
	Trades            int             `json:"trades"`
	PnLToday          decimal.Decimal `json:"pnlToday"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	// LastError is the most recent broker/evaluation error this runtime hit
	// (tick/bars/symbol-info fetch, account-info lookup, a rejected entry),
	// cleared once a poll cycle completes without one. Surfaced through the
	// local API so the UI shell can show a persistent per-strategy banner.
	LastError string `json:"lastError,omitempty"`
}

// DailyCounters is a per (strategy, calendar-day) bucket used by RiskGate.
type DailyCounters struct {
	StrategyID   string          `json:"strategyId"`
	Day          string          `json:"day"` // YYYY-MM-DD, UTC
	TradeCount   int             `json:"tradeCount"`
	RealizedLoss decimal.Decimal `json:"realizedLoss"` // positive magnitude of losses
}

// PositionState is the ExitManager's per-position state machine state.
type PositionState string

const (
	PositionOpen            PositionState = "open"
	PositionPartiallyClosed PositionState = "partiallyClosed"
	PositionClosing         PositionState = "closing"
	PositionClosed          PositionState = "closed"
)

// RealizedPartial records one partial-exit fill.
type RealizedPartial struct {
	LevelID  string          `json:"levelId"`
	Fraction float64         `json:"fraction"`
	Price    decimal.Decimal `json:"price"`
	Time     time.Time       `json:"time"`
}

// PositionRecord is ExitManager's owned view of an open broker position.
type PositionRecord struct {
	Ticket            string            `json:"ticket"`
	StrategyID        string            `json:"strategyId"`
	Symbol            string            `json:"symbol"`
	Side              Side              `json:"side"`
	EntryPrice        decimal.Decimal   `json:"entryPrice"`
	EntryTime         time.Time         `json:"entryTime"`
	VolumeOriginal    decimal.Decimal   `json:"volumeOriginal"`
	VolumeRemaining   decimal.Decimal   `json:"volumeRemaining"`
	StopLoss          decimal.Decimal   `json:"stopLoss"`
	TakeProfit        decimal.Decimal   `json:"takeProfit,omitempty"`
	PeakFavorablePrice decimal.Decimal  `json:"peakFavorablePrice"`
	RealizedPartials  []RealizedPartial `json:"realizedPartials,omitempty"`
	BreakevenMoved    bool              `json:"breakevenMoved"`
	TrailingActive    bool              `json:"trailingActive"`
	State             PositionState     `json:"state"`
	ClosingSince      time.Time         `json:"closingSince,omitempty"`
	ClosingRetried    bool              `json:"closingRetried"`
	Magic             int64             `json:"magic"`
	Comment           string            `json:"comment,omitempty"`
}

// InvariantOK checks invariant 1 of spec.md §8.
func (p PositionRecord) InvariantOK() bool {
	return p.VolumeRemaining.GreaterThanOrEqual(decimal.Zero) &&
		p.VolumeRemaining.LessThanOrEqual(p.VolumeOriginal)
}
