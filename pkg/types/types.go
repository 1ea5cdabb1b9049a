// Package types provides shared type definitions for the executor core.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a position or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Timeframe is a strategy's evaluation timeframe.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
	MN  Timeframe = "MN"
)

// Duration returns the nominal bar duration for the timeframe.
// Month (MN) is approximated at 30 days; callers needing calendar-accurate
// month boundaries should not rely on this for persistence math.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case M1:
		return time.Minute
	case M5:
		return 5 * time.Minute
	case M15:
		return 15 * time.Minute
	case M30:
		return 30 * time.Minute
	case H1:
		return time.Hour
	case H4:
		return 4 * time.Hour
	case D1:
		return 24 * time.Hour
	case W1:
		return 7 * 24 * time.Hour
	case MN:
		return 30 * 24 * time.Hour
	default:
		return time.Minute
	}
}

// OHLCV is a single candlestick.
type OHLCV struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Closed    bool            `json:"closed"` // false only for the currently-forming bar
}

// Tick is a single bid/ask quote.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Timestamp time.Time       `json:"timestamp"`
}

// Mid returns the midpoint price.
func (t Tick) Mid() decimal.Decimal {
	return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
}

// SpreadPips returns the bid/ask spread expressed in pips given a point size.
func (t Tick) SpreadPips(pointSize decimal.Decimal) decimal.Decimal {
	if pointSize.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid).Div(pointSize)
}

// AccountInfo is the broker account snapshot.
type AccountInfo struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"freeMargin"`
	Currency   string          `json:"currency"`
}

// DrawdownPct returns the current drawdown percentage (balance vs equity).
func (a AccountInfo) DrawdownPct() decimal.Decimal {
	if a.Balance.IsZero() {
		return decimal.Zero
	}
	return a.Balance.Sub(a.Equity).Div(a.Balance).Mul(decimal.NewFromInt(100))
}

// SymbolInfo describes a tradable symbol's contract terms.
type SymbolInfo struct {
	Symbol     string          `json:"symbol"`
	PointSize  decimal.Decimal `json:"pointSize"`
	TickValue  decimal.Decimal `json:"tickValue"`
	PipValue   decimal.Decimal `json:"pipValue"`
	VolumeMin  decimal.Decimal `json:"volumeMin"`
	VolumeMax  decimal.Decimal `json:"volumeMax"`
	VolumeStep decimal.Decimal `json:"volumeStep"`
	SpreadPips decimal.Decimal `json:"spreadPips"`
}

// EventKind is the kind of an outbound trade event.
type EventKind string

const (
	EventEntry   EventKind = "ENTRY"
	EventPartial EventKind = "PARTIAL"
	EventExit    EventKind = "EXIT"
	EventModify  EventKind = "MODIFY"
	EventError   EventKind = "ERROR"
)

// TradeEvent is reported to the platform for every position lifecycle step.
type TradeEvent struct {
	ID          string           `json:"id"`
	EventKind   EventKind        `json:"eventKind"`
	StrategyID  string           `json:"strategyId"`
	Symbol      string           `json:"symbol"`
	Ticket      string           `json:"ticket"`
	Side        Side             `json:"side"`
	Volume      decimal.Decimal  `json:"volume"`
	Price       decimal.Decimal  `json:"price"`
	Time        time.Time        `json:"time"`
	PnLRealized *decimal.Decimal `json:"pnlRealized,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// HeartbeatSnapshot is published by ExecutorCore on every heartbeat tick.
type HeartbeatSnapshot struct {
	ExecutorID      string      `json:"executorId"`
	Account         AccountInfo `json:"accountSummary"`
	RuntimeCount    int         `json:"runtimeCount"`
	OpenPositions   int         `json:"openPositions"`
	BrokerConnected bool        `json:"brokerConnected"`
	Timestamp       time.Time   `json:"timestamp"`
}
