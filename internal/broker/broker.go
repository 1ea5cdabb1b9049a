// Package broker defines the terminal-facing BrokerClient capability
// interface and a serializer that funnels every call through one goroutine,
// since the underlying broker terminal API (MT4/MT5-style) is not reentrant.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// Client is the full set of capabilities a broker terminal integration must
// provide. Implementations talk to the actual terminal process/bridge;
// callers never invoke Client methods concurrently with themselves — the
// Serializer wrapper enforces that.
type Client interface {
	AccountInfo(ctx context.Context) (types.AccountInfo, error)
	SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error)
	Bars(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.OHLCV, error)
	Tick(ctx context.Context, symbol string) (types.Tick, error)

	OpenPosition(ctx context.Context, req OpenRequest) (OpenResult, error)
	ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error
	ClosePosition(ctx context.Context, ticket string, volume decimal.Decimal) (fillPrice decimal.Decimal, err error)
	ListPositions(ctx context.Context, magic int64) ([]types.PositionRecord, error)
}

// OpenRequest describes a new market entry.
type OpenRequest struct {
	Symbol     string
	Side       types.Side
	Volume     decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Magic      int64
	Comment    string
}

// OpenResult is the fill confirmation for a successful OpenPosition call.
type OpenResult struct {
	Ticket    string
	FillPrice decimal.Decimal
	Time      time.Time
}

// FailureKind classifies a broker call failure so callers know whether to
// retry, fail the candidate entry, or declare the broker unavailable.
type FailureKind string

const (
	FailureRetryable FailureKind = "retryable" // transient: timeout, requote
	FailureRejected  FailureKind = "rejected"  // terminal: invalid stops, insufficient margin
	FailureFatal     FailureKind = "fatal"     // terminal unreachable/disconnected
)

// Error wraps a broker failure with its classification.
type Error struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether err (possibly wrapped) is a retryable broker
// Error.
func Retryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == FailureRetryable
	}
	return false
}
