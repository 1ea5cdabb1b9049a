package broker

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
)

// call is a single queued request/response pair processed by Serializer's
// worker goroutine.
type call struct {
	fn   func() (any, error)
	resp chan result
}

type result struct {
	value any
	err   error
}

// Serializer funnels every Client call through one goroutine so the
// underlying terminal API is never invoked concurrently, while still
// presenting Client's normal synchronous method signatures to callers.
type Serializer struct {
	log    *zap.Logger
	client Client
	queue  chan call
	done   chan struct{}
}

// NewSerializer starts the worker goroutine and returns a Serializer backed
// by client. Call Close to stop the worker.
func NewSerializer(log *zap.Logger, client Client) *Serializer {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Serializer{
		log:    log.Named("broker"),
		client: client,
		queue:  make(chan call, 256),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Serializer) run() {
	for {
		select {
		case c := <-s.queue:
			v, err := c.fn()
			c.resp <- result{value: v, err: err}
		case <-s.done:
			for {
				select {
				case c := <-s.queue:
					v, err := c.fn()
					c.resp <- result{value: v, err: err}
				default:
					return
				}
			}
		}
	}
}

// Close stops the worker goroutine. Pending calls already queued are still
// drained before the goroutine exits.
func (s *Serializer) Close() { close(s.done) }

func submit[T any](ctx context.Context, s *Serializer, fn func() (T, error)) (T, error) {
	var zero T
	resp := make(chan result, 1)
	select {
	case s.queue <- call{fn: func() (any, error) { return fn() }, resp: resp}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.value.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

var _ Client = (*Serializer)(nil)

func (s *Serializer) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return submit(ctx, s, func() (types.AccountInfo, error) { return s.client.AccountInfo(ctx) })
}

func (s *Serializer) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	return submit(ctx, s, func() (types.SymbolInfo, error) { return s.client.SymbolInfo(ctx, symbol) })
}

func (s *Serializer) Bars(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	return submit(ctx, s, func() ([]types.OHLCV, error) { return s.client.Bars(ctx, symbol, tf, count) })
}

func (s *Serializer) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	return submit(ctx, s, func() (types.Tick, error) { return s.client.Tick(ctx, symbol) })
}

func (s *Serializer) OpenPosition(ctx context.Context, req OpenRequest) (OpenResult, error) {
	return submit(ctx, s, func() (OpenResult, error) { return s.client.OpenPosition(ctx, req) })
}

func (s *Serializer) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error {
	_, err := submit(ctx, s, func() (struct{}, error) {
		return struct{}{}, s.client.ModifyPosition(ctx, ticket, stopLoss, takeProfit)
	})
	return err
}

func (s *Serializer) ClosePosition(ctx context.Context, ticket string, volume decimal.Decimal) (decimal.Decimal, error) {
	return submit(ctx, s, func() (decimal.Decimal, error) { return s.client.ClosePosition(ctx, ticket, volume) })
}

func (s *Serializer) ListPositions(ctx context.Context, magic int64) ([]types.PositionRecord, error) {
	return submit(ctx, s, func() ([]types.PositionRecord, error) { return s.client.ListPositions(ctx, magic) })
}
