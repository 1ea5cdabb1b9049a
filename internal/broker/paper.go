package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// PaperClient is an in-memory simulated Client used when no live terminal
// is configured (testing, demo runs). Fills are immediate at the last known
// tick price; no slippage or partial fills are modeled.
type PaperClient struct {
	mu sync.Mutex

	account   types.AccountInfo
	symbols   map[string]types.SymbolInfo
	lastTicks map[string]types.Tick
	bars      map[string][]types.OHLCV
	positions map[string]types.PositionRecord
}

// NewPaperClient builds a PaperClient seeded with a starting account
// balance; symbol metadata/bars/ticks must be registered via Seed* before
// use.
func NewPaperClient(startingBalance decimal.Decimal) *PaperClient {
	return &PaperClient{
		account:   types.AccountInfo{Balance: startingBalance, Equity: startingBalance, Currency: "USD"},
		symbols:   make(map[string]types.SymbolInfo),
		lastTicks: make(map[string]types.Tick),
		bars:      make(map[string][]types.OHLCV),
		positions: make(map[string]types.PositionRecord),
	}
}

// SeedSymbol registers a symbol's contract terms.
func (p *PaperClient) SeedSymbol(info types.SymbolInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.symbols[info.Symbol] = info
}

// SeedTick updates the latest tick for a symbol.
func (p *PaperClient) SeedTick(tick types.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastTicks[tick.Symbol] = tick
}

// SeedBars replaces the bar history for a symbol.
func (p *PaperClient) SeedBars(symbol string, bars []types.OHLCV) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bars[symbol] = bars
}

func (p *PaperClient) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.account, nil
}

func (p *PaperClient) SymbolInfo(ctx context.Context, symbol string) (types.SymbolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.symbols[symbol]
	if !ok {
		return types.SymbolInfo{}, &Error{Kind: FailureRejected, Message: fmt.Sprintf("unknown symbol %q", symbol)}
	}
	return info, nil
}

func (p *PaperClient) Bars(ctx context.Context, symbol string, tf types.Timeframe, count int) ([]types.OHLCV, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	bars := p.bars[symbol]
	if len(bars) == 0 {
		return nil, &Error{Kind: FailureRetryable, Message: "no bar history available yet"}
	}
	if count > 0 && count < len(bars) {
		return bars[len(bars)-count:], nil
	}
	return bars, nil
}

func (p *PaperClient) Tick(ctx context.Context, symbol string) (types.Tick, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tick, ok := p.lastTicks[symbol]
	if !ok {
		return types.Tick{}, &Error{Kind: FailureRetryable, Message: "no tick available yet"}
	}
	return tick, nil
}

func (p *PaperClient) OpenPosition(ctx context.Context, req OpenRequest) (OpenResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tick, ok := p.lastTicks[req.Symbol]
	if !ok {
		return OpenResult{}, &Error{Kind: FailureRetryable, Message: "no tick available for fill"}
	}
	fillPrice := tick.Ask
	if req.Side == types.SideSell {
		fillPrice = tick.Bid
	}

	ticket := utils.GenerateID("paper")
	p.positions[ticket] = types.PositionRecord{
		Ticket:             ticket,
		Symbol:             req.Symbol,
		Side:               req.Side,
		EntryPrice:         fillPrice,
		EntryTime:          time.Now(),
		VolumeOriginal:     req.Volume,
		VolumeRemaining:    req.Volume,
		StopLoss:           req.StopLoss,
		TakeProfit:         req.TakeProfit,
		PeakFavorablePrice: fillPrice,
		State:              types.PositionOpen,
		Magic:              req.Magic,
		Comment:            req.Comment,
	}

	return OpenResult{Ticket: ticket, FillPrice: fillPrice, Time: time.Now()}, nil
}

func (p *PaperClient) ModifyPosition(ctx context.Context, ticket string, stopLoss, takeProfit decimal.Decimal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return &Error{Kind: FailureRejected, Message: "unknown ticket"}
	}
	pos.StopLoss = stopLoss
	pos.TakeProfit = takeProfit
	p.positions[ticket] = pos
	return nil
}

func (p *PaperClient) ClosePosition(ctx context.Context, ticket string, volume decimal.Decimal) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[ticket]
	if !ok {
		return decimal.Zero, &Error{Kind: FailureRejected, Message: "unknown ticket"}
	}
	tick, ok := p.lastTicks[pos.Symbol]
	if !ok {
		return decimal.Zero, &Error{Kind: FailureRetryable, Message: "no tick available for fill"}
	}
	fillPrice := tick.Bid
	if pos.Side == types.SideSell {
		fillPrice = tick.Ask
	}

	pos.VolumeRemaining = pos.VolumeRemaining.Sub(volume)
	if pos.VolumeRemaining.LessThanOrEqual(decimal.Zero) {
		pos.VolumeRemaining = decimal.Zero
		pos.State = types.PositionClosed
		delete(p.positions, ticket)
	} else {
		pos.State = types.PositionPartiallyClosed
		p.positions[ticket] = pos
	}

	return fillPrice, nil
}

func (p *PaperClient) ListPositions(ctx context.Context, magic int64) ([]types.PositionRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.PositionRecord
	for _, pos := range p.positions {
		if magic == 0 || pos.Magic == magic {
			out = append(out, pos)
		}
	}
	return out, nil
}

var _ Client = (*PaperClient)(nil)
