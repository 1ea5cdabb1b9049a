package platformlink

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// idempotencyWindow is how long a Command.id is remembered to suppress
// redelivered duplicates from the platform's command stream.
const idempotencyWindow = 10 * time.Minute

// Transport is the platform-facing wire client. Implementations talk to the
// actual platform backend (HTTP/WebSocket); Link never assumes a particular
// transport, only that calls may fail transiently.
type Transport interface {
	// Commands returns the channel of inbound commands. The channel is
	// closed when the transport shuts down.
	Commands() <-chan types.Command

	ReportTrade(ctx context.Context, event types.TradeEvent) error
	ReportHeartbeat(ctx context.Context, snapshot types.HeartbeatSnapshot) error
	FetchStrategy(ctx context.Context, strategyID string) (types.StrategyConfig, error)
	AvailableStrategies(ctx context.Context) ([]types.StrategyConfig, error)
}

// CommandHandler is invoked once per distinct inbound Command.
type CommandHandler func(ctx context.Context, cmd types.Command)

// IdempotencyStore backs the in-memory dedup window with persistence, so a
// process restart doesn't replay a command the in-memory map would still be
// suppressing. Optional: a nil store means dedup is memory-only.
type IdempotencyStore interface {
	SeenCommand(ctx context.Context, id string) (bool, error)
	RecordCommand(ctx context.Context, id string, at time.Time) error
}

// Link is the executor's single point of contact with the platform backend.
// It fans inbound commands out to a handler (deduplicated by a 10-minute
// idempotency window on Command.id) and wraps every outbound call in a
// retry loop guarded by a circuit breaker, so a platform outage degrades
// outbound reporting without ever blocking strategy execution itself.
type Link struct {
	log       *zap.Logger
	transport Transport
	retry     utils.RetryConfig
	breaker   *Breaker
	persist   IdempotencyStore

	outbound chan outboundItem

	mu   sync.Mutex
	seen map[string]time.Time

	wg   sync.WaitGroup
	done chan struct{}
}

type outboundItem struct {
	kind     string
	event    *types.TradeEvent
	snapshot *types.HeartbeatSnapshot
}

// Config bundles Link's tunables.
type Config struct {
	Retry               utils.RetryConfig
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	OutboundBuffer      int
	// Persistence backs the idempotency window across restarts. Optional.
	Persistence IdempotencyStore
}

// DefaultConfig returns sensible platform-link defaults.
func DefaultConfig() Config {
	return Config{
		Retry:               utils.DefaultRetryConfig(),
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
		OutboundBuffer:      256,
	}
}

// NewLink builds a Link. Call Run to start consuming inbound commands and
// draining the outbound buffer; call Close to stop both.
func NewLink(log *zap.Logger, transport Transport, cfg Config) *Link {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = 256
	}
	return &Link{
		log:       log.Named("platformlink"),
		transport: transport,
		retry:     cfg.Retry,
		breaker:   NewBreaker(cfg.BreakerThreshold, cfg.BreakerResetTimeout),
		persist:   cfg.Persistence,
		outbound:  make(chan outboundItem, cfg.OutboundBuffer),
		seen:      make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

// Run starts the inbound command fan-in loop (dispatching deduplicated
// commands to handler) and the outbound drain loop. It blocks until ctx is
// cancelled or Close is called.
func (l *Link) Run(ctx context.Context, handler CommandHandler) {
	l.wg.Add(2)
	go l.consumeCommands(ctx, handler)
	go l.drainOutbound(ctx)
	l.wg.Wait()
}

// Close stops Run's loops.
func (l *Link) Close() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

func (l *Link) consumeCommands(ctx context.Context, handler CommandHandler) {
	defer l.wg.Done()
	cleanupTicker := time.NewTicker(idempotencyWindow)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-cleanupTicker.C:
			l.pruneSeen(time.Now())
		case cmd, ok := <-l.transport.Commands():
			if !ok {
				return
			}
			if l.shouldSkip(ctx, cmd) {
				l.log.Debug("duplicate command suppressed", zap.String("commandId", cmd.ID))
				continue
			}
			handler(ctx, cmd)
		}
	}
}

// shouldSkip reports whether cmd.ID has been seen within idempotencyWindow,
// recording it as seen either way. When a persistent IdempotencyStore is
// configured it is consulted first, so a restart never replays a command
// the pre-restart in-memory map would still have been suppressing.
func (l *Link) shouldSkip(ctx context.Context, cmd types.Command) bool {
	if l.persist != nil {
		if seen, err := l.persist.SeenCommand(ctx, cmd.ID); err != nil {
			l.log.Warn("idempotency store lookup failed, falling back to memory-only dedup", zap.Error(err))
		} else if seen {
			return true
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if seenAt, ok := l.seen[cmd.ID]; ok && now.Sub(seenAt) < idempotencyWindow {
		return true
	}
	l.seen[cmd.ID] = now
	if l.persist != nil {
		if err := l.persist.RecordCommand(ctx, cmd.ID, now); err != nil {
			l.log.Warn("failed to persist command id for idempotency", zap.String("commandId", cmd.ID), zap.Error(err))
		}
	}
	return false
}

func (l *Link) pruneSeen(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, seenAt := range l.seen {
		if now.Sub(seenAt) >= idempotencyWindow {
			delete(l.seen, id)
		}
	}
}

// QueueTrade enqueues a trade event for outbound delivery. It never blocks
// the caller on network I/O; if the outbound buffer is full the event is
// dropped and logged, since a strategy runtime must never stall on
// reporting.
func (l *Link) QueueTrade(event types.TradeEvent) {
	select {
	case l.outbound <- outboundItem{kind: "trade", event: &event}:
	default:
		l.log.Warn("outbound buffer full, dropping trade event", zap.String("eventId", event.ID))
	}
}

// QueueHeartbeat enqueues a heartbeat snapshot for outbound delivery.
func (l *Link) QueueHeartbeat(snapshot types.HeartbeatSnapshot) {
	select {
	case l.outbound <- outboundItem{kind: "heartbeat", snapshot: &snapshot}:
	default:
		l.log.Warn("outbound buffer full, dropping heartbeat")
	}
}

func (l *Link) drainOutbound(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case item := <-l.outbound:
			l.deliver(ctx, item)
		}
	}
}

func (l *Link) deliver(ctx context.Context, item outboundItem) {
	if !l.breaker.Allow() {
		l.log.Debug("circuit breaker open, dropping outbound item", zap.String("kind", item.kind))
		return
	}

	_, err := utils.Retry(ctx, l.retry, func(error) bool { return true }, func() (struct{}, error) {
		var callErr error
		switch item.kind {
		case "trade":
			callErr = l.transport.ReportTrade(ctx, *item.event)
		case "heartbeat":
			callErr = l.transport.ReportHeartbeat(ctx, *item.snapshot)
		}
		return struct{}{}, callErr
	})

	if err != nil {
		l.breaker.RecordFailure()
		l.log.Warn("outbound delivery failed", zap.String("kind", item.kind), zap.Error(err))
		return
	}
	l.breaker.RecordSuccess()
}

// FetchStrategy fetches a strategy's config, retrying through the circuit
// breaker like any other outbound call.
func (l *Link) FetchStrategy(ctx context.Context, strategyID string) (types.StrategyConfig, error) {
	if !l.breaker.Allow() {
		return types.StrategyConfig{}, ErrCircuitOpen
	}
	cfg, err := utils.Retry(ctx, l.retry, func(error) bool { return true }, func() (types.StrategyConfig, error) {
		return l.transport.FetchStrategy(ctx, strategyID)
	})
	if err != nil {
		l.breaker.RecordFailure()
		return types.StrategyConfig{}, err
	}
	l.breaker.RecordSuccess()
	return cfg, nil
}

// AvailableStrategies lists the strategy configs the platform currently
// offers, for the local HTTP API's GET /api/strategies/available.
func (l *Link) AvailableStrategies(ctx context.Context) ([]types.StrategyConfig, error) {
	if !l.breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	configs, err := utils.Retry(ctx, l.retry, func(error) bool { return true }, func() ([]types.StrategyConfig, error) {
		return l.transport.AvailableStrategies(ctx)
	})
	if err != nil {
		l.breaker.RecordFailure()
		return nil, err
	}
	l.breaker.RecordSuccess()
	return configs, nil
}

// BreakerState reports the outbound circuit breaker's current state, for
// metrics/telemetry.
func (l *Link) BreakerState() BreakerState { return l.breaker.State() }
