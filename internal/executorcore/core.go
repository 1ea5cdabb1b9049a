// Package executorcore is the process-wide scheduler: it owns the
// strategyId -> runtime map under a single-writer discipline, dispatches
// inbound commands, persists strategy configs, publishes heartbeats, and
// drives graceful shutdown.
package executorcore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/broker"
	"github.com/atlas-desktop/executor-core/internal/filter"
	"github.com/atlas-desktop/executor-core/internal/platformlink"
	"github.com/atlas-desktop/executor-core/internal/regime"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/internal/strategyrt"
	"github.com/atlas-desktop/executor-core/pkg/types"
)

// shutdownDrainDeadline bounds how long graceful shutdown waits for runtimes
// to finish their in-flight bar evaluation before abandoning the wait.
const shutdownDrainDeadline = 15 * time.Second

// Store persists StrategyConfigs across restarts.
type Store interface {
	SaveStrategy(ctx context.Context, cfg types.StrategyConfig) error
	DeleteStrategy(ctx context.Context, id string) error
	ListStrategies(ctx context.Context) ([]types.StrategyConfig, error)
}

// runtimeHandle pairs a Runtime with the cancel function for its Run
// goroutine's context, so ExecutorCore (the single writer) can tear it down.
type runtimeHandle struct {
	runtime *strategyrt.Runtime
	cancel  context.CancelFunc
}

// Core is the top-level coordinator: ExecutorCore of spec.md §4.7.
type Core struct {
	log        *zap.Logger
	executorID string

	broker  broker.Client
	gate    *risk.Gate
	filters *filter.Stack
	regime  *regime.Detector
	link    *platformlink.Link
	store   Store

	heartbeatInterval time.Duration

	mu       sync.Mutex // single-writer lock for runtimes
	runtimes map[string]*runtimeHandle

	brokerConnected bool            // last observed connectivity, guarded by mu
	autoPaused      map[string]bool // strategy IDs paused by a broker outage, not by the user
}

// Config bundles Core's collaborators and tunables.
type Config struct {
	ExecutorID        string
	Broker            broker.Client
	Gate              *risk.Gate
	Filters           *filter.Stack
	Regime            *regime.Detector
	Link              *platformlink.Link
	Store             Store
	HeartbeatInterval time.Duration
}

// NewCore builds a Core. Call Run to start dispatching commands and
// publishing heartbeats.
func NewCore(log *zap.Logger, cfg Config) *Core {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	return &Core{
		log:               log.Named("executorcore"),
		executorID:        cfg.ExecutorID,
		broker:            cfg.Broker,
		gate:              cfg.Gate,
		filters:           cfg.Filters,
		regime:            cfg.Regime,
		link:              cfg.Link,
		store:             cfg.Store,
		heartbeatInterval: cfg.HeartbeatInterval,
		runtimes:          make(map[string]*runtimeHandle),
		brokerConnected:   true,
		autoPaused:        make(map[string]bool),
	}
}

// Restore reconstructs runtimes from persisted StrategyConfigs on process
// start, beginning each in paused so a stale strategy never auto-trades
// immediately after a restart.
func (c *Core) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	configs, err := c.store.ListStrategies(ctx)
	if err != nil {
		return fmt.Errorf("executorcore: restore: %w", err)
	}
	for _, cfg := range configs {
		c.startRuntime(ctx, cfg, types.StatusPaused)
		c.log.Info("restored strategy in paused state", zap.String("strategyId", cfg.ID))
	}
	return nil
}

// Run starts the command dispatch loop (via PlatformLink) and the heartbeat
// loop, and blocks until ctx is cancelled, at which point it performs
// graceful shutdown.
func (c *Core) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.link.Run(ctx, c.HandleCommand)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.heartbeatLoop(ctx)
	}()

	<-ctx.Done()
	c.shutdown()
	wg.Wait()
}

func (c *Core) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.publishHeartbeat(ctx)
		}
	}
}

func (c *Core) publishHeartbeat(ctx context.Context) {
	account, err := c.broker.AccountInfo(ctx)
	brokerConnected := err == nil

	c.handleBrokerConnectivityChange(ctx, brokerConnected)

	positions, _ := c.broker.ListPositions(ctx, 0)

	c.mu.Lock()
	runtimeCount := len(c.runtimes)
	c.mu.Unlock()

	c.link.QueueHeartbeat(types.HeartbeatSnapshot{
		ExecutorID:      c.executorID,
		Account:         account,
		RuntimeCount:    runtimeCount,
		OpenPositions:   len(positions),
		BrokerConnected: brokerConnected,
		Timestamp:       time.Now(),
	})
}

// RuntimeSummary is a read-only view of one running strategy, for the local
// HTTP API's GET /api/strategies.
type RuntimeSummary struct {
	Config types.StrategyConfig
	Status types.RuntimeStatus
	Stats  types.RuntimeStats
}

// Snapshot returns a summary of every currently tracked runtime. Safe to
// call concurrently with command dispatch.
func (c *Core) Snapshot() []RuntimeSummary {
	c.mu.Lock()
	handles := make([]*runtimeHandle, 0, len(c.runtimes))
	for _, h := range c.runtimes {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	out := make([]RuntimeSummary, 0, len(handles))
	for _, h := range handles {
		out = append(out, RuntimeSummary{
			Config: h.runtime.Config(),
			Status: h.runtime.Status(),
			Stats:  h.runtime.Stats(),
		})
	}
	return out
}

// AccountInfo forwards to the broker, for the local HTTP API's /api/account.
func (c *Core) AccountInfo(ctx context.Context) (types.AccountInfo, error) {
	return c.broker.AccountInfo(ctx)
}

// BrokerConnected reports whether the broker terminal is currently reachable.
func (c *Core) BrokerConnected(ctx context.Context) bool {
	_, err := c.broker.AccountInfo(ctx)
	return err == nil
}

// handleBrokerConnectivityChange implements spec.md §7's BrokerUnavailable
// transition: on the edge into disconnected, every currently running
// runtime is paused and recorded in autoPaused; on the edge back into
// connected, only those runtimes (not ones a user separately paused) are
// resumed. Steady-state ticks where connectivity hasn't changed are a
// no-op, so this never fights a user's own PAUSE/RESUME commands.
func (c *Core) handleBrokerConnectivityChange(ctx context.Context, connected bool) {
	c.mu.Lock()
	if connected == c.brokerConnected {
		c.mu.Unlock()
		return
	}
	c.brokerConnected = connected

	if !connected {
		for id, h := range c.runtimes {
			if h.runtime.Status() == types.StatusRunning {
				c.autoPaused[id] = true
			}
		}
		c.mu.Unlock()
		c.log.Warn("broker connectivity lost, pausing running strategies")
		c.dispatchToEachAutoPaused(ctx, types.CmdPause)
		return
	}

	resumeIDs := make([]string, 0, len(c.autoPaused))
	for id := range c.autoPaused {
		resumeIDs = append(resumeIDs, id)
		delete(c.autoPaused, id)
	}
	c.mu.Unlock()
	if len(resumeIDs) == 0 {
		return
	}
	c.log.Info("broker connectivity restored, resuming auto-paused strategies")
	for _, id := range resumeIDs {
		c.dispatchToOne(ctx, id, types.CmdResume, nil)
	}
}

// dispatchToEachAutoPaused sends kind to every strategy currently marked
// autoPaused, used only for the pause side of a connectivity transition.
func (c *Core) dispatchToEachAutoPaused(ctx context.Context, kind types.CommandKind) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.autoPaused))
	for id := range c.autoPaused {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.dispatchToOne(ctx, id, kind, nil)
	}
}

// PlatformConnected reports whether PlatformLink's outbound circuit breaker
// is closed (i.e. the platform backend is reachable).
func (c *Core) PlatformConnected() bool {
	return c.link.BreakerState() == platformlink.BreakerClosed
}

// shutdown stops accepting commands (the caller already cancelled the
// context that gates c.link.Run/heartbeatLoop) and signals every runtime to
// drain: finish the in-flight bar evaluation, don't start a new one, then
// stop — bounded by shutdownDrainDeadline.
func (c *Core) shutdown() {
	c.mu.Lock()
	handles := make([]*runtimeHandle, 0, len(c.runtimes))
	for _, h := range c.runtimes {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	deadline := time.After(shutdownDrainDeadline)
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainDeadline)
	defer cancel()

	for _, h := range handles {
		h := h
		go func() {
			_ = h.runtime.Send(stopCtx, types.CmdStop, nil)
		}()
	}

	for _, h := range handles {
		select {
		case <-h.runtime.Stopped():
		case <-deadline:
			c.log.Warn("runtime did not stop within the shutdown deadline, abandoning wait")
			return
		}
	}
	c.log.Info("all runtimes drained")
}
