package executorcore

import (
	"context"

	"go.uber.org/zap"

	"github.com/atlas-desktop/executor-core/internal/strategyrt"
	"github.com/atlas-desktop/executor-core/pkg/types"
	"github.com/atlas-desktop/executor-core/pkg/utils"
)

// HandleCommand is the PlatformLink.CommandHandler ExecutorCore registers.
// Every command-driven change to the runtimes map goes through here, per
// spec.md §4.7's single-writer discipline; other methods of Core also read
// the map, and the reaper goroutine removes runtimes whose Run loop exited.
func (c *Core) HandleCommand(ctx context.Context, cmd types.Command) {
	payload, _ := cmd.Payload.(types.CommandPayload)

	switch cmd.Kind {
	case types.CmdStart:
		c.handleStart(ctx, payload)
	case types.CmdStop:
		c.dispatchToOne(ctx, payload.StrategyID, types.CmdStop, nil)
	case types.CmdStopAndClose:
		c.dispatchToOne(ctx, payload.StrategyID, types.CmdStopAndClose, nil)
	case types.CmdPause:
		c.dispatchToOne(ctx, payload.StrategyID, types.CmdPause, nil)
	case types.CmdResume:
		c.dispatchToOne(ctx, payload.StrategyID, types.CmdResume, nil)
	case types.CmdUpdateSettings:
		c.handleUpdateSettings(ctx, payload)
	case types.CmdEmergencyStop:
		c.handleEmergencyStop(ctx)
	case types.CmdPing:
		c.publishHeartbeat(ctx)
	default:
		c.log.Warn("unrecognized command kind", zap.String("kind", string(cmd.Kind)))
	}
}

func (c *Core) handleStart(ctx context.Context, payload types.CommandPayload) {
	if payload.Config == nil {
		c.log.Warn("START command missing strategy config", zap.String("strategyId", payload.StrategyID))
		return
	}
	cfg := *payload.Config

	c.mu.Lock()
	_, exists := c.runtimes[cfg.ID]
	c.mu.Unlock()
	if exists {
		c.log.Info("START is a no-op for an already-running strategy", zap.String("strategyId", cfg.ID))
		return
	}

	if err := cfg.Validate(); err != nil {
		c.log.Warn("rejecting invalid strategy config", zap.String("strategyId", cfg.ID), zap.Error(err))
		return
	}

	if c.store != nil {
		if err := c.store.SaveStrategy(ctx, cfg); err != nil {
			c.log.Error("failed to persist strategy config", zap.String("strategyId", cfg.ID), zap.Error(err))
			return
		}
	}

	c.startRuntime(ctx, cfg, types.StatusRunning)
}

// startRuntime builds and launches a Runtime goroutine, recording its
// handle under the runtimes-map lock. initialStatus lets Restore bring a
// reconstructed runtime up paused instead of running.
func (c *Core) startRuntime(ctx context.Context, cfg types.StrategyConfig, initialStatus types.RuntimeStatus) {
	runCtx, cancel := context.WithCancel(ctx)

	rt := strategyrt.NewRuntime(c.log, cfg, strategyrt.Deps{
		Broker:        c.broker,
		Gate:          c.gate,
		Filters:       c.filters,
		Regime:        c.regime,
		Events:        c.link,
		OpenSymbols:   c.openSymbolsExcluding,
		CorrelationOf: c.correlationOf,
	})

	c.mu.Lock()
	c.runtimes[cfg.ID] = &runtimeHandle{runtime: rt, cancel: cancel}
	c.mu.Unlock()

	go rt.Run(runCtx)

	if initialStatus == types.StatusPaused {
		go func() {
			_ = rt.Send(runCtx, types.CmdPause, nil)
		}()
	}

	go func() {
		<-rt.Stopped()
		c.mu.Lock()
		delete(c.runtimes, cfg.ID)
		delete(c.autoPaused, cfg.ID)
		c.mu.Unlock()
	}()
}

// openSymbolsExcluding returns the symbol of every runtime other than
// excludeStrategyID that currently holds an open position, for RiskGate's
// CorrelationGate. A symbol can appear more than once if multiple running
// strategies trade it; CorrelationGate only cares about membership.
func (c *Core) openSymbolsExcluding(excludeStrategyID string) []string {
	c.mu.Lock()
	handles := make([]*runtimeHandle, 0, len(c.runtimes))
	for id, h := range c.runtimes {
		if id == excludeStrategyID {
			continue
		}
		handles = append(handles, h)
	}
	c.mu.Unlock()

	symbols := make([]string, 0, len(handles))
	for _, h := range handles {
		if h.runtime.HasOpenPosition() {
			symbols = append(symbols, h.runtime.Config().Symbol)
		}
	}
	return symbols
}

// correlationOf computes the Pearson correlation between two symbols' log
// return series, sourced from the shared regime.Detector's bookkeeping
// (see regime.Detector.Returns). Returns 0 if either series is too short to
// be meaningful.
func (c *Core) correlationOf(symbolA, symbolB string) float64 {
	if c.regime == nil {
		return 0
	}
	a := c.regime.Returns(symbolA)
	b := c.regime.Returns(symbolB)
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	return utils.PearsonCorrelation(a[len(a)-n:], b[len(b)-n:])
}

func (c *Core) dispatchToOne(ctx context.Context, strategyID string, kind types.CommandKind, payload any) {
	c.mu.Lock()
	handle, ok := c.runtimes[strategyID]
	c.mu.Unlock()
	if !ok {
		c.log.Info("command targets unknown strategy, no-op", zap.String("strategyId", strategyID), zap.String("kind", string(kind)))
		return
	}
	if err := handle.runtime.Send(ctx, kind, payload); err != nil {
		c.log.Warn("failed to deliver command to runtime", zap.String("strategyId", strategyID), zap.Error(err))
	}
}

func (c *Core) handleUpdateSettings(ctx context.Context, payload types.CommandPayload) {
	if payload.Config == nil {
		return
	}
	cfg := *payload.Config
	if err := cfg.Validate(); err != nil {
		c.log.Warn("rejecting invalid settings update", zap.String("strategyId", cfg.ID), zap.Error(err))
		return
	}
	if c.store != nil {
		if err := c.store.SaveStrategy(ctx, cfg); err != nil {
			c.log.Error("failed to persist updated strategy config", zap.String("strategyId", cfg.ID), zap.Error(err))
		}
	}
	c.dispatchToOne(ctx, cfg.ID, types.CmdUpdateSettings, cfg)
}

// handleEmergencyStop signals every runtime to stop and close, per
// spec.md §4.7's "EMERGENCY_STOP signals every runtime with close=true".
func (c *Core) handleEmergencyStop(ctx context.Context) {
	c.mu.Lock()
	handles := make([]*runtimeHandle, 0, len(c.runtimes))
	for _, h := range c.runtimes {
		handles = append(handles, h)
	}
	c.mu.Unlock()

	for _, h := range handles {
		h := h
		go func() {
			_ = h.runtime.Send(ctx, types.CmdEmergencyStop, nil)
		}()
	}
}
