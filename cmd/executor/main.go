// Package main is the executor process entry point: it wires every
// component (indicators through broker, risk, filters, platform link,
// strategy runtimes, the scheduler, local HTTP API, and persistence),
// restores any strategies left over from a previous run, and serves until
// a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/executor-core/internal/api"
	"github.com/atlas-desktop/executor-core/internal/broker"
	"github.com/atlas-desktop/executor-core/internal/config"
	"github.com/atlas-desktop/executor-core/internal/executorcore"
	"github.com/atlas-desktop/executor-core/internal/filter"
	"github.com/atlas-desktop/executor-core/internal/metrics"
	"github.com/atlas-desktop/executor-core/internal/platformlink"
	"github.com/atlas-desktop/executor-core/internal/regime"
	"github.com/atlas-desktop/executor-core/internal/risk"
	"github.com/atlas-desktop/executor-core/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("starting executor",
		zap.String("executorId", cfg.Platform.ExecutorID),
		zap.String("env", cfg.Env),
		zap.Bool("paperBroker", cfg.Broker.Paper),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	brokerClient := buildBroker(logger, cfg)
	gate := risk.NewGate(logger)
	filters := filter.NewStack(logger, nil)
	regimeDetector := regime.NewDetector(logger, regime.DefaultConfig())

	transport := platformlink.NewHTTPTransport(logger, platformlink.HTTPTransportConfig{
		BaseURL:        cfg.Platform.BaseURL,
		ApiKey:         cfg.Platform.ApiKey,
		ExecutorID:     cfg.Platform.ExecutorID,
		RequestTimeout: cfg.Platform.RequestTimeout,
		PollInterval:   cfg.Platform.PollInterval,
	})
	defer transport.Close()

	linkCfg := platformlink.DefaultConfig()
	linkCfg.Persistence = st
	link := platformlink.NewLink(logger, transport, linkCfg)

	core := executorcore.NewCore(logger, executorcore.Config{
		ExecutorID:        cfg.Platform.ExecutorID,
		Broker:            brokerClient,
		Gate:              gate,
		Filters:           filters,
		Regime:            regimeDetector,
		Link:              link,
		Store:             st,
		HeartbeatInterval: cfg.Platform.HeartbeatInterval,
	})

	if err := core.Restore(ctx); err != nil {
		logger.Error("failed to restore persisted strategies", zap.Error(err))
	}

	hub := api.NewHub(logger)
	go hub.Run()

	server := api.NewServer(logger, api.Config{
		Host:           cfg.HTTP.Host,
		Port:           cfg.HTTP.Port,
		Debug:          cfg.Debug,
		PlatformOrigin: cfg.HTTP.PlatformOrigin,
	}, core, st, link, hub)
	server.Router().Handle("/metrics", metrics.Handler())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	coreDone := make(chan struct{})
	go func() {
		defer close(coreDone)
		core.Run(ctx)
	}()

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("local api server stopped with error", zap.Error(err))
		}
	}()

	logger.Info("executor started",
		zap.String("http", fmt.Sprintf("http://%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()

	select {
	case <-coreDone:
	case <-time.After(20 * time.Second):
		logger.Warn("executor core did not shut down in time")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("error during api server shutdown", zap.Error(err))
	}

	logger.Info("executor stopped")
}

func buildBroker(logger *zap.Logger, cfg *config.Config) broker.Client {
	if cfg.Broker.Paper {
		return broker.NewPaperClient(decimal.NewFromInt(10000))
	}
	// No live MT4/MT5 terminal bridge ships in this build; broker.Client is
	// the seam a future adapter plugs into using cfg.Broker.TerminalPath.
	logger.Warn("broker.paper is false but no live broker adapter is wired; falling back to paper",
		zap.String("terminalPath", cfg.Broker.TerminalPath))
	return broker.NewPaperClient(decimal.NewFromInt(10000))
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "json",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
