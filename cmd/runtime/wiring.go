package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/audit"
	"github.com/tathienbao/strategy-runtime/internal/backtest"
	"github.com/tathienbao/strategy-runtime/internal/broker/paper"
	"github.com/tathienbao/strategy-runtime/internal/config"
	"github.com/tathienbao/strategy-runtime/internal/engine"
	"github.com/tathienbao/strategy-runtime/internal/execution"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/persistence"
	"github.com/tathienbao/strategy-runtime/internal/risk"
	"github.com/tathienbao/strategy-runtime/internal/strategy"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
)

// app holds every wired component of one pipeline.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	sink     audit.Sink
	router   *paper.Router
	alloc    *risk.Allocator
	pipeline *engine.Pipeline
	server   *metrics.Server

	// replay only
	runner      *backtest.Runner
	startEquity decimal.Decimal
}

// buildAlerter returns the configured channels behind the event filter, or
// nil when alerting is off.
func buildAlerter(cfg *config.Config, logger *slog.Logger) (alerting.Alerter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Alerting.Enabled || len(cfg.Alerting.Channels) == 0 {
		return nil, nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(alerting.TelegramConfig{
				BotToken: ch.BotToken,
				ChatID:   ch.ChatID,
				APIURL:   ch.APIURL,
			}))
		default:
			return nil, fmt.Errorf("%w: unknown alert channel %q", types.ErrInvalidConfig, ch.Type)
		}
	}
	return alerting.NewEventFilter(multi, cfg.IsAlertEventEnabled), nil
}

// buildAudit opens every enabled audit sink.
func buildAudit(ctx context.Context, cfg *config.Config) (audit.Sink, error) {
	var sinks []audit.Sink
	fail := func(err error) (audit.Sink, error) {
		_ = audit.NewMulti(sinks...).Close()
		return nil, err
	}

	if cfg.Audit.Dir != "" {
		fs, err := audit.NewFileSink(cfg.Audit.Dir)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fs)
	}

	if cfg.Persistence.Enabled {
		if dir := filepath.Dir(cfg.Persistence.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fail(fmt.Errorf("create database dir: %w", err))
			}
		}
		repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			return fail(fmt.Errorf("open audit database: %w", err))
		}
		sinks = append(sinks, audit.NewSQLSink(repo))
	}

	if r := cfg.Audit.Redis; r.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return fail(fmt.Errorf("connect redis %s: %w", r.Addr, err))
		}
		sinks = append(sinks, audit.NewRedisSink(client, r.History))
	}

	if len(sinks) == 0 {
		return audit.Nop{}, nil
	}
	return audit.NewMulti(sinks...), nil
}

// newRouter creates and connects the paper venue.
func newRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*paper.Router, error) {
	router := paper.NewRouter(cfg.ToPaperConfig(), logger.With("component", "paper"))
	if err := router.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect paper router: %w", err)
	}
	return router, nil
}

// buildCore wires allocator, dispatcher, pipeline and producers reading feed.
func buildCore(cfg *config.Config, router *paper.Router, registry *universe.Registry, feed observer.PriceFeed, sink audit.Sink, alerter alerting.Alerter, logger *slog.Logger, opts ...engine.Option) (*app, error) {
	alloc := risk.NewAllocator(
		cfg.ToAllocatorConfig(),
		risk.NewBucketTracker(cfg.ToBucketBudgets()),
		router.Portfolio(),
		logger.With("component", "allocator"),
	)

	dispatcher := execution.NewDispatcher(router, alloc, logger.With("component", "dispatcher"),
		execution.WithAuditSink(sink),
		execution.WithAlerter(alerter),
		execution.WithRecorder(metrics.NewRecorder()),
	)

	opts = append(opts, engine.WithAlerter(alerter))
	pipeline := engine.NewPipeline(cfg.ToPipelineConfig(), registry, alloc, dispatcher, logger, opts...)

	producerCfgs, err := cfg.ToProducerConfigs()
	if err != nil {
		return nil, err
	}
	for _, pc := range producerCfgs {
		producer, err := strategy.NewProducer(pc, feed, registry, pipeline.Emit, logger)
		if err != nil {
			return nil, err
		}
		if err := pipeline.AddProducer(producer); err != nil {
			return nil, err
		}
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		router:   router,
		alloc:    alloc,
		pipeline: pipeline,
	}, nil
}

// buildLive wires the screener, the configured price feed and the metrics server.
func buildLive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	alerter, err := buildAlerter(cfg, logger)
	if err != nil {
		return nil, err
	}
	router, err := newRouter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	sink, err := buildAudit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var feed observer.PriceFeed
	switch cfg.Feed.Type {
	case "replay":
		feed = observer.NewReplayFeed(cfg.Feed.ReplayPath, time.Duration(cfg.Feed.ReplayPaceMs)*time.Millisecond)
	default:
		feed = observer.NewBinanceFeed(cfg.ToFeedConfig(), logger.With("component", "feed"))
	}
	// The paper router is priced from the stream the producers read.
	feed = observer.NewTap(feed, router.OnTick)

	registry := universe.NewRegistry(cfg.UniverseDefaults(),
		universe.WithObserver(audit.RegistryObserver(sink, logger)),
	)

	var opts []engine.Option
	if cfg.Screener.Enabled {
		scfg, err := cfg.ToScreenerConfig()
		if err != nil {
			_ = sink.Close()
			return nil, err
		}
		screener := universe.NewScreener(scfg, universe.NewBinanceSource(cfg.ToSourceConfig()), registry, logger.With("component", "screener"))
		screener.SetAlerter(alerter)
		opts = append(opts, engine.WithScreener(screener))
	}

	rt, err := buildCore(cfg, router, registry, feed, sink, alerter, logger, opts...)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	if cfg.Metrics.Enabled {
		rt.server = metrics.NewServer(metrics.ServerConfig{
			Host:        cfg.Metrics.Host,
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
		}, logger.With("component", "metrics"))
		rt.server.RegisterHealthCheck("pipeline", rt.pipeline.HealthCheck)
		rt.server.HandleJSON("/stats", func() any { return rt.pipeline.Stats() })
		rt.server.HandleJSON("/allocator", func() any { return rt.alloc.Snapshot() })
	}
	return rt, nil
}

// start launches the metrics server and the pipeline.
func (rt *app) start(ctx context.Context) error {
	if rt.server != nil {
		if err := rt.server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		rt.logger.Info("metrics server listening", "addr", rt.server.Addr())
	}
	return rt.pipeline.Start(ctx)
}

// shutdown stops the pipeline and then the metrics server, bounded by ctx.
func (rt *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := rt.pipeline.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop pipeline: %w", err))
	}
	if rt.server != nil {
		if err := rt.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}

// close releases the audit sinks and the paper router.
func (rt *app) close() {
	if err := rt.sink.Close(); err != nil {
		rt.logger.Warn("failed to close audit sinks", "err", err)
	}
	if err := rt.router.Disconnect(); err != nil {
		rt.logger.Warn("failed to disconnect router", "err", err)
	}
}

// buildReplay wires a replay of ticks through a channel feed. Strategies
// without a configured default universe trade every symbol in the recording.
func buildReplay(ctx context.Context, cfg *config.Config, ticks []types.Tick, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	alerter, err := buildAlerter(cfg, logger)
	if err != nil {
		return nil, err
	}
	sink, err := buildAudit(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router, err := newRouter(ctx, cfg, logger)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	feed := observer.NewChannelFeed(0)
	registry := universe.NewRegistry(replayUniverses(cfg, ticks),
		universe.WithObserver(audit.RegistryObserver(sink, logger)),
	)

	rt, err := buildCore(cfg, router, registry, feed, sink, alerter, logger)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	rcfg := backtest.DefaultConfig()
	rcfg.Markets = replayMarkets(cfg)
	rcfg.Subscribers = len(cfg.Strategies)

	rt.startEquity, err = rt.router.Equity(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.runner = backtest.NewRunner(rcfg, ticks, feed, rt.router, rt.pipeline, logger.With("component", "replay"))
	return rt, nil
}

// replayUniverses returns configured defaults, filling strategies that have
// none with the recording's symbols.
func replayUniverses(cfg *config.Config, ticks []types.Tick) map[string][]string {
	defaults := cfg.UniverseDefaults()

	seen := make(map[string]struct{})
	var symbols []string
	for _, t := range ticks {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		symbols = append(symbols, t.Symbol)
	}
	symbols = universe.Normalize(symbols)

	for _, s := range cfg.Strategies {
		if len(defaults[s.Name]) == 0 {
			defaults[s.Name] = slices.Clone(symbols)
		}
	}
	return defaults
}

// replayMarkets returns the distinct markets the strategies trade on.
func replayMarkets(cfg *config.Config) []types.Market {
	var markets []types.Market
	for _, s := range cfg.Strategies {
		m, err := types.ParseMarket(s.Market)
		if err != nil {
			m = types.MarketFutures
		}
		if !slices.Contains(markets, m) {
			markets = append(markets, m)
		}
	}
	if len(markets) == 0 {
		markets = []types.Market{types.MarketFutures}
	}
	return markets
}
