// Package backtest replays recorded ticks through the full signal pipeline
// against the paper router.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/broker/paper"
	"github.com/tathienbao/strategy-runtime/internal/engine"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Pipeline is the part of engine.Pipeline the runner drives.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Stats() engine.Stats
}

// ProgressUpdate contains info for UI updates.
type ProgressUpdate struct {
	Tick       int
	TotalTicks int
	Last       types.Tick
	Equity     decimal.Decimal
	Stats      engine.Stats
}

// ProgressCallback is called after each published tick.
type ProgressCallback func(update ProgressUpdate)

// Config holds replay configuration.
type Config struct {
	StartTime        time.Time
	EndTime          time.Time
	Markets          []types.Market // markets each tick is published on
	Subscribers      int            // producer subscriptions to wait for before publishing
	SubscribeTimeout time.Duration
	Settle           time.Duration // bound on waiting for the pipeline to drain
	StopTimeout      time.Duration
}

// DefaultConfig returns replay defaults for futures producers.
func DefaultConfig() Config {
	return Config{
		Markets:          []types.Market{types.MarketFutures},
		Subscribers:      1,
		SubscribeTimeout: 5 * time.Second,
		Settle:           2 * time.Second,
		StopTimeout:      5 * time.Second,
	}
}

// Result holds replay results.
type Result struct {
	StartEquity   decimal.Decimal
	EndEquity     decimal.Decimal
	TotalReturn   decimal.Decimal // As ratio (0.15 = 15%)
	MaxDrawdown   decimal.Decimal // As ratio
	Ticks         int
	Processed     int64
	Executed      int64
	Rejected      int64
	Expired       int64
	Failed        int64
	Fills         int
	OpenPositions int
	EquityCurve   []EquityPoint
}

// EquityPoint represents equity at a point in time.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal
}

// Runner publishes ticks into a channel feed read by the pipeline's producers,
// keeping the paper router priced from the same ticks.
type Runner struct {
	cfg      Config
	ticks    []types.Tick
	feed     *observer.ChannelFeed
	router   *paper.Router
	pipeline Pipeline
	logger   *slog.Logger

	equityCurve []EquityPoint
	highWater   decimal.Decimal
	published   int

	progressCb ProgressCallback
}

// NewRunner creates a runner. The pipeline's producers must read from feed.
func NewRunner(cfg Config, ticks []types.Tick, feed *observer.ChannelFeed, router *paper.Router, pipeline Pipeline, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if len(cfg.Markets) == 0 {
		cfg.Markets = def.Markets
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = def.SubscribeTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = def.Settle
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}

	return &Runner{
		cfg:      cfg,
		ticks:    ticks,
		feed:     feed,
		router:   router,
		pipeline: pipeline,
		logger:   logger,
	}
}

// SetProgressCallback sets a callback for UI updates.
func (r *Runner) SetProgressCallback(cb ProgressCallback) {
	r.progressCb = cb
}

// Run replays every tick, lets the pipeline drain and stops it.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	startEquity, err := r.router.Equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("read starting equity: %w", err)
	}
	r.highWater = startEquity
	r.equityCurve = make([]EquityPoint, 0, len(r.ticks))
	r.published = 0

	if err := r.pipeline.Start(ctx); err != nil {
		return nil, fmt.Errorf("start pipeline: %w", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			r.stop()
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.SubscribeTimeout)
	err = r.feed.Wait(waitCtx, func(f *observer.ChannelFeed) bool {
		return f.Active() >= r.cfg.Subscribers
	})
	cancel()
	if err != nil {
		return nil, fmt.Errorf("wait for %d producer subscriptions: %w", r.cfg.Subscribers, err)
	}

	total := len(r.ticks)
	for _, tick := range r.ticks {
		// Apply time filters
		if !r.cfg.StartTime.IsZero() && tick.EventTime.Before(r.cfg.StartTime) {
			continue
		}
		if !r.cfg.EndTime.IsZero() && tick.EventTime.After(r.cfg.EndTime) {
			break
		}

		r.router.OnTick(tick)
		for _, market := range r.cfg.Markets {
			tick.Market = market
			if _, err := r.feed.PublishWait(ctx, tick); err != nil {
				return nil, fmt.Errorf("publish tick: %w", err)
			}
		}
		r.published++

		equity, err := r.router.Equity(ctx)
		if err != nil {
			return nil, fmt.Errorf("read equity: %w", err)
		}
		r.recordEquity(tick.EventTime, equity)

		if r.progressCb != nil {
			r.progressCb(ProgressUpdate{
				Tick:       r.published,
				TotalTicks: total,
				Last:       tick,
				Equity:     equity,
				Stats:      r.pipeline.Stats(),
			})
		}
	}

	r.settle(ctx)
	stopped = true
	if err := r.stop(); err != nil {
		return nil, err
	}

	return r.calculateResults(ctx, startEquity)
}

// settle waits until the queue is empty and the processed count holds steady.
func (r *Runner) settle(ctx context.Context) {
	const (
		poll        = 10 * time.Millisecond
		stablePolls = 3
	)
	deadline := time.NewTimer(r.cfg.Settle)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	last := int64(-1)
	stable := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			r.logger.Warn("pipeline did not settle", "timeout", r.cfg.Settle)
			return
		case <-ticker.C:
			stats := r.pipeline.Stats()
			if stats.QueueDepth == 0 && stats.Processed == last {
				stable++
				if stable >= stablePolls {
					return
				}
				continue
			}
			stable = 0
			last = stats.Processed
		}
	}
}

func (r *Runner) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout)
	defer cancel()
	if err := r.pipeline.Stop(ctx); err != nil {
		return fmt.Errorf("stop pipeline: %w", err)
	}
	return nil
}

// recordEquity records an equity point.
func (r *Runner) recordEquity(timestamp time.Time, equity decimal.Decimal) {
	if equity.GreaterThan(r.highWater) {
		r.highWater = equity
	}
	var drawdown decimal.Decimal
	if r.highWater.IsPositive() {
		drawdown = r.highWater.Sub(equity).Div(r.highWater)
	}

	r.equityCurve = append(r.equityCurve, EquityPoint{
		Timestamp: timestamp,
		Equity:    equity,
		Drawdown:  drawdown,
	})
}

// calculateResults computes final replay results.
func (r *Runner) calculateResults(ctx context.Context, startEquity decimal.Decimal) (*Result, error) {
	endEquity, err := r.router.Equity(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ending equity: %w", err)
	}
	positions, err := r.router.Positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	open := 0
	for _, p := range positions {
		if !p.Quantity.IsZero() {
			open++
		}
	}

	maxDrawdown := decimal.Zero
	for _, point := range r.equityCurve {
		if point.Drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = point.Drawdown
		}
	}

	totalReturn := decimal.Zero
	if startEquity.IsPositive() {
		totalReturn = endEquity.Sub(startEquity).Div(startEquity)
	}

	stats := r.pipeline.Stats()
	return &Result{
		StartEquity:   startEquity,
		EndEquity:     endEquity,
		TotalReturn:   totalReturn,
		MaxDrawdown:   maxDrawdown,
		Ticks:         r.published,
		Processed:     stats.Processed,
		Executed:      stats.Executed,
		Rejected:      stats.Rejected,
		Expired:       stats.Expired,
		Failed:        stats.Failed,
		Fills:         r.router.FillCount(),
		OpenPositions: open,
		EquityCurve:   r.equityCurve,
	}, nil
}
