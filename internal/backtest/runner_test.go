package backtest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/broker/paper"
	"github.com/tathienbao/strategy-runtime/internal/engine"
	"github.com/tathienbao/strategy-runtime/internal/execution"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/risk"
	"github.com/tathienbao/strategy-runtime/internal/strategy"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
)

var replayStart = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func risingTicks(symbol string, from, to int64) []types.Tick {
	ticks := make([]types.Tick, 0, to-from+1)
	for i := from; i <= to; i++ {
		ticks = append(ticks, types.Tick{
			Symbol:    symbol,
			Price:     decimal.NewFromInt(i),
			EventTime: replayStart.Add(time.Duration(i-from) * time.Minute),
		})
	}
	return ticks
}

// stubPipeline counts lifecycle calls without consuming anything.
type stubPipeline struct {
	starts atomic.Int32
	stops  atomic.Int32
}

func (s *stubPipeline) Start(ctx context.Context) error { s.starts.Add(1); return nil }
func (s *stubPipeline) Stop(ctx context.Context) error  { s.stops.Add(1); return nil }
func (s *stubPipeline) Stats() engine.Stats             { return engine.Stats{} }

func newPaperRouter(t *testing.T) *paper.Router {
	t.Helper()
	cfg := paper.DefaultConfig()
	cfg.SlippageBps = decimal.Zero
	cfg.FeeBps = decimal.Zero
	router := paper.NewRouter(cfg, nil)
	if err := router.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return router
}

// newMomentumPipeline wires one momentum producer on feed through the real
// allocator and dispatcher.
func newMomentumPipeline(t *testing.T, feed *observer.ChannelFeed, router *paper.Router) *engine.Pipeline {
	t.Helper()

	registry := universe.NewRegistry(map[string][]string{"mom-a": {"BTCUSDT"}})

	acfg := risk.DefaultAllocatorConfig()
	acfg.Strategies["mom-a"] = risk.StrategyConfig{
		Name:         "mom-a",
		Category:     risk.BucketMomentum,
		Market:       types.MarketFutures,
		RiskPerTrade: decimal.RequireFromString("0.02"),
	}
	alloc := risk.NewAllocator(acfg, risk.NewBucketTracker(risk.DefaultBucketBudgets()), router.Portfolio(), nil)
	disp := execution.NewDispatcher(router, alloc, nil)

	p := engine.NewPipeline(engine.DefaultConfig(), registry, alloc, disp, nil)

	pcfg := strategy.DefaultProducerConfig("mom-a", strategy.CategoryMomentum)
	pcfg.Cooldown = 0
	pcfg.Detector.Window = 3
	pcfg.Detector.ThresholdPct = decimal.NewFromInt(1)
	producer, err := strategy.NewProducer(pcfg, feed, registry, p.Emit, nil)
	if err != nil {
		t.Fatalf("new producer: %v", err)
	}
	if err := p.AddProducer(producer); err != nil {
		t.Fatalf("add producer: %v", err)
	}
	return p
}

func TestRunner_ReplayThroughPipeline(t *testing.T) {
	feed := observer.NewChannelFeed(0)
	router := newPaperRouter(t)
	p := newMomentumPipeline(t, feed, router)

	ticks := risingTicks("BTCUSDT", 100, 120)
	runner := NewRunner(DefaultConfig(), ticks, feed, router, p, nil)

	var updates int
	runner.SetProgressCallback(func(u ProgressUpdate) {
		updates++
		if u.TotalTicks != len(ticks) {
			t.Errorf("TotalTicks = %d, want %d", u.TotalTicks, len(ticks))
		}
	})

	result, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if p.IsRunning() {
		t.Error("pipeline still running after replay")
	}
	if !result.StartEquity.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("StartEquity = %s, want 10000", result.StartEquity)
	}
	if result.Ticks != len(ticks) {
		t.Errorf("Ticks = %d, want %d", result.Ticks, len(ticks))
	}
	if len(result.EquityCurve) != len(ticks) {
		t.Errorf("len(EquityCurve) = %d, want %d", len(result.EquityCurve), len(ticks))
	}
	if updates != len(ticks) {
		t.Errorf("progress updates = %d, want %d", updates, len(ticks))
	}
	if result.Executed == 0 {
		t.Fatalf("expected at least one executed signal, stats %+v", result)
	}
	if int64(result.Fills) < result.Executed {
		t.Errorf("Fills = %d, want >= Executed %d", result.Fills, result.Executed)
	}
	if got := result.Executed + result.Rejected + result.Expired + result.Failed; got != result.Processed {
		t.Errorf("outcomes sum to %d, processed %d", got, result.Processed)
	}
	// A long entered on a rising series cannot lose money without fees.
	if result.EndEquity.LessThan(result.StartEquity) {
		t.Errorf("EndEquity %s < StartEquity %s", result.EndEquity, result.StartEquity)
	}
}

func TestRunner_SubscribeTimeout(t *testing.T) {
	feed := observer.NewChannelFeed(0)
	router := newPaperRouter(t)
	p := newMomentumPipeline(t, feed, router)

	cfg := DefaultConfig()
	cfg.Subscribers = 2
	cfg.SubscribeTimeout = 100 * time.Millisecond

	_, err := NewRunner(cfg, risingTicks("BTCUSDT", 100, 105), feed, router, p, nil).Run(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if p.IsRunning() {
		t.Error("pipeline left running after failed replay")
	}
}

func TestRunner_TimeFilters(t *testing.T) {
	ticks := risingTicks("BTCUSDT", 100, 109)

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{"no filter", time.Time{}, time.Time{}, 10},
		{"start only", replayStart.Add(5 * time.Minute), time.Time{}, 5},
		{"end only", time.Time{}, replayStart.Add(2 * time.Minute), 3},
		{"window", replayStart.Add(2 * time.Minute), replayStart.Add(4 * time.Minute), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := &stubPipeline{}
			cfg := DefaultConfig()
			cfg.Subscribers = 0
			cfg.Settle = 50 * time.Millisecond
			cfg.StartTime = tt.start
			cfg.EndTime = tt.end

			result, err := NewRunner(cfg, ticks, observer.NewChannelFeed(0), newPaperRouter(t), pipe, nil).Run(context.Background())
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if result.Ticks != tt.want {
				t.Errorf("Ticks = %d, want %d", result.Ticks, tt.want)
			}
			if pipe.starts.Load() != 1 || pipe.stops.Load() != 1 {
				t.Errorf("starts/stops = %d/%d, want 1/1", pipe.starts.Load(), pipe.stops.Load())
			}
		})
	}
}

func TestRunner_RecordEquityDrawdown(t *testing.T) {
	r := NewRunner(DefaultConfig(), nil, observer.NewChannelFeed(0), newPaperRouter(t), &stubPipeline{}, nil)
	r.highWater = decimal.NewFromInt(10000)

	for _, e := range []int64{10000, 11000, 9900, 10500} {
		r.recordEquity(replayStart, decimal.NewFromInt(e))
	}

	if !r.highWater.Equal(decimal.NewFromInt(11000)) {
		t.Errorf("high water = %s, want 11000", r.highWater)
	}
	if dd := r.equityCurve[2].Drawdown; !dd.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("drawdown = %s, want 0.1", dd)
	}
}

func TestRunner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipe := &stubPipeline{}
	cfg := DefaultConfig()
	cfg.Subscribers = 1

	_, err := NewRunner(cfg, risingTicks("BTCUSDT", 100, 101), observer.NewChannelFeed(0), newPaperRouter(t), pipe, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if pipe.stops.Load() != 1 {
		t.Errorf("stops = %d, want 1", pipe.stops.Load())
	}
}
