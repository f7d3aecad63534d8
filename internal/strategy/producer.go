package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
)

// EmitFunc hands a signal to the pipeline. It blocks while the queue is full
// and returns ctx.Err() if ctx is done first.
type EmitFunc func(ctx context.Context, s types.Signal) error

// ProducerConfig holds configuration for one producer.
type ProducerConfig struct {
	Strategy       string // registry key and Signal.Strategy
	Category       Category
	Market         types.Market
	Cooldown       time.Duration   // minimum time between signals per symbol
	StopPct        decimal.Decimal // fraction of entry price, 0 = no stop
	TakeProfitPct  decimal.Decimal // fraction of entry price, 0 = no take-profit
	TTL            time.Duration
	MaxSymbols     int // 0 = feed limit only
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Detector       DetectorConfig
}

// DefaultProducerConfig returns defaults for category, sized to its holding horizon.
func DefaultProducerConfig(strategy string, c Category) ProducerConfig {
	cfg := ProducerConfig{
		Strategy:       strategy,
		Category:       c,
		Market:         types.MarketFutures,
		BackoffInitial: time.Second,
		BackoffMax:     30 * time.Second,
		Detector:       DefaultDetectorConfig(c),
	}
	switch c {
	case CategoryTrend:
		cfg.Cooldown = 15 * time.Minute
		cfg.StopPct = decimal.RequireFromString("0.02")
		cfg.TakeProfitPct = decimal.RequireFromString("0.04")
		cfg.TTL = 60 * time.Second
	case CategoryMomentum:
		cfg.Cooldown = 5 * time.Minute
		cfg.StopPct = decimal.RequireFromString("0.015")
		cfg.TakeProfitPct = decimal.RequireFromString("0.03")
		cfg.TTL = 30 * time.Second
	case CategoryScalp:
		cfg.Cooldown = time.Minute
		cfg.StopPct = decimal.RequireFromString("0.005")
		cfg.TakeProfitPct = decimal.RequireFromString("0.008")
		cfg.TTL = 10 * time.Second
	case CategoryEvent:
		cfg.Cooldown = 30 * time.Minute
		cfg.StopPct = decimal.RequireFromString("0.03")
		cfg.TakeProfitPct = decimal.RequireFromString("0.06")
		cfg.TTL = 2 * time.Minute
	}
	return cfg
}

var errUniverseChanged = errors.New("universe changed")

type symbolState struct {
	detector   Detector
	lastSignal time.Time
}

// Producer turns one strategy's price stream into signals.
// Its state is owned by the Run goroutine.
type Producer struct {
	cfg      ProducerConfig
	feed     observer.PriceFeed
	registry *universe.Registry
	emit     EmitFunc
	detector DetectorFactory
	logger   *slog.Logger
	metrics  *metrics.Recorder
	now      func() time.Time

	states map[string]*symbolState
}

// NewProducer creates a producer. It fails if the detector configuration is invalid.
func NewProducer(cfg ProducerConfig, feed observer.PriceFeed, registry *universe.Registry, emit EmitFunc, logger *slog.Logger) (*Producer, error) {
	if cfg.Strategy == "" {
		return nil, fmt.Errorf("%w: producer requires a strategy name", types.ErrInvalidConfig)
	}
	factory, err := NewDetectorFactory(cfg.Category, cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", cfg.Strategy, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = max(30*time.Second, cfg.BackoffInitial)
	}

	return &Producer{
		cfg:      cfg,
		feed:     feed,
		registry: registry,
		emit:     emit,
		detector: factory,
		logger:   logger.With("strategy", cfg.Strategy),
		metrics:  metrics.NewRecorder(),
		now:      time.Now,
		states:   make(map[string]*symbolState),
	}, nil
}

// Name returns the strategy name.
func (p *Producer) Name() string { return p.cfg.Strategy }

// Config returns the producer configuration.
func (p *Producer) Config() ProducerConfig { return p.cfg }

// Run streams prices for the strategy's universe until ctx is done.
// Stream failures are retried with exponential backoff; Run only returns ctx.Err().
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("producer started",
		"category", string(p.cfg.Category),
		"market", p.cfg.Market.String(),
		"feed", p.feed.Name(),
	)
	defer p.logger.Info("producer stopped")
	defer p.metrics.RecordFeedStatus(p.cfg.Strategy, false)

	backoff := p.cfg.BackoffInitial

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		version, symbols := p.registry.Current(p.cfg.Strategy)
		symbols = p.capSymbols(symbols)
		p.prune(symbols)
		changed := p.registry.Changed(p.cfg.Strategy, version)

		if len(symbols) == 0 {
			p.logger.Info("universe empty, waiting for update", "version", version)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-changed:
				continue
			}
		}

		sub, err := p.feed.Subscribe(ctx, p.cfg.Market, symbols)
		if err != nil {
			p.logger.Warn("subscribe failed, backing off", "error", err, "backoff", backoff)
			p.metrics.RecordError("stream_subscribe")
			if !p.sleep(ctx, backoff, changed) {
				continue
			}
			backoff = min(backoff*2, p.cfg.BackoffMax)
			continue
		}

		p.metrics.RecordFeedStatus(p.cfg.Strategy, true)
		p.logger.Info("subscribed", "version", version, "symbols", len(symbols))

		received, err := p.consume(ctx, sub, changed)
		sub.Close()
		p.metrics.RecordFeedStatus(p.cfg.Strategy, false)

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, errUniverseChanged):
			backoff = p.cfg.BackoffInitial
			continue
		}

		if received {
			backoff = p.cfg.BackoffInitial
		}
		p.logger.Warn("price stream ended, reconnecting", "error", err, "backoff", backoff)
		p.metrics.RecordStreamReconnect(p.cfg.Strategy)
		if p.sleep(ctx, backoff, changed) {
			backoff = min(backoff*2, p.cfg.BackoffMax)
		}
	}
}

// consume reads sub until the stream ends, the universe changes or ctx is done.
// It reports whether any tick arrived.
func (p *Producer) consume(ctx context.Context, sub *observer.Subscription, changed <-chan struct{}) (bool, error) {
	received := false
	for {
		select {
		case <-ctx.Done():
			return received, ctx.Err()
		case <-changed:
			return received, errUniverseChanged
		case tick, ok := <-sub.Ticks():
			if !ok {
				return received, sub.Err()
			}
			received = true
			if err := p.OnTick(ctx, tick); err != nil {
				return received, err
			}
		}
	}
}

// OnTick feeds a price to the symbol's detector and emits a signal when the
// test triggers outside the cooldown. Ticks for symbols outside the current
// universe are ignored.
func (p *Producer) OnTick(ctx context.Context, tick types.Tick) error {
	state, ok := p.states[tick.Symbol]
	if !ok {
		return nil
	}

	det, triggered := state.detector.Update(tick.Price)
	if !triggered {
		return nil
	}

	now := p.now()
	if !state.lastSignal.IsZero() && now.Sub(state.lastSignal) < p.cfg.Cooldown {
		p.logger.Debug("signal suppressed by cooldown",
			"symbol", tick.Symbol,
			"side", det.Side.String(),
		)
		return nil
	}

	sig := NewSignalBuilder(p.cfg.Strategy, tick, now).
		Side(det.Side).
		WithConfidence(det.Confidence).
		WithReason(det.Reason).
		WithMarket(p.cfg.Market).
		WithTTL(p.cfg.TTL).
		WithStops(p.cfg.StopPct, p.cfg.TakeProfitPct).
		Build()

	if err := p.emit(ctx, sig); err != nil {
		return err
	}
	state.lastSignal = now

	p.metrics.RecordSignal(p.cfg.Strategy, det.Side.String())
	p.logger.Info("signal emitted",
		"symbol", sig.Symbol,
		"side", sig.Side.String(),
		"confidence", sig.Confidence.StringFixed(2),
		"reason", det.Reason,
	)
	return nil
}

// capSymbols truncates to the tighter of the feed and configured caps.
func (p *Producer) capSymbols(symbols []string) []string {
	limit := p.feed.MaxSymbols()
	if p.cfg.MaxSymbols > 0 && (limit == 0 || p.cfg.MaxSymbols < limit) {
		limit = p.cfg.MaxSymbols
	}
	if limit > 0 && len(symbols) > limit {
		p.logger.Warn("universe exceeds subscription cap, truncating",
			"symbols", len(symbols),
			"cap", limit,
		)
		return symbols[:limit]
	}
	return symbols
}

// prune drops state for symbols no longer in scope and creates state for new ones.
func (p *Producer) prune(symbols []string) {
	scope := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		scope[s] = struct{}{}
		if _, ok := p.states[s]; !ok {
			p.states[s] = &symbolState{detector: p.detector()}
		}
	}
	for s := range p.states {
		if _, ok := scope[s]; !ok {
			delete(p.states, s)
		}
	}
}

// sleep waits d. It returns false if the universe changed first; the caller
// then resubscribes immediately.
func (p *Producer) sleep(ctx context.Context, d time.Duration, changed <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-changed:
		return false
	case <-timer.C:
		return true
	}
}

// Tracked returns the symbols with rolling state.
func (p *Producer) Tracked() []string {
	out := make([]string, 0, len(p.states))
	for s := range p.states {
		out = append(out, s)
	}
	return out
}
