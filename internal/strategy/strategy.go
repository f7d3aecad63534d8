// Package strategy implements per-category signal producers.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Category names a producer family. It is also the default capital bucket.
type Category string

const (
	CategoryTrend    Category = "trend"
	CategoryMomentum Category = "momentum"
	CategoryScalp    Category = "scalp"
	CategoryEvent    Category = "event"
)

// Categories lists every known category.
var Categories = []Category{CategoryTrend, CategoryMomentum, CategoryScalp, CategoryEvent}

// ParseCategory validates a configured category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CategoryTrend, CategoryMomentum, CategoryScalp, CategoryEvent:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy category %q", types.ErrInvalidConfig, s)
	}
}

// Detection is a triggered detector test.
type Detection struct {
	Side       types.Side
	Confidence decimal.Decimal // 0-1
	Reason     string
}

// Detector holds one symbol's rolling state for a category test.
// Detectors should NOT handle cooldowns or sizing.
type Detector interface {
	// Update adds a price and reports whether the test triggered.
	Update(price decimal.Decimal) (Detection, bool)

	// Reset clears all state.
	Reset()
}

// DetectorFactory creates fresh per-symbol detector state.
type DetectorFactory func() Detector

// DetectorConfig holds detector parameters for every category; each
// detector reads only its own fields.
type DetectorConfig struct {
	FastPeriod   int             // trend
	SlowPeriod   int             // trend
	Window       int             // momentum, scalp
	ThresholdPct decimal.Decimal // momentum: minimum % change over Window
	EntryZ       decimal.Decimal // scalp: deviations from mean to enter
	Lookback     int             // event: prior prices forming the range
	BufferPct    decimal.Decimal // event: breakout buffer beyond the range, in %
}

// DefaultDetectorConfig returns defaults for category.
func DefaultDetectorConfig(c Category) DetectorConfig {
	switch c {
	case CategoryTrend:
		return DetectorConfig{FastPeriod: 20, SlowPeriod: 50}
	case CategoryMomentum:
		return DetectorConfig{Window: 30, ThresholdPct: decimal.NewFromInt(1)}
	case CategoryScalp:
		return DetectorConfig{Window: 50, EntryZ: decimal.NewFromInt(2)}
	case CategoryEvent:
		return DetectorConfig{Lookback: 200, BufferPct: decimal.RequireFromString("0.1")}
	default:
		return DetectorConfig{}
	}
}

// NewDetectorFactory returns the factory for category.
func NewDetectorFactory(c Category, cfg DetectorConfig) (DetectorFactory, error) {
	switch c {
	case CategoryTrend:
		if cfg.FastPeriod < 1 || cfg.SlowPeriod <= cfg.FastPeriod {
			return nil, fmt.Errorf("%w: trend requires 0 < fast_period < slow_period", types.ErrInvalidConfig)
		}
		return func() Detector { return NewCrossover(cfg.FastPeriod, cfg.SlowPeriod) }, nil
	case CategoryMomentum:
		if cfg.Window < 2 || !cfg.ThresholdPct.IsPositive() {
			return nil, fmt.Errorf("%w: momentum requires window >= 2 and threshold_pct > 0", types.ErrInvalidConfig)
		}
		return func() Detector { return NewMomentum(cfg.Window, cfg.ThresholdPct) }, nil
	case CategoryScalp:
		if cfg.Window < 2 || !cfg.EntryZ.IsPositive() {
			return nil, fmt.Errorf("%w: scalp requires window >= 2 and entry_z > 0", types.ErrInvalidConfig)
		}
		return func() Detector { return NewMeanReversion(cfg.Window, cfg.EntryZ) }, nil
	case CategoryEvent:
		if cfg.Lookback < 2 || cfg.BufferPct.IsNegative() {
			return nil, fmt.Errorf("%w: event requires lookback >= 2 and buffer_pct >= 0", types.ErrInvalidConfig)
		}
		return func() Detector { return NewBreakout(cfg.Lookback, cfg.BufferPct) }, nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy category %q", types.ErrInvalidConfig, c)
	}
}

// SignalBuilder helps construct signals with consistent defaults.
type SignalBuilder struct {
	signal   types.Signal
	price    decimal.Decimal
	metadata map[string]string
}

// NewSignalBuilder creates a builder for a signal on tick.
func NewSignalBuilder(strategy string, tick types.Tick, now time.Time) *SignalBuilder {
	return &SignalBuilder{
		signal: types.Signal{
			ID:        uuid.New().String(),
			Strategy:  strategy,
			Symbol:    tick.Symbol,
			CreatedAt: now,
		},
		price: tick.Price,
		metadata: map[string]string{
			"price": tick.Price.String(),
		},
	}
}

// Side sets the signal direction.
func (b *SignalBuilder) Side(side types.Side) *SignalBuilder {
	b.signal.Side = side
	return b
}

// WithConfidence sets the signal confidence, clamped to [0, 1].
func (b *SignalBuilder) WithConfidence(c decimal.Decimal) *SignalBuilder {
	b.signal.Confidence = decimal.Min(decimal.Max(c, decimal.Zero), decimal.NewFromInt(1))
	return b
}

// WithReason records the detector reason in metadata.
func (b *SignalBuilder) WithReason(reason string) *SignalBuilder {
	if reason != "" {
		b.metadata["reason"] = reason
	}
	return b
}

// WithMarket sets the venue hint.
func (b *SignalBuilder) WithMarket(m types.Market) *SignalBuilder {
	b.signal.Market = &m
	return b
}

// WithTTL sets the staleness bound.
func (b *SignalBuilder) WithTTL(ttl time.Duration) *SignalBuilder {
	b.signal.TTL = ttl
	return b
}

// WithStops sets stop and take-profit at the given fractions from the
// entry price. Call after Side. A zero fraction leaves the level unset.
func (b *SignalBuilder) WithStops(stopFrac, takeProfitFrac decimal.Decimal) *SignalBuilder {
	one := decimal.NewFromInt(1)
	dir := decimal.NewFromInt(1)
	if b.signal.Side == types.SideShort {
		dir = decimal.NewFromInt(-1)
	}
	if stopFrac.IsPositive() {
		b.signal.StopPrice = decimal.NewNullDecimal(b.price.Mul(one.Sub(stopFrac.Mul(dir))))
	}
	if takeProfitFrac.IsPositive() {
		b.signal.TakeProfit = decimal.NewNullDecimal(b.price.Mul(one.Add(takeProfitFrac.Mul(dir))))
	}
	return b
}

// Build returns the constructed signal.
func (b *SignalBuilder) Build() types.Signal {
	return types.NewSignal(b.signal, b.metadata)
}

// confidence maps magnitude/scale to [0, 1].
func confidence(magnitude, scale decimal.Decimal) decimal.Decimal {
	if !scale.IsPositive() {
		return decimal.Zero
	}
	return decimal.Min(magnitude.Abs().Div(scale), decimal.NewFromInt(1))
}
