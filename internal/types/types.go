// Package types defines shared types used across the trading runtime.
package types

import (
	"fmt"
	"maps"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a trade.
type Side int

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the opposite side.
func (s Side) Opposite() Side {
	switch s {
	case SideLong:
		return SideShort
	case SideShort:
		return SideLong
	default:
		return s
	}
}

// Market is the venue type an order or symbol belongs to.
type Market int

const (
	MarketSpot Market = iota + 1
	MarketMargin
	MarketFutures
)

func (m Market) String() string {
	switch m {
	case MarketSpot:
		return "spot"
	case MarketMargin:
		return "margin"
	case MarketFutures:
		return "futures"
	default:
		return "unknown"
	}
}

// Leveraged reports whether orders on this market carry an exchange-side leverage setting.
func (m Market) Leveraged() bool {
	return m == MarketFutures
}

// ParseMarket parses the configuration spelling of a market.
func ParseMarket(s string) (Market, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return MarketSpot, nil
	case "margin":
		return MarketMargin, nil
	case "futures", "perp", "usdm":
		return MarketFutures, nil
	default:
		return 0, fmt.Errorf("%w: unknown market %q", ErrInvalidConfig, s)
	}
}

// Tick is a single price update from a market data stream.
type Tick struct {
	Symbol    string
	Market    Market
	Price     decimal.Decimal
	EventTime time.Time
}

// Signal is a trade idea emitted by a producer. It is never mutated after creation.
type Signal struct {
	ID         string
	Strategy   string
	Symbol     string
	Side       Side
	Confidence decimal.Decimal // 0-1
	Market     *Market         // venue hint, nil = strategy default
	StopPrice  decimal.NullDecimal
	TakeProfit decimal.NullDecimal
	TTL        time.Duration // 0 = pipeline default
	CreatedAt  time.Time
	metadata   map[string]string
}

// NewSignal returns a signal with its own copy of metadata.
func NewSignal(s Signal, metadata map[string]string) Signal {
	s.metadata = maps.Clone(metadata)
	return s
}

// Metadata returns a copy of the signal's metadata.
func (s Signal) Metadata() map[string]string {
	return maps.Clone(s.metadata)
}

// Expired reports whether the signal's ttl has elapsed at now, measured from enqueuedAt.
func (s Signal) Expired(ttl time.Duration, enqueuedAt, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(enqueuedAt) > ttl
}

// SizedOrder is an allocated, venue-ready order.
type SizedOrder struct {
	ClientOrderID     string
	SignalID          string
	Strategy          string
	Symbol            string
	Side              Side
	Market            Market
	Bucket            string
	Notional          decimal.Decimal // quote currency
	NotionalFraction  decimal.Decimal // notional / equity
	MarginFraction    decimal.Decimal // fraction reserved in the bucket
	RequestedLeverage *int            // nil = use whatever the venue has
	AppliedLeverage   *int            // nil for non-leveraged markets until resolved
	ReduceOnly        bool
	StopPrice         decimal.NullDecimal
	TakeProfit        decimal.NullDecimal
	CreatedAt         time.Time
}

// WithAppliedLeverage returns a copy of the order with the venue-applied leverage set.
func (o SizedOrder) WithAppliedLeverage(leverage int) SizedOrder {
	lev := leverage
	o.AppliedLeverage = &lev
	return o
}

// Leverage returns the effective leverage used for sizing (1 when unset).
func (o SizedOrder) Leverage() int {
	switch {
	case o.AppliedLeverage != nil:
		return *o.AppliedLeverage
	case o.RequestedLeverage != nil:
		return *o.RequestedLeverage
	default:
		return 1
	}
}

// ExecutionStatus is the outcome of an execution attempt.
type ExecutionStatus int

const (
	ExecutionFilled ExecutionStatus = iota + 1
	ExecutionRejected
	ExecutionFailed
	ExecutionLeverageMismatch
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionFilled:
		return "FILLED"
	case ExecutionRejected:
		return "REJECTED"
	case ExecutionFailed:
		return "FAILED"
	case ExecutionLeverageMismatch:
		return "LEVERAGE_MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// ExecutionResult is the terminal record of one dispatcher call.
type ExecutionResult struct {
	Order              SizedOrder
	Status             ExecutionStatus
	FilledQty          decimal.Decimal
	AvgPrice           decimal.Decimal
	StopAttached       bool
	TakeProfitAttached bool
	Err                error
	FinishedAt         time.Time
}

// SymbolMetrics is the per-cycle market snapshot the screener filters on.
// A NaN field was not fetched this cycle.
type SymbolMetrics struct {
	Symbol           string
	Market           Market
	Price            float64
	Volume24hUSDT    float64
	OpenInterestUSDT float64
	MaxLeverage      float64
	SpreadPct        float64
	VolatilityPct    float64
	Change1hPct      float64
	DepthUSDT        float64
	BidLiquidityUSDT float64
	TickSizePct      float64
	Trend30dPct      float64
	ListingAgeDays   float64
	SentimentScore   float64
	NewsFlag         bool
}

// NewSymbolMetrics returns metrics for symbol with every numeric field unknown.
func NewSymbolMetrics(symbol string, market Market) SymbolMetrics {
	nan := math.NaN()
	return SymbolMetrics{
		Symbol:           symbol,
		Market:           market,
		Price:            nan,
		Volume24hUSDT:    nan,
		OpenInterestUSDT: nan,
		MaxLeverage:      nan,
		SpreadPct:        nan,
		VolatilityPct:    nan,
		Change1hPct:      nan,
		DepthUSDT:        nan,
		BidLiquidityUSDT: nan,
		TickSizePct:      nan,
		Trend30dPct:      nan,
		ListingAgeDays:   nan,
		SentimentScore:   nan,
	}
}
