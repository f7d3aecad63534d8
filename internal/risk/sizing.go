package risk

import (
	"github.com/shopspring/decimal"
)

// DefaultMinNotional is the smallest order the allocator will size, in quote currency.
var DefaultMinNotional = decimal.NewFromInt(5)

// SizeResult contains the result of a margin sizing calculation.
type SizeResult struct {
	DesiredMargin  decimal.Decimal // per-trade risk / leverage
	MarginFraction decimal.Decimal // desired margin clamped to headroom
	Notional       decimal.Decimal // quote currency
	Leverage       int
	Valid          bool
	RejectReason   RejectReason
}

// MarginSizer sizes orders as fractions of equity.
type MarginSizer struct {
	minNotional decimal.Decimal
}

// NewMarginSizer creates a sizer that rejects orders below minNotional.
func NewMarginSizer(minNotional decimal.Decimal) *MarginSizer {
	return &MarginSizer{minNotional: minNotional}
}

// Calculate determines the margin fraction to reserve.
//
// Formula:
//
//	desired_margin  = risk_per_trade / leverage
//	margin_fraction = min(desired_margin, headroom)
//	notional        = margin_fraction * leverage * equity
//
// leverage below 1 is treated as 1.
func (s *MarginSizer) Calculate(equity, riskPerTrade decimal.Decimal, leverage int, headroom decimal.Decimal) SizeResult {
	if leverage < 1 {
		leverage = 1
	}
	res := SizeResult{Leverage: leverage}

	if !headroom.IsPositive() {
		res.RejectReason = ReasonZeroHeadroom
		return res
	}

	lev := decimal.NewFromInt(int64(leverage))
	res.DesiredMargin = riskPerTrade.Div(lev)
	res.MarginFraction = decimal.Min(res.DesiredMargin, headroom)
	if !res.MarginFraction.IsPositive() {
		res.RejectReason = ReasonNonPositiveMargin
		return res
	}

	res.Notional = res.MarginFraction.Mul(lev).Mul(equity)
	if res.Notional.LessThan(s.minNotional) {
		res.RejectReason = ReasonBelowMinNotional
		return res
	}

	res.Valid = true
	return res
}
