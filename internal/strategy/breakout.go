package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/pkg/indicator"
)

// Breakout is the event detector.
// Generates LONG when price breaks above the highest of the prior Lookback prices.
// Generates SHORT when price breaks below the lowest of them.
type Breakout struct {
	prior     *indicator.Window
	bufferPct decimal.Decimal

	signalledLong  bool // already signalled for the current range
	signalledShort bool
	rangeHigh      decimal.Decimal
	rangeLow       decimal.Decimal
}

// NewBreakout creates a breakout detector.
func NewBreakout(lookback int, bufferPct decimal.Decimal) *Breakout {
	return &Breakout{
		prior:     indicator.NewWindow(lookback),
		bufferPct: bufferPct,
	}
}

// Update implements Detector.
func (b *Breakout) Update(price decimal.Decimal) (Detection, bool) {
	defer b.prior.Push(price)

	if !b.prior.Full() {
		return Detection{}, false
	}

	high, low := b.prior.Max(), b.prior.Min()
	if !low.IsPositive() {
		return Detection{}, false
	}
	if !high.Equal(b.rangeHigh) || !low.Equal(b.rangeLow) {
		b.signalledLong, b.signalledShort = false, false
		b.rangeHigh, b.rangeLow = high, low
	}

	pct := decimal.NewFromInt(100)
	upper := high.Mul(pct.Add(b.bufferPct)).Div(pct)
	lower := low.Mul(pct.Sub(b.bufferPct)).Div(pct)

	switch {
	case price.GreaterThan(upper) && !b.signalledLong:
		b.signalledLong = true
		return Detection{
			Side:       types.SideLong,
			Confidence: confidence(price.Sub(high).Div(high).Mul(pct), decimal.NewFromInt(1)),
			Reason:     fmt.Sprintf("breakout above %.4f", upper.InexactFloat64()),
		}, true
	case price.LessThan(lower) && !b.signalledShort:
		b.signalledShort = true
		return Detection{
			Side:       types.SideShort,
			Confidence: confidence(low.Sub(price).Div(low).Mul(pct), decimal.NewFromInt(1)),
			Reason:     fmt.Sprintf("breakout below %.4f", lower.InexactFloat64()),
		}, true
	}
	return Detection{}, false
}

// Reset implements Detector.
func (b *Breakout) Reset() {
	b.prior.Reset()
	b.signalledLong, b.signalledShort = false, false
	b.rangeHigh, b.rangeLow = decimal.Zero, decimal.Zero
}
