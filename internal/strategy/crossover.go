package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/pkg/indicator"
)

// Crossover is the trend detector: it triggers when the fast SMA crosses the slow SMA.
type Crossover struct {
	fast *indicator.SMA
	slow *indicator.SMA
	prev int // sign of fast-slow on the previous ready update, 0 = unknown
}

// NewCrossover creates a crossover detector.
func NewCrossover(fastPeriod, slowPeriod int) *Crossover {
	return &Crossover{
		fast: indicator.NewSMA(fastPeriod),
		slow: indicator.NewSMA(slowPeriod),
	}
}

// Update implements Detector.
func (c *Crossover) Update(price decimal.Decimal) (Detection, bool) {
	fast := c.fast.Update(price)
	slow := c.slow.Update(price)
	if !c.slow.Ready() || !slow.IsPositive() {
		return Detection{}, false
	}

	diff := fast.Sub(slow)
	sign := diff.Sign()
	prev := c.prev
	if sign != 0 {
		c.prev = sign
	}
	if prev == 0 || sign == 0 || sign == prev {
		return Detection{}, false
	}

	side := types.SideLong
	if sign < 0 {
		side = types.SideShort
	}
	gapPct := diff.Div(slow).Mul(decimal.NewFromInt(100))
	return Detection{
		Side:       side,
		Confidence: confidence(gapPct, decimal.NewFromInt(1)),
		Reason: fmt.Sprintf("sma%d %s sma%d (%.4f vs %.4f)",
			c.fast.Period(), crossWord(side), c.slow.Period(),
			fast.InexactFloat64(), slow.InexactFloat64()),
	}, true
}

// Reset implements Detector.
func (c *Crossover) Reset() {
	c.fast.Reset()
	c.slow.Reset()
	c.prev = 0
}

func crossWord(side types.Side) string {
	if side == types.SideLong {
		return "crossed above"
	}
	return "crossed below"
}
