package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/pkg/indicator"
)

// Momentum triggers when the % change across a rolling window reaches the threshold.
type Momentum struct {
	window    *indicator.Window
	threshold decimal.Decimal
}

// NewMomentum creates a momentum detector over window prices.
func NewMomentum(window int, thresholdPct decimal.Decimal) *Momentum {
	return &Momentum{
		window:    indicator.NewWindow(window),
		threshold: thresholdPct,
	}
}

// Update implements Detector.
func (m *Momentum) Update(price decimal.Decimal) (Detection, bool) {
	m.window.Push(price)
	if !m.window.Full() {
		return Detection{}, false
	}

	change := m.window.ChangePct()
	var side types.Side
	switch {
	case change.GreaterThanOrEqual(m.threshold):
		side = types.SideLong
	case change.LessThanOrEqual(m.threshold.Neg()):
		side = types.SideShort
	default:
		return Detection{}, false
	}

	return Detection{
		Side:       side,
		Confidence: confidence(change, m.threshold.Mul(decimal.NewFromInt(2))),
		Reason:     fmt.Sprintf("%.2f%% over %d prices", change.InexactFloat64(), m.window.Cap()),
	}, true
}

// Reset implements Detector.
func (m *Momentum) Reset() {
	m.window.Reset()
}
