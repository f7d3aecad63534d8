package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/pkg/indicator"
)

// MeanReversion is the scalp detector.
// Generates LONG when price is below mean - (EntryZ * StdDev).
// Generates SHORT when price is above mean + (EntryZ * StdDev).
// Bands come from the window before the current price.
type MeanReversion struct {
	stddev *indicator.StdDev
	entryZ decimal.Decimal

	lastSignalUp   bool // re-armed once price returns inside the bands
	lastSignalDown bool
}

// NewMeanReversion creates a mean reversion detector.
func NewMeanReversion(window int, entryZ decimal.Decimal) *MeanReversion {
	return &MeanReversion{
		stddev: indicator.NewStdDev(window),
		entryZ: entryZ,
	}
}

// Update implements Detector.
func (m *MeanReversion) Update(price decimal.Decimal) (Detection, bool) {
	wasReady := m.stddev.Ready()
	z := m.stddev.ZScore(price)
	m.stddev.Update(price)

	if !wasReady || z.IsZero() {
		return Detection{}, false
	}

	switch {
	case z.LessThanOrEqual(m.entryZ.Neg()) && !m.lastSignalDown:
		m.lastSignalDown, m.lastSignalUp = true, false
		return m.detection(types.SideLong, z, "below lower band"), true
	case z.GreaterThanOrEqual(m.entryZ) && !m.lastSignalUp:
		m.lastSignalUp, m.lastSignalDown = true, false
		return m.detection(types.SideShort, z, "above upper band"), true
	case z.Abs().LessThan(m.entryZ):
		m.lastSignalUp, m.lastSignalDown = false, false
	}
	return Detection{}, false
}

func (m *MeanReversion) detection(side types.Side, z decimal.Decimal, where string) Detection {
	return Detection{
		Side:       side,
		Confidence: confidence(z, m.entryZ.Mul(decimal.NewFromInt(2))),
		Reason:     fmt.Sprintf("price %s (z=%.2f)", where, z.InexactFloat64()),
	}
}

// Reset implements Detector.
func (m *MeanReversion) Reset() {
	m.stddev.Reset()
	m.lastSignalUp = false
	m.lastSignalDown = false
}
