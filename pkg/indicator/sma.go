package indicator

import (
	"github.com/shopspring/decimal"
)

// SMA is a simple moving average.
type SMA struct {
	win *Window
	sum decimal.Decimal
}

// NewSMA creates an SMA over period values.
func NewSMA(period int) *SMA {
	return &SMA{win: NewWindow(period)}
}

// Update adds a value and returns the average, or zero until the window fills.
func (s *SMA) Update(value decimal.Decimal) decimal.Decimal {
	s.sum = s.sum.Add(value)
	if old, evicted := s.win.Push(value); evicted {
		s.sum = s.sum.Sub(old)
	}
	return s.Current()
}

// Current returns the average without adding data.
func (s *SMA) Current() decimal.Decimal {
	if !s.win.Full() {
		return decimal.Zero
	}
	return s.sum.Div(decimal.NewFromInt(int64(s.win.Cap())))
}

// Ready reports whether the window is full.
func (s *SMA) Ready() bool { return s.win.Full() }

// Period returns the window size.
func (s *SMA) Period() int { return s.win.Cap() }

// Count returns the number of values currently stored.
func (s *SMA) Count() int { return s.win.Len() }

// Reset clears all data.
func (s *SMA) Reset() {
	s.win.Reset()
	s.sum = decimal.Zero
}
