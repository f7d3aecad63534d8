package indicator

import (
	"github.com/shopspring/decimal"
)

// StdDev is a rolling population standard deviation.
type StdDev struct {
	win *Window
	sma *SMA
}

// NewStdDev creates a StdDev over period values.
func NewStdDev(period int) *StdDev {
	return &StdDev{win: NewWindow(period), sma: NewSMA(period)}
}

// Update adds a value and returns the deviation, or zero until the window fills.
func (s *StdDev) Update(value decimal.Decimal) decimal.Decimal {
	s.win.Push(value)
	s.sma.Update(value)
	return s.Current()
}

// Current returns the deviation without adding data.
func (s *StdDev) Current() decimal.Decimal {
	if !s.win.Full() {
		return decimal.Zero
	}
	mean := s.sma.Current()
	var sumSquares decimal.Decimal
	for i := 0; i < s.win.Len(); i++ {
		diff := s.win.At(i).Sub(mean)
		sumSquares = sumSquares.Add(diff.Mul(diff))
	}
	return Sqrt(sumSquares.Div(decimal.NewFromInt(int64(s.win.Len()))))
}

// ZScore returns how many deviations v lies from the mean. Zero when not ready
// or when the deviation is zero.
func (s *StdDev) ZScore(v decimal.Decimal) decimal.Decimal {
	sd := s.Current()
	if sd.IsZero() {
		return decimal.Zero
	}
	return v.Sub(s.sma.Current()).Div(sd)
}

// Ready reports whether the window is full.
func (s *StdDev) Ready() bool { return s.win.Full() }

// Period returns the window size.
func (s *StdDev) Period() int { return s.win.Cap() }

// Mean returns the rolling mean.
func (s *StdDev) Mean() decimal.Decimal { return s.sma.Current() }

// Reset clears all data.
func (s *StdDev) Reset() {
	s.win.Reset()
	s.sma.Reset()
}

// Sqrt returns the square root of d to 8 decimal places using Newton's method.
// Non-positive inputs return zero.
func Sqrt(d decimal.Decimal) decimal.Decimal {
	if !d.IsPositive() {
		return decimal.Zero
	}

	two := decimal.NewFromInt(2)
	epsilon := decimal.New(1, -8)

	x := d.Div(two)
	if x.IsZero() {
		x = decimal.NewFromInt(1)
	}
	for range 100 {
		next := x.Add(d.Div(x)).Div(two)
		if next.Sub(x).Abs().LessThan(epsilon) {
			return next.Round(8)
		}
		x = next
	}
	return x.Round(8)
}
