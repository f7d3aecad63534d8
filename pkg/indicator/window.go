// Package indicator provides rolling-window price statistics.
package indicator

import (
	"github.com/shopspring/decimal"
)

// Window is a fixed-capacity ring of the most recent values.
type Window struct {
	buf   []decimal.Decimal
	start int
	n     int
}

// NewWindow creates a window holding up to size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{buf: make([]decimal.Decimal, size)}
}

// Push appends v, evicting the oldest value when full. It returns the evicted
// value and whether one was evicted.
func (w *Window) Push(v decimal.Decimal) (decimal.Decimal, bool) {
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = v
		w.n++
		return decimal.Zero, false
	}
	old := w.buf[w.start]
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
	return old, true
}

// Len returns the number of stored values.
func (w *Window) Len() int { return w.n }

// Cap returns the window size.
func (w *Window) Cap() int { return len(w.buf) }

// Full reports whether the window holds Cap values.
func (w *Window) Full() bool { return w.n == len(w.buf) }

// At returns the i-th value, oldest first.
func (w *Window) At(i int) decimal.Decimal {
	return w.buf[(w.start+i)%len(w.buf)]
}

// Oldest returns the oldest value, or zero when empty.
func (w *Window) Oldest() decimal.Decimal {
	if w.n == 0 {
		return decimal.Zero
	}
	return w.At(0)
}

// Latest returns the newest value, or zero when empty.
func (w *Window) Latest() decimal.Decimal {
	if w.n == 0 {
		return decimal.Zero
	}
	return w.At(w.n - 1)
}

// Max returns the largest stored value.
func (w *Window) Max() decimal.Decimal {
	if w.n == 0 {
		return decimal.Zero
	}
	out := w.At(0)
	for i := 1; i < w.n; i++ {
		out = decimal.Max(out, w.At(i))
	}
	return out
}

// Min returns the smallest stored value.
func (w *Window) Min() decimal.Decimal {
	if w.n == 0 {
		return decimal.Zero
	}
	out := w.At(0)
	for i := 1; i < w.n; i++ {
		out = decimal.Min(out, w.At(i))
	}
	return out
}

// ChangePct returns the percent change from the oldest to the newest value.
func (w *Window) ChangePct() decimal.Decimal {
	first := w.Oldest()
	if w.n < 2 || first.IsZero() {
		return decimal.Zero
	}
	return w.Latest().Sub(first).Div(first).Mul(decimal.NewFromInt(100))
}

// Values returns a copy of the stored values, oldest first.
func (w *Window) Values() []decimal.Decimal {
	out := make([]decimal.Decimal, w.n)
	for i := range out {
		out[i] = w.At(i)
	}
	return out
}

// Reset clears the window.
func (w *Window) Reset() {
	w.start, w.n = 0, 0
}
