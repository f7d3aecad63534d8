package indicator

import (
	"testing"
)

func TestWindow_PushEvicts(t *testing.T) {
	w := NewWindow(3)
	for i, v := range []float64{1, 2, 3} {
		if _, evicted := w.Push(dec(v)); evicted {
			t.Fatalf("push %d evicted before full", i)
		}
	}
	if !w.Full() {
		t.Fatal("window should be full")
	}

	old, evicted := w.Push(dec(4))
	if !evicted || !old.Equal(dec(1)) {
		t.Fatalf("evicted = %s,%v, want 1,true", old, evicted)
	}

	got := w.Values()
	want := []float64{2, 3, 4}
	for i := range want {
		if !got[i].Equal(dec(want[i])) {
			t.Errorf("Values[%d] = %s, want %v", i, got[i], want[i])
		}
	}
	if !w.Oldest().Equal(dec(2)) || !w.Latest().Equal(dec(4)) {
		t.Errorf("Oldest/Latest = %s/%s, want 2/4", w.Oldest(), w.Latest())
	}
}

func TestWindow_Stats(t *testing.T) {
	tests := []struct {
		name            string
		values          []float64
		max, min, chPct float64
	}{
		{"empty", nil, 0, 0, 0},
		{"single", []float64{5}, 5, 5, 0},
		{"rising", []float64{100, 90, 120, 110}, 120, 90, 10},
		{"falling", []float64{200, 150}, 200, 150, -25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(10)
			for _, v := range tt.values {
				w.Push(dec(v))
			}
			if !w.Max().Equal(dec(tt.max)) {
				t.Errorf("Max = %s, want %v", w.Max(), tt.max)
			}
			if !w.Min().Equal(dec(tt.min)) {
				t.Errorf("Min = %s, want %v", w.Min(), tt.min)
			}
			if !w.ChangePct().Equal(dec(tt.chPct)) {
				t.Errorf("ChangePct = %s, want %v", w.ChangePct(), tt.chPct)
			}
		})
	}
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(2)
	w.Push(dec(1))
	w.Push(dec(2))
	w.Push(dec(3))
	w.Reset()

	if w.Len() != 0 || w.Full() {
		t.Fatalf("Len=%d Full=%v after reset", w.Len(), w.Full())
	}
	w.Push(dec(9))
	if !w.Oldest().Equal(dec(9)) {
		t.Errorf("Oldest = %s, want 9", w.Oldest())
	}
}
