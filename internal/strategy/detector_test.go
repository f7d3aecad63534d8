package strategy

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// feed runs prices through det and returns every detection with its index.
func feed(det Detector, prices ...float64) map[int]Detection {
	out := make(map[int]Detection)
	for i, p := range prices {
		if got, ok := det.Update(d(p)); ok {
			out[i] = got
		}
	}
	return out
}

func TestCrossover(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   map[int]types.Side
	}{
		{"warming up", []float64{10, 11}, map[int]types.Side{}},
		{"no cross while trending", []float64{10, 11, 12, 13, 14}, map[int]types.Side{}},
		// sma2 vs sma3: idx2 fast 11.5 > slow 11, idx3 fast 10.5 < slow 10.67
		{"cross down", []float64{10, 11, 12, 9, 7}, map[int]types.Side{3: types.SideShort}},
		// idx2 fast 10.5 < slow 11, idx3 fast 11.5 > slow 11.33
		{"cross up", []float64{12, 11, 10, 13, 15}, map[int]types.Side{3: types.SideLong}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(NewCrossover(2, 3), tt.prices...)
			if len(got) != len(tt.want) {
				t.Fatalf("detections = %v, want %v", got, tt.want)
			}
			for i, side := range tt.want {
				if got[i].Side != side {
					t.Errorf("detection %d side = %v, want %v", i, got[i].Side, side)
				}
			}
		})
	}
}

func TestMomentum(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   map[int]types.Side
	}{
		{"not full", []float64{100}, map[int]types.Side{}},
		{"threshold inclusive up", []float64{100, 101}, map[int]types.Side{1: types.SideLong}},
		{"below threshold", []float64{100, 100.5}, map[int]types.Side{}},
		{"down move", []float64{100, 98}, map[int]types.Side{1: types.SideShort}},
		{"rolling window", []float64{100, 100, 103}, map[int]types.Side{2: types.SideLong}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(NewMomentum(2, d(1)), tt.prices...)
			if len(got) != len(tt.want) {
				t.Fatalf("detections = %v, want %v", got, tt.want)
			}
			for i, side := range tt.want {
				if got[i].Side != side {
					t.Errorf("detection %d side = %v, want %v", i, got[i].Side, side)
				}
			}
		})
	}
}

func TestMomentum_Confidence(t *testing.T) {
	det := NewMomentum(2, d(1))
	det.Update(d(100))
	got, ok := det.Update(d(101))
	if !ok {
		t.Fatal("expected detection")
	}
	if !got.Confidence.Equal(d(0.5)) {
		t.Errorf("confidence = %s, want 0.5 (1%% move / 2x threshold)", got.Confidence)
	}

	det.Reset()
	det.Update(d(100))
	got, _ = det.Update(d(110))
	if !got.Confidence.Equal(d(1)) {
		t.Errorf("confidence = %s, want capped at 1", got.Confidence)
	}
}

func TestMeanReversion(t *testing.T) {
	// mean 100, stddev ~1.63 over the first three prices; bands at 2z ~ 96.73/103.27
	t.Run("long below lower band", func(t *testing.T) {
		got := feed(NewMeanReversion(3, d(2)), 98, 100, 102, 90)
		if len(got) != 1 || got[3].Side != types.SideLong {
			t.Fatalf("detections = %v, want long at 3", got)
		}
	})

	t.Run("short above upper band", func(t *testing.T) {
		got := feed(NewMeanReversion(3, d(2)), 98, 100, 102, 110)
		if len(got) != 1 || got[3].Side != types.SideShort {
			t.Fatalf("detections = %v, want short at 3", got)
		}
	})

	t.Run("no repeat until back inside bands", func(t *testing.T) {
		det := NewMeanReversion(3, d(2))
		feed(det, 100, 101, 99)
		if _, ok := det.Update(d(80)); !ok {
			t.Fatal("expected first long")
		}
		if _, ok := det.Update(d(60)); ok {
			t.Error("repeat long without re-arming")
		}
	})

	t.Run("flat prices never trigger", func(t *testing.T) {
		if got := feed(NewMeanReversion(3, d(2)), 100, 100, 100, 100, 100); len(got) != 0 {
			t.Errorf("detections = %v, want none", got)
		}
	})
}

func TestBreakout(t *testing.T) {
	tests := []struct {
		name   string
		prices []float64
		want   map[int]types.Side
	}{
		{"warming up", []float64{100, 101, 150}, map[int]types.Side{}},
		{"breaks high", []float64{100, 101, 102, 110}, map[int]types.Side{3: types.SideLong}},
		{"breaks low", []float64{100, 101, 102, 90}, map[int]types.Side{3: types.SideShort}},
		{"within buffer", []float64{100, 101, 102, 102.05}, map[int]types.Side{}},
		// range [101,110] after the first breakout, so 111 breaks again
		{"new range re-arms", []float64{100, 101, 102, 110, 111}, map[int]types.Side{3: types.SideLong, 4: types.SideLong}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := feed(NewBreakout(3, d(0.1)), tt.prices...)
			if len(got) != len(tt.want) {
				t.Fatalf("detections = %v, want %v", got, tt.want)
			}
			for i, side := range tt.want {
				if got[i].Side != side {
					t.Errorf("detection %d side = %v, want %v", i, got[i].Side, side)
				}
			}
		})
	}
}

func TestBreakout_SameRangeSignalsOnce(t *testing.T) {
	det := NewBreakout(3, d(0))
	feed(det, 100, 100, 100)
	if _, ok := det.Update(d(105)); !ok {
		t.Fatal("expected breakout")
	}
	// range is now [100,105]; price stays at the new high, no new breakout
	if _, ok := det.Update(d(105)); ok {
		t.Error("breakout repeated at range high")
	}
}

func TestNewDetectorFactory(t *testing.T) {
	for _, c := range Categories {
		t.Run(string(c), func(t *testing.T) {
			f, err := NewDetectorFactory(c, DefaultDetectorConfig(c))
			if err != nil {
				t.Fatalf("default config rejected: %v", err)
			}
			if f() == f() {
				t.Error("factory must return fresh state")
			}
		})
	}

	bad := []struct {
		c   Category
		cfg DetectorConfig
	}{
		{CategoryTrend, DetectorConfig{FastPeriod: 5, SlowPeriod: 5}},
		{CategoryMomentum, DetectorConfig{Window: 10}},
		{CategoryScalp, DetectorConfig{Window: 1, EntryZ: d(2)}},
		{CategoryEvent, DetectorConfig{Lookback: 10, BufferPct: d(-1)}},
		{Category("arbitrage"), DetectorConfig{}},
	}
	for _, b := range bad {
		if _, err := NewDetectorFactory(b.c, b.cfg); !errors.Is(err, types.ErrInvalidConfig) {
			t.Errorf("%s %+v: error = %v, want ErrInvalidConfig", b.c, b.cfg, err)
		}
	}
}

func TestParseCategory(t *testing.T) {
	if c, err := ParseCategory(" Scalp "); err != nil || c != CategoryScalp {
		t.Errorf("ParseCategory = %v, %v", c, err)
	}
	if _, err := ParseCategory("grid"); !errors.Is(err, types.ErrInvalidConfig) {
		t.Errorf("unknown category error = %v", err)
	}
}
