package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func curveOf(start time.Time, step time.Duration, equities ...string) []EquityPoint {
	points := make([]EquityPoint, len(equities))
	for i, e := range equities {
		points[i] = EquityPoint{
			Timestamp: start.Add(time.Duration(i) * step),
			Equity:    decimal.RequireFromString(e),
		}
	}
	return points
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMetrics_MaxDrawdown(t *testing.T) {
	result := &Result{EquityCurve: curveOf(day0, time.Hour, "10000", "11000", "9900", "10500")}

	// 11000 -> 9900 = 10%
	got := NewMetrics(result, decimal.Zero).MaxDrawdown()
	if !got.Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("MaxDrawdown = %s, want 0.1", got)
	}
}

func TestMetrics_MaxDrawdownEmpty(t *testing.T) {
	m := NewMetrics(&Result{}, decimal.Zero)
	if !m.MaxDrawdown().IsZero() {
		t.Errorf("MaxDrawdown = %s, want 0", m.MaxDrawdown())
	}
	if !m.CalmarRatio().IsZero() {
		t.Errorf("CalmarRatio = %s, want 0", m.CalmarRatio())
	}
}

func TestMetrics_SharpeRatio(t *testing.T) {
	t.Run("rising curve is positive", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, 24*time.Hour, "10000", "10100", "10150", "10300", "10320")}
		got := NewMetrics(result, decimal.Zero).SharpeRatio()
		if !got.IsPositive() {
			t.Errorf("SharpeRatio = %s, want > 0", got)
		}
	})

	t.Run("flat curve is zero", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, 24*time.Hour, "10000", "10000", "10000")}
		if got := NewMetrics(result, decimal.Zero).SharpeRatio(); !got.IsZero() {
			t.Errorf("SharpeRatio = %s, want 0", got)
		}
	})

	t.Run("single day is zero", func(t *testing.T) {
		// Intraday points collapse into one daily close.
		result := &Result{EquityCurve: curveOf(day0, time.Minute, "10000", "10100", "9900", "10200")}
		if got := NewMetrics(result, decimal.Zero).SharpeRatio(); !got.IsZero() {
			t.Errorf("SharpeRatio = %s, want 0", got)
		}
	})
}

func TestMetrics_SortinoRatio(t *testing.T) {
	t.Run("no losing days is zero", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, 24*time.Hour, "10000", "10100", "10200", "10300")}
		if got := NewMetrics(result, decimal.Zero).SortinoRatio(); !got.IsZero() {
			t.Errorf("SortinoRatio = %s, want 0", got)
		}
	})

	t.Run("mixed days", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, 24*time.Hour, "10000", "10400", "10300", "10700", "10500", "11000")}
		got := NewMetrics(result, decimal.Zero).SortinoRatio()
		if !got.IsPositive() {
			t.Errorf("SortinoRatio = %s, want > 0", got)
		}
	})
}

func TestMetrics_DailyReturnsUseLastPointPerDay(t *testing.T) {
	result := &Result{EquityCurve: []EquityPoint{
		{Timestamp: day0, Equity: decimal.NewFromInt(10000)},
		{Timestamp: day0.Add(12 * time.Hour), Equity: decimal.NewFromInt(10500)},
		{Timestamp: day0.Add(30 * time.Hour), Equity: decimal.NewFromInt(11550)},
	}}

	returns := NewMetrics(result, decimal.Zero).dailyReturns()
	if len(returns) != 1 {
		t.Fatalf("len(returns) = %d, want 1", len(returns))
	}
	// 10500 -> 11550
	if !returns[0].Equal(decimal.RequireFromString("0.1")) {
		t.Errorf("return = %s, want 0.1", returns[0])
	}
}

func TestMetrics_AnnualizedReturn(t *testing.T) {
	t.Run("short span returns total", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, time.Hour, "10000", "10500")}
		got := NewMetrics(result, decimal.Zero).AnnualizedReturn()
		if !got.Equal(decimal.RequireFromString("0.05")) {
			t.Errorf("AnnualizedReturn = %s, want 0.05", got)
		}
	})

	t.Run("one year", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, 365*24*time.Hour, "10000", "12000")}
		got := NewMetrics(result, decimal.Zero).AnnualizedReturn()
		if got.Sub(decimal.RequireFromString("0.2")).Abs().GreaterThan(decimal.RequireFromString("0.0001")) {
			t.Errorf("AnnualizedReturn = %s, want ~0.2", got)
		}
	})

	t.Run("single point is zero", func(t *testing.T) {
		result := &Result{EquityCurve: curveOf(day0, time.Hour, "10000")}
		if got := NewMetrics(result, decimal.Zero).AnnualizedReturn(); !got.IsZero() {
			t.Errorf("AnnualizedReturn = %s, want 0", got)
		}
	})
}

func TestMetrics_Rates(t *testing.T) {
	tests := []struct {
		name      string
		result    Result
		wantFill  string
		wantRejct string
	}{
		{"nothing processed", Result{}, "0", "0"},
		{"half filled", Result{Processed: 10, Executed: 5, Rejected: 3}, "0.5", "0.3"},
		{"all rejected", Result{Processed: 4, Rejected: 4}, "0", "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMetrics(&tt.result, decimal.Zero)
			if got := m.FillRate(); !got.Equal(decimal.RequireFromString(tt.wantFill)) {
				t.Errorf("FillRate = %s, want %s", got, tt.wantFill)
			}
			if got := m.RejectionRate(); !got.Equal(decimal.RequireFromString(tt.wantRejct)) {
				t.Errorf("RejectionRate = %s, want %s", got, tt.wantRejct)
			}
		})
	}
}
