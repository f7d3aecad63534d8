package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBucketTracker_ApplyRelease(t *testing.T) {
	b := NewBucketTracker(map[string]decimal.Decimal{"trend": dec("0.60")})

	b.Apply("trend", dec("0.25"))
	if !b.Usage("trend").Equal(dec("0.25")) {
		t.Errorf("Usage() = %s, want 0.25", b.Usage("trend"))
	}
	if !b.Headroom("trend").Equal(dec("0.35")) {
		t.Errorf("Headroom() = %s, want 0.35", b.Headroom("trend"))
	}
	if !b.TotalExposure().Equal(dec("0.25")) {
		t.Errorf("TotalExposure() = %s, want 0.25", b.TotalExposure())
	}

	released := b.Release("trend", dec("0.40"))
	if !released.Equal(dec("0.25")) {
		t.Errorf("Release() = %s, want 0.25 (floored)", released)
	}
	if !b.Usage("trend").IsZero() {
		t.Errorf("Usage() after over-release = %s, want 0", b.Usage("trend"))
	}
	if !b.TotalExposure().IsZero() {
		t.Errorf("TotalExposure() = %s, want 0", b.TotalExposure())
	}
}

func TestBucketTracker_IgnoresNonPositive(t *testing.T) {
	b := NewBucketTracker(map[string]decimal.Decimal{"scalp": dec("0.10")})
	b.Apply("scalp", dec("-0.05"))
	b.Apply("scalp", decimal.Zero)
	if !b.Usage("scalp").IsZero() {
		t.Errorf("Usage() = %s, want 0", b.Usage("scalp"))
	}
	if got := b.Release("scalp", dec("-1")); !got.IsZero() {
		t.Errorf("Release(-1) = %s, want 0", got)
	}
}

func TestBucketTracker_UnknownBucketHasNoHeadroom(t *testing.T) {
	b := NewBucketTracker(nil)
	if !b.Headroom("missing").IsZero() {
		t.Errorf("Headroom() = %s, want 0", b.Headroom("missing"))
	}
	if !b.Budget("missing").IsZero() {
		t.Errorf("Budget() = %s, want 0", b.Budget("missing"))
	}
}

func TestBucketTracker_HeadroomInvariant(t *testing.T) {
	b := NewBucketTracker(map[string]decimal.Decimal{"momentum": dec("0.25")})
	steps := []struct {
		apply    bool
		fraction string
	}{
		{true, "0.05"},
		{true, "0.10"},
		{false, "0.02"},
		{true, "0.10"},
		{false, "0.50"},
		{true, "0.01"},
	}

	for i, s := range steps {
		if s.apply {
			f := decimal.Min(dec(s.fraction), b.Headroom("momentum"))
			b.Apply("momentum", f)
		} else {
			b.Release("momentum", dec(s.fraction))
		}
		usage := b.Usage("momentum")
		if usage.IsNegative() {
			t.Fatalf("step %d: usage %s < 0", i, usage)
		}
		if sum := usage.Add(b.Headroom("momentum")); !sum.Equal(b.Budget("momentum")) {
			t.Fatalf("step %d: usage+headroom = %s, want %s", i, sum, b.Budget("momentum"))
		}
	}
}

func TestBucketTracker_Decay(t *testing.T) {
	b := NewBucketTracker(map[string]decimal.Decimal{"trend": dec("0.6"), "event": dec("0.1")})
	b.Apply("trend", dec("0.4"))
	b.Apply("event", dec("0.1"))

	b.Decay(dec("0.5"))
	if !b.Usage("trend").Equal(dec("0.2")) {
		t.Errorf("trend usage = %s, want 0.2", b.Usage("trend"))
	}
	if !b.Usage("event").Equal(dec("0.05")) {
		t.Errorf("event usage = %s, want 0.05", b.Usage("event"))
	}
	if !b.TotalExposure().Equal(dec("0.25")) {
		t.Errorf("TotalExposure() = %s, want 0.25", b.TotalExposure())
	}

	b.Decay(decimal.Zero)
	b.Decay(dec("1.5"))
	if !b.Usage("trend").Equal(dec("0.2")) {
		t.Errorf("out-of-range factor changed usage to %s", b.Usage("trend"))
	}
}

func TestBucketTracker_Snapshot(t *testing.T) {
	b := NewBucketTracker(DefaultBucketBudgets())
	b.Apply(BucketScalp, dec("0.05"))

	snap := b.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("len(Snapshot()) = %d, want 4", len(snap))
	}
	want := []string{BucketEvent, BucketMomentum, BucketScalp, BucketTrend}
	for i, name := range want {
		if snap[i].Name != name {
			t.Errorf("snap[%d].Name = %s, want %s", i, snap[i].Name, name)
		}
	}
	if !snap[2].Headroom.Equal(dec("0.10")) {
		t.Errorf("scalp headroom = %s, want 0.10", snap[2].Headroom)
	}
}

func TestDefaultBucketBudgets_SumWithinEquity(t *testing.T) {
	sum := decimal.Zero
	for _, b := range DefaultBucketBudgets() {
		sum = sum.Add(b)
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		t.Errorf("default budgets sum to %s, want <= 1", sum)
	}
}

func TestMarginSizer_Calculate(t *testing.T) {
	s := NewMarginSizer(DefaultMinNotional)
	equity := dec("10000")

	tests := []struct {
		name       string
		risk       string
		leverage   int
		headroom   string
		wantValid  bool
		wantReason RejectReason
		wantMargin string
		wantNotl   string
	}{
		{"leveraged", "0.02", 5, "0.60", true, "", "0.004", "200"},
		{"clamped to headroom", "0.02", 5, "0.002", true, "", "0.002", "100"},
		{"unleveraged", "0.02", 1, "0.60", true, "", "0.02", "200"},
		{"leverage below one", "0.02", 0, "0.60", true, "", "0.02", "200"},
		{"min notional inclusive", "0.02", 5, "0.0001", true, "", "0.0001", "5"},
		{"below min notional", "0.02", 5, "0.00009", false, ReasonBelowMinNotional, "0.00009", "4.5"},
		{"zero headroom", "0.02", 5, "0", false, ReasonZeroHeadroom, "0", "0"},
		{"zero risk", "0", 5, "0.5", false, ReasonNonPositiveMargin, "0", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Calculate(equity, dec(tt.risk), tt.leverage, dec(tt.headroom))
			if res.Valid != tt.wantValid {
				t.Fatalf("Valid = %v, want %v (reason %s)", res.Valid, tt.wantValid, res.RejectReason)
			}
			if res.RejectReason != tt.wantReason {
				t.Errorf("RejectReason = %q, want %q", res.RejectReason, tt.wantReason)
			}
			if !res.MarginFraction.Equal(dec(tt.wantMargin)) {
				t.Errorf("MarginFraction = %s, want %s", res.MarginFraction, tt.wantMargin)
			}
			if !res.Notional.Equal(dec(tt.wantNotl)) {
				t.Errorf("Notional = %s, want %s", res.Notional, tt.wantNotl)
			}
		})
	}
}
