package risk

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// FuzzMarginSizer tests sizing with random inputs.
func FuzzMarginSizer(f *testing.F) {
	f.Add("10000.00", "0.02", 5, "0.60")
	f.Add("1000.00", "0.01", 1, "0.10")
	f.Add("0.00", "0.00", 0, "0.00")
	f.Add("999999.99", "0.10", 125, "1.00")
	f.Add("50.00", "0.05", 20, "0.0001")

	f.Fuzz(func(t *testing.T, equityStr, riskStr string, leverage int, headroomStr string) {
		equity, err := decimal.NewFromString(equityStr)
		if err != nil || equity.IsNegative() {
			return
		}
		risk, err := decimal.NewFromString(riskStr)
		if err != nil || risk.IsNegative() || risk.GreaterThan(decimal.NewFromInt(1)) {
			return
		}
		headroom, err := decimal.NewFromString(headroomStr)
		if err != nil || headroom.IsNegative() || headroom.GreaterThan(decimal.NewFromInt(1)) {
			return
		}
		if leverage < -10 || leverage > 1000 {
			return
		}

		res := NewMarginSizer(DefaultMinNotional).Calculate(equity, risk, leverage, headroom)

		if res.MarginFraction.IsNegative() {
			t.Errorf("negative margin: %s", res.MarginFraction)
		}
		if res.MarginFraction.GreaterThan(headroom) {
			t.Errorf("margin %s exceeds headroom %s", res.MarginFraction, headroom)
		}
		if res.Valid && res.Notional.LessThan(DefaultMinNotional) {
			t.Errorf("valid result below min notional: %s", res.Notional)
		}
		if res.Leverage < 1 {
			t.Errorf("leverage %d < 1", res.Leverage)
		}
	})
}

// FuzzAllocatorSequence drives random evaluate/cancel/reconcile sequences and
// checks bucket invariants after every step.
func FuzzAllocatorSequence(f *testing.F) {
	f.Add([]byte{0, 0, 0, 1, 1, 2})
	f.Add([]byte{0, 1, 0, 1, 0, 1, 0, 1})
	f.Add([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 3, 1, 1})
	f.Add([]byte{1, 1, 2, 2, 3})

	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"}

	f.Fuzz(func(t *testing.T, ops []byte) {
		if len(ops) > 200 {
			return
		}
		ctx := context.Background()
		portfolio := newMockPortfolio("10000")
		alloc := newTestAllocator(t, "0.05", portfolio)

		var orders []*types.SizedOrder
		for i, op := range ops {
			sym := symbols[int(op>>2)%len(symbols)]
			switch op % 4 {
			case 0:
				if order, err := alloc.Evaluate(ctx, testSignal("trend-a", sym)); err == nil {
					orders = append(orders, order)
				}
			case 1:
				if len(orders) > 0 {
					alloc.Cancel(orders[i%len(orders)])
				}
			case 2:
				if len(orders) > 0 {
					portfolio.setPosition(orders[i%len(orders)].Symbol, "0")
					alloc.ReconcilePosition(ctx, orders[i%len(orders)])
				}
			case 3:
				alloc.Decay(decimal.RequireFromString("0.25"))
			}

			assertSymmetry(t, alloc)
			if n := alloc.OpenPositions("trend-a"); n < 0 || n > 3 {
				t.Fatalf("step %d: open positions %d out of range", i, n)
			}
		}

		for _, o := range orders {
			alloc.Cancel(o)
		}
		if !alloc.Buckets().Usage(BucketTrend).IsZero() {
			t.Errorf("usage after cancelling everything = %s, want 0", alloc.Buckets().Usage(BucketTrend))
		}
		if alloc.OpenPositions("trend-a") != 0 {
			t.Errorf("open positions after cancelling everything = %d", alloc.OpenPositions("trend-a"))
		}
	})
}
