package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/audit"
	"github.com/tathienbao/strategy-runtime/internal/broker/paper"
	"github.com/tathienbao/strategy-runtime/internal/risk"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// mockSink records audit writes.
type mockSink struct {
	mu         sync.Mutex
	executions []audit.ExecutionRecord
	leverage   []audit.LeverageEvent
}

func (m *mockSink) RecordUniverse(context.Context, audit.UniverseSnapshot) error { return nil }

func (m *mockSink) RecordExecution(_ context.Context, r audit.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, r)
	return nil
}

func (m *mockSink) RecordLeverage(_ context.Context, e audit.LeverageEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leverage = append(m.leverage, e)
	return nil
}

func (m *mockSink) Close() error { return nil }

// mockReserver counts releases for hand-built orders.
type mockReserver struct {
	mu         sync.Mutex
	cancels    int
	reconciles int
}

func (m *mockReserver) Cancel(*types.SizedOrder) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	return decimal.Zero
}

func (m *mockReserver) ReconcilePosition(context.Context, *types.SizedOrder) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconciles++
	return decimal.Zero, nil
}

type fixture struct {
	router  *paper.Router
	alloc   *risk.Allocator
	disp    *Dispatcher
	sink    *mockSink
	alerter *alerting.MockAlerter
}

// newFixture wires a paper router, a 0.60 trend bucket with futures strategy
// "trend-a" (risk 0.02, BTC at 5x) and spot strategy "spot-a".
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := paper.DefaultConfig()
	cfg.SlippageBps = decimal.Zero
	cfg.FeeBps = decimal.Zero
	router := paper.NewRouter(cfg, nil)
	if err := router.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	router.UpdatePrice("BTCUSDT", dec("100"))
	router.UpdatePrice("ETHUSDT", dec("50"))

	acfg := risk.DefaultAllocatorConfig()
	acfg.Leverage = risk.LeverageConfig{Overrides: map[string]int{"BTCUSDT": 5}}
	acfg.Strategies["trend-a"] = risk.StrategyConfig{
		Name:         "trend-a",
		Category:     risk.BucketTrend,
		Market:       types.MarketFutures,
		RiskPerTrade: dec("0.02"),
	}
	acfg.Strategies["spot-a"] = risk.StrategyConfig{
		Name:         "spot-a",
		Category:     risk.BucketScalp,
		Market:       types.MarketSpot,
		RiskPerTrade: dec("0.02"),
	}
	buckets := risk.NewBucketTracker(map[string]decimal.Decimal{
		risk.BucketTrend: dec("0.60"),
		risk.BucketScalp: dec("0.15"),
	})
	alloc := risk.NewAllocator(acfg, buckets, router.Portfolio(), nil)

	sink := &mockSink{}
	alerter := alerting.NewMockAlerter()
	disp := NewDispatcher(router, alloc, nil, WithAuditSink(sink), WithAlerter(alerter))

	return &fixture{router: router, alloc: alloc, disp: disp, sink: sink, alerter: alerter}
}

func (f *fixture) size(t *testing.T, strategy, symbol string, side types.Side, opts func(*types.Signal)) *types.SizedOrder {
	t.Helper()
	sig := types.Signal{
		ID:         "sig-" + symbol,
		Strategy:   strategy,
		Symbol:     symbol,
		Side:       side,
		Confidence: dec("0.8"),
	}
	if opts != nil {
		opts(&sig)
	}
	order, err := f.alloc.Evaluate(context.Background(), sig)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	return order
}

func TestDispatcher_FuturesFillWithProtection(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, func(s *types.Signal) {
		s.StopPrice = decimal.NewNullDecimal(dec("95"))
		s.TakeProfit = decimal.NewNullDecimal(dec("110"))
	})

	res, err := f.disp.Execute(context.Background(), *order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != types.ExecutionFilled {
		t.Fatalf("expected FILLED, got %s", res.Status)
	}
	if res.Order.AppliedLeverage == nil || *res.Order.AppliedLeverage != 5 {
		t.Errorf("expected applied leverage 5, got %v", res.Order.AppliedLeverage)
	}
	if !res.FilledQty.Equal(dec("2")) {
		t.Errorf("expected qty 2 (200 notional at 100), got %s", res.FilledQty)
	}
	if !res.StopAttached || !res.TakeProfitAttached {
		t.Errorf("expected both protections attached, stop=%v tp=%v", res.StopAttached, res.TakeProfitAttached)
	}
	if n := len(f.router.OpenOrders()); n != 2 {
		t.Errorf("expected 2 resting reduce-only orders, got %d", n)
	}
	for _, o := range f.router.OpenOrders() {
		if o.Side != types.SideShort {
			t.Errorf("protective order on %s side, want SHORT", o.Side)
		}
	}

	if usage := f.alloc.Buckets().Usage(risk.BucketTrend); !usage.Equal(dec("0.004")) {
		t.Errorf("expected reservation kept at 0.004 for open position, got %s", usage)
	}
	if len(f.sink.executions) != 1 || f.sink.executions[0].Status != "FILLED" {
		t.Errorf("expected one FILLED audit record, got %+v", f.sink.executions)
	}
	if len(f.sink.leverage) != 1 || f.sink.leverage[0].Mismatch {
		t.Errorf("expected one matching leverage event, got %+v", f.sink.leverage)
	}
	if f.alerter.Count() != 0 {
		t.Errorf("expected no alerts, got %d", f.alerter.Count())
	}
}

func TestDispatcher_LeverageMismatchRestoresReservation(t *testing.T) {
	f := newFixture(t)
	before := f.alloc.Buckets().Usage(risk.BucketTrend)

	f.router.ForceLeverage("BTCUSDT", 6)
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, nil)
	if *order.RequestedLeverage != 5 {
		t.Fatalf("expected requested leverage 5, got %d", *order.RequestedLeverage)
	}

	res, err := f.disp.Execute(context.Background(), *order)
	if !errors.Is(err, types.ErrLeverageMismatch) {
		t.Fatalf("expected ErrLeverageMismatch, got %v", err)
	}
	if res.Status != types.ExecutionLeverageMismatch {
		t.Errorf("expected LEVERAGE_MISMATCH, got %s", res.Status)
	}
	if after := f.alloc.Buckets().Usage(risk.BucketTrend); !after.Equal(before) {
		t.Errorf("expected usage restored to %s, got %s", before, after)
	}
	if n := f.alloc.OpenPositions("trend-a"); n != 0 {
		t.Errorf("expected 0 open positions, got %d", n)
	}
	if f.router.FillCount() != 0 {
		t.Error("no order should reach the venue after a mismatch")
	}
	if !f.alerter.HasEvent(alerting.EventLeverageMismatch) {
		t.Error("expected leverage_mismatch alert")
	}
	if len(f.sink.leverage) != 1 || !f.sink.leverage[0].Mismatch || f.sink.leverage[0].Applied != 6 {
		t.Errorf("expected mismatched leverage event, got %+v", f.sink.leverage)
	}

	if released := f.alloc.Cancel(order); !released.IsZero() {
		t.Errorf("second cancel released %s, want 0", released)
	}
}

func TestDispatcher_ReadsVenueLeverageWhenUnconfigured(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "ETHUSDT", types.SideLong, nil)
	if order.RequestedLeverage != nil {
		t.Fatalf("expected no requested leverage for ETH, got %d", *order.RequestedLeverage)
	}

	res, err := f.disp.Execute(context.Background(), *order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := paper.DefaultConfig().DefaultLeverage
	if res.Order.AppliedLeverage == nil || *res.Order.AppliedLeverage != want {
		t.Errorf("expected venue leverage %d, got %v", want, res.Order.AppliedLeverage)
	}
	if len(f.sink.leverage) != 0 {
		t.Errorf("read-back should not record a leverage change, got %d events", len(f.sink.leverage))
	}
}

func TestDispatcher_NonPositiveNotional(t *testing.T) {
	tests := []struct {
		name     string
		notional string
	}{
		{"zero", "0"},
		{"negative", "-10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			reserver := &mockReserver{}
			disp := NewDispatcher(f.router, reserver, nil)

			order := types.SizedOrder{
				ClientOrderID: "SR-x",
				Strategy:      "trend-a",
				Symbol:        "BTCUSDT",
				Side:          types.SideLong,
				Market:        types.MarketFutures,
				Notional:      dec(tt.notional),
			}
			res, err := disp.Execute(context.Background(), order)
			if !errors.Is(err, types.ErrInvalidOrderSize) {
				t.Fatalf("expected ErrInvalidOrderSize, got %v", err)
			}
			if res.Status != types.ExecutionRejected {
				t.Errorf("expected REJECTED, got %s", res.Status)
			}
			if reserver.cancels != 1 {
				t.Errorf("expected 1 cancel, got %d", reserver.cancels)
			}
			if f.router.FillCount() != 0 {
				t.Error("expected no venue order")
			}
		})
	}
}

func TestDispatcher_SpotSellWithoutInventory(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "spot-a", "ETHUSDT", types.SideShort, nil)

	res, err := f.disp.Execute(context.Background(), *order)
	if !errors.Is(err, types.ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}
	if res.Status != types.ExecutionRejected {
		t.Errorf("expected REJECTED, got %s", res.Status)
	}
	if !f.alloc.Buckets().Usage(risk.BucketScalp).IsZero() {
		t.Errorf("expected reservation released, usage %s", f.alloc.Buckets().Usage(risk.BucketScalp))
	}
	if f.router.FillCount() != 0 {
		t.Error("expected no venue order")
	}
	if f.alerter.HasEvent(alerting.EventExecutionFailed) {
		t.Error("an inventory rejection is not an execution failure alert")
	}
}

func TestDispatcher_SpotSellWithInventory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.router.MarketQuote(ctx, "ETHUSDT", types.SideLong, dec("500"), types.MarketSpot); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	order := f.size(t, "spot-a", "ETHUSDT", types.SideShort, nil)
	if order.RequestedLeverage != nil {
		t.Fatal("spot orders carry no leverage")
	}

	res, err := f.disp.Execute(ctx, *order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.FilledQty.Equal(dec("4")) {
		t.Errorf("expected 4 sold (200 at 50), got %s", res.FilledQty)
	}
	if res.StopAttached || res.TakeProfitAttached {
		t.Error("spot fills get no protective orders")
	}

	positions, _ := f.router.Positions(ctx)
	if !positions["ETHUSDT"].Quantity.Equal(dec("6")) {
		t.Errorf("expected 6 ETH left, got %s", positions["ETHUSDT"].Quantity)
	}
}

func TestDispatcher_ZeroFill(t *testing.T) {
	f := newFixture(t)
	f.router.UpdatePrice("BTCUSDT", dec("1000000000"))
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, nil)

	res, err := f.disp.Execute(context.Background(), *order)
	if !errors.Is(err, types.ErrZeroFill) {
		t.Fatalf("expected ErrZeroFill, got %v", err)
	}
	if res.Status != types.ExecutionFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if !f.alloc.Buckets().Usage(risk.BucketTrend).IsZero() {
		t.Error("expected reservation released after zero fill")
	}
	if !f.alerter.HasEvent(alerting.EventExecutionFailed) {
		t.Error("expected execution_failed alert")
	}
}

func TestDispatcher_SubmissionError(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "SOLUSDT", types.SideLong, nil)

	res, err := f.disp.Execute(context.Background(), *order)
	if !errors.Is(err, types.ErrExecutionFailure) {
		t.Fatalf("expected ErrExecutionFailure, got %v", err)
	}
	if res.Status != types.ExecutionFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if !f.alloc.Buckets().Usage(risk.BucketTrend).IsZero() {
		t.Error("expected reservation released after submission error")
	}
	if len(f.sink.executions) != 1 || f.sink.executions[0].Error == "" {
		t.Errorf("expected failed audit record with error text, got %+v", f.sink.executions)
	}
}

func TestDispatcher_LeverageRequestError(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, nil)
	f.router.Disconnect()

	res, err := f.disp.Execute(context.Background(), *order)
	if !errors.Is(err, types.ErrExecutionFailure) {
		t.Fatalf("expected ErrExecutionFailure, got %v", err)
	}
	if errors.Is(err, types.ErrLeverageMismatch) {
		t.Error("a failed request is not a mismatch")
	}
	if res.Status != types.ExecutionFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if !f.alloc.Buckets().Usage(risk.BucketTrend).IsZero() {
		t.Error("expected reservation released")
	}
}

func TestDispatcher_ProtectionFailureKeepsFill(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, func(s *types.Signal) {
		s.StopPrice = decimal.NewNullDecimal(decimal.Zero)
		s.TakeProfit = decimal.NewNullDecimal(dec("120"))
	})

	res, err := f.disp.Execute(context.Background(), *order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != types.ExecutionFilled {
		t.Fatalf("expected FILLED, got %s", res.Status)
	}
	if res.StopAttached {
		t.Error("expected stop placement to fail")
	}
	if !res.TakeProfitAttached {
		t.Error("expected take-profit to attach")
	}
	if !f.alerter.HasEvent(alerting.EventProtectionFailed) {
		t.Error("expected protection_failed alert")
	}

	positions, _ := f.router.Positions(context.Background())
	if !positions["BTCUSDT"].Quantity.Equal(dec("2")) {
		t.Errorf("fill must not be unwound, position %s", positions["BTCUSDT"].Quantity)
	}
}

func TestDispatcher_MarginShortNeedsNoInventory(t *testing.T) {
	f := newFixture(t)
	margin := types.MarketMargin
	order := f.size(t, "spot-a", "ETHUSDT", types.SideShort, func(s *types.Signal) {
		s.Market = &margin
	})

	res, err := f.disp.Execute(context.Background(), *order)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Status != types.ExecutionFilled {
		t.Errorf("expected FILLED, got %s", res.Status)
	}
	if res.Order.AppliedLeverage != nil {
		t.Errorf("margin orders carry no applied leverage, got %d", *res.Order.AppliedLeverage)
	}
}

func TestDispatcher_CancelledContextStillReleases(t *testing.T) {
	f := newFixture(t)
	order := f.size(t, "trend-a", "BTCUSDT", types.SideLong, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.disp.Execute(ctx, *order)
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
	if !f.alloc.Buckets().Usage(risk.BucketTrend).IsZero() {
		t.Error("expected reservation released on cancelled context")
	}
	if len(f.sink.executions) != 1 {
		t.Errorf("expected audit record despite cancellation, got %d", len(f.sink.executions))
	}
}

func TestExecutorFunc(t *testing.T) {
	called := false
	var e Executor = ExecutorFunc(func(ctx context.Context, o types.SizedOrder) (*types.ExecutionResult, error) {
		called = true
		return &types.ExecutionResult{Order: o, Status: types.ExecutionFilled}, nil
	})
	res, err := e.Execute(context.Background(), types.SizedOrder{Symbol: "BTCUSDT"})
	if err != nil || !called || res.Order.Symbol != "BTCUSDT" {
		t.Errorf("ExecutorFunc did not delegate: %v %v", res, err)
	}
}
