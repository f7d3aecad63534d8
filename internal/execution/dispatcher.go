package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/audit"
	"github.com/tathienbao/strategy-runtime/internal/broker"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

var _ Executor = (*Dispatcher)(nil)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuditSink records every outcome and leverage check to sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(d *Dispatcher) {
		if sink != nil {
			d.sink = sink
		}
	}
}

// WithAlerter raises leverage and execution alerts through a.
func WithAlerter(a alerting.Alerter) Option {
	return func(d *Dispatcher) { d.alerter = a }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r *metrics.Recorder) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.recorder = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher executes sized orders against an OrderRouter. Every failure
// path releases the order's reservation before returning.
type Dispatcher struct {
	router   broker.OrderRouter
	reserver Reserver
	sink     audit.Sink
	alerter  alerting.Alerter
	recorder *metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(router broker.OrderRouter, reserver Reserver, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		router:   router,
		reserver: reserver,
		sink:     audit.Nop{},
		recorder: metrics.NewRecorder(),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs one order through leverage resolution, inventory checks,
// submission and protective order placement.
func (d *Dispatcher) Execute(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveExecution()

	if !order.Notional.IsPositive() {
		return d.fail(ctx, order, types.ExecutionRejected,
			fmt.Errorf("%w: notional %s", types.ErrInvalidOrderSize, order.Notional))
	}

	// Only spot sells need held inventory. Futures shorts are native and
	// margin sells borrow the base asset, so neither is checked.
	switch order.Market {
	case types.MarketFutures:
		return d.executeFutures(ctx, order)
	case types.MarketSpot:
		return d.executeSpot(ctx, order)
	case types.MarketMargin:
		return d.executeMargin(ctx, order)
	default:
		return d.fail(ctx, order, types.ExecutionRejected,
			fmt.Errorf("%w: unsupported market %s", types.ErrExecutionFailure, order.Market))
	}
}

func (d *Dispatcher) executeFutures(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error) {
	resolved, err := d.resolveLeverage(ctx, order)
	if err != nil {
		status := types.ExecutionFailed
		if errors.Is(err, types.ErrLeverageMismatch) {
			status = types.ExecutionLeverageMismatch
		}
		return d.fail(ctx, order, status, err)
	}
	order = resolved

	fill, err := d.submit(ctx, order)
	if err != nil {
		return d.fail(ctx, order, types.ExecutionFailed, err)
	}

	res := d.filled(order, fill)
	d.protect(ctx, order, fill, res)
	return d.finish(ctx, res)
}

func (d *Dispatcher) executeSpot(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error) {
	if order.Side == types.SideShort {
		if err := d.checkInventory(ctx, order); err != nil {
			return d.fail(ctx, order, types.ExecutionRejected, err)
		}
	}

	fill, err := d.submit(ctx, order)
	if err != nil {
		return d.fail(ctx, order, types.ExecutionFailed, err)
	}
	return d.finish(ctx, d.filled(order, fill))
}

// executeMargin submits directly; borrowing covers sells and the venue
// manages margin leverage outside the order.
func (d *Dispatcher) executeMargin(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error) {
	fill, err := d.submit(ctx, order)
	if err != nil {
		return d.fail(ctx, order, types.ExecutionFailed, err)
	}
	return d.finish(ctx, d.filled(order, fill))
}

// resolveLeverage requests the configured leverage, or reads back the
// venue's current setting when none is configured.
func (d *Dispatcher) resolveLeverage(ctx context.Context, order types.SizedOrder) (types.SizedOrder, error) {
	exchange := d.router.Exchange()

	if order.RequestedLeverage == nil {
		risks, err := exchange.PositionRisk(ctx, order.Market)
		if err != nil {
			return order, fmt.Errorf("%w: read leverage: %v", types.ErrExecutionFailure, err)
		}
		for _, pr := range risks {
			if pr.Symbol == order.Symbol && pr.Leverage > 0 {
				d.recorder.RecordLeverageApplied(order.Symbol, pr.Leverage)
				return order.WithAppliedLeverage(pr.Leverage), nil
			}
		}
		d.logger.Warn("venue reported no leverage, assuming 1",
			"client_order_id", order.ClientOrderID,
			"symbol", order.Symbol,
		)
		return order.WithAppliedLeverage(1), nil
	}

	requested := *order.RequestedLeverage
	d.recorder.RecordLeverageConfigured()

	applied, err := exchange.FuturesChangeLeverage(ctx, order.Symbol, requested)
	if err != nil {
		return order, fmt.Errorf("%w: set leverage: %v", types.ErrExecutionFailure, err)
	}
	d.recorder.RecordLeverageApplied(order.Symbol, applied)

	mismatch := applied != requested
	d.audit(ctx, "leverage", func(ctx context.Context) error {
		return d.sink.RecordLeverage(ctx, audit.LeverageEvent{
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Requested:     requested,
			Applied:       applied,
			Mismatch:      mismatch,
			At:            d.now(),
		})
	})

	if mismatch {
		d.recorder.RecordLeverageMismatch()
		d.alert(ctx, alerting.EventLeverageMismatch, "venue leverage differs from requested",
			"symbol", order.Symbol,
			"requested", requested,
			"applied", applied,
			"client_order_id", order.ClientOrderID,
		)
		return order.WithAppliedLeverage(applied),
			fmt.Errorf("%w: %s requested %d applied %d", types.ErrLeverageMismatch, order.Symbol, requested, applied)
	}

	return order.WithAppliedLeverage(applied), nil
}

// checkInventory requires the held base quantity to cover the sell notional.
func (d *Dispatcher) checkInventory(ctx context.Context, order types.SizedOrder) error {
	positions, err := d.router.Portfolio().Positions(ctx)
	if err != nil {
		return fmt.Errorf("%w: read positions: %v", types.ErrExecutionFailure, err)
	}
	pos, ok := positions[order.Symbol]
	if !ok || pos.Value().LessThan(order.Notional) {
		held := pos.Value()
		return fmt.Errorf("%w: %s holds %s, sell needs %s", types.ErrInsufficientInventory, order.Symbol, held, order.Notional)
	}
	return nil
}

func (d *Dispatcher) submit(ctx context.Context, order types.SizedOrder) (*broker.Fill, error) {
	fill, err := d.router.MarketQuote(ctx, order.Symbol, order.Side, order.Notional, order.Market)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrExecutionFailure, err)
	}
	if fill == nil || !fill.FilledQty.IsPositive() {
		return nil, fmt.Errorf("%w: %s %s", types.ErrZeroFill, order.Symbol, order.Notional)
	}
	return fill, nil
}

func (d *Dispatcher) filled(order types.SizedOrder, fill *broker.Fill) *types.ExecutionResult {
	d.logger.Info("order filled",
		"client_order_id", order.ClientOrderID,
		"strategy", order.Strategy,
		"symbol", order.Symbol,
		"side", order.Side.String(),
		"market", order.Market.String(),
		"qty", fill.FilledQty,
		"avg_price", fill.AvgPrice,
		"leverage", order.Leverage(),
	)
	return &types.ExecutionResult{
		Order:     order,
		Status:    types.ExecutionFilled,
		FilledQty: fill.FilledQty,
		AvgPrice:  fill.AvgPrice,
	}
}

// protect attaches reduce-only stop and take-profit orders on the closing
// side. Failures are logged and alerted but never unwind the fill.
func (d *Dispatcher) protect(ctx context.Context, order types.SizedOrder, fill *broker.Fill, res *types.ExecutionResult) {
	closing := order.Side.Opposite()

	if order.StopPrice.Valid {
		err := d.router.AmendStopReduceOnly(ctx, order.Symbol, closing, order.StopPrice.Decimal, fill.FilledQty)
		if err != nil {
			d.protectionFailed(ctx, order, "stop", err)
		} else {
			res.StopAttached = true
		}
	}

	if order.TakeProfit.Valid {
		err := d.router.PlaceReduceOnlyLimit(ctx, order.Symbol, closing, fill.FilledQty, order.TakeProfit.Decimal)
		if err != nil {
			d.protectionFailed(ctx, order, "take_profit", err)
		} else {
			res.TakeProfitAttached = true
		}
	}
}

func (d *Dispatcher) protectionFailed(ctx context.Context, order types.SizedOrder, kind string, err error) {
	d.logger.Warn("protective order failed",
		"client_order_id", order.ClientOrderID,
		"symbol", order.Symbol,
		"kind", kind,
		"err", err,
	)
	d.recorder.RecordError("protection_" + kind)
	d.alert(ctx, alerting.EventProtectionFailed, "protective order failed",
		"symbol", order.Symbol,
		"kind", kind,
		"client_order_id", order.ClientOrderID,
		"error", err.Error(),
	)
}

// finish trims stale reservations after a fill and records the outcome.
func (d *Dispatcher) finish(ctx context.Context, res *types.ExecutionResult) (*types.ExecutionResult, error) {
	if _, err := d.reserver.ReconcilePosition(ctx, &res.Order); err != nil {
		d.logger.Warn("reconcile after fill failed",
			"client_order_id", res.Order.ClientOrderID,
			"err", err,
		)
	}
	res.FinishedAt = d.now()
	d.record(ctx, res)
	return res, nil
}

// fail releases the reservation and records a non-fill outcome.
func (d *Dispatcher) fail(ctx context.Context, order types.SizedOrder, status types.ExecutionStatus, err error) (*types.ExecutionResult, error) {
	released := d.reserver.Cancel(&order)

	d.logger.Warn("execution aborted",
		"client_order_id", order.ClientOrderID,
		"strategy", order.Strategy,
		"symbol", order.Symbol,
		"market", order.Market.String(),
		"status", status.String(),
		"released", released,
		"err", err,
	)
	if status == types.ExecutionFailed {
		d.alert(ctx, alerting.EventExecutionFailed, "order execution failed",
			"symbol", order.Symbol,
			"strategy", order.Strategy,
			"client_order_id", order.ClientOrderID,
			"error", err.Error(),
		)
	}

	res := &types.ExecutionResult{
		Order:      order,
		Status:     status,
		Err:        err,
		FinishedAt: d.now(),
	}
	d.record(ctx, res)
	return res, err
}

func (d *Dispatcher) record(ctx context.Context, res *types.ExecutionResult) {
	d.recorder.RecordOrder(res.Order.Strategy, res.Order.Market.String(), res.Status.String())
	d.audit(ctx, "execution", func(ctx context.Context) error {
		return d.sink.RecordExecution(ctx, audit.NewExecutionRecord(res))
	})
}

// audit runs fn detached from ctx cancellation so shutdown does not drop records.
func (d *Dispatcher) audit(ctx context.Context, kind string, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		d.logger.Warn("audit write failed", "kind", kind, "err", err)
	}
}

func (d *Dispatcher) alert(ctx context.Context, event alerting.AlertEvent, msg string, fields ...any) {
	if err := alerting.Notify(context.WithoutCancel(ctx), d.alerter, event, msg, fields...); err != nil {
		d.logger.Warn("alert failed", "event", string(event), "err", err)
	}
}
