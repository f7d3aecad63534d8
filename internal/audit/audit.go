// Package audit records universe versions, execution outcomes and leverage
// checks to write-only sinks. Nothing here is read back at startup.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
)

// Sink receives audit records.
type Sink interface {
	RecordUniverse(ctx context.Context, snap UniverseSnapshot) error
	RecordExecution(ctx context.Context, rec ExecutionRecord) error
	RecordLeverage(ctx context.Context, ev LeverageEvent) error
	Close() error
}

// UniverseSnapshot is the persisted form of one universe version.
type UniverseSnapshot struct {
	Strategy   string    `json:"strategy"`
	Version    uint64    `json:"version"`
	Symbols    []string  `json:"symbols"`
	RecordedAt time.Time `json:"-"`
}

// ExecutionRecord is the flattened outcome of one dispatcher call.
type ExecutionRecord struct {
	ClientOrderID      string          `json:"client_order_id"`
	SignalID           string          `json:"signal_id,omitempty"`
	Strategy           string          `json:"strategy"`
	Symbol             string          `json:"symbol"`
	Side               string          `json:"side"`
	Market             string          `json:"market"`
	Bucket             string          `json:"bucket"`
	Status             string          `json:"status"`
	Notional           decimal.Decimal `json:"notional"`
	MarginFraction     decimal.Decimal `json:"margin_fraction"`
	RequestedLeverage  *int            `json:"requested_leverage,omitempty"`
	AppliedLeverage    *int            `json:"applied_leverage,omitempty"`
	FilledQty          decimal.Decimal `json:"filled_qty"`
	AvgPrice           decimal.Decimal `json:"avg_price"`
	StopAttached       bool            `json:"stop_attached"`
	TakeProfitAttached bool            `json:"take_profit_attached"`
	Error              string          `json:"error,omitempty"`
	FinishedAt         time.Time       `json:"finished_at"`
}

// LeverageEvent is one leverage change request and the venue's answer.
type LeverageEvent struct {
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Symbol        string    `json:"symbol"`
	Requested     int       `json:"requested"`
	Applied       int       `json:"applied"`
	Mismatch      bool      `json:"mismatch"`
	At            time.Time `json:"at"`
}

// NewExecutionRecord flattens an execution result.
func NewExecutionRecord(res *types.ExecutionResult) ExecutionRecord {
	o := res.Order
	rec := ExecutionRecord{
		ClientOrderID:      o.ClientOrderID,
		SignalID:           o.SignalID,
		Strategy:           o.Strategy,
		Symbol:             o.Symbol,
		Side:               o.Side.String(),
		Market:             o.Market.String(),
		Bucket:             o.Bucket,
		Status:             res.Status.String(),
		Notional:           o.Notional,
		MarginFraction:     o.MarginFraction,
		RequestedLeverage:  o.RequestedLeverage,
		AppliedLeverage:    o.AppliedLeverage,
		FilledQty:          res.FilledQty,
		AvgPrice:           res.AvgPrice,
		StopAttached:       res.StopAttached,
		TakeProfitAttached: res.TakeProfitAttached,
		FinishedAt:         res.FinishedAt,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	return rec
}

// RegistryObserver returns a universe.Registry observer that records every
// published version. Sink errors are logged only.
func RegistryObserver(sink Sink, logger *slog.Logger) func(universe.Snapshot) {
	if logger == nil {
		logger = slog.Default()
	}
	return func(s universe.Snapshot) {
		snap := UniverseSnapshot{
			Strategy:   s.Strategy,
			Version:    s.Version,
			Symbols:    slices.Clone(s.Symbols),
			RecordedAt: s.UpdatedAt,
		}
		if err := sink.RecordUniverse(context.Background(), snap); err != nil {
			logger.Warn("universe audit failed",
				"strategy", s.Strategy,
				"version", s.Version,
				"err", err,
			)
		}
	}
}

// Multi fans records out to every sink and joins their errors.
type Multi []Sink

// NewMulti drops nil sinks.
func NewMulti(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) RecordUniverse(ctx context.Context, snap UniverseSnapshot) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordUniverse(ctx, snap))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordExecution(ctx, rec))
	}
	return errors.Join(errs...)
}

func (m Multi) RecordLeverage(ctx context.Context, ev LeverageEvent) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.RecordLeverage(ctx, ev))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordUniverse(context.Context, UniverseSnapshot) error { return nil }
func (Nop) RecordExecution(context.Context, ExecutionRecord) error { return nil }
func (Nop) RecordLeverage(context.Context, LeverageEvent) error    { return nil }
func (Nop) Close() error                                           { return nil }
