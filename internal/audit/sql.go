package audit

import (
	"context"

	"github.com/tathienbao/strategy-runtime/internal/persistence"
)

// SQLSink writes records to a persistence.Repository.
type SQLSink struct {
	repo persistence.Repository
}

// NewSQLSink wraps repo. Close closes repo.
func NewSQLSink(repo persistence.Repository) *SQLSink {
	return &SQLSink{repo: repo}
}

func (s *SQLSink) RecordUniverse(ctx context.Context, snap UniverseSnapshot) error {
	return s.repo.SaveUniverseSnapshot(ctx, persistence.UniverseSnapshot{
		Strategy:   snap.Strategy,
		Version:    snap.Version,
		Symbols:    snap.Symbols,
		RecordedAt: snap.RecordedAt,
	})
}

func (s *SQLSink) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	return s.repo.SaveExecution(ctx, persistence.ExecutionRecord{
		ClientOrderID:      rec.ClientOrderID,
		SignalID:           rec.SignalID,
		Strategy:           rec.Strategy,
		Symbol:             rec.Symbol,
		Side:               rec.Side,
		Market:             rec.Market,
		Bucket:             rec.Bucket,
		Status:             rec.Status,
		Notional:           rec.Notional,
		MarginFraction:     rec.MarginFraction,
		RequestedLeverage:  rec.RequestedLeverage,
		AppliedLeverage:    rec.AppliedLeverage,
		FilledQty:          rec.FilledQty,
		AvgPrice:           rec.AvgPrice,
		StopAttached:       rec.StopAttached,
		TakeProfitAttached: rec.TakeProfitAttached,
		Error:              rec.Error,
		FinishedAt:         rec.FinishedAt,
	})
}

func (s *SQLSink) RecordLeverage(ctx context.Context, ev LeverageEvent) error {
	return s.repo.SaveLeverageEvent(ctx, persistence.LeverageEvent{
		ClientOrderID: ev.ClientOrderID,
		Symbol:        ev.Symbol,
		Requested:     ev.Requested,
		Applied:       ev.Applied,
		Mismatch:      ev.Mismatch,
		At:            ev.At,
	})
}

func (s *SQLSink) Close() error {
	return s.repo.Close()
}
