// Package persistence provides the SQLite audit trail for universe versions,
// executions and leverage checks.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for audit persistence.
type Repository interface {
	// Universe operations
	SaveUniverseSnapshot(ctx context.Context, snapshot UniverseSnapshot) error
	GetLatestUniverse(ctx context.Context, strategy string) (*UniverseSnapshot, error)
	GetUniverseHistory(ctx context.Context, strategy string, limit int) ([]UniverseSnapshot, error)

	// Execution operations
	SaveExecution(ctx context.Context, exec ExecutionRecord) error
	GetExecution(ctx context.Context, clientOrderID string) (*ExecutionRecord, error)
	GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)
	GetExecutionsByStrategy(ctx context.Context, strategy string, limit int) ([]ExecutionRecord, error)

	// Leverage operations
	SaveLeverageEvent(ctx context.Context, event LeverageEvent) error
	GetLeverageMismatches(ctx context.Context, from, to time.Time) ([]LeverageEvent, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// UniverseSnapshot is one published universe version for a strategy.
type UniverseSnapshot struct {
	ID         int64
	Strategy   string
	Version    uint64
	Symbols    []string
	RecordedAt time.Time
}

// ExecutionRecord represents a persisted execution outcome.
type ExecutionRecord struct {
	ID                 int64
	ClientOrderID      string
	SignalID           string
	Strategy           string
	Symbol             string
	Side               string
	Market             string
	Bucket             string
	Status             string
	Notional           decimal.Decimal
	MarginFraction     decimal.Decimal
	RequestedLeverage  *int
	AppliedLeverage    *int
	FilledQty          decimal.Decimal
	AvgPrice           decimal.Decimal
	StopAttached       bool
	TakeProfitAttached bool
	Error              string
	FinishedAt         time.Time
}

// LeverageEvent records a leverage change request and what the venue applied.
type LeverageEvent struct {
	ID            int64
	ClientOrderID string
	Symbol        string
	Requested     int
	Applied       int
	Mismatch      bool
	At            time.Time
}
