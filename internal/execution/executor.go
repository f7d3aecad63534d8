// Package execution turns sized orders into venue orders.
package execution

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Executor defines the interface for order execution.
type Executor interface {
	// Execute submits a sized order and returns its terminal result. The
	// result is non-nil whenever the order was attempted; err is non-nil
	// for every outcome other than a fill.
	Execute(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error)
}

// Reserver releases capital held for an order.
type Reserver interface {
	// Cancel releases whatever the order still holds. Idempotent.
	Cancel(order *types.SizedOrder) decimal.Decimal

	// ReconcilePosition marks the order's dispatch as settled and releases
	// stale reservations when the live position is flat.
	ReconcilePosition(ctx context.Context, order *types.SizedOrder) (decimal.Decimal, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, order types.SizedOrder) (*types.ExecutionResult, error) {
	return f(ctx, order)
}
