package types

import "errors"

// Sentinel errors for the trading runtime.
var (
	// Screener errors
	ErrTransientFetch = errors.New("transient market data fetch failure")

	// Producer errors
	ErrStream = errors.New("price stream error")

	// Allocation errors
	ErrAllocationRejected = errors.New("allocation rejected")
	ErrUnknownStrategy    = errors.New("unknown strategy")

	// Execution errors
	ErrLeverageMismatch      = errors.New("venue leverage differs from requested")
	ErrExecutionFailure      = errors.New("execution failed")
	ErrZeroFill              = errors.New("order filled zero quantity")
	ErrInsufficientInventory = errors.New("insufficient inventory for sell")
	ErrInvalidOrderSize      = errors.New("invalid order size")

	// Connection errors
	ErrNotConnected = errors.New("not connected")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)
