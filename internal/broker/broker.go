// Package broker defines the order-routing collaborators the dispatcher and
// allocator depend on.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Common broker errors.
var (
	ErrOrderRejected = errors.New("order rejected by broker")
	ErrNoPrice       = errors.New("no price for symbol")
	ErrNoPosition    = errors.New("no open position for reduce-only order")
	ErrRateLimited   = errors.New("rate limited by broker")
)

// ConnectionState represents the broker connection state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// OrderRouter submits orders to a venue.
type OrderRouter interface {
	// MarketQuote submits a market order sized in quote currency.
	MarketQuote(ctx context.Context, symbol string, side types.Side, quoteUSD decimal.Decimal, market types.Market) (*Fill, error)

	// AmendStopReduceOnly places or replaces the reduce-only stop for symbol.
	// side is the closing side.
	AmendStopReduceOnly(ctx context.Context, symbol string, side types.Side, price, qty decimal.Decimal) error

	// PlaceReduceOnlyLimit places a reduce-only limit order. side is the closing side.
	PlaceReduceOnlyLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) error

	Portfolio() PortfolioService
	Exchange() ExchangeClient
}

// PortfolioService exposes account state.
type PortfolioService interface {
	Positions(ctx context.Context) (map[string]Position, error)
	Equity(ctx context.Context) (decimal.Decimal, error)
	Cash(ctx context.Context) (decimal.Decimal, error)
}

// ExchangeClient exposes venue settings for leveraged markets.
type ExchangeClient interface {
	// FuturesChangeLeverage requests leverage for symbol and returns what the venue applied.
	FuturesChangeLeverage(ctx context.Context, symbol string, leverage int) (int, error)
	PositionRisk(ctx context.Context, market types.Market) ([]PositionRisk, error)
}

// Fill is the outcome of a market order.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      types.Side
	FilledQty decimal.Decimal // base units
	AvgPrice  decimal.Decimal
	Fee       decimal.Decimal
	FilledAt  time.Time
}

// Notional returns filled quantity times average price.
func (f Fill) Notional() decimal.Decimal {
	return f.FilledQty.Mul(f.AvgPrice)
}

// Position is a portfolio holding. Quantity is signed: negative for shorts.
type Position struct {
	Symbol    string
	Market    types.Market
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	LastPrice decimal.Decimal
}

// Value returns |quantity| times last price.
func (p Position) Value() decimal.Decimal {
	return p.Quantity.Abs().Mul(p.LastPrice)
}

// PositionRisk is the venue's per-symbol leverage and position view.
type PositionRisk struct {
	Symbol      string
	Leverage    int
	PositionAmt decimal.Decimal
	EntryPrice  decimal.Decimal
}

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MKT"
	OrderTypeLimit  OrderType = "LMT"
	OrderTypeStop   OrderType = "STP"
)

// OrderStatus represents the status of an order.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a resting reduce-only order.
type Order struct {
	OrderID    string
	Symbol     string
	Side       types.Side
	Type       OrderType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	ReduceOnly bool
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// PositionFlat reports whether qty is within tolerance of zero.
func PositionFlat(qty, tolerance decimal.Decimal) bool {
	return qty.Abs().LessThanOrEqual(tolerance)
}
