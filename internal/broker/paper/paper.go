// Package paper provides a simulated order router for paper trading.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/broker"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

var bpsDenominator = decimal.NewFromInt(10000)

// Config holds paper trading configuration.
type Config struct {
	InitialEquity   decimal.Decimal
	SlippageBps     decimal.Decimal
	FeeBps          decimal.Decimal
	DefaultLeverage int
	MaxLeverage     int   // venue cap applied to leverage requests, 0 = none
	QtyPrecision    int32 // base-quantity decimal places
}

// DefaultConfig returns default paper trading config.
func DefaultConfig() Config {
	return Config{
		InitialEquity:   decimal.NewFromInt(10000),
		SlippageBps:     decimal.NewFromInt(2),
		FeeBps:          decimal.NewFromInt(4),
		DefaultLeverage: 20,
		QtyPrecision:    6,
	}
}

type position struct {
	market   types.Market
	qty      decimal.Decimal // signed
	avgPrice decimal.Decimal
}

// Router implements broker.OrderRouter, broker.PortfolioService and
// broker.ExchangeClient in memory.
type Router struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	state atomic.Int32

	mu          sync.Mutex
	cash        decimal.Decimal
	positions   map[string]*position
	prices      map[string]decimal.Decimal
	leverage    map[string]int
	maxLeverage map[string]int
	forced      map[string]int
	orders      map[string]*broker.Order
	fills       int
}

// NewRouter creates a paper router.
func NewRouter(cfg Config, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = 1
	}
	if cfg.QtyPrecision <= 0 {
		cfg.QtyPrecision = 6
	}

	r := &Router{
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		cash:        cfg.InitialEquity,
		positions:   make(map[string]*position),
		prices:      make(map[string]decimal.Decimal),
		leverage:    make(map[string]int),
		maxLeverage: make(map[string]int),
		forced:      make(map[string]int),
		orders:      make(map[string]*broker.Order),
	}
	r.state.Store(int32(broker.StateDisconnected))
	return r
}

// Connect simulates connecting to the venue.
func (r *Router) Connect(ctx context.Context) error {
	r.state.Store(int32(broker.StateConnected))
	r.logger.Info("paper router connected", "equity", r.cfg.InitialEquity)
	return nil
}

// Disconnect simulates disconnecting.
func (r *Router) Disconnect() error {
	r.state.Store(int32(broker.StateDisconnected))
	r.logger.Info("paper router disconnected")
	return nil
}

// State returns connection state.
func (r *Router) State() broker.ConnectionState {
	return broker.ConnectionState(r.state.Load())
}

// IsConnected returns true if connected.
func (r *Router) IsConnected() bool {
	return r.State() == broker.StateConnected
}

// Portfolio returns the router itself.
func (r *Router) Portfolio() broker.PortfolioService { return r }

// Exchange returns the router itself.
func (r *Router) Exchange() broker.ExchangeClient { return r }

// SetMaxLeverage caps leverage requests for symbol.
func (r *Router) SetMaxLeverage(symbol string, limit int) {
	r.mu.Lock()
	r.maxLeverage[symbol] = limit
	r.mu.Unlock()
}

// ForceLeverage makes the venue apply lev for symbol whatever is requested.
func (r *Router) ForceLeverage(symbol string, lev int) {
	r.mu.Lock()
	r.forced[symbol] = lev
	r.leverage[symbol] = lev
	r.mu.Unlock()
}

// OnTick updates the last price and triggers resting reduce-only orders.
func (r *Router) OnTick(tick types.Tick) {
	r.UpdatePrice(tick.Symbol, tick.Price)
}

// UpdatePrice sets the last price for symbol and triggers resting orders.
func (r *Router) UpdatePrice(symbol string, price decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prices[symbol] = price
	r.triggerLocked(symbol, price)
}

// MarketQuote fills a market order for quoteUSD at the last price plus slippage.
func (r *Router) MarketQuote(ctx context.Context, symbol string, side types.Side, quoteUSD decimal.Decimal, market types.Market) (*broker.Fill, error) {
	if !r.IsConnected() {
		return nil, types.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !quoteUSD.IsPositive() {
		return nil, fmt.Errorf("%w: quote %s", broker.ErrOrderRejected, quoteUSD)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", broker.ErrNoPrice, symbol)
	}

	slip := last.Mul(r.cfg.SlippageBps).Div(bpsDenominator)
	price := last.Add(slip)
	if side == types.SideShort {
		price = last.Sub(slip)
	}

	qty := quoteUSD.Div(price).RoundDown(r.cfg.QtyPrecision)
	fill := &broker.Fill{
		OrderID:  "PAPER-" + uuid.New().String()[:8],
		Symbol:   symbol,
		Side:     side,
		AvgPrice: price,
		FilledAt: r.now(),
	}
	if !qty.IsPositive() {
		fill.FilledQty = decimal.Zero
		return fill, nil
	}

	if market == types.MarketSpot && side == types.SideShort {
		held := decimal.Zero
		if pos, ok := r.positions[symbol]; ok {
			held = pos.qty
		}
		if held.LessThan(qty) {
			return nil, fmt.Errorf("%w: %s holds %s, sell %s", types.ErrInsufficientInventory, symbol, held, qty)
		}
	}

	fill.FilledQty = qty
	fill.Fee = qty.Mul(price).Mul(r.cfg.FeeBps).Div(bpsDenominator)
	r.applyFillLocked(symbol, market, side, qty, price)
	r.cash = r.cash.Sub(fill.Fee)
	r.fills++

	r.logger.Info("paper order filled",
		"order_id", fill.OrderID,
		"symbol", symbol,
		"side", side.String(),
		"market", market.String(),
		"qty", qty,
		"price", price,
	)
	return fill, nil
}

// applyFillLocked updates the position and cash for a fill.
func (r *Router) applyFillLocked(symbol string, market types.Market, side types.Side, qty, price decimal.Decimal) {
	signed := qty
	if side == types.SideShort {
		signed = qty.Neg()
	}

	if !market.Leveraged() {
		r.cash = r.cash.Sub(signed.Mul(price))
	}

	pos, ok := r.positions[symbol]
	if !ok {
		r.positions[symbol] = &position{market: market, qty: signed, avgPrice: price}
		return
	}

	switch {
	case pos.qty.Sign() == signed.Sign():
		total := pos.qty.Add(signed)
		cost := pos.qty.Mul(pos.avgPrice).Add(signed.Mul(price))
		pos.avgPrice = cost.Div(total)
		pos.qty = total
	default:
		closing := decimal.Min(pos.qty.Abs(), qty)
		if market.Leveraged() {
			pnl := price.Sub(pos.avgPrice).Mul(closing)
			if pos.qty.IsNegative() {
				pnl = pnl.Neg()
			}
			r.cash = r.cash.Add(pnl)
		}
		pos.qty = pos.qty.Add(signed)
		if pos.qty.Sign() == signed.Sign() && !pos.qty.IsZero() {
			pos.avgPrice = price
		}
	}

	if pos.qty.IsZero() {
		delete(r.positions, symbol)
		r.cancelOrdersLocked(symbol)
	}
}

// AmendStopReduceOnly replaces the resting stop for symbol.
func (r *Router) AmendStopReduceOnly(ctx context.Context, symbol string, side types.Side, price, qty decimal.Decimal) error {
	return r.placeReduceOnly(ctx, symbol, side, broker.OrderTypeStop, qty, price)
}

// PlaceReduceOnlyLimit rests a reduce-only limit order.
func (r *Router) PlaceReduceOnlyLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal) error {
	return r.placeReduceOnly(ctx, symbol, side, broker.OrderTypeLimit, qty, price)
}

func (r *Router) placeReduceOnly(ctx context.Context, symbol string, side types.Side, typ broker.OrderType, qty, price decimal.Decimal) error {
	if !r.IsConnected() {
		return types.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !qty.IsPositive() || !price.IsPositive() {
		return fmt.Errorf("%w: %s qty %s price %s", broker.ErrOrderRejected, typ, qty, price)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.positions[symbol]
	if !ok || !closes(pos.qty, side) {
		return fmt.Errorf("%w: %s %s", broker.ErrNoPosition, symbol, side)
	}

	if typ == broker.OrderTypeStop {
		for id, o := range r.orders {
			if o.Symbol == symbol && o.Type == broker.OrderTypeStop {
				delete(r.orders, id)
			}
		}
	}

	now := r.now()
	id := "PAPER-" + uuid.New().String()[:8]
	r.orders[id] = &broker.Order{
		OrderID:    id,
		Symbol:     symbol,
		Side:       side,
		Type:       typ,
		Quantity:   qty,
		Price:      price,
		ReduceOnly: true,
		Status:     broker.OrderStatusOpen,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.logger.Info("paper reduce-only order placed",
		"order_id", id,
		"symbol", symbol,
		"type", string(typ),
		"side", side.String(),
		"price", price,
		"qty", qty,
	)
	return nil
}

// closes reports whether an order on side reduces a position of signed qty.
func closes(qty decimal.Decimal, side types.Side) bool {
	if side == types.SideShort {
		return qty.IsPositive()
	}
	return qty.IsNegative()
}

// triggerLocked fills resting orders that price crossed.
func (r *Router) triggerLocked(symbol string, price decimal.Decimal) {
	ids := make([]string, 0, len(r.orders))
	for id, o := range r.orders {
		if o.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		o, ok := r.orders[id]
		if !ok || !triggered(o, price) {
			continue
		}
		pos, ok := r.positions[symbol]
		if !ok {
			break
		}
		qty := decimal.Min(o.Quantity, pos.qty.Abs())
		o.Status = broker.OrderStatusFilled
		o.UpdatedAt = r.now()
		delete(r.orders, id)

		r.applyFillLocked(symbol, pos.market, o.Side, qty, o.Price)
		r.logger.Info("paper reduce-only order triggered",
			"order_id", id,
			"symbol", symbol,
			"type", string(o.Type),
			"price", o.Price,
			"qty", qty,
		)
	}
}

// triggered reports whether price crosses o.
// A short-side stop fires at or below its price; a short-side limit at or above.
func triggered(o *broker.Order, price decimal.Decimal) bool {
	sell := o.Side == types.SideShort
	switch o.Type {
	case broker.OrderTypeStop:
		if sell {
			return price.LessThanOrEqual(o.Price)
		}
		return price.GreaterThanOrEqual(o.Price)
	case broker.OrderTypeLimit:
		if sell {
			return price.GreaterThanOrEqual(o.Price)
		}
		return price.LessThanOrEqual(o.Price)
	}
	return false
}

func (r *Router) cancelOrdersLocked(symbol string) {
	for id, o := range r.orders {
		if o.Symbol == symbol {
			delete(r.orders, id)
		}
	}
}

// OpenOrders returns resting reduce-only orders sorted by id.
func (r *Router) OpenOrders() []broker.Order {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]broker.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// FillCount returns the number of market fills.
func (r *Router) FillCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fills
}

// Positions returns current holdings keyed by symbol.
func (r *Router) Positions(ctx context.Context) (map[string]broker.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]broker.Position, len(r.positions))
	for sym, p := range r.positions {
		last, ok := r.prices[sym]
		if !ok {
			last = p.avgPrice
		}
		out[sym] = broker.Position{
			Symbol:    sym,
			Market:    p.market,
			Quantity:  p.qty,
			AvgPrice:  p.avgPrice,
			LastPrice: last,
		}
	}
	return out, nil
}

// Equity returns cash plus spot inventory value plus leveraged unrealized P&L.
func (r *Router) Equity(ctx context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	equity := r.cash
	for sym, p := range r.positions {
		last, ok := r.prices[sym]
		if !ok {
			last = p.avgPrice
		}
		if p.market.Leveraged() {
			equity = equity.Add(last.Sub(p.avgPrice).Mul(p.qty))
			continue
		}
		equity = equity.Add(p.qty.Mul(last))
	}
	return equity, nil
}

// Cash returns the cash balance.
func (r *Router) Cash(ctx context.Context) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cash, nil
}

// FuturesChangeLeverage applies lev for symbol, subject to caps and forced values.
func (r *Router) FuturesChangeLeverage(ctx context.Context, symbol string, lev int) (int, error) {
	if !r.IsConnected() {
		return 0, types.ErrNotConnected
	}
	if lev <= 0 {
		return 0, fmt.Errorf("%w: leverage %d", broker.ErrOrderRejected, lev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	applied := lev
	if forced, ok := r.forced[symbol]; ok {
		applied = forced
	} else {
		limit := r.cfg.MaxLeverage
		if m, ok := r.maxLeverage[symbol]; ok {
			limit = m
		}
		if limit > 0 && applied > limit {
			applied = limit
		}
	}
	r.leverage[symbol] = applied

	r.logger.Debug("paper leverage set", "symbol", symbol, "requested", lev, "applied", applied)
	return applied, nil
}

// PositionRisk returns leverage and position for every known symbol on market.
func (r *Router) PositionRisk(ctx context.Context, market types.Market) ([]broker.PositionRisk, error) {
	if !r.IsConnected() {
		return nil, types.ErrNotConnected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	symbols := make(map[string]struct{})
	for s := range r.prices {
		symbols[s] = struct{}{}
	}
	for s := range r.leverage {
		symbols[s] = struct{}{}
	}

	out := make([]broker.PositionRisk, 0, len(symbols))
	for s := range symbols {
		pr := broker.PositionRisk{Symbol: s, Leverage: r.cfg.DefaultLeverage}
		if lev, ok := r.leverage[s]; ok {
			pr.Leverage = lev
		}
		if p, ok := r.positions[s]; ok && p.market == market {
			pr.PositionAmt = p.qty
			pr.EntryPrice = p.avgPrice
		}
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
