package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/broker"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// RejectReason labels why the allocator declined a signal.
type RejectReason string

const (
	ReasonZeroHeadroom      RejectReason = "zero_headroom"
	ReasonMaxPositions      RejectReason = "max_positions"
	ReasonNonPositiveMargin RejectReason = "non_positive_margin"
	ReasonBelowMinNotional  RejectReason = "below_min_notional"
	ReasonUnknownStrategy   RejectReason = "unknown_strategy"
	ReasonNoEquity          RejectReason = "no_equity"
)

// RejectedError reports an allocation rejection. It matches
// types.ErrAllocationRejected under errors.Is.
type RejectedError struct {
	Strategy string
	Symbol   string
	Reason   RejectReason
	Detail   string
}

func (e *RejectedError) Error() string {
	msg := fmt.Sprintf("%s: %s %s: %s", types.ErrAllocationRejected, e.Strategy, e.Symbol, e.Reason)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Is matches ErrAllocationRejected, and ErrUnknownStrategy for that reason.
func (e *RejectedError) Is(target error) bool {
	switch target {
	case types.ErrAllocationRejected:
		return true
	case types.ErrUnknownStrategy:
		return e.Reason == ReasonUnknownStrategy
	}
	return false
}

// Reason returns the rejection reason carried by err.
func Reason(err error) (RejectReason, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return "", false
}

// StrategyConfig holds per-strategy allocation settings.
type StrategyConfig struct {
	Name         string
	Category     string // default bucket
	Bucket       string // overrides Category when set
	Market       types.Market
	RiskPerTrade decimal.Decimal // fraction of equity
	MaxPositions int             // 0 = unlimited
}

// BucketName returns the bucket the strategy draws from.
func (s StrategyConfig) BucketName() string {
	if s.Bucket != "" {
		return s.Bucket
	}
	return s.Category
}

// LeverageConfig resolves the leverage requested for a symbol.
type LeverageConfig struct {
	Overrides      map[string]int // explicit per-symbol settings
	SymbolDefaults map[string]int
	Default        int // 0 = use whatever the venue has
}

// DefaultLeverageConfig returns a global default of 5x with majors at 10x.
func DefaultLeverageConfig() LeverageConfig {
	return LeverageConfig{
		Overrides: map[string]int{},
		SymbolDefaults: map[string]int{
			"BTCUSDT": 10,
			"ETHUSDT": 10,
		},
		Default: 5,
	}
}

// Resolve returns the leverage to request for symbol on market, or nil when
// the market is not leveraged or nothing is configured.
func (l LeverageConfig) Resolve(symbol string, market types.Market) *int {
	if !market.Leveraged() {
		return nil
	}
	lev := 0
	if v, ok := l.Overrides[symbol]; ok && v > 0 {
		lev = v
	} else if v, ok := l.SymbolDefaults[symbol]; ok && v > 0 {
		lev = v
	} else {
		lev = l.Default
	}
	if lev <= 0 {
		return nil
	}
	return &lev
}

// AllocatorConfig holds the allocator configuration.
type AllocatorConfig struct {
	Strategies    map[string]StrategyConfig
	Leverage      LeverageConfig
	MinNotional   decimal.Decimal
	FlatTolerance decimal.Decimal // |position qty| at or below this counts as flat
}

// DefaultAllocatorConfig returns defaults with no strategies.
func DefaultAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		Strategies:    map[string]StrategyConfig{},
		Leverage:      DefaultLeverageConfig(),
		MinNotional:   DefaultMinNotional,
		FlatTolerance: decimal.RequireFromString("0.00000001"),
	}
}

type positionKey struct {
	strategy string
	symbol   string
}

// reservation is one order's hold on its bucket. It stays inFlight from
// Evaluate until its dispatch settles, and flat-position sweeps skip it
// meanwhile: an unfilled order always looks flat.
type reservation struct {
	key        positionKey
	bucket     string
	remaining  decimal.Decimal
	inFlight   bool
	released   bool
	releasedAt time.Time
}

// releasedRetention is how long released reservations are kept so late
// duplicate releases still find them.
const releasedRetention = 10 * time.Minute

// StrategyExposure is a strategy's reservation view.
type StrategyExposure struct {
	OpenPositions int
	Reserved      decimal.Decimal
	Symbols       map[string]decimal.Decimal
}

// Snapshot is a point-in-time view of the allocator.
type Snapshot struct {
	Buckets    []BucketState
	Strategies map[string]StrategyExposure
	Pending    int // reservations not yet released
	InFlight   int // pending reservations whose dispatch has not settled
}

// Allocator sizes signals against bucket headroom and tracks reservations.
// Evaluate, Cancel and reconciliation run under one mutex, so headroom never
// goes negative.
type Allocator struct {
	mu sync.Mutex

	cfg       AllocatorConfig
	buckets   *BucketTracker
	portfolio broker.PortfolioService
	sizer     *MarginSizer
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time

	orders map[string]*reservation // client order id
	held   map[positionKey]decimal.Decimal
	open   map[string]int // strategy -> open positions
}

// NewAllocator creates an allocator drawing from buckets and reading equity from portfolio.
func NewAllocator(cfg AllocatorConfig, buckets *BucketTracker, portfolio broker.PortfolioService, logger *slog.Logger) *Allocator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinNotional.IsZero() {
		cfg.MinNotional = DefaultMinNotional
	}
	if cfg.Strategies == nil {
		cfg.Strategies = map[string]StrategyConfig{}
	}

	return &Allocator{
		cfg:       cfg,
		buckets:   buckets,
		portfolio: portfolio,
		sizer:     NewMarginSizer(cfg.MinNotional),
		logger:    logger,
		metrics:   metrics.NewRecorder(),
		now:       time.Now,
		orders:    make(map[string]*reservation),
		held:      make(map[positionKey]decimal.Decimal),
		open:      make(map[string]int),
	}
}

// Buckets returns the underlying bucket tracker.
func (a *Allocator) Buckets() *BucketTracker { return a.buckets }

// Evaluate sizes sig and reserves its margin. It returns a *RejectedError
// when the signal cannot be allocated.
func (a *Allocator) Evaluate(ctx context.Context, sig types.Signal) (*types.SizedOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	strat, ok := a.cfg.Strategies[sig.Strategy]
	if !ok {
		return nil, a.reject(sig, ReasonUnknownStrategy, "")
	}

	equity, err := a.portfolio.Equity(ctx)
	if err != nil {
		return nil, a.reject(sig, ReasonNoEquity, err.Error())
	}
	if !equity.IsPositive() {
		return nil, a.reject(sig, ReasonNoEquity, "equity "+equity.String())
	}

	market := strat.Market
	if sig.Market != nil {
		market = *sig.Market
	}
	bucket := strat.BucketName()
	leverage := a.cfg.Leverage.Resolve(sig.Symbol, market)
	lev := 1
	if leverage != nil {
		lev = *leverage
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	headroom := a.buckets.Headroom(bucket)
	if !headroom.IsPositive() {
		return nil, a.reject(sig, ReasonZeroHeadroom, "bucket "+bucket)
	}

	key := positionKey{strategy: sig.Strategy, symbol: sig.Symbol}
	_, existing := a.held[key]
	if !existing && strat.MaxPositions > 0 && a.open[sig.Strategy] >= strat.MaxPositions {
		return nil, a.reject(sig, ReasonMaxPositions, fmt.Sprintf("%d open", a.open[sig.Strategy]))
	}

	size := a.sizer.Calculate(equity, strat.RiskPerTrade, lev, headroom)
	if !size.Valid {
		return nil, a.reject(sig, size.RejectReason, "notional "+size.Notional.StringFixed(2))
	}

	order := &types.SizedOrder{
		ClientOrderID:     generateClientOrderID(),
		SignalID:          sig.ID,
		Strategy:          sig.Strategy,
		Symbol:            sig.Symbol,
		Side:              sig.Side,
		Market:            market,
		Bucket:            bucket,
		Notional:          size.Notional,
		NotionalFraction:  size.MarginFraction.Mul(decimal.NewFromInt(int64(size.Leverage))),
		MarginFraction:    size.MarginFraction,
		RequestedLeverage: leverage,
		StopPrice:         sig.StopPrice,
		TakeProfit:        sig.TakeProfit,
		CreatedAt:         a.now(),
	}

	a.buckets.Apply(bucket, size.MarginFraction)
	if !existing {
		a.open[sig.Strategy]++
	}
	a.held[key] = a.held[key].Add(size.MarginFraction)
	a.orders[order.ClientOrderID] = &reservation{
		key:       key,
		bucket:    bucket,
		remaining: size.MarginFraction,
		inFlight:  true,
	}
	a.recordLocked(bucket, sig.Strategy)

	a.logger.Info("order sized",
		"client_order_id", order.ClientOrderID,
		"signal_id", sig.ID,
		"strategy", sig.Strategy,
		"symbol", sig.Symbol,
		"side", sig.Side.String(),
		"market", market.String(),
		"bucket", bucket,
		"leverage", lev,
		"margin_fraction", size.MarginFraction,
		"notional", size.Notional.StringFixed(2),
	)
	return order, nil
}

// reject logs and counts a rejection.
func (a *Allocator) reject(sig types.Signal, reason RejectReason, detail string) error {
	a.metrics.RecordSignalRejected(sig.Strategy, string(reason))
	a.logger.Info("signal rejected",
		"signal_id", sig.ID,
		"strategy", sig.Strategy,
		"symbol", sig.Symbol,
		"reason", string(reason),
		"detail", detail,
	)
	return &RejectedError{Strategy: sig.Strategy, Symbol: sig.Symbol, Reason: reason, Detail: detail}
}

// Cancel releases whatever the order still has reserved. Calling it for an
// unknown or already released order is a no-op. It returns the fraction released.
func (a *Allocator) Cancel(order *types.SizedOrder) decimal.Decimal {
	if order == nil {
		return decimal.Zero
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.orders[order.ClientOrderID]
	if !ok || res.released {
		a.logger.Debug("cancel ignored", "client_order_id", order.ClientOrderID, "known", ok)
		return decimal.Zero
	}

	released := a.releaseLocked(res)

	a.logger.Info("reservation cancelled",
		"client_order_id", order.ClientOrderID,
		"strategy", res.key.strategy,
		"symbol", res.key.symbol,
		"released", released,
	)
	return released
}

// Settle marks the order's dispatch as finished, making its reservation
// eligible for flat-position release.
func (a *Allocator) Settle(order *types.SizedOrder) {
	if order == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if res, ok := a.orders[order.ClientOrderID]; ok {
		res.inFlight = false
	}
}

// ReconcilePosition settles the order, then releases every settled
// reservation for its strategy and symbol when the live position is flat.
// It returns the fraction released.
func (a *Allocator) ReconcilePosition(ctx context.Context, order *types.SizedOrder) (decimal.Decimal, error) {
	if order == nil {
		return decimal.Zero, nil
	}
	a.Settle(order)

	positions, err := a.portfolio.Positions(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read positions: %w", err)
	}
	pos := positions[order.Symbol]
	if !broker.PositionFlat(pos.Quantity, a.cfg.FlatTolerance) {
		return decimal.Zero, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	released := a.releaseKeyLocked(positionKey{strategy: order.Strategy, symbol: order.Symbol})
	if released.IsPositive() {
		a.logger.Info("flat position reconciled",
			"client_order_id", order.ClientOrderID,
			"strategy", order.Strategy,
			"symbol", order.Symbol,
			"released", released,
		)
	}
	return released, nil
}

// ReconcileAll releases settled reservations for every strategy and symbol
// whose live position is flat. It returns the fraction released.
func (a *Allocator) ReconcileAll(ctx context.Context) (decimal.Decimal, error) {
	positions, err := a.portfolio.Positions(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read positions: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	total := decimal.Zero
	for key := range a.held {
		if !broker.PositionFlat(positions[key.symbol].Quantity, a.cfg.FlatTolerance) {
			continue
		}
		total = total.Add(a.releaseKeyLocked(key))
	}
	a.pruneLocked()
	if total.IsPositive() {
		a.logger.Info("stale reservations released", "released", total)
	}
	return total, nil
}

// pruneLocked drops reservations released longer than releasedRetention ago.
func (a *Allocator) pruneLocked() {
	cutoff := a.now().Add(-releasedRetention)
	for id, res := range a.orders {
		if res.released && res.releasedAt.Before(cutoff) {
			delete(a.orders, id)
		}
	}
}

// releaseKeyLocked releases every settled, pending reservation under key.
func (a *Allocator) releaseKeyLocked(key positionKey) decimal.Decimal {
	total := decimal.Zero
	for _, res := range a.orders {
		if res.key != key || res.released || res.inFlight {
			continue
		}
		total = total.Add(a.releaseLocked(res))
	}
	return total
}

// releaseLocked returns res's remaining fraction to its bucket and marks it released.
func (a *Allocator) releaseLocked(res *reservation) decimal.Decimal {
	amount := res.remaining
	res.remaining = decimal.Zero
	res.inFlight = false
	res.released = true
	res.releasedAt = a.now()

	released := a.buckets.Release(res.bucket, amount)

	if held, ok := a.held[res.key]; ok {
		held = held.Sub(amount)
		if held.IsPositive() {
			a.held[res.key] = held
		} else {
			delete(a.held, res.key)
			if a.open[res.key.strategy] > 0 {
				a.open[res.key.strategy]--
			}
		}
	}
	a.recordLocked(res.bucket, res.key.strategy)
	return released
}

func (a *Allocator) recordLocked(bucket, strategy string) {
	a.metrics.RecordBucket(bucket, a.buckets.Usage(bucket), a.buckets.Headroom(bucket))
	a.metrics.RecordOpenPositions(strategy, a.open[strategy])
}

// Decay ages every bucket and reservation down by factor.
func (a *Allocator) Decay(factor decimal.Decimal) {
	if !factor.IsPositive() || factor.GreaterThan(decimal.NewFromInt(1)) {
		return
	}
	keep := decimal.NewFromInt(1).Sub(factor)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.buckets.Decay(factor)
	for _, res := range a.orders {
		res.remaining = res.remaining.Mul(keep)
	}
	for key, held := range a.held {
		a.held[key] = held.Mul(keep)
	}
	for _, b := range a.buckets.Snapshot() {
		a.metrics.RecordBucket(b.Name, b.Usage, b.Headroom)
	}
}

// RunDecay calls Decay every interval until ctx is done. A zero factor or
// interval disables it.
func (a *Allocator) RunDecay(ctx context.Context, interval time.Duration, factor decimal.Decimal) error {
	if interval <= 0 || !factor.IsPositive() {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Decay(factor)
			a.logger.Debug("bucket usage decayed", "factor", factor)
		}
	}
}

// Snapshot returns buckets and per-strategy reservations.
func (a *Allocator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := Snapshot{
		Buckets:    a.buckets.Snapshot(),
		Strategies: make(map[string]StrategyExposure),
	}
	for key, held := range a.held {
		exp, ok := snap.Strategies[key.strategy]
		if !ok {
			exp = StrategyExposure{
				OpenPositions: a.open[key.strategy],
				Reserved:      decimal.Zero,
				Symbols:       make(map[string]decimal.Decimal),
			}
		}
		exp.Reserved = exp.Reserved.Add(held)
		exp.Symbols[key.symbol] = held
		snap.Strategies[key.strategy] = exp
	}
	for _, res := range a.orders {
		if !res.released {
			snap.Pending++
			if res.inFlight {
				snap.InFlight++
			}
		}
	}
	return snap
}

// OpenPositions returns a strategy's open-position count.
func (a *Allocator) OpenPositions(strategy string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open[strategy]
}

// Strategies returns configured strategy names sorted.
func (a *Allocator) Strategies() []string {
	out := make([]string, 0, len(a.cfg.Strategies))
	for name := range a.cfg.Strategies {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// generateClientOrderID creates a unique client order ID for idempotency.
func generateClientOrderID() string {
	return fmt.Sprintf("%s-%s",
		time.Now().Format("20060102-150405"),
		uuid.New().String()[:8],
	)
}
