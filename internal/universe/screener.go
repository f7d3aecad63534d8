package universe

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/pkg/indicator"
	"golang.org/x/sync/errgroup"
)

// MinScreenerInterval is the shortest allowed screener period.
const MinScreenerInterval = 60 * time.Second

// Metadata keys the screener reads from the registry.
const (
	MetaNewsFlag  = "news_flag"
	MetaSentiment = "sentiment_score"
)

// ScreenerConfig holds screener configuration.
type ScreenerConfig struct {
	Interval    time.Duration
	Markets     []types.Market
	EnrichTopN  int // symbols per market enriched with book and kline data
	Concurrency int // simultaneous enrichment requests, 1..16
	BookDepth   int
	Filters     []FilterConfig
}

// DefaultScreenerConfig returns default screener configuration.
func DefaultScreenerConfig() ScreenerConfig {
	return ScreenerConfig{
		Interval:    MinScreenerInterval,
		Markets:     []types.Market{types.MarketSpot, types.MarketFutures},
		EnrichTopN:  60,
		Concurrency: 8,
		BookDepth:   20,
	}
}

// Screener periodically rebuilds every strategy's universe from market data.
type Screener struct {
	cfg      ScreenerConfig
	source   Source
	registry *Registry
	logger   *slog.Logger
	metrics  *metrics.Recorder
	alerter  alerting.Alerter
	now      func() time.Time

	mu        sync.Mutex
	reference map[types.Market]map[string]SymbolInfo
}

// NewScreener creates a screener writing to registry.
func NewScreener(cfg ScreenerConfig, source Source, registry *Registry, logger *slog.Logger) *Screener {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultScreenerConfig()
	if cfg.Interval < MinScreenerInterval {
		if cfg.Interval > 0 {
			logger.Warn("screener interval below minimum, clamping",
				"configured", cfg.Interval,
				"minimum", MinScreenerInterval,
			)
		}
		cfg.Interval = MinScreenerInterval
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = def.Markets
	}
	if cfg.EnrichTopN <= 0 {
		cfg.EnrichTopN = def.EnrichTopN
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	cfg.Concurrency = min(cfg.Concurrency, 16)
	if cfg.BookDepth <= 0 {
		cfg.BookDepth = def.BookDepth
	}

	return &Screener{
		cfg:       cfg,
		source:    source,
		registry:  registry,
		logger:    logger,
		metrics:   metrics.NewRecorder(),
		now:       time.Now,
		reference: make(map[types.Market]map[string]SymbolInfo),
	}
}

// SetAlerter raises screener_degraded through a when a cycle fails. Call before Run.
func (s *Screener) SetAlerter(a alerting.Alerter) {
	s.alerter = a
}

// Name identifies the screener task.
func (s *Screener) Name() string { return "screener" }

// Config returns the effective configuration after clamping.
func (s *Screener) Config() ScreenerConfig {
	return s.cfg
}

// Run executes a cycle immediately and then every interval until ctx is done.
// Failed cycles are logged and retried on the next tick.
func (s *Screener) Run(ctx context.Context) error {
	s.logger.Info("screener started",
		"interval", s.cfg.Interval,
		"filters", len(s.cfg.Filters),
	)

	s.cycle(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("screener stopped")
			return ctx.Err()
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

func (s *Screener) cycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordError("screener_panic")
			s.logger.Error("screener cycle panicked", "panic", r)
		}
	}()

	if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("screener cycle failed, retrying next interval", "error", err)
		if aerr := alerting.Notify(ctx, s.alerter, alerting.EventScreenerDegraded, "screener cycle failed",
			"error", err.Error(),
		); aerr != nil {
			s.logger.Warn("failed to send screener alert", "err", aerr)
		}
	}
}

// RunOnce performs one screening cycle and writes changed universes to the registry.
// It returns an error wrapping types.ErrTransientFetch only when no market produced data.
func (s *Screener) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()

	all, err := s.Collect(ctx)
	if err != nil {
		s.metrics.RecordScreenerCycle(false, timer.Elapsed())
		return err
	}

	for _, f := range s.cfg.Filters {
		symbols := Evaluate(f, all)
		version, current := s.registry.Current(f.Strategy)
		if !slices.Equal(current, symbols) {
			version = s.registry.Update(f.Strategy, symbols)
			s.logger.Info("universe updated",
				"strategy", f.Strategy,
				"version", version,
				"symbols", len(symbols),
			)
		}
		s.metrics.RecordUniverse(f.Strategy, version, len(symbols))
	}

	s.metrics.RecordScreenerCycle(true, timer.Elapsed())
	s.logger.Debug("screener cycle complete",
		"metrics", len(all),
		"duration", timer.Elapsed(),
	)
	return nil
}

// Collect fetches and merges SymbolMetrics across configured markets.
// Individual fetch failures are logged and skipped.
func (s *Screener) Collect(ctx context.Context) ([]types.SymbolMetrics, error) {
	var (
		out       []types.SymbolMetrics
		succeeded int
	)

	for _, market := range s.cfg.Markets {
		ref := s.referenceData(ctx, market)

		tickers, err := s.source.Tickers24h(ctx, market)
		if err != nil {
			s.fetchFailed("tickers", market, "", err)
			continue
		}
		succeeded++

		batch := s.baseMetrics(market, ref, tickers)
		s.enrich(ctx, market, batch)
		s.applyMetadata(batch)
		out = append(out, batch...)
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("%w: no market data available", types.ErrTransientFetch)
	}
	return out, nil
}

// referenceData returns cached exchange info, loading it on first use.
// A failed load is retried on the next cycle.
func (s *Screener) referenceData(ctx context.Context, market types.Market) map[string]SymbolInfo {
	s.mu.Lock()
	ref, ok := s.reference[market]
	s.mu.Unlock()
	if ok {
		return ref
	}

	infos, err := s.source.ExchangeInfo(ctx, market)
	if err != nil {
		s.fetchFailed("exchange_info", market, "", err)
		return nil
	}

	ref = make(map[string]SymbolInfo, len(infos))
	for _, info := range infos {
		ref[normalizeSymbol(info.Symbol)] = info
	}

	s.mu.Lock()
	s.reference[market] = ref
	s.mu.Unlock()

	s.logger.Info("reference data loaded", "market", market.String(), "symbols", len(ref))
	return ref
}

func (s *Screener) baseMetrics(market types.Market, ref map[string]SymbolInfo, tickers []Ticker24h) []types.SymbolMetrics {
	now := s.now()
	out := make([]types.SymbolMetrics, 0, len(tickers))

	for _, t := range tickers {
		sym := normalizeSymbol(t.Symbol)
		if sym == "" || t.LastPrice <= 0 {
			continue
		}
		m := types.NewSymbolMetrics(sym, market)
		m.Price = t.LastPrice
		m.Volume24hUSDT = t.QuoteVolume
		if len(ref) > 0 {
			info, ok := ref[sym]
			if !ok {
				// not tradable
				continue
			}
			if info.TickSize > 0 {
				m.TickSizePct = info.TickSize / t.LastPrice * 100
			}
			if !info.ListedAt.IsZero() {
				m.ListingAgeDays = now.Sub(info.ListedAt).Hours() / 24
			}
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Volume24hUSDT > out[j].Volume24hUSDT
	})
	return out
}

// enrich fills book, kline and futures fields for the top-N symbols by volume.
// Fields of the rest, and of failed fetches, stay NaN.
func (s *Screener) enrich(ctx context.Context, market types.Market, batch []types.SymbolMetrics) {
	n := min(s.cfg.EnrichTopN, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := 0; i < n; i++ {
		m := &batch[i]
		g.Go(func() error {
			s.enrichOne(gctx, market, m)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Screener) enrichOne(ctx context.Context, market types.Market, m *types.SymbolMetrics) {
	if ctx.Err() != nil {
		return
	}

	if book, err := s.source.OrderBook(ctx, market, m.Symbol, s.cfg.BookDepth); err != nil {
		s.fetchFailed("order_book", market, m.Symbol, err)
	} else {
		m.SpreadPct, m.DepthUSDT, m.BidLiquidityUSDT = bookStats(book)
	}

	if klines, err := s.source.Klines(ctx, market, m.Symbol, "1m", 61); err != nil {
		s.fetchFailed("klines_1m", market, m.Symbol, err)
	} else {
		m.VolatilityPct = returnsStdDevPct(klines)
		m.Change1hPct = changePct(klines)
	}

	if klines, err := s.source.Klines(ctx, market, m.Symbol, "1d", 31); err != nil {
		s.fetchFailed("klines_1d", market, m.Symbol, err)
	} else {
		m.Trend30dPct = changePct(klines)
	}

	if !market.Leveraged() {
		return
	}

	if oi, err := s.source.OpenInterest(ctx, m.Symbol); err != nil {
		s.fetchFailed("open_interest", market, m.Symbol, err)
	} else {
		m.OpenInterestUSDT = oi * m.Price
	}

	if lev, err := s.source.MaxLeverage(ctx, m.Symbol); err != nil {
		s.fetchFailed("max_leverage", market, m.Symbol, err)
	} else {
		m.MaxLeverage = lev
	}
}

// applyMetadata merges out-of-band news and sentiment data from the registry.
func (s *Screener) applyMetadata(batch []types.SymbolMetrics) {
	for i := range batch {
		if v, ok := s.registry.SymbolMetadata(batch[i].Symbol, MetaNewsFlag); ok {
			batch[i].NewsFlag, _ = strconv.ParseBool(v)
		}
		if v, ok := s.registry.SymbolMetadata(batch[i].Symbol, MetaSentiment); ok {
			if score, err := strconv.ParseFloat(v, 64); err == nil {
				batch[i].SentimentScore = score
			}
		}
	}
}

func (s *Screener) fetchFailed(kind string, market types.Market, symbol string, err error) {
	s.metrics.RecordFetchError(kind)
	s.logger.Warn("screener fetch failed",
		"kind", kind,
		"market", market.String(),
		"symbol", symbol,
		"error", err,
	)
}

// bookStats returns spread %, two-sided depth and bid liquidity in quote
// currency. The spread is NaN unless both sides are quoted.
func bookStats(book OrderBook) (spreadPct, depth, bidLiquidity float64) {
	spreadPct = math.NaN()
	for _, l := range book.Bids {
		bidLiquidity += l.Price * l.Qty
	}
	depth = bidLiquidity
	for _, l := range book.Asks {
		depth += l.Price * l.Qty
	}
	if len(book.Bids) > 0 && len(book.Asks) > 0 {
		bid, ask := book.Bids[0].Price, book.Asks[0].Price
		if mid := (bid + ask) / 2; mid > 0 {
			spreadPct = (ask - bid) / mid * 100
		}
	}
	return spreadPct, depth, bidLiquidity
}

// returnsStdDevPct is the standard deviation of close-to-close returns, in percent.
func returnsStdDevPct(klines []Kline) float64 {
	if len(klines) < 3 {
		return math.NaN()
	}
	sd := indicator.NewStdDev(len(klines) - 1)
	for i := 1; i < len(klines); i++ {
		prev := klines[i-1].Close
		if prev <= 0 {
			continue
		}
		sd.Update(decimal.NewFromFloat((klines[i].Close - prev) / prev * 100))
	}
	return sd.Current().InexactFloat64()
}

// changePct is the change from the first open to the last close, in percent.
func changePct(klines []Kline) float64 {
	if len(klines) == 0 {
		return math.NaN()
	}
	first := klines[0].Open
	if first <= 0 {
		first = klines[0].Close
	}
	if first <= 0 {
		return math.NaN()
	}
	return (klines[len(klines)-1].Close - first) / first * 100
}
