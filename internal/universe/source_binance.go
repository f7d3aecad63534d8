package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tathienbao/strategy-runtime/internal/types"
	"golang.org/x/time/rate"
)

// BinanceSourceConfig configures the public Binance market-data source.
type BinanceSourceConfig struct {
	SpotBaseURL        string
	FuturesBaseURL     string
	RequestsPerSecond  int
	Timeout            time.Duration
	DefaultMaxLeverage float64            // reported when no per-symbol cap is known
	MaxLeverage        map[string]float64 // symbol -> cap
}

// DefaultBinanceSourceConfig returns production endpoints with conservative pacing.
func DefaultBinanceSourceConfig() BinanceSourceConfig {
	return BinanceSourceConfig{
		SpotBaseURL:        "https://api.binance.com",
		FuturesBaseURL:     "https://fapi.binance.com",
		RequestsPerSecond:  10,
		Timeout:            10 * time.Second,
		DefaultMaxLeverage: 20,
	}
}

// BinanceSource implements Source against Binance's unsigned REST endpoints.
type BinanceSource struct {
	cfg     BinanceSourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewBinanceSource creates a Binance source.
func NewBinanceSource(cfg BinanceSourceConfig) *BinanceSource {
	def := DefaultBinanceSourceConfig()
	if cfg.SpotBaseURL == "" {
		cfg.SpotBaseURL = def.SpotBaseURL
	}
	if cfg.FuturesBaseURL == "" {
		cfg.FuturesBaseURL = def.FuturesBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.DefaultMaxLeverage <= 0 {
		cfg.DefaultMaxLeverage = def.DefaultMaxLeverage
	}
	cfg.SpotBaseURL = strings.TrimSuffix(cfg.SpotBaseURL, "/")
	cfg.FuturesBaseURL = strings.TrimSuffix(cfg.FuturesBaseURL, "/")

	return &BinanceSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond),
	}
}

type binanceFilter struct {
	FilterType string `json:"filterType"`
	TickSize   string `json:"tickSize"`
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol      string          `json:"symbol"`
		Status      string          `json:"status"`
		OnboardDate int64           `json:"onboardDate"`
		Filters     []binanceFilter `json:"filters"`
	} `json:"symbols"`
}

// ExchangeInfo returns trading symbols with tick sizes and, for futures, listing dates.
func (b *BinanceSource) ExchangeInfo(ctx context.Context, market types.Market) ([]SymbolInfo, error) {
	path := "/api/v3/exchangeInfo"
	if market == types.MarketFutures {
		path = "/fapi/v1/exchangeInfo"
	}

	var raw binanceExchangeInfo
	if err := b.get(ctx, market, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]SymbolInfo, 0, len(raw.Symbols))
	for _, s := range raw.Symbols {
		if s.Status != "TRADING" {
			continue
		}
		info := SymbolInfo{Symbol: s.Symbol}
		for _, f := range s.Filters {
			if f.FilterType == "PRICE_FILTER" {
				info.TickSize = parseFloat(f.TickSize)
			}
		}
		if s.OnboardDate > 0 {
			info.ListedAt = time.UnixMilli(s.OnboardDate)
		}
		out = append(out, info)
	}
	return out, nil
}

// Tickers24h returns the 24h ticker for every symbol.
func (b *BinanceSource) Tickers24h(ctx context.Context, market types.Market) ([]Ticker24h, error) {
	path := "/api/v3/ticker/24hr"
	if market == types.MarketFutures {
		path = "/fapi/v1/ticker/24hr"
	}

	var raw []struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := b.get(ctx, market, path, nil, &raw); err != nil {
		return nil, err
	}

	out := make([]Ticker24h, 0, len(raw))
	for _, r := range raw {
		out = append(out, Ticker24h{
			Symbol:         r.Symbol,
			LastPrice:      parseFloat(r.LastPrice),
			QuoteVolume:    parseFloat(r.QuoteVolume),
			PriceChangePct: parseFloat(r.PriceChangePercent),
		})
	}
	return out, nil
}

// OrderBook returns a depth snapshot.
func (b *BinanceSource) OrderBook(ctx context.Context, market types.Market, symbol string, depth int) (OrderBook, error) {
	path := "/api/v3/depth"
	if market == types.MarketFutures {
		path = "/fapi/v1/depth"
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("limit", strconv.Itoa(depthLimit(depth)))

	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := b.get(ctx, market, path, q, &raw); err != nil {
		return OrderBook{}, err
	}

	book := OrderBook{
		Bids: make([]Level, 0, len(raw.Bids)),
		Asks: make([]Level, 0, len(raw.Asks)),
	}
	for _, l := range raw.Bids {
		book.Bids = append(book.Bids, Level{Price: parseFloat(l[0]), Qty: parseFloat(l[1])})
	}
	for _, l := range raw.Asks {
		book.Asks = append(book.Asks, Level{Price: parseFloat(l[0]), Qty: parseFloat(l[1])})
	}
	return book, nil
}

// Klines returns candles oldest first.
func (b *BinanceSource) Klines(ctx context.Context, market types.Market, symbol, interval string, limit int) ([]Kline, error) {
	path := "/api/v3/klines"
	if market == types.MarketFutures {
		path = "/fapi/v1/klines"
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	var raw [][]json.RawMessage
	if err := b.get(ctx, market, path, q, &raw); err != nil {
		return nil, err
	}

	out := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 5 {
			continue
		}
		var openTime int64
		var o, h, l, c string
		if json.Unmarshal(row[0], &openTime) != nil ||
			json.Unmarshal(row[1], &o) != nil ||
			json.Unmarshal(row[2], &h) != nil ||
			json.Unmarshal(row[3], &l) != nil ||
			json.Unmarshal(row[4], &c) != nil {
			continue
		}
		out = append(out, Kline{
			OpenTime: time.UnixMilli(openTime),
			Open:     parseFloat(o),
			High:     parseFloat(h),
			Low:      parseFloat(l),
			Close:    parseFloat(c),
		})
	}
	return out, nil
}

// OpenInterest returns futures open interest in base units.
func (b *BinanceSource) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var raw struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := b.get(ctx, types.MarketFutures, "/fapi/v1/openInterest", q, &raw); err != nil {
		return 0, err
	}
	return parseFloat(raw.OpenInterest), nil
}

// MaxLeverage returns the configured leverage cap. Binance only exposes
// leverage brackets on signed endpoints, which belong to the venue client.
func (b *BinanceSource) MaxLeverage(_ context.Context, symbol string) (float64, error) {
	if v, ok := b.cfg.MaxLeverage[strings.ToUpper(symbol)]; ok {
		return v, nil
	}
	return b.cfg.DefaultMaxLeverage, nil
}

func (b *BinanceSource) get(ctx context.Context, market types.Market, path string, q url.Values, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", types.ErrTransientFetch, err)
	}

	base := b.cfg.SpotBaseURL
	if market == types.MarketFutures {
		base = b.cfg.FuturesBaseURL
	}
	u := base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", types.ErrTransientFetch, err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", types.ErrTransientFetch, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s: status %d", types.ErrTransientFetch, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", types.ErrTransientFetch, path, err)
	}
	return nil
}

// depthLimit rounds up to a depth Binance accepts on both spot and futures.
func depthLimit(depth int) int {
	for _, allowed := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= allowed {
			return allowed
		}
	}
	return 1000
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
