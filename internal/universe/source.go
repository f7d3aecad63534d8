package universe

import (
	"context"
	"time"

	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Source supplies the raw market data the screener turns into SymbolMetrics.
// Implementations wrap their errors with types.ErrTransientFetch.
type Source interface {
	// ExchangeInfo returns reference data for every tradable symbol on market.
	ExchangeInfo(ctx context.Context, market types.Market) ([]SymbolInfo, error)

	// Tickers24h returns the rolling 24h ticker for every symbol on market.
	Tickers24h(ctx context.Context, market types.Market) ([]Ticker24h, error)

	// OrderBook returns the top depth levels for symbol.
	OrderBook(ctx context.Context, market types.Market, symbol string, depth int) (OrderBook, error)

	// Klines returns up to limit candles of the given interval, oldest first.
	Klines(ctx context.Context, market types.Market, symbol, interval string, limit int) ([]Kline, error)

	// OpenInterest returns open interest for a futures symbol in base units.
	OpenInterest(ctx context.Context, symbol string) (float64, error)

	// MaxLeverage returns the highest leverage allowed for a futures symbol.
	MaxLeverage(ctx context.Context, symbol string) (float64, error)
}

// SymbolInfo is exchange reference data that rarely changes.
type SymbolInfo struct {
	Symbol   string
	TickSize float64
	ListedAt time.Time // zero if unknown
}

// Ticker24h is one row of the 24h ticker.
type Ticker24h struct {
	Symbol         string
	LastPrice      float64
	QuoteVolume    float64
	PriceChangePct float64
}

// Level is one price level of an order book.
type Level struct {
	Price float64
	Qty   float64
}

// OrderBook is a depth snapshot, best prices first.
type OrderBook struct {
	Bids []Level
	Asks []Level
}

// Kline is one OHLC candle.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
}
