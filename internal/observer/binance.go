package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// BinanceFeedConfig configures the Binance combined-stream websocket feed.
type BinanceFeedConfig struct {
	SpotURL          string
	FuturesURL       string
	MaxStreams       int
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration
}

// DefaultBinanceFeedConfig returns production stream endpoints.
func DefaultBinanceFeedConfig() BinanceFeedConfig {
	return BinanceFeedConfig{
		SpotURL:          "wss://stream.binance.com:9443/stream",
		FuturesURL:       "wss://fstream.binance.com/stream",
		MaxStreams:       200,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      30 * time.Second,
		PingInterval:     15 * time.Second,
	}
}

// BinanceFeed streams aggregate trades from Binance. Each Subscribe dials one
// connection; reconnecting is the caller's job.
type BinanceFeed struct {
	cfg    BinanceFeedConfig
	logger *slog.Logger
}

// NewBinanceFeed creates a Binance feed.
func NewBinanceFeed(cfg BinanceFeedConfig, logger *slog.Logger) *BinanceFeed {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBinanceFeedConfig()
	if cfg.SpotURL == "" {
		cfg.SpotURL = def.SpotURL
	}
	if cfg.FuturesURL == "" {
		cfg.FuturesURL = def.FuturesURL
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = def.MaxStreams
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &BinanceFeed{cfg: cfg, logger: logger}
}

// Name returns the feed identifier.
func (f *BinanceFeed) Name() string { return "binance" }

// MaxSymbols returns the per-connection stream cap.
func (f *BinanceFeed) MaxSymbols() int { return f.cfg.MaxStreams }

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   binanceAggTrade `json:"data"`
}

type binanceAggTrade struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	EventTime int64  `json:"E"`
	TradeTime int64  `json:"T"`
}

// Subscribe dials the combined aggTrade stream for symbols.
func (f *BinanceFeed) Subscribe(ctx context.Context, market types.Market, symbols []string) (*Subscription, error) {
	if err := checkLimit(f.Name(), f.cfg.MaxStreams, symbols); err != nil {
		return nil, err
	}

	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@aggTrade"
	}
	base := f.cfg.SpotURL
	if market == types.MarketFutures {
		base = f.cfg.FuturesURL
	}
	url := fmt.Sprintf("%s?streams=%s", base, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", types.ErrStream, market, err)
	}

	f.logger.Info("price stream connected",
		"feed", f.Name(),
		"market", market.String(),
		"symbols", len(symbols),
	)

	sub := newSubscription(ctx, market, symbols)
	sub.start(func(ctx context.Context, emit func(types.Tick) bool) error {
		return f.consume(ctx, conn, market, emit)
	})
	return sub, nil
}

func (f *BinanceFeed) consume(ctx context.Context, conn *websocket.Conn, market types.Market, emit func(types.Tick) bool) error {
	// ReadMessage does not observe ctx; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: read: %v", types.ErrStream, err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(f.cfg.ReadTimeout))

		tick, ok := f.decode(message, market)
		if !ok {
			continue
		}
		if !emit(tick) {
			return ctx.Err()
		}
	}
}

func (f *BinanceFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.logger.Warn("binance ping failed", "error", err)
				return
			}
		}
	}
}

func (f *BinanceFeed) decode(message []byte, market types.Market) (types.Tick, bool) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.logger.Warn("failed to decode binance message", "error", err)
		return types.Tick{}, false
	}

	symbol := strings.ToUpper(env.Data.Symbol)
	if symbol == "" {
		symbol = streamSymbol(env.Stream)
	}
	if symbol == "" {
		return types.Tick{}, false
	}

	price, err := decimal.NewFromString(env.Data.Price)
	if err != nil || !price.IsPositive() {
		f.logger.Warn("invalid price from binance", "symbol", symbol, "price", env.Data.Price)
		return types.Tick{}, false
	}

	ts := env.Data.EventTime
	if ts == 0 {
		ts = env.Data.TradeTime
	}
	eventTime := time.Now()
	if ts > 0 {
		eventTime = time.UnixMilli(ts)
	}

	return types.Tick{
		Symbol:    symbol,
		Market:    market,
		Price:     price,
		EventTime: eventTime,
	}, true
}

func streamSymbol(stream string) string {
	sym, _, _ := strings.Cut(stream, "@")
	return strings.ToUpper(sym)
}
