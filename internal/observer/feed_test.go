package observer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

func recv(t *testing.T, sub *Subscription) types.Tick {
	t.Helper()
	select {
	case tick, ok := <-sub.Ticks():
		if !ok {
			t.Fatalf("ticks closed: %v", sub.Err())
		}
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	return types.Tick{}
}

func waitClosed(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Ticks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("ticks channel not closed")
		}
	}
}

func TestChannelFeed_PublishFilters(t *testing.T) {
	feed := NewChannelFeed(0)
	sub, err := feed.Subscribe(context.Background(), types.MarketFutures, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if n := feed.Publish(types.Tick{Symbol: "ETHUSDT", Market: types.MarketFutures}); n != 0 {
		t.Errorf("other symbol delivered to %d subscriptions", n)
	}
	if n := feed.Publish(types.Tick{Symbol: "BTCUSDT", Market: types.MarketSpot}); n != 0 {
		t.Errorf("other market delivered to %d subscriptions", n)
	}
	want := types.Tick{Symbol: "BTCUSDT", Market: types.MarketFutures, Price: decimal.NewFromInt(100)}
	if n := feed.Publish(want); n != 1 {
		t.Fatalf("Publish delivered to %d subscriptions, want 1", n)
	}

	if got := recv(t, sub); got.Symbol != "BTCUSDT" || !got.Price.Equal(want.Price) {
		t.Errorf("tick = %+v", got)
	}
}

func TestChannelFeed_CloseEndsStream(t *testing.T) {
	feed := NewChannelFeed(0)
	sub, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	sub.Close()
	waitClosed(t, sub)

	if !errors.Is(sub.Err(), context.Canceled) {
		t.Errorf("Err = %v, want context.Canceled", sub.Err())
	}
	if feed.Active() != 0 {
		t.Errorf("Active = %d after close, want 0", feed.Active())
	}
}

func TestChannelFeed_FailWrapsStreamError(t *testing.T) {
	feed := NewChannelFeed(0)
	sub, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	feed.Fail(errors.New("connection reset"))
	waitClosed(t, sub)

	if !errors.Is(sub.Err(), types.ErrStream) {
		t.Errorf("Err = %v, want ErrStream", sub.Err())
	}
}

func TestChannelFeed_Limits(t *testing.T) {
	feed := NewChannelFeed(2)
	ctx := context.Background()

	if _, err := feed.Subscribe(ctx, types.MarketSpot, nil); !errors.Is(err, types.ErrInvalidSymbol) {
		t.Errorf("empty subscribe error = %v, want ErrInvalidSymbol", err)
	}
	if _, err := feed.Subscribe(ctx, types.MarketSpot, []string{"A", "B", "C"}); !errors.Is(err, types.ErrStream) {
		t.Errorf("over-cap subscribe error = %v, want ErrStream", err)
	}

	feed.SetSubscribeError(errors.New("down"))
	if _, err := feed.Subscribe(ctx, types.MarketSpot, []string{"A"}); !errors.Is(err, types.ErrStream) {
		t.Errorf("failing subscribe error = %v, want ErrStream", err)
	}
	if feed.SubscribeCalls() != 3 {
		t.Errorf("SubscribeCalls = %d, want 3", feed.SubscribeCalls())
	}
}

func TestChannelFeed_Wait(t *testing.T) {
	feed := NewChannelFeed(0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		sub, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"X"})
		if err == nil {
			defer sub.Close()
			time.Sleep(50 * time.Millisecond)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := feed.Wait(ctx, func(f *ChannelFeed) bool { return f.Active() == 1 }); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestParseTicks(t *testing.T) {
	data := `timestamp,symbol,price
1700000000,btcusdt,35000.5
1700000000500,ETHUSDT,1900
2024-01-01 09:30:00,SOLUSDT,100
garbage,BTCUSDT,1
1700000001,BTCUSDT,-5
1700000002,,5
1700000003,BTCUSDT
`
	ticks, err := ParseTicks(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseTicks: %v", err)
	}
	if len(ticks) != 3 {
		t.Fatalf("got %d ticks, want 3", len(ticks))
	}
	if ticks[0].Symbol != "BTCUSDT" || !ticks[0].EventTime.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("tick[0] = %+v", ticks[0])
	}
	if !ticks[1].EventTime.Equal(time.UnixMilli(1700000000500)) {
		t.Errorf("tick[1] time = %v, want millisecond timestamp", ticks[1].EventTime)
	}
	if !ticks[2].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("tick[2] price = %s", ticks[2].Price)
	}
}

func TestReplayFeed_Subscribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	data := "1,BTCUSDT,100\n2,ETHUSDT,50\n3,BTCUSDT,101\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	feed := NewReplayFeed(path, 0)
	sub, err := feed.Subscribe(context.Background(), types.MarketFutures, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	first, second := recv(t, sub), recv(t, sub)
	if !first.Price.Equal(decimal.NewFromInt(100)) || !second.Price.Equal(decimal.NewFromInt(101)) {
		t.Errorf("prices = %s, %s; want 100, 101", first.Price, second.Price)
	}
	if first.Market != types.MarketFutures {
		t.Errorf("market = %v, want futures", first.Market)
	}

	// exhausted replay stays open
	select {
	case tick, ok := <-sub.Ticks():
		t.Fatalf("unexpected receive after replay end: %+v ok=%v", tick, ok)
	case <-time.After(20 * time.Millisecond):
	}
	if feed.TickCount() != 3 {
		t.Errorf("TickCount = %d, want 3", feed.TickCount())
	}
}

func TestReplayFeed_MissingFile(t *testing.T) {
	feed := NewReplayFeed(filepath.Join(t.TempDir(), "missing.csv"), 0)
	if _, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"BTCUSDT"}); err == nil {
		t.Error("expected error for missing file")
	}
}

func newWSServer(t *testing.T, handler func(*websocket.Conn, *http.Request)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func TestBinanceFeed_StreamsAggTrades(t *testing.T) {
	gotStreams := make(chan string, 1)
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotStreams <- r.URL.Query().Get("streams")
		msgs := []string{
			`{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1700000000123,"s":"BTCUSDT","p":"35000.10","q":"0.5","T":1700000000120}}`,
			`not json`,
			`{"stream":"ethusdt@aggTrade","data":{"p":"abc"}}`,
			`{"stream":"ethusdt@aggTrade","data":{"p":"1900.5","T":1700000000200}}`,
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// hold the connection until the client leaves
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	feed := NewBinanceFeed(BinanceFeedConfig{FuturesURL: wsURL(srv), PingInterval: time.Hour}, nil)
	sub, err := feed.Subscribe(context.Background(), types.MarketFutures, []string{"BTCUSDT", "ETHUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	if streams := <-gotStreams; streams != "btcusdt@aggTrade/ethusdt@aggTrade" {
		t.Errorf("streams = %q", streams)
	}

	btc := recv(t, sub)
	if btc.Symbol != "BTCUSDT" || !btc.Price.Equal(decimal.RequireFromString("35000.10")) {
		t.Errorf("btc tick = %+v", btc)
	}
	if !btc.EventTime.Equal(time.UnixMilli(1700000000123)) || btc.Market != types.MarketFutures {
		t.Errorf("btc tick time/market = %v/%v", btc.EventTime, btc.Market)
	}

	eth := recv(t, sub)
	if eth.Symbol != "ETHUSDT" || !eth.EventTime.Equal(time.UnixMilli(1700000000200)) {
		t.Errorf("eth tick = %+v, want symbol from stream name", eth)
	}
}

func TestBinanceFeed_ServerCloseEndsStream(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ *http.Request) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	})

	feed := NewBinanceFeed(BinanceFeedConfig{SpotURL: wsURL(srv)}, nil)
	sub, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"BTCUSDT"})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	waitClosed(t, sub)
	if !errors.Is(sub.Err(), types.ErrStream) {
		t.Errorf("Err = %v, want ErrStream", sub.Err())
	}
}

func TestBinanceFeed_DialFailure(t *testing.T) {
	feed := NewBinanceFeed(BinanceFeedConfig{SpotURL: "ws://127.0.0.1:1/stream", HandshakeTimeout: time.Second}, nil)
	_, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"BTCUSDT"})
	if !errors.Is(err, types.ErrStream) {
		t.Errorf("dial error = %v, want ErrStream", err)
	}
}

func TestBinanceFeed_Limits(t *testing.T) {
	feed := NewBinanceFeed(BinanceFeedConfig{MaxStreams: 2}, nil)
	if feed.MaxSymbols() != 2 || feed.Name() != "binance" {
		t.Fatalf("MaxSymbols/Name = %d/%s", feed.MaxSymbols(), feed.Name())
	}
	_, err := feed.Subscribe(context.Background(), types.MarketSpot, []string{"A", "B", "C"})
	if !errors.Is(err, types.ErrStream) {
		t.Errorf("over-cap error = %v, want ErrStream", err)
	}
}

func TestSubscription_SymbolsCopied(t *testing.T) {
	in := []string{"BTCUSDT"}
	sub := newSubscription(context.Background(), types.MarketSpot, in)
	in[0] = "MUTATED"
	got := sub.Symbols()
	got[0] = "ALSO"
	if !slices.Equal(sub.Symbols(), []string{"BTCUSDT"}) {
		t.Errorf("Symbols = %v", sub.Symbols())
	}
	sub.cancel()
}
