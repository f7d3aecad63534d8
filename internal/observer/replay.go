package observer

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

// ReplayFeed replays recorded trades from a CSV file.
// CSV format: timestamp,symbol,price (header optional).
// Timestamps are Unix seconds, Unix milliseconds or one of the layouts in parseTimestamp.
//
// After the recording is exhausted a subscription stays open and idle until
// closed, so a producer does not treat the end of data as a stream failure.
type ReplayFeed struct {
	path string
	pace time.Duration

	mu    sync.Mutex
	ticks []types.Tick
}

// NewReplayFeed creates a feed reading path. pace is the delay between ticks
// (0 = as fast as the consumer reads).
func NewReplayFeed(path string, pace time.Duration) *ReplayFeed {
	return &ReplayFeed{path: path, pace: pace}
}

// NewReplayFeedFromTicks creates a feed over already-parsed ticks.
func NewReplayFeedFromTicks(ticks []types.Tick, pace time.Duration) *ReplayFeed {
	return &ReplayFeed{ticks: ticks, pace: pace}
}

// Name returns the feed identifier.
func (f *ReplayFeed) Name() string { return "replay" }

// MaxSymbols returns 0; replay has no cap.
func (f *ReplayFeed) MaxSymbols() int { return 0 }

// TickCount returns the number of loaded ticks.
func (f *ReplayFeed) TickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ticks)
}

// Subscribe replays recorded ticks for symbols.
func (f *ReplayFeed) Subscribe(ctx context.Context, market types.Market, symbols []string) (*Subscription, error) {
	if err := checkLimit(f.Name(), 0, symbols); err != nil {
		return nil, err
	}
	ticks, err := f.load()
	if err != nil {
		return nil, err
	}

	want := symbolSet(symbols)
	sub := newSubscription(ctx, market, symbols)
	sub.start(func(ctx context.Context, emit func(types.Tick) bool) error {
		for _, t := range ticks {
			if _, ok := want[t.Symbol]; !ok {
				continue
			}
			t.Market = market
			if !emit(t) {
				return ctx.Err()
			}
			if f.pace > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(f.pace):
				}
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})
	return sub, nil
}

func (f *ReplayFeed) load() ([]types.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ticks != nil || f.path == "" {
		return f.ticks, nil
	}

	file, err := os.Open(f.path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer file.Close()

	ticks, err := ParseTicks(file)
	if err != nil {
		return nil, fmt.Errorf("parse replay file: %w", err)
	}
	f.ticks = ticks
	return ticks, nil
}

// ParseTicks parses timestamp,symbol,price rows. Malformed rows are skipped.
func ParseTicks(r io.Reader) ([]types.Tick, error) {
	reader := csv.NewReader(bufio.NewReader(r))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var ticks []types.Tick
	line := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		line++

		if line == 1 && isHeader(record) {
			continue
		}
		if len(record) < 3 {
			continue
		}

		tick, err := parseTick(record)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}

	return ticks, nil
}

func parseTick(record []string) (types.Tick, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return types.Tick{}, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(record[1]))
	if symbol == "" {
		return types.Tick{}, fmt.Errorf("%w: empty symbol", types.ErrInvalidSymbol)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(record[2]))
	if err != nil {
		return types.Tick{}, fmt.Errorf("parse price: %w", err)
	}
	if !price.IsPositive() {
		return types.Tick{}, fmt.Errorf("non-positive price %s", price)
	}
	return types.Tick{Symbol: symbol, Price: price, EventTime: ts}, nil
}

// parseTimestamp accepts Unix seconds, Unix milliseconds and common layouts.
func parseTimestamp(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n), nil
		}
		return time.Unix(n, 0), nil
	}

	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown timestamp format: %s", s)
}

func isHeader(record []string) bool {
	if len(record) == 0 {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(record[0])) {
	case "timestamp", "time", "ts", "date", "datetime":
		return true
	}
	return false
}
