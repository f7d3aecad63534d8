// Package observer provides live and replayed price streams for signal producers.
package observer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tathienbao/strategy-runtime/internal/types"
)

// PriceFeed streams trade prices for a set of symbols.
type PriceFeed interface {
	// Subscribe opens one stream for symbols on market. The returned
	// subscription's Ticks channel closes when the stream ends.
	Subscribe(ctx context.Context, market types.Market, symbols []string) (*Subscription, error)

	// MaxSymbols returns the per-subscription symbol cap (0 = unlimited).
	MaxSymbols() int

	// Name returns the feed identifier (e.g., "binance", "replay").
	Name() string
}

const defaultTickBuffer = 256

// Subscription is one open price stream.
type Subscription struct {
	market  types.Market
	symbols []string
	ticks   chan types.Tick

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(ctx context.Context, market types.Market, symbols []string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	return &Subscription{
		market:  market,
		symbols: slices.Clone(symbols),
		ticks:   make(chan types.Tick, defaultTickBuffer),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// start runs stream until it returns, then records its error and closes Ticks.
func (s *Subscription) start(stream func(ctx context.Context, emit func(types.Tick) bool) error) {
	go func() {
		defer close(s.done)
		err := stream(s.ctx, s.emit)

		s.mu.Lock()
		switch {
		case s.ctx.Err() != nil:
			s.err = s.ctx.Err()
		case err == nil:
			s.err = fmt.Errorf("%w: stream ended", types.ErrStream)
		case errors.Is(err, types.ErrStream):
			s.err = err
		default:
			s.err = fmt.Errorf("%w: %v", types.ErrStream, err)
		}
		s.mu.Unlock()

		close(s.ticks)
	}()
}

func (s *Subscription) emit(t types.Tick) bool {
	select {
	case s.ticks <- t:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Market returns the subscribed market.
func (s *Subscription) Market() types.Market { return s.market }

// Symbols returns the subscribed symbols.
func (s *Subscription) Symbols() []string { return slices.Clone(s.symbols) }

// Ticks returns the price channel. It closes when the stream ends.
func (s *Subscription) Ticks() <-chan types.Tick { return s.ticks }

// Err reports why the stream ended. It is nil while the stream is open.
// A stream closed by Close or by its context reports the context error;
// any other end wraps types.ErrStream.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and waits for it to release its resources.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Done is closed after the stream has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}

func checkLimit(feed string, limit int, symbols []string) error {
	if len(symbols) == 0 {
		return fmt.Errorf("%w: %s subscription requires at least one symbol", types.ErrInvalidSymbol, feed)
	}
	if limit > 0 && len(symbols) > limit {
		return fmt.Errorf("%w: %s supports %d symbols per subscription, got %d", types.ErrStream, feed, limit, len(symbols))
	}
	return nil
}
