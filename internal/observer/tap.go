package observer

import (
	"context"

	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Tap wraps a feed and calls fn for every tick before handing it on.
// It keeps a price-driven collaborator, such as the paper router, in step
// with what producers see.
type Tap struct {
	feed PriceFeed
	fn   func(types.Tick)
}

// NewTap wraps feed with fn.
func NewTap(feed PriceFeed, fn func(types.Tick)) *Tap {
	return &Tap{feed: feed, fn: fn}
}

// Name returns the wrapped feed's name.
func (t *Tap) Name() string { return t.feed.Name() }

// MaxSymbols returns the wrapped feed's cap.
func (t *Tap) MaxSymbols() int { return t.feed.MaxSymbols() }

// Subscribe opens the wrapped stream and relays its ticks through fn.
func (t *Tap) Subscribe(ctx context.Context, market types.Market, symbols []string) (*Subscription, error) {
	inner, err := t.feed.Subscribe(ctx, market, symbols)
	if err != nil {
		return nil, err
	}

	sub := newSubscription(ctx, market, symbols)
	sub.start(func(ctx context.Context, emit func(types.Tick) bool) error {
		defer inner.Close()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case tick, ok := <-inner.Ticks():
				if !ok {
					return inner.Err()
				}
				if t.fn != nil {
					t.fn(tick)
				}
				if !emit(tick) {
					return ctx.Err()
				}
			}
		}
	})
	return sub, nil
}
