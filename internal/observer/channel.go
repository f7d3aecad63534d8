package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/tathienbao/strategy-runtime/internal/types"
)

// ChannelFeed is an in-process feed driven by Publish. It backs paper runs
// fed from another component and producer tests.
type ChannelFeed struct {
	maxSymbols int

	mu        sync.Mutex
	subs      map[*Subscription]*channelStream
	subscribe int
	subErr    error
	changed   chan struct{}
}

type channelStream struct {
	symbols map[string]struct{}
	in      chan types.Tick
	fail    chan error
}

// NewChannelFeed creates a feed with the given per-subscription cap (0 = unlimited).
func NewChannelFeed(maxSymbols int) *ChannelFeed {
	return &ChannelFeed{
		maxSymbols: maxSymbols,
		subs:       make(map[*Subscription]*channelStream),
		changed:    make(chan struct{}),
	}
}

// Name returns the feed identifier.
func (f *ChannelFeed) Name() string { return "channel" }

// MaxSymbols returns the per-subscription cap.
func (f *ChannelFeed) MaxSymbols() int { return f.maxSymbols }

// SetSubscribeError makes subsequent Subscribe calls fail with err (nil clears it).
func (f *ChannelFeed) SetSubscribeError(err error) {
	f.mu.Lock()
	f.subErr = err
	f.mu.Unlock()
}

// Subscribe opens a stream receiving published ticks for symbols.
func (f *ChannelFeed) Subscribe(ctx context.Context, market types.Market, symbols []string) (*Subscription, error) {
	f.mu.Lock()
	f.subscribe++
	f.notifyLocked()
	err := f.subErr
	f.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStream, err)
	}
	if err := checkLimit(f.Name(), f.maxSymbols, symbols); err != nil {
		return nil, err
	}

	stream := &channelStream{
		symbols: symbolSet(symbols),
		in:      make(chan types.Tick, defaultTickBuffer),
		fail:    make(chan error, 1),
	}
	sub := newSubscription(ctx, market, symbols)

	f.mu.Lock()
	f.subs[sub] = stream
	f.notifyLocked()
	f.mu.Unlock()

	sub.start(func(ctx context.Context, emit func(types.Tick) bool) error {
		defer func() {
			f.mu.Lock()
			delete(f.subs, sub)
			f.notifyLocked()
			f.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err := <-stream.fail:
				return err
			case t := <-stream.in:
				if !emit(t) {
					return ctx.Err()
				}
			}
		}
	})
	return sub, nil
}

// Publish delivers tick to every open subscription covering its symbol and market.
// It returns the number of subscriptions the tick was queued on.
func (f *ChannelFeed) Publish(tick types.Tick) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for sub, stream := range f.subs {
		if sub.Market() != tick.Market {
			continue
		}
		if _, ok := stream.symbols[tick.Symbol]; !ok {
			continue
		}
		select {
		case stream.in <- tick:
			n++
		default:
		}
	}
	return n
}

// PublishWait delivers tick like Publish but waits for buffer space instead
// of dropping. It returns the number of subscriptions that received the tick.
func (f *ChannelFeed) PublishWait(ctx context.Context, tick types.Tick) (int, error) {
	type target struct {
		sub    *Subscription
		stream *channelStream
	}

	f.mu.Lock()
	targets := make([]target, 0, len(f.subs))
	for sub, stream := range f.subs {
		if sub.Market() != tick.Market {
			continue
		}
		if _, ok := stream.symbols[tick.Symbol]; !ok {
			continue
		}
		targets = append(targets, target{sub: sub, stream: stream})
	}
	f.mu.Unlock()

	n := 0
	for _, t := range targets {
		select {
		case t.stream.in <- tick:
			n++
		case <-t.sub.Done():
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	return n, nil
}

// Fail ends every open subscription with err.
func (f *ChannelFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, stream := range f.subs {
		select {
		case stream.fail <- err:
		default:
		}
	}
}

// Active returns the number of open subscriptions.
func (f *ChannelFeed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// ActiveSymbols returns the symbol lists of open subscriptions.
func (f *ChannelFeed) ActiveSymbols() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, 0, len(f.subs))
	for sub := range f.subs {
		out = append(out, sub.Symbols())
	}
	return out
}

// SubscribeCalls returns how many times Subscribe was called.
func (f *ChannelFeed) SubscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribe
}

// Wait blocks until cond holds for the feed or ctx is done.
// cond is evaluated with the feed unlocked after every subscription change.
func (f *ChannelFeed) Wait(ctx context.Context, cond func(*ChannelFeed) bool) error {
	for {
		f.mu.Lock()
		changed := f.changed
		f.mu.Unlock()

		if cond(f) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (f *ChannelFeed) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
