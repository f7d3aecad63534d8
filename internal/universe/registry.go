// Package universe maintains the per-strategy tradable symbol sets and the
// screener that keeps them current.
package universe

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultSymbols is the cold-start universe for strategies without a
// configured default.
var DefaultSymbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT"}

// Snapshot is one versioned universe entry.
type Snapshot struct {
	Strategy  string
	Version   uint64
	Symbols   []string
	UpdatedAt time.Time
}

type entry struct {
	version uint64
	symbols []string
	changed chan struct{} // closed and replaced on every update
}

// Option configures a Registry.
type Option func(*Registry)

// WithObserver registers a callback invoked after every update, outside the lock.
func WithObserver(fn func(Snapshot)) Option {
	return func(r *Registry) {
		if fn != nil {
			r.observers = append(r.observers, fn)
		}
	}
}

// Registry is a versioned, per-strategy symbol-set store with change notification.
// Thread-safe for concurrent access.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*entry
	defaults  map[string][]string
	metadata  map[string]map[string]string // symbol -> key -> value
	observers []func(Snapshot)
}

// NewRegistry creates a registry. defaults maps strategy -> cold-start symbols;
// strategies missing from defaults fall back to DefaultSymbols.
func NewRegistry(defaults map[string][]string, opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		defaults: make(map[string][]string, len(defaults)),
		metadata: make(map[string]map[string]string),
	}
	for strategy, symbols := range defaults {
		r.defaults[strategy] = Normalize(symbols)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Update normalizes symbols, assigns the next version for strategy and wakes waiters.
// Returns the new version.
func (r *Registry) Update(strategy string, symbols []string) uint64 {
	normalized := Normalize(symbols)

	r.mu.Lock()
	e := r.entryLocked(strategy)
	e.version++
	e.symbols = normalized
	close(e.changed)
	e.changed = make(chan struct{})
	snap := Snapshot{
		Strategy:  strategy,
		Version:   e.version,
		Symbols:   slices.Clone(normalized),
		UpdatedAt: time.Now(),
	}
	observers := r.observers
	r.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return snap.Version
}

// Current returns the version and symbols for strategy. A strategy that was
// never updated reports version 0 and its default symbols.
func (r *Registry) Current(strategy string) (uint64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[strategy]; ok && e.version > 0 {
		return e.version, slices.Clone(e.symbols)
	}
	return 0, slices.Clone(r.defaultsLocked(strategy))
}

// WaitForUpdate blocks until the stored version for strategy differs from
// lastVersion and returns it. Returns ctx.Err() if ctx is done first.
func (r *Registry) WaitForUpdate(ctx context.Context, strategy string, lastVersion uint64) (uint64, error) {
	for {
		r.mu.Lock()
		e := r.entryLocked(strategy)
		if e.version != lastVersion {
			v := e.version
			r.mu.Unlock()
			return v, nil
		}
		changed := e.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return lastVersion, ctx.Err()
		case <-changed:
		}
	}
}

// Changed returns a channel closed on the next update for strategy after
// version lastVersion. If the version already differs the channel is closed.
// Producers select on it alongside their price stream.
func (r *Registry) Changed(strategy string, lastVersion uint64) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryLocked(strategy)
	if e.version != lastVersion {
		done := make(chan struct{})
		close(done)
		return done
	}
	return e.changed
}

// Strategies returns every strategy with a stored entry or a configured default, sorted.
func (r *Registry) Strategies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(r.entries)+len(r.defaults))
	for s := range r.entries {
		seen[s] = struct{}{}
	}
	for s := range r.defaults {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// SetSymbolMetadata attaches an out-of-band key/value (e.g. news flag) to a symbol.
func (r *Registry) SetSymbolMetadata(symbol, key, value string) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metadata[symbol]
	if !ok {
		m = make(map[string]string)
		r.metadata[symbol] = m
	}
	m[key] = value
}

// ClearSymbolMetadata removes key from symbol, or every key when key is empty.
func (r *Registry) ClearSymbolMetadata(symbol, key string) {
	symbol = normalizeSymbol(symbol)

	r.mu.Lock()
	defer r.mu.Unlock()

	if key == "" {
		delete(r.metadata, symbol)
		return
	}
	if m, ok := r.metadata[symbol]; ok {
		delete(m, key)
		if len(m) == 0 {
			delete(r.metadata, symbol)
		}
	}
}

// SymbolMetadata returns the value stored under key for symbol.
func (r *Registry) SymbolMetadata(symbol, key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.metadata[normalizeSymbol(symbol)]
	if !ok {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// entryLocked returns the entry for strategy, creating an unversioned one. Must hold r.mu.
func (r *Registry) entryLocked(strategy string) *entry {
	e, ok := r.entries[strategy]
	if !ok {
		e = &entry{changed: make(chan struct{})}
		r.entries[strategy] = e
	}
	return e
}

func (r *Registry) defaultsLocked(strategy string) []string {
	if d, ok := r.defaults[strategy]; ok {
		return d
	}
	return DefaultSymbols
}

// Normalize upper-cases and trims symbols, drops empties and duplicates,
// preserving first-seen order.
func Normalize(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = normalizeSymbol(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
