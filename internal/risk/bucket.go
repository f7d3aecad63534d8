// Package risk implements capital buckets and the risk allocator.
package risk

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Default bucket names. A strategy's bucket defaults to its category.
const (
	BucketTrend    = "trend"
	BucketMomentum = "momentum"
	BucketScalp    = "scalp"
	BucketEvent    = "event"
)

// DefaultBucketBudgets returns conservative budgets summing to 0.85 of equity.
func DefaultBucketBudgets() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		BucketTrend:    decimal.RequireFromString("0.35"),
		BucketMomentum: decimal.RequireFromString("0.25"),
		BucketScalp:    decimal.RequireFromString("0.15"),
		BucketEvent:    decimal.RequireFromString("0.10"),
	}
}

// BucketState is a point-in-time view of one bucket.
type BucketState struct {
	Name     string
	Budget   decimal.Decimal
	Usage    decimal.Decimal
	Headroom decimal.Decimal
}

// BucketTracker tracks usage of capital buckets as fractions of equity.
// Thread-safe for concurrent access.
type BucketTracker struct {
	mu      sync.RWMutex
	budgets map[string]decimal.Decimal
	usage   map[string]decimal.Decimal
	total   decimal.Decimal
}

// NewBucketTracker creates a tracker with the given budgets. Unknown buckets
// have a zero budget.
func NewBucketTracker(budgets map[string]decimal.Decimal) *BucketTracker {
	b := &BucketTracker{
		budgets: make(map[string]decimal.Decimal, len(budgets)),
		usage:   make(map[string]decimal.Decimal, len(budgets)),
	}
	for name, budget := range budgets {
		b.budgets[name] = budget
		b.usage[name] = decimal.Zero
	}
	return b
}

// Apply adds fraction to bucket usage and total exposure.
func (b *BucketTracker) Apply(bucket string, fraction decimal.Decimal) {
	if !fraction.IsPositive() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.usage[bucket] = b.usage[bucket].Add(fraction)
	b.total = b.total.Add(fraction)
}

// Release subtracts fraction from bucket usage, floored at zero.
// It returns the amount actually released.
func (b *BucketTracker) Release(bucket string, fraction decimal.Decimal) decimal.Decimal {
	if !fraction.IsPositive() {
		return decimal.Zero
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	used := b.usage[bucket]
	released := decimal.Min(used, fraction)
	b.usage[bucket] = used.Sub(released)
	b.total = decimal.Max(decimal.Zero, b.total.Sub(released))
	return released
}

// Headroom returns max(0, budget - usage).
func (b *BucketTracker) Headroom(bucket string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.headroomLocked(bucket)
}

func (b *BucketTracker) headroomLocked(bucket string) decimal.Decimal {
	return decimal.Max(decimal.Zero, b.budgets[bucket].Sub(b.usage[bucket]))
}

// Usage returns the bucket's used fraction.
func (b *BucketTracker) Usage(bucket string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.usage[bucket]
}

// Budget returns the bucket's budget fraction.
func (b *BucketTracker) Budget(bucket string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.budgets[bucket]
}

// TotalExposure returns the sum of usage across buckets.
func (b *BucketTracker) TotalExposure() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Decay scales every bucket's usage by (1 - factor). factor outside (0, 1] is ignored.
func (b *BucketTracker) Decay(factor decimal.Decimal) {
	if !factor.IsPositive() || factor.GreaterThan(decimal.NewFromInt(1)) {
		return
	}
	keep := decimal.NewFromInt(1).Sub(factor)

	b.mu.Lock()
	defer b.mu.Unlock()

	total := decimal.Zero
	for name, used := range b.usage {
		used = used.Mul(keep)
		b.usage[name] = used
		total = total.Add(used)
	}
	b.total = total
}

// Snapshot returns every known bucket sorted by name.
func (b *BucketTracker) Snapshot() []BucketState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make(map[string]struct{}, len(b.budgets))
	for name := range b.budgets {
		names[name] = struct{}{}
	}
	for name := range b.usage {
		names[name] = struct{}{}
	}

	out := make([]BucketState, 0, len(names))
	for name := range names {
		out = append(out, BucketState{
			Name:     name,
			Budget:   b.budgets[name],
			Usage:    b.usage[name],
			Headroom: b.headroomLocked(name),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
