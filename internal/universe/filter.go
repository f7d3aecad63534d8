package universe

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/tathienbao/strategy-runtime/internal/types"
)

// Field names a numeric SymbolMetrics column a filter can threshold or sort on.
type Field string

const (
	FieldPrice          Field = "price"
	FieldVolume24h      Field = "volume_24h_usdt"
	FieldOpenInterest   Field = "open_interest_usdt"
	FieldMaxLeverage    Field = "max_leverage"
	FieldSpreadPct      Field = "spread_pct"
	FieldVolatilityPct  Field = "volatility_pct"
	FieldChange1hPct    Field = "change_1h_pct"
	FieldAbsChange1hPct Field = "abs_change_1h_pct"
	FieldDepth          Field = "depth_usdt"
	FieldBidLiquidity   Field = "bid_liquidity_usdt"
	FieldTickSizePct    Field = "tick_size_pct"
	FieldTrend30dPct    Field = "trend_30d_pct"
	FieldListingAgeDays Field = "listing_age_days"
	FieldSentimentScore Field = "sentiment_score"
)

// Fields lists every known field.
var Fields = []Field{
	FieldPrice, FieldVolume24h, FieldOpenInterest, FieldMaxLeverage, FieldSpreadPct,
	FieldVolatilityPct, FieldChange1hPct, FieldAbsChange1hPct, FieldDepth, FieldBidLiquidity,
	FieldTickSizePct, FieldTrend30dPct, FieldListingAgeDays, FieldSentimentScore,
}

// Value extracts the field from m. ok is false for an unknown field or a
// value that was not fetched.
func (f Field) Value(m types.SymbolMetrics) (v float64, ok bool) {
	switch f {
	case FieldPrice:
		v = m.Price
	case FieldVolume24h:
		v = m.Volume24hUSDT
	case FieldOpenInterest:
		v = m.OpenInterestUSDT
	case FieldMaxLeverage:
		v = m.MaxLeverage
	case FieldSpreadPct:
		v = m.SpreadPct
	case FieldVolatilityPct:
		v = m.VolatilityPct
	case FieldChange1hPct:
		v = m.Change1hPct
	case FieldAbsChange1hPct:
		v = math.Abs(m.Change1hPct)
	case FieldDepth:
		v = m.DepthUSDT
	case FieldBidLiquidity:
		v = m.BidLiquidityUSDT
	case FieldTickSizePct:
		v = m.TickSizePct
	case FieldTrend30dPct:
		v = m.Trend30dPct
	case FieldListingAgeDays:
		v = m.ListingAgeDays
	case FieldSentimentScore:
		v = m.SentimentScore
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ParseField validates a configured field name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Fields, f) {
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown metric field %q", types.ErrInvalidConfig, s)
}

// SortKey is one weighted term of the composite ranking score.
type SortKey struct {
	Field  Field
	Weight float64
}

// FilterConfig holds the declarative universe criteria of one strategy.
type FilterConfig struct {
	Strategy string
	Markets  []types.Market // empty = any market

	// Floors are inclusive (value >= floor); Ceilings are inclusive (value <= ceiling).
	// A field absent from the map is not tested. A field with no data fails.
	Floors   map[Field]float64
	Ceilings map[Field]float64

	IncludeSymbols  []string
	ExcludeSymbols  []string
	ExcludePrefixes []string
	ExcludeSuffixes []string
	ExcludeContains []string
	RequireNews     bool
	ExcludeNews     bool

	SortKeys             []SortKey // empty = 24h volume
	MaxSymbols           int       // 0 = unlimited
	MaxConcurrentSymbols int       // 0 = unlimited
}

// Limit returns the effective result cap (0 = unlimited).
func (c FilterConfig) Limit() int {
	switch {
	case c.MaxSymbols > 0 && c.MaxConcurrentSymbols > 0:
		return min(c.MaxSymbols, c.MaxConcurrentSymbols)
	case c.MaxSymbols > 0:
		return c.MaxSymbols
	default:
		return c.MaxConcurrentSymbols
	}
}

// Passes reports whether m meets every threshold and matches no exclude rule.
// Include lists are handled by Evaluate.
func (c FilterConfig) Passes(m types.SymbolMetrics) bool {
	if len(c.Markets) > 0 && !slices.Contains(c.Markets, m.Market) {
		return false
	}
	for f, floor := range c.Floors {
		v, ok := f.Value(m)
		if !ok || v < floor {
			return false
		}
	}
	for f, ceiling := range c.Ceilings {
		v, ok := f.Value(m)
		if !ok || v > ceiling {
			return false
		}
	}
	if c.RequireNews && !m.NewsFlag {
		return false
	}
	if c.ExcludeNews && m.NewsFlag {
		return false
	}
	return !c.excluded(strings.ToUpper(m.Symbol))
}

func (c FilterConfig) excluded(symbol string) bool {
	for _, s := range c.ExcludeSymbols {
		if strings.EqualFold(s, symbol) {
			return true
		}
	}
	for _, p := range c.ExcludePrefixes {
		if p != "" && strings.HasPrefix(symbol, strings.ToUpper(p)) {
			return true
		}
	}
	for _, s := range c.ExcludeSuffixes {
		if s != "" && strings.HasSuffix(symbol, strings.ToUpper(s)) {
			return true
		}
	}
	for _, s := range c.ExcludeContains {
		if s != "" && strings.Contains(symbol, strings.ToUpper(s)) {
			return true
		}
	}
	return false
}

// Score computes the composite ranking score of m.
func (c FilterConfig) Score(m types.SymbolMetrics) float64 {
	if len(c.SortKeys) == 0 {
		v, _ := FieldVolume24h.Value(m)
		return v
	}
	// missing fields add nothing
	var score float64
	for _, k := range c.SortKeys {
		if v, ok := k.Field.Value(m); ok {
			score += k.Weight * v
		}
	}
	return score
}

// Evaluate applies cfg to metrics and returns the strategy's symbol list:
// explicit includes first, then passing candidates by descending score,
// deduplicated and truncated to cfg.Limit().
func Evaluate(cfg FilterConfig, metrics []types.SymbolMetrics) []string {
	type candidate struct {
		symbol string
		score  float64
	}

	includes := Normalize(cfg.IncludeSymbols)
	pinned := make(map[string]struct{}, len(includes))
	for _, s := range includes {
		pinned[s] = struct{}{}
	}

	candidates := make([]candidate, 0, len(metrics))
	for _, m := range metrics {
		sym := normalizeSymbol(m.Symbol)
		if sym == "" {
			continue
		}
		if _, ok := pinned[sym]; ok {
			continue
		}
		if !cfg.Passes(m) {
			continue
		}
		candidates = append(candidates, candidate{symbol: sym, score: cfg.Score(m)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].symbol < candidates[j].symbol
	})

	out := make([]string, 0, len(includes)+len(candidates))
	out = append(out, includes...)
	for _, c := range candidates {
		out = append(out, c.symbol)
	}
	out = Normalize(out)

	if limit := cfg.Limit(); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
