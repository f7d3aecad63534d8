// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/broker/paper"
	"github.com/tathienbao/strategy-runtime/internal/engine"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/risk"
	"github.com/tathienbao/strategy-runtime/internal/strategy"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/universe"
	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration.
type Config struct {
	Account     AccountConfig      `yaml:"account"`
	Buckets     map[string]float64 `yaml:"buckets"`
	Strategies  []StrategyConfig   `yaml:"strategies"`
	Leverage    LeverageConfig     `yaml:"leverage"`
	Pipeline    PipelineConfig     `yaml:"pipeline"`
	Screener    ScreenerConfig     `yaml:"screener"`
	Feed        FeedConfig         `yaml:"feed"`
	Universe    UniverseConfig     `yaml:"universe"`
	Paper       PaperConfig        `yaml:"paper"`
	Audit       AuditConfig        `yaml:"audit"`
	Persistence PersistenceConfig  `yaml:"persistence"`
	Alerting    AlertingConfig     `yaml:"alerting"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// AccountConfig holds account-wide sizing settings.
type AccountConfig struct {
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"` // default for strategies that set none
	MinNotionalUSD  float64 `yaml:"min_notional_usd"`
	FlatTolerance   float64 `yaml:"flat_tolerance"`
}

// StrategyConfig configures one producer and its allocation settings.
type StrategyConfig struct {
	Name            string         `yaml:"name"`
	Category        string         `yaml:"category"`
	Bucket          string         `yaml:"bucket"` // defaults to category
	Market          string         `yaml:"market"`
	RiskPerTradePct float64        `yaml:"risk_per_trade_pct"`
	MaxPositions    int            `yaml:"max_positions"`
	CooldownSec     int            `yaml:"cooldown_sec"`
	StopPct         float64        `yaml:"stop_pct"`
	TakeProfitPct   float64        `yaml:"take_profit_pct"`
	TTLSec          int            `yaml:"ttl_sec"`
	MaxSymbols      int            `yaml:"max_symbols"`
	Detector        DetectorConfig `yaml:"detector"`
	Filter          FilterConfig   `yaml:"filter"`
}

// DetectorConfig overrides category detector defaults. Zero keeps the default.
type DetectorConfig struct {
	FastPeriod   int     `yaml:"fast_period"`
	SlowPeriod   int     `yaml:"slow_period"`
	Window       int     `yaml:"window"`
	ThresholdPct float64 `yaml:"threshold_pct"`
	EntryZ       float64 `yaml:"entry_z"`
	Lookback     int     `yaml:"lookback"`
	BufferPct    float64 `yaml:"buffer_pct"`
}

// FilterConfig holds a strategy's declarative universe criteria.
type FilterConfig struct {
	Markets              []string           `yaml:"markets"`
	Floors               map[string]float64 `yaml:"floors"`
	Ceilings             map[string]float64 `yaml:"ceilings"`
	Include              []string           `yaml:"include"`
	Exclude              []string           `yaml:"exclude"`
	ExcludePrefixes      []string           `yaml:"exclude_prefixes"`
	ExcludeSuffixes      []string           `yaml:"exclude_suffixes"`
	ExcludeContains      []string           `yaml:"exclude_contains"`
	RequireNews          bool               `yaml:"require_news"`
	ExcludeNews          bool               `yaml:"exclude_news"`
	Sort                 []SortKeyConfig    `yaml:"sort"`
	MaxSymbols           int                `yaml:"max_symbols"`
	MaxConcurrentSymbols int                `yaml:"max_concurrent_symbols"`
}

// SortKeyConfig is one weighted ranking term.
type SortKeyConfig struct {
	Field  string  `yaml:"field"`
	Weight float64 `yaml:"weight"`
}

// LeverageConfig holds requested futures leverage.
type LeverageConfig struct {
	Default   int            `yaml:"default"`
	Symbols   map[string]int `yaml:"symbols"`
	Overrides map[string]int `yaml:"overrides"`
}

// PipelineConfig holds queue and maintenance loop settings.
type PipelineConfig struct {
	QueueCapacity        int     `yaml:"queue_capacity"`
	DefaultTTLSec        int     `yaml:"default_ttl_sec"`
	ReconcileIntervalSec int     `yaml:"reconcile_interval_sec"`
	DecayIntervalSec     int     `yaml:"decay_interval_sec"`
	DecayFactor          float64 `yaml:"decay_factor"`
	SampleIntervalSec    int     `yaml:"sample_interval_sec"`
	ShutdownTimeoutSec   int     `yaml:"shutdown_timeout_sec"`
}

// ScreenerConfig holds screener and REST source settings.
type ScreenerConfig struct {
	Enabled            bool               `yaml:"enabled"`
	IntervalSec        int                `yaml:"interval_sec"`
	Markets            []string           `yaml:"markets"`
	EnrichTopN         int                `yaml:"enrich_top_n"`
	Concurrency        int                `yaml:"concurrency"`
	BookDepth          int                `yaml:"book_depth"`
	SpotBaseURL        string             `yaml:"spot_base_url"`
	FuturesBaseURL     string             `yaml:"futures_base_url"`
	RequestsPerSecond  int                `yaml:"requests_per_second"`
	TimeoutSec         int                `yaml:"timeout_sec"`
	DefaultMaxLeverage float64            `yaml:"default_max_leverage"`
	MaxLeverage        map[string]float64 `yaml:"max_leverage"`
}

// FeedConfig selects the price feed.
type FeedConfig struct {
	Type         string `yaml:"type"` // binance | replay
	ReplayPath   string `yaml:"replay_path"`
	ReplayPaceMs int    `yaml:"replay_pace_ms"`
	SpotURL      string `yaml:"spot_url"`
	FuturesURL   string `yaml:"futures_url"`
	MaxStreams   int    `yaml:"max_streams"`
}

// UniverseConfig holds per-strategy default universes used before the first screen.
type UniverseConfig struct {
	Defaults map[string][]string `yaml:"defaults"`
}

// PaperConfig holds paper router settings.
type PaperConfig struct {
	InitialEquity   float64 `yaml:"initial_equity"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	FeeBps          float64 `yaml:"fee_bps"`
	DefaultLeverage int     `yaml:"default_leverage"`
	MaxLeverage     int     `yaml:"max_leverage"`
	QtyPrecision    int32   `yaml:"qty_precision"`
}

// AuditConfig holds audit sink settings.
type AuditConfig struct {
	Dir   string      `yaml:"dir"` // universe snapshot files, empty disables
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the Redis audit sink settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	History  int    `yaml:"history"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
	Events   []string        `yaml:"events"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // console | telegram
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIURL   string `yaml:"api_url"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Account.RiskPerTradePct == 0 {
		c.Account.RiskPerTradePct = 0.02
	}
	if c.Account.MinNotionalUSD == 0 {
		c.Account.MinNotionalUSD = risk.DefaultMinNotional.InexactFloat64()
	}
	if len(c.Buckets) == 0 {
		c.Buckets = make(map[string]float64)
		for name, budget := range risk.DefaultBucketBudgets() {
			c.Buckets[name] = budget.InexactFloat64()
		}
	}

	def := engine.DefaultConfig()
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = def.QueueCapacity
	}
	if c.Pipeline.DefaultTTLSec == 0 {
		c.Pipeline.DefaultTTLSec = int(def.DefaultTTL / time.Second)
	}
	if c.Pipeline.SampleIntervalSec == 0 {
		c.Pipeline.SampleIntervalSec = int(def.SampleInterval / time.Second)
	}
	if c.Pipeline.ShutdownTimeoutSec == 0 {
		c.Pipeline.ShutdownTimeoutSec = 10
	}

	if c.Feed.Type == "" {
		c.Feed.Type = "binance"
	}
	if c.Persistence.Enabled && c.Persistence.Type == "" {
		c.Persistence.Type = "sqlite"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Account.RiskPerTradePct <= 0 || c.Account.RiskPerTradePct > 0.1 {
		errs = append(errs, "account.risk_per_trade_pct must be in (0, 0.1]")
	}
	if c.Account.MinNotionalUSD < 0 {
		errs = append(errs, "account.min_notional_usd must not be negative")
	}

	sum := decimal.Zero
	for name, budget := range c.Buckets {
		if budget < 0 || budget > 1 {
			errs = append(errs, fmt.Sprintf("buckets.%s must be in [0, 1]", name))
		}
		sum = sum.Add(decimal.NewFromFloat(budget))
	}
	if sum.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("bucket budgets sum to %s, must be <= 1", sum))
	}

	if len(c.Strategies) == 0 {
		errs = append(errs, "at least one strategy is required")
	}
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		prefix := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, s.Name))
		}
		seen[s.Name] = true

		cat, err := strategy.ParseCategory(s.Category)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s.category %q is not supported", prefix, s.Category))
		}
		bucket := s.Bucket
		if bucket == "" {
			bucket = string(cat)
		}
		if _, ok := c.Buckets[bucket]; !ok && err == nil {
			errs = append(errs, fmt.Sprintf("%s.bucket %q has no budget", prefix, bucket))
		}
		if s.Market != "" {
			if _, err := types.ParseMarket(s.Market); err != nil {
				errs = append(errs, fmt.Sprintf("%s.market %q is not supported", prefix, s.Market))
			}
		}
		if s.RiskPerTradePct < 0 || s.RiskPerTradePct > 0.1 {
			errs = append(errs, prefix+".risk_per_trade_pct must be in (0, 0.1], or 0 for the account default")
		}
		if s.MaxPositions < 0 {
			errs = append(errs, prefix+".max_positions must not be negative")
		}
		for _, m := range s.Filter.Markets {
			if _, err := types.ParseMarket(m); err != nil {
				errs = append(errs, fmt.Sprintf("%s.filter.markets %q is not supported", prefix, m))
			}
		}
		for _, field := range fieldNames(s.Filter) {
			if _, err := universe.ParseField(field); err != nil {
				errs = append(errs, fmt.Sprintf("%s.filter field %q is not supported", prefix, field))
			}
		}
	}

	if c.Leverage.Default < 0 {
		errs = append(errs, "leverage.default must not be negative")
	}

	if c.Pipeline.QueueCapacity <= 0 {
		errs = append(errs, "pipeline.queue_capacity must be positive")
	}
	if c.Pipeline.DecayFactor < 0 || c.Pipeline.DecayFactor > 1 {
		errs = append(errs, "pipeline.decay_factor must be in [0, 1]")
	}

	for _, m := range c.Screener.Markets {
		if _, err := types.ParseMarket(m); err != nil {
			errs = append(errs, fmt.Sprintf("screener.markets %q is not supported", m))
		}
	}

	switch c.Feed.Type {
	case "binance":
	case "replay":
		if c.Feed.ReplayPath == "" {
			errs = append(errs, "feed.replay_path is required for replay")
		}
	default:
		errs = append(errs, "feed.type must be 'binance' or 'replay'")
	}

	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	}
	if c.Audit.Redis.Enabled && c.Audit.Redis.Addr == "" {
		errs = append(errs, "audit.redis.addr is required when enabled")
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d] telegram needs bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d].type %q is not supported", i, ch.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

func fieldNames(f FilterConfig) []string {
	var out []string
	for k := range f.Floors {
		out = append(out, k)
	}
	for k := range f.Ceilings {
		out = append(out, k)
	}
	for _, s := range f.Sort {
		out = append(out, s.Field)
	}
	sort.Strings(out)
	return out
}

// strategyMarket returns the configured market, futures when unset.
func (s StrategyConfig) strategyMarket() types.Market {
	if m, err := types.ParseMarket(s.Market); err == nil {
		return m
	}
	return types.MarketFutures
}

// ToBucketBudgets converts bucket budgets to decimals.
func (c *Config) ToBucketBudgets() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(c.Buckets))
	for name, budget := range c.Buckets {
		out[name] = decimal.NewFromFloat(budget)
	}
	return out
}

// ToAllocatorConfig converts to risk.AllocatorConfig.
func (c *Config) ToAllocatorConfig() risk.AllocatorConfig {
	cfg := risk.DefaultAllocatorConfig()
	cfg.MinNotional = decimal.NewFromFloat(c.Account.MinNotionalUSD)
	if c.Account.FlatTolerance > 0 {
		cfg.FlatTolerance = decimal.NewFromFloat(c.Account.FlatTolerance)
	}

	cfg.Leverage = risk.LeverageConfig{
		Overrides:      copyInts(c.Leverage.Overrides),
		SymbolDefaults: copyInts(c.Leverage.Symbols),
		Default:        c.Leverage.Default,
	}
	if c.Leverage.Default == 0 && len(c.Leverage.Symbols) == 0 && len(c.Leverage.Overrides) == 0 {
		cfg.Leverage = risk.DefaultLeverageConfig()
	}

	for _, s := range c.Strategies {
		riskPct := s.RiskPerTradePct
		if riskPct == 0 {
			riskPct = c.Account.RiskPerTradePct
		}
		cfg.Strategies[s.Name] = risk.StrategyConfig{
			Name:         s.Name,
			Category:     strings.ToLower(strings.TrimSpace(s.Category)),
			Bucket:       s.Bucket,
			Market:       s.strategyMarket(),
			RiskPerTrade: decimal.NewFromFloat(riskPct),
			MaxPositions: s.MaxPositions,
		}
	}
	return cfg
}

func copyInts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// ToProducerConfigs converts strategies to producer configs over category defaults.
func (c *Config) ToProducerConfigs() ([]strategy.ProducerConfig, error) {
	out := make([]strategy.ProducerConfig, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		cat, err := strategy.ParseCategory(s.Category)
		if err != nil {
			return nil, err
		}
		pc := strategy.DefaultProducerConfig(s.Name, cat)
		pc.Market = s.strategyMarket()
		if s.CooldownSec > 0 {
			pc.Cooldown = time.Duration(s.CooldownSec) * time.Second
		}
		if s.StopPct > 0 {
			pc.StopPct = decimal.NewFromFloat(s.StopPct)
		}
		if s.TakeProfitPct > 0 {
			pc.TakeProfitPct = decimal.NewFromFloat(s.TakeProfitPct)
		}
		if s.TTLSec > 0 {
			pc.TTL = time.Duration(s.TTLSec) * time.Second
		}
		pc.MaxSymbols = s.MaxSymbols

		d := s.Detector
		if d.FastPeriod > 0 {
			pc.Detector.FastPeriod = d.FastPeriod
		}
		if d.SlowPeriod > 0 {
			pc.Detector.SlowPeriod = d.SlowPeriod
		}
		if d.Window > 0 {
			pc.Detector.Window = d.Window
		}
		if d.ThresholdPct > 0 {
			pc.Detector.ThresholdPct = decimal.NewFromFloat(d.ThresholdPct)
		}
		if d.EntryZ > 0 {
			pc.Detector.EntryZ = decimal.NewFromFloat(d.EntryZ)
		}
		if d.Lookback > 0 {
			pc.Detector.Lookback = d.Lookback
		}
		if d.BufferPct > 0 {
			pc.Detector.BufferPct = decimal.NewFromFloat(d.BufferPct)
		}
		out = append(out, pc)
	}
	return out, nil
}

// ToFilterConfigs converts every strategy's filter block.
func (c *Config) ToFilterConfigs() ([]universe.FilterConfig, error) {
	out := make([]universe.FilterConfig, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		f := s.Filter
		fc := universe.FilterConfig{
			Strategy:             s.Name,
			Floors:               make(map[universe.Field]float64, len(f.Floors)),
			Ceilings:             make(map[universe.Field]float64, len(f.Ceilings)),
			IncludeSymbols:       f.Include,
			ExcludeSymbols:       f.Exclude,
			ExcludePrefixes:      f.ExcludePrefixes,
			ExcludeSuffixes:      f.ExcludeSuffixes,
			ExcludeContains:      f.ExcludeContains,
			RequireNews:          f.RequireNews,
			ExcludeNews:          f.ExcludeNews,
			MaxSymbols:           f.MaxSymbols,
			MaxConcurrentSymbols: f.MaxConcurrentSymbols,
		}
		for _, m := range f.Markets {
			market, err := types.ParseMarket(m)
			if err != nil {
				return nil, err
			}
			fc.Markets = append(fc.Markets, market)
		}
		for name, v := range f.Floors {
			field, err := universe.ParseField(name)
			if err != nil {
				return nil, err
			}
			fc.Floors[field] = v
		}
		for name, v := range f.Ceilings {
			field, err := universe.ParseField(name)
			if err != nil {
				return nil, err
			}
			fc.Ceilings[field] = v
		}
		for _, k := range f.Sort {
			field, err := universe.ParseField(k.Field)
			if err != nil {
				return nil, err
			}
			weight := k.Weight
			if weight == 0 {
				weight = 1
			}
			fc.SortKeys = append(fc.SortKeys, universe.SortKey{Field: field, Weight: weight})
		}
		out = append(out, fc)
	}
	return out, nil
}

// ToScreenerConfig converts the screener block and attaches filters.
func (c *Config) ToScreenerConfig() (universe.ScreenerConfig, error) {
	cfg := universe.DefaultScreenerConfig()
	cfg.Interval = c.ScreenerInterval()
	if len(c.Screener.Markets) > 0 {
		cfg.Markets = nil
		for _, m := range c.Screener.Markets {
			market, err := types.ParseMarket(m)
			if err != nil {
				return cfg, err
			}
			cfg.Markets = append(cfg.Markets, market)
		}
	}
	if c.Screener.EnrichTopN > 0 {
		cfg.EnrichTopN = c.Screener.EnrichTopN
	}
	if c.Screener.Concurrency > 0 {
		cfg.Concurrency = c.Screener.Concurrency
	}
	if c.Screener.BookDepth > 0 {
		cfg.BookDepth = c.Screener.BookDepth
	}
	filters, err := c.ToFilterConfigs()
	if err != nil {
		return cfg, err
	}
	cfg.Filters = filters
	return cfg, nil
}

// ToSourceConfig converts REST source settings.
func (c *Config) ToSourceConfig() universe.BinanceSourceConfig {
	cfg := universe.DefaultBinanceSourceConfig()
	if c.Screener.SpotBaseURL != "" {
		cfg.SpotBaseURL = c.Screener.SpotBaseURL
	}
	if c.Screener.FuturesBaseURL != "" {
		cfg.FuturesBaseURL = c.Screener.FuturesBaseURL
	}
	if c.Screener.RequestsPerSecond > 0 {
		cfg.RequestsPerSecond = c.Screener.RequestsPerSecond
	}
	if c.Screener.TimeoutSec > 0 {
		cfg.Timeout = time.Duration(c.Screener.TimeoutSec) * time.Second
	}
	if c.Screener.DefaultMaxLeverage > 0 {
		cfg.DefaultMaxLeverage = c.Screener.DefaultMaxLeverage
	}
	cfg.MaxLeverage = c.Screener.MaxLeverage
	return cfg
}

// ToFeedConfig converts websocket feed settings.
func (c *Config) ToFeedConfig() observer.BinanceFeedConfig {
	cfg := observer.DefaultBinanceFeedConfig()
	if c.Feed.SpotURL != "" {
		cfg.SpotURL = c.Feed.SpotURL
	}
	if c.Feed.FuturesURL != "" {
		cfg.FuturesURL = c.Feed.FuturesURL
	}
	if c.Feed.MaxStreams > 0 {
		cfg.MaxStreams = c.Feed.MaxStreams
	}
	return cfg
}

// ToPipelineConfig converts to engine.Config.
func (c *Config) ToPipelineConfig() engine.Config {
	return engine.Config{
		QueueCapacity:     c.Pipeline.QueueCapacity,
		DefaultTTL:        c.DefaultSignalTTL(),
		ReconcileInterval: time.Duration(c.Pipeline.ReconcileIntervalSec) * time.Second,
		DecayInterval:     time.Duration(c.Pipeline.DecayIntervalSec) * time.Second,
		DecayFactor:       decimal.NewFromFloat(c.Pipeline.DecayFactor),
		SampleInterval:    time.Duration(c.Pipeline.SampleIntervalSec) * time.Second,
	}
}

// ToPaperConfig converts to paper.Config over its defaults.
func (c *Config) ToPaperConfig() paper.Config {
	cfg := paper.DefaultConfig()
	p := c.Paper
	if p.InitialEquity > 0 {
		cfg.InitialEquity = decimal.NewFromFloat(p.InitialEquity)
	}
	if p.SlippageBps > 0 {
		cfg.SlippageBps = decimal.NewFromFloat(p.SlippageBps)
	}
	if p.FeeBps > 0 {
		cfg.FeeBps = decimal.NewFromFloat(p.FeeBps)
	}
	if p.DefaultLeverage > 0 {
		cfg.DefaultLeverage = p.DefaultLeverage
	}
	cfg.MaxLeverage = p.MaxLeverage
	if p.QtyPrecision > 0 {
		cfg.QtyPrecision = p.QtyPrecision
	}
	return cfg
}

// UniverseDefaults returns the per-strategy fallback universes.
func (c *Config) UniverseDefaults() map[string][]string {
	out := make(map[string][]string, len(c.Universe.Defaults))
	for name, symbols := range c.Universe.Defaults {
		out[name] = universe.Normalize(symbols)
	}
	return out
}

// ScreenerInterval returns the screener period. The screener clamps it to its minimum.
func (c *Config) ScreenerInterval() time.Duration {
	return time.Duration(c.Screener.IntervalSec) * time.Second
}

// DefaultSignalTTL returns the TTL applied to signals that carry none.
func (c *Config) DefaultSignalTTL() time.Duration {
	return time.Duration(c.Pipeline.DefaultTTLSec) * time.Second
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Pipeline.ShutdownTimeoutSec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event alerting.AlertEvent) bool {
	if !c.Alerting.Enabled {
		return false
	}
	// If no events specified, all are enabled
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == string(event) || e == "all" {
			return true
		}
	}
	return false
}
