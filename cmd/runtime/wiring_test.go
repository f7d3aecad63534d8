package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/alerting"
	"github.com/tathienbao/strategy-runtime/internal/audit"
	"github.com/tathienbao/strategy-runtime/internal/config"
	"github.com/tathienbao/strategy-runtime/internal/types"
)

const replayYAML = `
strategies:
  - name: mom-a
    category: momentum
    market: futures
    detector:
      window: 3
      threshold_pct: 1
  - name: scalp-a
    category: scalp
    market: spot
universe:
  defaults:
    scalp-a: [ethusdt]
`

func mustConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func ticksFor(symbols ...string) []types.Tick {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ticks []types.Tick
	for i := 0; i < 20; i++ {
		for _, s := range symbols {
			ticks = append(ticks, types.Tick{
				Symbol:    s,
				Price:     decimal.NewFromInt(int64(100 + i)),
				EventTime: base.Add(time.Duration(i) * time.Minute),
			})
		}
	}
	return ticks
}

func TestReplayUniverses(t *testing.T) {
	cfg := mustConfig(t, replayYAML)
	got := replayUniverses(cfg, ticksFor("SOLUSDT", "BTCUSDT"))

	if want := []string{"BTCUSDT", "SOLUSDT"}; !slices.Equal(got["mom-a"], want) {
		t.Errorf("mom-a universe = %v, want %v", got["mom-a"], want)
	}
	if want := []string{"ETHUSDT"}; !slices.Equal(got["scalp-a"], want) {
		t.Errorf("scalp-a universe = %v, want configured %v", got["scalp-a"], want)
	}
}

func TestReplayMarkets(t *testing.T) {
	cfg := mustConfig(t, replayYAML)
	got := replayMarkets(cfg)
	if len(got) != 2 || !slices.Contains(got, types.MarketFutures) || !slices.Contains(got, types.MarketSpot) {
		t.Errorf("markets = %v, want futures and spot", got)
	}
}

func TestBuildAlerter(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		a, err := buildAlerter(mustConfig(t, replayYAML), nil)
		if err != nil || a != nil {
			t.Errorf("buildAlerter = %v, %v; want nil, nil", a, err)
		}
	})

	t.Run("console behind filter", func(t *testing.T) {
		cfg := mustConfig(t, replayYAML+`
alerting:
  enabled: true
  channels:
    - type: console
  events: [leverage_mismatch]
`)
		a, err := buildAlerter(cfg, nil)
		if err != nil {
			t.Fatalf("buildAlerter: %v", err)
		}
		if _, ok := a.(*alerting.EventFilter); !ok {
			t.Errorf("alerter type = %T, want *alerting.EventFilter", a)
		}
	})

	t.Run("unknown channel", func(t *testing.T) {
		cfg := mustConfig(t, replayYAML)
		cfg.Alerting.Enabled = true
		cfg.Alerting.Channels = []config.ChannelConfig{{Type: "pager"}}
		if _, err := buildAlerter(cfg, nil); !errors.Is(err, types.ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestBuildAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing enabled", func(t *testing.T) {
		sink, err := buildAudit(ctx, mustConfig(t, replayYAML))
		if err != nil {
			t.Fatalf("buildAudit: %v", err)
		}
		if _, ok := sink.(audit.Nop); !ok {
			t.Errorf("sink type = %T, want audit.Nop", sink)
		}
	})

	t.Run("file sqlite and redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		dir := t.TempDir()

		cfg := mustConfig(t, replayYAML)
		cfg.Audit.Dir = filepath.Join(dir, "universe")
		cfg.Persistence = config.PersistenceConfig{Enabled: true, Type: "sqlite", Path: filepath.Join(dir, "db", "audit.db")}
		cfg.Audit.Redis = config.RedisConfig{Enabled: true, Addr: mr.Addr()}

		sink, err := buildAudit(ctx, cfg)
		if err != nil {
			t.Fatalf("buildAudit: %v", err)
		}
		multi, ok := sink.(audit.Multi)
		if !ok || len(multi) != 3 {
			t.Fatalf("sink = %T with %d sinks, want audit.Multi of 3", sink, len(multi))
		}

		snap := audit.UniverseSnapshot{Strategy: "mom-a", Version: 1, Symbols: []string{"BTCUSDT"}, RecordedAt: time.Now()}
		if err := sink.RecordUniverse(ctx, snap); err != nil {
			t.Fatalf("RecordUniverse: %v", err)
		}
		if _, err := os.Stat(filepath.Join(cfg.Audit.Dir, "mom-a-v1.json")); err != nil {
			t.Errorf("universe file not written: %v", err)
		}
		if !mr.Exists(audit.UniverseKey("mom-a")) {
			t.Errorf("redis key %s not set", audit.UniverseKey("mom-a"))
		}
		if err := sink.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		addr := mr.Addr()
		mr.Close()

		cfg := mustConfig(t, replayYAML)
		cfg.Audit.Dir = t.TempDir()
		cfg.Audit.Redis = config.RedisConfig{Enabled: true, Addr: addr}
		if _, err := buildAudit(ctx, cfg); err == nil {
			t.Error("expected error for unreachable redis")
		}
	})
}

func TestBuildReplay_EndToEnd(t *testing.T) {
	cfg := mustConfig(t, replayYAML)
	ticks := ticksFor("BTCUSDT")
	// scalp-a trades ETHUSDT on spot; give it prices too.
	ticks = append(ticks, ticksFor("ETHUSDT")...)
	slices.SortStableFunc(ticks, func(a, b types.Tick) int { return a.EventTime.Compare(b.EventTime) })

	rt, err := buildReplay(context.Background(), cfg, ticks, nil)
	if err != nil {
		t.Fatalf("buildReplay: %v", err)
	}
	defer rt.close()

	if !rt.startEquity.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("start equity = %s, want 10000", rt.startEquity)
	}

	result, err := rt.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Ticks != len(ticks) {
		t.Errorf("Ticks = %d, want %d", result.Ticks, len(ticks))
	}
	if result.Executed == 0 {
		t.Errorf("expected the momentum strategy to execute, result %+v", *result)
	}
}
