// Package main is the entry point for the strategy runtime.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/strategy-runtime/internal/backtest"
	"github.com/tathienbao/strategy-runtime/internal/config"
	"github.com/tathienbao/strategy-runtime/internal/metrics"
	"github.com/tathienbao/strategy-runtime/internal/observer"
	"github.com/tathienbao/strategy-runtime/internal/types"
	"github.com/tathienbao/strategy-runtime/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "replay", "backtest":
		cmdReplay(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Strategy Runtime - Multi-Strategy Crypto Execution Core

Usage:
  strategy-runtime <command> [options]

Commands:
  run        Start the pipeline (paper router, live or replayed prices)
  replay     Replay a tick CSV through the pipeline and report results
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  strategy-runtime run --config configs/runtime.yaml
  strategy-runtime run --config configs/runtime.yaml --replay data/ticks.csv
  strategy-runtime replay --config configs/runtime.yaml --data data/ticks.csv --ui
  strategy-runtime validate --config configs/runtime.yaml

Use "strategy-runtime <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("strategy-runtime version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

// loadConfig reads .env when present and then the YAML config.
func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "err", err)
	}
	return config.Load(path)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "configs/runtime.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Risk per trade:  %.2f%%\n", cfg.Account.RiskPerTradePct*100)
	fmt.Printf("  Min notional:    $%.2f\n", cfg.Account.MinNotionalUSD)
	for name, budget := range cfg.Buckets {
		fmt.Printf("  Bucket %-9s %.1f%%\n", name+":", budget*100)
	}
	for _, s := range cfg.Strategies {
		fmt.Printf("  Strategy %s (%s, %s)\n", s.Name, s.Category, s.Market)
	}
	fmt.Printf("  Feed:            %s\n", cfg.Feed.Type)
	fmt.Printf("  Screener:        %v\n", cfg.Screener.Enabled)
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "configs/runtime.yaml", "Path to configuration file")
	dataPath := fs.String("data", "", "Path to tick CSV file (required)")
	showUI := fs.Bool("ui", false, "Render progress in the terminal")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	if *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --data is required")
		fs.Usage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	if *showUI {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ticks, err := readTicks(*dataPath)
	if err != nil {
		slog.Error("failed to read ticks", "data", *dataPath, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildReplay(ctx, cfg, ticks, logger)
	if err != nil {
		slog.Error("failed to build replay", "err", err)
		os.Exit(1)
	}
	defer rt.close()

	if *showUI {
		view := ui.NewReplayUI(os.Stdout, len(ticks), rt.startEquity)
		view.Start()
		defer view.Stop()
		rt.runner.SetProgressCallback(func(u backtest.ProgressUpdate) {
			view.Update(u.Tick, u.Last.Symbol, u.Last.Price, u.Equity, ui.Counters{
				Executed: u.Stats.Executed,
				Rejected: u.Stats.Rejected,
				Expired:  u.Stats.Expired,
				Failed:   u.Stats.Failed,
			})
			view.Render()
		})
	}

	slog.Info("starting replay",
		"data", *dataPath,
		"ticks", len(ticks),
		"strategies", len(cfg.Strategies),
		"equity", rt.startEquity,
	)

	result, err := rt.runner.Run(ctx)
	if err != nil {
		slog.Error("replay failed", "err", err)
		os.Exit(1)
	}

	printReplayResults(result)
	printMetrics(backtest.NewMetrics(result, decimal.Zero))
}

func readTicks(path string) ([]types.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return observer.ParseTicks(f)
}

func printReplayResults(result *backtest.Result) {
	fmt.Println("\n=== REPLAY RESULTS ===")
	fmt.Printf("Starting Equity:  $%.2f\n", result.StartEquity.InexactFloat64())
	fmt.Printf("Ending Equity:    $%.2f\n", result.EndEquity.InexactFloat64())
	fmt.Printf("Total Return:     %.2f%%\n", result.TotalReturn.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Max Drawdown:     %.2f%%\n", result.MaxDrawdown.Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Println()
	fmt.Printf("Ticks:            %d\n", result.Ticks)
	fmt.Printf("Signals:          %d\n", result.Processed)
	fmt.Printf("Executed:         %d\n", result.Executed)
	fmt.Printf("Rejected:         %d\n", result.Rejected)
	fmt.Printf("Expired:          %d\n", result.Expired)
	fmt.Printf("Failed:           %d\n", result.Failed)
	fmt.Printf("Venue Fills:      %d\n", result.Fills)
	fmt.Printf("Open Positions:   %d\n", result.OpenPositions)
}

func printMetrics(m *backtest.Metrics) {
	fmt.Println("\n=== PERFORMANCE METRICS ===")
	fmt.Printf("Sharpe Ratio:     %.2f\n", m.SharpeRatio().InexactFloat64())
	fmt.Printf("Sortino Ratio:    %.2f\n", m.SortinoRatio().InexactFloat64())
	fmt.Printf("Calmar Ratio:     %.2f\n", m.CalmarRatio().InexactFloat64())
	fmt.Printf("Fill Rate:        %.2f%%\n", m.FillRate().Mul(decimal.NewFromInt(100)).InexactFloat64())
	fmt.Printf("Rejection Rate:   %.2f%%\n", m.RejectionRate().Mul(decimal.NewFromInt(100)).InexactFloat64())
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/runtime.yaml", "Path to configuration file")
	paperMode := fs.Bool("paper", true, "Route orders to the in-memory paper venue")
	replayPath := fs.String("replay", "", "Stream prices from a tick CSV instead of the configured feed")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if !*paperMode {
		slog.Error("only the paper venue is available; signed venue routers are not built in")
		os.Exit(1)
	}
	if *replayPath != "" {
		cfg.Feed.Type = "replay"
		cfg.Feed.ReplayPath = *replayPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	slog.Info("strategy-runtime starting",
		"version", Version,
		"mode", "paper",
		"feed", cfg.Feed.Type,
		"strategies", len(cfg.Strategies),
		"screener", cfg.Screener.Enabled,
	)

	rt, err := buildLive(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build runtime", "err", err)
		os.Exit(1)
	}
	defer rt.close()

	if err := rt.start(ctx); err != nil {
		slog.Error("failed to start runtime", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := rt.shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("strategy-runtime shutdown complete")
}
