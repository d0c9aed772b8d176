// Mirrors Binance historical kline archives into the local data directory.
//
// Usage:
//
//	go run cmd/kline-sync/main.go -type daily [-symbol BTCUSDT] [-incr] [-intervals 1h,4h] [-end 2024-06-30]
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"klinesync/internal/config"
	"klinesync/internal/domain"
	"klinesync/internal/gather"
	"klinesync/internal/ledger"
	"klinesync/internal/store"
	"klinesync/internal/util"
	"klinesync/internal/vision"
)

const (
	exitFailures      = 1
	exitInvalidConfig = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	modeFlag := flag.String("type", "", "archive granularity: daily or monthly (required)")
	symbol := flag.String("symbol", "BTCUSDT", "trading pair to mirror")
	incr := flag.Bool("incr", false, "skip archives already present on disk")
	intervalsFlag := flag.String("intervals", "", "comma-separated intervals (default: all published for the type)")
	endFlag := flag.String("end", "", "last day to consider, YYYY-MM-DD (default: today UTC)")
	cfgFlag := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfgPath := "config/kline-sync.yaml"
	if p := os.Getenv("KLINESYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	if *cfgFlag != "" {
		cfgPath = *cfgFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}

	mode, err := domain.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		flag.Usage()
		return exitInvalidConfig
	}

	var intervals []string
	if *intervalsFlag != "" {
		intervals = strings.Split(*intervalsFlag, ",")
	}

	start, err := cfg.StartDate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}

	end := time.Now().UTC()
	if *endFlag != "" {
		end, err = time.ParseInLocation("2006-01-02", *endFlag, time.UTC)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid configuration: -end %q is not a YYYY-MM-DD date\n", *endFlag)
			return exitInvalidConfig
		}
	}

	plan, err := vision.NewPlan(*symbol, mode, intervals, start, end)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}

	timeout, err := cfg.Source.Timeout()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}
	initial, maxDelay, err := cfg.Sync.Backoff()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return exitInvalidConfig
	}

	kind := "full"
	if *incr {
		kind = "incr"
	}
	sink, logPath, err := util.RunLogFile(cfg.Logging.Dir, kind, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run log: %v\n", err)
		return exitFailures
	}
	defer sink.Close()

	logger := util.NewLogger(io.MultiWriter(os.Stdout, sink), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	logger.Info("logging to file", "path", logPath)

	led, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		logger.Error("opening run ledger", "path", cfg.Storage.LedgerPath, "error", err)
		return exitFailures
	}
	defer led.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	syncer := gather.NewSyncer(gather.SyncerConfig{
		Source:       plan,
		Fetcher:      vision.NewClient(cfg.Source.BaseURL, timeout, cfg.Sync.Concurrency),
		Store:        store.NewFSStore(cfg.Storage.DataDir),
		Workers:      cfg.Sync.Concurrency,
		Policy:       gather.RetryPolicy{MaxAttempts: cfg.Sync.MaxAttempts, Initial: initial, Max: maxDelay},
		RateLimit:    cfg.Sync.RateLimitPerSec,
		Incremental:  *incr,
		IOAbortAfter: cfg.Sync.LocalIOAbortAfter,
		Logger:       logger,
		Symbol:       plan.Symbol,
		Mode:         plan.Mode,
		Intervals:    plan.Intervals,
	})

	summary, runErr := syncer.Run(ctx)

	// Record the run even when it was cut short; kline-retry feeds on it.
	if err := led.RecordRun(context.Background(), summary); err != nil {
		logger.Error("recording run in ledger", "run_id", summary.RunID, "error", err)
	}

	if runErr != nil {
		logger.Error("run aborted", "run_id", summary.RunID, "error", runErr)
		return exitFailures
	}
	return summary.ExitCode()
}
