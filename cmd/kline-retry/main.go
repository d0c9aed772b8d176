// Replays the failed archives of a recorded sync run.
//
// Usage:
//
//	go run cmd/kline-retry/main.go [-run <id>] [-list]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
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
	runID := flag.String("run", "", "run id to retry (default: most recent run)")
	list := flag.Bool("list", false, "list recent runs and exit")
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

	led, err := ledger.Open(cfg.Storage.LedgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run ledger: %v\n", err)
		return exitFailures
	}
	defer led.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *list {
		return listRuns(ctx, led)
	}
	return retryRun(ctx, cfg, led, *runID)
}

func listRuns(ctx context.Context, led *ledger.Ledger) int {
	runs, err := led.ListRuns(ctx, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listing runs: %v\n", err)
		return exitFailures
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return 0
	}

	for _, s := range runs {
		kind := "full"
		if s.Incremental {
			kind = "incr"
		}
		fmt.Printf("%s  %s  %s %s %s  total=%d ok=%d skip=%d fail=%d\n",
			s.RunID, s.StartedAt.UTC().Format(time.RFC3339), s.Symbol, s.Mode, kind,
			s.Total, s.Succeeded, s.Skipped, s.Failed)
	}
	return 0
}

func retryRun(ctx context.Context, cfg *config.Config, led *ledger.Ledger, runID string) int {
	var parent *domain.Summary
	var err error
	if runID != "" {
		parent, err = led.Run(ctx, runID)
	} else {
		parent, err = led.LastRun(ctx)
	}
	if errors.Is(err, ledger.ErrNoRun) {
		fmt.Fprintln(os.Stderr, "no matching run in the ledger; run kline-sync first")
		return exitInvalidConfig
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading run ledger: %v\n", err)
		return exitFailures
	}

	failures, err := led.FailuresForRun(ctx, parent.RunID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reading failures for run %s: %v\n", parent.RunID, err)
		return exitFailures
	}
	if len(failures) == 0 {
		fmt.Printf("run %s has no failures to retry\n", parent.RunID)
		return 0
	}

	archives := make(gather.List, 0, len(failures))
	for _, f := range failures {
		archives = append(archives, f.Archive)
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

	sink, logPath, err := util.RunLogFile(cfg.Logging.Dir, "retry", cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening run log: %v\n", err)
		return exitFailures
	}
	defer sink.Close()

	logger := util.NewLogger(io.MultiWriter(os.Stdout, sink), cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)
	logger.Info("retrying recorded failures",
		"parent_run", parent.RunID, "archives", len(archives), "path", logPath)

	syncer := gather.NewSyncer(gather.SyncerConfig{
		Source:    archives,
		Fetcher:   vision.NewClient(cfg.Source.BaseURL, timeout, cfg.Sync.Concurrency),
		Store:     store.NewFSStore(cfg.Storage.DataDir),
		Workers:   cfg.Sync.Concurrency,
		Policy:    gather.RetryPolicy{MaxAttempts: cfg.Sync.MaxAttempts, Initial: initial, Max: maxDelay},
		RateLimit: cfg.Sync.RateLimitPerSec,
		// Failures that landed on disk since the parent run are skipped.
		Incremental:  true,
		IOAbortAfter: cfg.Sync.LocalIOAbortAfter,
		Logger:       logger,
		Symbol:       parent.Symbol,
		Mode:         parent.Mode,
		Intervals:    parent.Intervals,
	})

	summary, runErr := syncer.Run(ctx)

	if err := led.RecordRun(context.Background(), summary); err != nil {
		logger.Error("recording run in ledger", "run_id", summary.RunID, "error", err)
	}

	if runErr != nil {
		logger.Error("run aborted", "run_id", summary.RunID, "error", runErr)
		return exitFailures
	}
	return summary.ExitCode()
}
