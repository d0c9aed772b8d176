package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"klinesync/internal/domain"
	"klinesync/internal/store"
)

// progressEvery sets how many collected outcomes pass between progress log
// lines.
const progressEvery = 100

// ErrTooManyIOFailures aborts a run whose local storage keeps failing;
// retrying thousands of archives against a full disk helps nobody.
var ErrTooManyIOFailures = errors.New("too many consecutive local storage failures")

// SyncerConfig wires a Syncer.
type SyncerConfig struct {
	Source  Source
	Fetcher Fetcher
	Store   store.ArchiveStore

	Workers   int
	Policy    RetryPolicy
	RateLimit float64 // transfers per second across all workers; 0 means unlimited

	Incremental bool
	// IOAbortAfter is the number of consecutive local-io failures that
	// aborts the run. 0 disables the breaker.
	IOAbortAfter int

	Logger *slog.Logger

	// Run labeling, recorded in the summary and the ledger.
	Symbol    string
	Mode      domain.Mode
	Intervals []string
}

// Syncer drives one run: stream candidates from the source, skip artifacts
// already on disk when the run is incremental, hand the rest to the worker
// pool, and fold every outcome into the summary.
type Syncer struct {
	source       Source
	store        store.ArchiveStore
	pool         *Pool
	log          *slog.Logger
	incremental  bool
	ioAbortAfter int

	symbol    string
	mode      domain.Mode
	intervals []string
}

// NewSyncer builds a Syncer and its worker pool from cfg.
func NewSyncer(cfg SyncerConfig) *Syncer {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}

	return &Syncer{
		source:       cfg.Source,
		store:        cfg.Store,
		pool:         NewPool(cfg.Workers, cfg.Fetcher, cfg.Store, policy, limiter, log),
		log:          log,
		incremental:  cfg.Incremental,
		ioAbortAfter: cfg.IOAbortAfter,
		symbol:       cfg.Symbol,
		mode:         cfg.Mode,
		intervals:    cfg.Intervals,
	}
}

// Run executes the run and returns its summary. The error is non-nil only
// when the run was cut short (cancellation or the local-io breaker);
// per-archive failures are counted in the summary instead of aborting
// siblings.
func (s *Syncer) Run(ctx context.Context) (*domain.Summary, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	summary := &domain.Summary{
		RunID:       uuid.NewString(),
		Symbol:      s.symbol,
		Mode:        s.mode,
		Intervals:   s.intervals,
		Incremental: s.incremental,
		StartedAt:   time.Now().UTC(),
	}

	total := s.source.Total()
	s.log.Info("run starting",
		"run_id", summary.RunID,
		"symbol", s.symbol,
		"mode", string(s.mode),
		"intervals", strings.Join(s.intervals, ","),
		"incremental", s.incremental,
		"candidates", total)

	jobs := make(chan domain.Archive)
	outcomes := make(chan domain.Outcome)

	// Dispatcher: stream the source, short-circuit archives already on
	// disk, feed the rest to the pool.
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		defer close(jobs)
		for a := range s.source.Archives(ctx) {
			if s.incremental && s.store.Exists(a) {
				select {
				case outcomes <- domain.Skipped(a):
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case jobs <- a:
			case <-ctx.Done():
				return
			}
		}
	}()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		s.pool.Run(ctx, jobs, outcomes)
	}()

	// The outcome stream has two producers; close it once both finish.
	go func() {
		<-dispatchDone
		<-poolDone
		close(outcomes)
	}()

	// Collector: the summary is touched only on this goroutine.
	consecutiveIO := 0
	for o := range outcomes {
		summary.Add(o)
		s.logOutcome(o)

		if summary.Total%progressEvery == 0 && total > 0 {
			s.log.Info("progress",
				"done", summary.Total,
				"total", total,
				"percent", fmt.Sprintf("%.1f", float64(summary.Total)*100/float64(total)))
		}

		switch {
		case o.Status == domain.StatusFailed && o.Kind == domain.KindLocalIO:
			consecutiveIO++
			if s.ioAbortAfter > 0 && consecutiveIO >= s.ioAbortAfter {
				cancel(ErrTooManyIOFailures)
			}
		case o.Status == domain.StatusSucceeded:
			consecutiveIO = 0
		}
	}

	summary.FinishedAt = time.Now().UTC()
	s.emitSummary(summary)

	if err := context.Cause(ctx); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Syncer) logOutcome(o domain.Outcome) {
	switch o.Status {
	case domain.StatusSucceeded:
		s.log.Info("fetched", "archive", o.Archive.String(), "bytes", o.Bytes, "attempts", o.Attempts)
	case domain.StatusSkipped:
		s.log.Debug("already present", "archive", o.Archive.String())
	case domain.StatusFailed:
		s.log.Warn("failed", "archive", o.Archive.String(), "kind", string(o.Kind),
			"attempts", o.Attempts, "err", o.Err)
	}
}

// emitSummary writes the final report: one summary record plus one line per
// failure, carrying enough detail to replay exactly those archives.
func (s *Syncer) emitSummary(sum *domain.Summary) {
	s.log.Info("run finished",
		"run_id", sum.RunID,
		"total", sum.Total,
		"succeeded", sum.Succeeded,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"elapsed", sum.Elapsed().Round(time.Millisecond).String())
	for _, f := range sum.Failures {
		s.log.Warn("unrecovered failure",
			"archive", f.Archive.String(),
			"kind", string(f.Kind),
			"attempts", f.Attempts,
			"err", f.Err)
	}
}
