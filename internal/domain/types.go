// Package domain defines the value types the sync engine is built around:
// archive identifiers, per-archive fetch outcomes, and run summaries.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the granularity of the remote archives: one file per
// calendar day, or one file per completed calendar month.
type Mode string

const (
	ModeDaily   Mode = "daily"
	ModeMonthly Mode = "monthly"
)

// ParseMode validates a mode string from the CLI or the ledger.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDaily:
		return ModeDaily, nil
	case ModeMonthly:
		return ModeMonthly, nil
	}
	return "", NewInvalidConfig(fmt.Sprintf("unknown type %q, want daily or monthly", s), nil)
}

// Archive identifies one remote kline archive as a (symbol, mode, interval,
// period) tuple. It is an immutable value: equal archives derive equal
// remote names and equal local paths.
type Archive struct {
	Symbol   string
	Mode     Mode
	Interval string
	// Date is the period start: midnight UTC of the covered day in daily
	// mode, the first of the covered month in monthly mode.
	Date time.Time
}

// Key returns the calendar key embedded in archive names: YYYY-MM-DD for
// daily archives, YYYY-MM for monthly ones.
func (a Archive) Key() string {
	if a.Mode == ModeMonthly {
		return a.Date.Format("2006-01")
	}
	return a.Date.Format("2006-01-02")
}

// Stem returns the base name shared by the remote object and the local
// artifact, without extension, e.g. "BTCUSDT-1h-2024-01-02".
func (a Archive) Stem() string {
	return a.Symbol + "-" + a.Interval + "-" + a.Key()
}

// String renders the archive for logs and error messages.
func (a Archive) String() string {
	return string(a.Mode) + "/" + a.Interval + "/" + a.Stem()
}

// ParseArchive rebuilds an Archive from its stored string parts. The key
// must be formatted for the given mode; this is the inverse of Key.
func ParseArchive(symbol string, mode Mode, interval, key string) (Archive, error) {
	layout := "2006-01-02"
	if mode == ModeMonthly {
		layout = "2006-01"
	}
	d, err := time.ParseInLocation(layout, key, time.UTC)
	if err != nil {
		return Archive{}, fmt.Errorf("parsing archive key %q: %w", key, err)
	}
	return Archive{Symbol: symbol, Mode: mode, Interval: interval, Date: d}, nil
}

// Status classifies the outcome of processing one archive.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the result of processing one archive. Exactly one outcome is
// produced per submitted archive per run.
type Outcome struct {
	Archive  Archive
	Status   Status
	Bytes    int64     // artifact bytes written, succeeded only
	Attempts int       // transfer attempts made, zero for skips
	Kind     ErrorKind // failure classification, failed only
	Err      error     // underlying error, failed only
}

// Succeeded builds a success outcome.
func Succeeded(a Archive, bytes int64, attempts int) Outcome {
	return Outcome{Archive: a, Status: StatusSucceeded, Bytes: bytes, Attempts: attempts}
}

// Skipped builds an already-present outcome.
func Skipped(a Archive) Outcome {
	return Outcome{Archive: a, Status: StatusSkipped}
}

// Failed builds a failure outcome from a classified error.
func Failed(a Archive, attempts int, err error) Outcome {
	return Outcome{Archive: a, Status: StatusFailed, Attempts: attempts, Kind: KindOf(err), Err: err}
}

// Summary aggregates one run. It is created when the run starts, mutated
// only by the run coordinator as outcomes arrive, and finalized once the
// outcome stream drains.
type Summary struct {
	RunID       string
	Symbol      string
	Mode        Mode
	Intervals   []string
	Incremental bool
	StartedAt   time.Time
	FinishedAt  time.Time

	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Failures  []Outcome // failed outcomes in collection order
}

// Add folds one outcome into the counters.
func (s *Summary) Add(o Outcome) {
	s.Total++
	switch o.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
		s.Failures = append(s.Failures, o)
	}
}

// ExitCode maps the summary to a process exit status: 0 when every archive
// succeeded or was skipped, 1 when any failed.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}
	return 0
}

// Elapsed returns the wall-clock duration of the run.
func (s *Summary) Elapsed() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
