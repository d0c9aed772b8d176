// Package ledger records finalized runs in SQLite so the failures of any
// run can be replayed later without re-enumerating the whole range.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"klinesync/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrNoRun is returned when a lookup matches no recorded run.
var ErrNoRun = errors.New("no matching run recorded")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	intervals   TEXT NOT NULL,
	incremental INTEGER NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS failures (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	seq      INTEGER NOT NULL,
	symbol   TEXT NOT NULL,
	mode     TEXT NOT NULL,
	interval TEXT NOT NULL,
	key      TEXT NOT NULL,
	kind     TEXT NOT NULL,
	attempts INTEGER NOT NULL,
	error    TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

const runColumns = "id, symbol, mode, intervals, incremental, started_at, finished_at, total, succeeded, skipped, failed"

// Ledger persists run summaries and their failure lists.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at path and ensures the
// schema exists.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordRun inserts a finalized summary and its failures in one
// transaction.
func (l *Ledger) RecordRun(ctx context.Context, s *domain.Summary) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning ledger transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.RunID, s.Symbol, string(s.Mode), strings.Join(s.Intervals, ","),
		boolInt(s.Incremental),
		s.StartedAt.UTC().Format(time.RFC3339Nano),
		s.FinishedAt.UTC().Format(time.RFC3339Nano),
		s.Total, s.Succeeded, s.Skipped, s.Failed)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", s.RunID, err)
	}

	for i, f := range s.Failures {
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO failures
			(run_id, seq, symbol, mode, interval, key, kind, attempts, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.RunID, i, f.Archive.Symbol, string(f.Archive.Mode), f.Archive.Interval,
			f.Archive.Key(), string(f.Kind), f.Attempts, msg)
		if err != nil {
			return fmt.Errorf("inserting failure %s: %w", f.Archive, err)
		}
	}

	return tx.Commit()
}

// LastRun returns the most recently started run, or ErrNoRun when the
// ledger is empty.
func (l *Ledger) LastRun(ctx context.Context) (*domain.Summary, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT 1`)
	return scanRun(row.Scan)
}

// Run returns the run with the given id, or ErrNoRun.
func (l *Ledger) Run(ctx context.Context, id string) (*domain.Summary, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row.Scan)
}

// ListRuns returns up to limit runs, newest first, without their failure
// lists.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]domain.Summary, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Summary
	for rows.Next() {
		s, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// FailuresForRun returns the failed outcomes of a run in the order they
// were recorded.
func (l *Ledger) FailuresForRun(ctx context.Context, runID string) ([]domain.Outcome, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT symbol, mode, interval, key, kind, attempts, error
		FROM failures WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing failures for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var (
			symbol, mode, interval, key, kind, msg string
			attempts                               int
		)
		if err := rows.Scan(&symbol, &mode, &interval, &key, &kind, &attempts, &msg); err != nil {
			return nil, fmt.Errorf("scanning failure row: %w", err)
		}
		a, err := domain.ParseArchive(symbol, domain.Mode(mode), interval, key)
		if err != nil {
			return nil, fmt.Errorf("rebuilding archive from ledger: %w", err)
		}
		o := domain.Outcome{
			Archive:  a,
			Status:   domain.StatusFailed,
			Attempts: attempts,
			Kind:     domain.ErrorKind(kind),
		}
		if msg != "" {
			o.Err = errors.New(msg)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// scanRun reads one runs row via the given Scan function, shared between
// QueryRow and Rows.
func scanRun(scan func(...any) error) (*domain.Summary, error) {
	var (
		s                   domain.Summary
		mode, intervals     string
		incremental         int
		startedAt, finished string
	)
	err := scan(&s.RunID, &s.Symbol, &mode, &intervals, &incremental,
		&startedAt, &finished, &s.Total, &s.Succeeded, &s.Skipped, &s.Failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run row: %w", err)
	}

	s.Mode = domain.Mode(mode)
	if intervals != "" {
		s.Intervals = strings.Split(intervals, ",")
	}
	s.Incremental = incremental != 0
	if s.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if s.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parsing finished_at: %w", err)
	}
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
