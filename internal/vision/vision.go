// Package vision speaks to the Binance public data repository at
// data.binance.vision. It enumerates the archives a run should mirror and
// downloads individual archive objects.
package vision

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"klinesync/internal/domain"
)

// Interval catalogs per mode, in enumeration order. The repository
// publishes 1s bars only as daily archives; day, week, and month rollups
// exist only as monthly archives.
var (
	dailyIntervals   = []string{"1s", "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h"}
	monthlyIntervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1mo"}
)

// Intervals returns the full interval catalog for a mode.
func Intervals(mode domain.Mode) []string {
	if mode == domain.ModeMonthly {
		return slices.Clone(monthlyIntervals)
	}
	return slices.Clone(dailyIntervals)
}

// Plan is a deterministic enumeration of the archives one run considers.
// The same inputs always yield the same sequence, and every call to
// Archives restarts it from the beginning.
type Plan struct {
	Symbol    string
	Mode      domain.Mode
	Intervals []string
	Start     time.Time
	End       time.Time
}

// NewPlan validates the run parameters and fixes the enumeration order.
// Requested intervals are deduplicated and reordered to catalog order so
// the sequence does not depend on how the flags were typed; an interval
// outside the mode's catalog fails before anything is enumerated. A nil or
// empty interval list means the whole catalog.
func NewPlan(symbol string, mode domain.Mode, intervals []string, start, end time.Time) (*Plan, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, domain.NewInvalidConfig("symbol must not be empty", nil)
	}

	catalog := Intervals(mode)
	if len(intervals) == 0 {
		intervals = catalog
	}
	requested := make(map[string]bool, len(intervals))
	for _, iv := range intervals {
		if !slices.Contains(catalog, iv) {
			return nil, domain.NewInvalidConfig(
				fmt.Sprintf("interval %q is not published as %s archives (catalog: %s)",
					iv, mode, strings.Join(catalog, " ")), nil)
		}
		requested[iv] = true
	}
	ordered := make([]string, 0, len(requested))
	for _, iv := range catalog {
		if requested[iv] {
			ordered = append(ordered, iv)
		}
	}

	start = dayStart(start)
	end = dayStart(end)
	if end.Before(start) {
		return nil, domain.NewInvalidConfig(
			fmt.Sprintf("start date %s is after end date %s",
				start.Format("2006-01-02"), end.Format("2006-01-02")), nil)
	}

	return &Plan{Symbol: symbol, Mode: mode, Intervals: ordered, Start: start, End: end}, nil
}

// Total returns the number of archives the plan emits, computed without
// streaming.
func (p *Plan) Total() int {
	return len(p.Intervals) * p.periods()
}

// Archives streams the plan: intervals in catalog order, calendar keys
// ascending within each interval. The channel closes when the sequence
// ends or ctx is cancelled.
func (p *Plan) Archives(ctx context.Context) <-chan domain.Archive {
	out := make(chan domain.Archive)
	go func() {
		defer close(out)
		for _, iv := range p.Intervals {
			switch p.Mode {
			case domain.ModeMonthly:
				// The month containing End is still being written upstream
				// and is never enumerated.
				limit := monthStart(p.End)
				for m := monthStart(p.Start); m.Before(limit); m = m.AddDate(0, 1, 0) {
					if !send(ctx, out, domain.Archive{Symbol: p.Symbol, Mode: p.Mode, Interval: iv, Date: m}) {
						return
					}
				}
			default:
				for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
					if !send(ctx, out, domain.Archive{Symbol: p.Symbol, Mode: p.Mode, Interval: iv, Date: d}) {
						return
					}
				}
			}
		}
	}()
	return out
}

// periods counts the calendar keys in range: days through End in daily
// mode, completed months before End's month in monthly mode.
func (p *Plan) periods() int {
	if p.Mode == domain.ModeMonthly {
		limit := monthStart(p.End)
		n := 0
		for m := monthStart(p.Start); m.Before(limit); m = m.AddDate(0, 1, 0) {
			n++
		}
		return n
	}
	return int(p.End.Sub(p.Start)/(24*time.Hour)) + 1
}

func send(ctx context.Context, out chan<- domain.Archive, a domain.Archive) bool {
	select {
	case out <- a:
		return true
	case <-ctx.Done():
		return false
	}
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
