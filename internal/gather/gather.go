// Package gather implements the sync engine: a coordinator that streams
// archive identifiers from a source through a bounded worker pool and folds
// the per-archive outcomes into a run summary.
package gather

import (
	"context"
	"io"

	"klinesync/internal/domain"
)

// Source supplies the archives a run should consider.
type Source interface {
	// Total returns how many archives the source will emit.
	Total() int
	// Archives streams the archives. The channel closes when the source is
	// exhausted or ctx is cancelled.
	Archives(ctx context.Context) <-chan domain.Archive
}

// Fetcher retrieves one remote archive object. Implementations perform a
// single attempt; the pool owns retry scheduling.
type Fetcher interface {
	FetchArchive(ctx context.Context, a domain.Archive) (io.ReadCloser, error)
}

// List adapts a fixed archive slice to a Source, used when replaying the
// recorded failures of an earlier run.
type List []domain.Archive

var _ Source = (List)(nil)

// Total returns the list length.
func (l List) Total() int { return len(l) }

// Archives streams the list in order.
func (l List) Archives(ctx context.Context) <-chan domain.Archive {
	out := make(chan domain.Archive)
	go func() {
		defer close(out)
		for _, a := range l {
			select {
			case out <- a:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
