package gather

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"klinesync/internal/domain"
	"klinesync/internal/store"
)

// RetryPolicy controls transfer retries. MaxAttempts counts every try
// including the first; the pause between attempts grows exponentially from
// Initial and is capped at Max.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// DefaultRetryPolicy gives each archive three tries with a short capped
// backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Initial: time.Second, Max: 30 * time.Second}
}

// backOff builds the per-archive backoff schedule.
func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.Initial
	bo.MaxInterval = p.Max
	bo.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx)
}

// Pool is the bounded-concurrency transfer stage. Workers pull archives
// from the jobs channel and emit exactly one outcome per archive; at most
// `workers` transfers are in flight at any moment.
type Pool struct {
	workers int
	fetcher Fetcher
	store   store.ArchiveStore
	policy  RetryPolicy
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewPool wires a pool. A nil limiter means no throttling; a nil logger
// falls back to the process default.
func NewPool(workers int, fetcher Fetcher, st store.ArchiveStore, policy RetryPolicy, limiter *rate.Limiter, log *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		workers: workers,
		fetcher: fetcher,
		store:   st,
		policy:  policy,
		limiter: limiter,
		log:     log,
	}
}

// Run consumes jobs until the channel closes and every worker drains. Jobs
// accepted after ctx is cancelled are discarded without an outcome; the run
// is being abandoned and the collector stops counting.
func (p *Pool) Run(ctx context.Context, jobs <-chan domain.Archive, outcomes chan<- domain.Outcome) {
	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			for a := range jobs {
				if ctx.Err() != nil {
					continue
				}
				if o, ok := p.fetchOne(ctx, a); ok {
					outcomes <- o
				}
			}
		}()
	}
	wg.Wait()
}

// fetchOne transfers a single archive under the retry policy. ok is false
// only when the transfer was cut short by cancellation.
func (p *Pool) fetchOne(ctx context.Context, a domain.Archive) (domain.Outcome, bool) {
	var (
		attempts int
		bytes    int64
	)

	op := func() error {
		attempts++
		if err := p.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		n, err := p.transfer(ctx, a)
		if err != nil {
			if !domain.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			p.log.Debug("attempt failed", "archive", a.String(), "attempt", attempts, "err", err)
			return err
		}
		bytes = n
		return nil
	}

	err := backoff.Retry(op, p.policy.backOff(ctx))
	switch {
	case err == nil:
		return domain.Succeeded(a, bytes, attempts), true
	case ctx.Err() != nil:
		return domain.Outcome{}, false
	default:
		return domain.Failed(a, attempts, err), true
	}
}

// transfer performs one attempt: fetch the object, commit it to the store.
func (p *Pool) transfer(ctx context.Context, a domain.Archive) (int64, error) {
	body, err := p.fetcher.FetchArchive(ctx, a)
	if err != nil {
		return 0, err
	}
	defer body.Close()
	return p.store.Store(ctx, a, body)
}
