package vision

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"klinesync/internal/domain"
)

// DefaultBaseURL is the public Binance data repository.
const DefaultBaseURL = "https://data.binance.vision"

// Client downloads archive objects over HTTP. It performs single attempts;
// retry scheduling belongs to the caller.
type Client struct {
	base string
	hc   *http.Client
}

// NewClient builds a Client whose connection pool is sized for workers
// concurrent transfers. timeout bounds each request end to end, body
// included.
func NewClient(baseURL string, timeout time.Duration, workers int) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if workers < 1 {
		workers = 1
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	transport := &http.Transport{
		MaxIdleConns:        workers * 2,
		MaxIdleConnsPerHost: workers,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// URL returns the remote object location for an archive.
func (c *Client) URL(a domain.Archive) string {
	return fmt.Sprintf("%s/data/spot/%s/klines/%s/%s/%s.zip",
		c.base, a.Mode, a.Symbol, a.Interval, a.Stem())
}

// FetchArchive issues one GET for the archive object and classifies the
// response. 404 means the repository has never published the archive and
// retrying cannot help; every other non-2xx status is treated as transient
// so the retry policy gets a chance at it. The caller owns the returned
// body.
func (c *Client) FetchArchive(ctx context.Context, a domain.Archive) (io.ReadCloser, error) {
	url := c.URL(a)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, domain.NewInvalidConfig("building request for "+url, err)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransient("requesting "+url, 0, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, domain.NewNotFound(url+" does not exist upstream", resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, domain.NewTransient("requesting "+url, resp.StatusCode, nil)
	}
}
