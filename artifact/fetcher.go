package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Fetcher resolves artifact URLs through a Store, hitting the network only
// on a cache miss.
type Fetcher struct {
	store  Store
	client *http.Client
	logger *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient overrides the HTTP client used for cache misses.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

// WithLogger sets the fetcher's logger.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher over the given store.
func NewFetcher(store Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		store:  store,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch returns the artifact at url, from cache when possible. A non-2xx
// status is an error; a short or broken body surfaces as a read error
// rather than a truncated artifact.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	key := Key(url)
	if data, err := f.store.Get(ctx, key); err == nil {
		f.logger.Debug("artifact cache hit", slog.String("url", url))
		return data, nil
	}

	f.logger.Info("fetching artifact", slog.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("artifact: build request for %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("artifact: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("artifact: fetch %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", url, err)
	}

	if err := f.store.Put(ctx, key, data); err != nil {
		// A cache write failure is not a fetch failure.
		f.logger.Warn("artifact cache write failed",
			slog.String("url", url),
			slog.String("error", err.Error()),
		)
	}
	return data, nil
}
