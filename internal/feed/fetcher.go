package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"threat-relay/internal/catalog"
	"threat-relay/internal/state"
)

var (
	metricFetchCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_fetch_total",
		Help: "The total number of source fetches",
	}, []string{"source", "status"})
)

const (
	DefaultConcurrency = 5
	DefaultTimeout     = 30 * time.Second
	DefaultPoliteness  = 2 * time.Second

	maxBodyBytes = 10 << 20
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// FetchResult is the outcome of one conditional GET. Payload is nil when the
// source has nothing to process this cycle.
type FetchResult struct {
	Source   catalog.Source
	Status   int
	Payload  []byte
	CacheHit bool
	Err      error

	validator state.CacheValidator
}

type Fetcher struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	polite      *HostLimiter
	logger      *slog.Logger
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.client = c }
}

func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

func WithTimeout(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithPoliteness sets the minimum spacing between requests to video hosts.
func WithPoliteness(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.polite = NewHostLimiter(d, IsVideoHost) }
}

func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{},
		concurrency: DefaultConcurrency,
		timeout:     DefaultTimeout,
		polite:      NewHostLimiter(DefaultPoliteness, IsVideoHost),
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchAll fetches every source with at most concurrency requests in flight.
// Results keep the order of sources. Fresh validators are written into cache
// once all fetches are done.
func (f *Fetcher) FetchAll(ctx context.Context, sources []catalog.Source, cache state.HTTPCache) []FetchResult {
	results := make([]FetchResult, len(sources))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, src := range sources {
		validator := cache[src.URL]
		g.Go(func() error {
			results[i] = f.fetch(ctx, src, validator)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if !r.validator.IsZero() {
			cache[r.Source.URL] = r.validator
		}
	}
	return results
}

func (f *Fetcher) fetch(ctx context.Context, src catalog.Source, validator state.CacheValidator) FetchResult {
	logger := f.logger.With("source", src.URL)
	res := FetchResult{Source: src}

	if err := f.polite.Wait(ctx, src.URL); err != nil {
		res.Err = fmt.Errorf("politeness wait: %w", err)
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		logger.Error("Failed to create request", "error", err)
		metricFetchCount.WithLabelValues(src.URL, "error").Inc()
		res.Err = fmt.Errorf("failed to create request: %w", err)
		return res
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml,application/atom+xml,application/xml;q=0.9,application/json;q=0.9,text/html;q=0.8,*/*;q=0.5")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	if validator.ETag != "" {
		req.Header.Set("If-None-Match", validator.ETag)
	}
	if validator.LastModified != "" {
		req.Header.Set("If-Modified-Since", validator.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		logger.Error("Failed to fetch source", "error", err)
		metricFetchCount.WithLabelValues(src.URL, "error").Inc()
		res.Err = fmt.Errorf("failed to fetch source: %w", err)
		return res
	}
	defer resp.Body.Close()
	res.Status = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusNotModified:
		logger.Debug("Cache hit")
		metricFetchCount.WithLabelValues(src.URL, "not_modified").Inc()
		res.CacheHit = true
		return res
	case resp.StatusCode == http.StatusRequestHeaderFieldsTooLarge:
		logger.Warn("Source rejected request headers as too large", "status", resp.StatusCode)
		metricFetchCount.WithLabelValues(src.URL, "error").Inc()
		res.Err = fmt.Errorf("source responded with status: %d", resp.StatusCode)
		return res
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		logger.Warn("Source responded with unexpected status", "status", resp.StatusCode)
		metricFetchCount.WithLabelValues(src.URL, "error").Inc()
		res.Err = fmt.Errorf("source responded with status: %d", resp.StatusCode)
		return res
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		logger.Error("Failed to read response body", "error", err)
		metricFetchCount.WithLabelValues(src.URL, "error").Inc()
		res.Err = fmt.Errorf("failed to read body: %w", err)
		return res
	}
	if body == nil {
		body = []byte{}
	}
	res.Payload = body
	metricFetchCount.WithLabelValues(src.URL, "success").Inc()

	if resp.StatusCode == http.StatusOK {
		next := validator
		if etag := resp.Header.Get("ETag"); etag != "" {
			next.ETag = etag
		}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			next.LastModified = lm
		}
		res.validator = next
	}
	return res
}
