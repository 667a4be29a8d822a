// Package watch detects content changes on pages that publish no feed.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"threat-relay/internal/catalog"
	"threat-relay/internal/feed"
)

const (
	UpdateSummary = "Official site content has changed. Please check for new announcements."

	// revisionParam carries the content hash in synthetic entry links so
	// every change is a distinct dedup key.
	revisionParam = "intel_rev"

	maxPageBytes = 5 << 20
	userAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
)

// Markup that changes without the announcements changing.
var (
	noiseTags      = []string{"script", "style", "meta", "noscript", "iframe", "svg"}
	noiseSelectors = []string{".ad", ".advertisement", ".widget", "#clock", ".timestamp", ".cookie-consent"}
)

type Change struct {
	URL   string
	Title string
	Hash  string
	// Changed is false on the first sighting and when the hash is unchanged.
	Changed bool
}

type Watcher struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

type Option func(*Watcher)

func WithHTTPClient(c *http.Client) Option {
	return func(w *Watcher) { w.client = c }
}

func WithConcurrency(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

func NewWatcher(opts ...Option) *Watcher {
	w := &Watcher{
		client:      &http.Client{},
		concurrency: feed.DefaultConcurrency,
		timeout:     feed.DefaultTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Check fingerprints every page and records the new hashes. Pages that could
// not be fetched are left out and keep their previous hash.
func (w *Watcher) Check(ctx context.Context, pages []catalog.Source, hashes map[string]string) []Change {
	results := make([]*Change, len(pages))

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, page := range pages {
		g.Go(func() error {
			title, hash, err := w.fingerprint(ctx, page.URL)
			if err != nil {
				w.logger.Warn("Failed to check page", "source", page.URL, "error", err)
				return nil
			}
			results[i] = &Change{URL: page.URL, Title: title, Hash: hash}
			return nil
		})
	}
	_ = g.Wait()

	var changes []Change
	for _, c := range results {
		if c == nil {
			continue
		}
		prev, seen := hashes[c.URL]
		switch {
		case !seen || prev == "":
			w.logger.Info("Initialized page hash", "source", c.URL)
		case prev != c.Hash:
			w.logger.Info("Page content changed", "source", c.URL)
			c.Changed = true
		}
		hashes[c.URL] = c.Hash
		changes = append(changes, *c)
	}
	return changes
}

func (w *Watcher) fingerprint(ctx context.Context, pageURL string) (title, hash string, err error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("page responded with status: %d", resp.StatusCode)
	}

	title, text, err := Extract(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", "", err
	}
	return title, Hash(text), nil
}

// Extract returns the page title and its visible text with the noise removed
// and whitespace collapsed.
func Extract(r io.Reader) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = "No Title"
	}

	doc.Find(strings.Join(noiseTags, ", ")).Remove()
	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}
	// The title is reported separately and must not mask body changes.
	doc.Find("head").Remove()

	var words []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		words = append(words, strings.Fields(textWithBreaks(s))...)
	})
	return title, strings.Join(words, " "), nil
}

// textWithBreaks joins the text of child nodes with spaces so that adjacent
// blocks do not run into each other.
func textWithBreaks(s *goquery.Selection) string {
	var b strings.Builder
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			b.WriteString(c.Text())
		} else {
			b.WriteString(textWithBreaks(c))
		}
		b.WriteByte(' ')
	})
	return b.String()
}

func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChangeEntries turns changed pages into entries for the normal delivery path.
func ChangeEntries(changes []Change) []feed.Entry {
	var out []feed.Entry
	for _, c := range changes {
		if !c.Changed {
			continue
		}
		out = append(out, feed.Entry{
			Link:    RevisionLink(c.URL, c.Hash),
			Title:   "Update: " + c.Title,
			Summary: UpdateSummary,
		})
	}
	return out
}

// RevisionLink appends the first 16 hash characters to pageURL.
func RevisionLink(pageURL, hash string) string {
	if len(hash) > 16 {
		hash = hash[:16]
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return pageURL
	}
	q := u.Query()
	q.Set(revisionParam, hash)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}
