// Package dedup decides which entries of a source are new, applying the
// cold-start cap and the age window.
package dedup

import (
	"log/slog"
	"time"

	"threat-relay/internal/feed"
	"threat-relay/internal/state"
)

const (
	DefaultColdStartCap = 3
	DefaultAgeWindow    = 7 * 24 * time.Hour
)

type Policy struct {
	// ColdStartCap is how many entries a never-seen source may deliver in its
	// first cycle. Age is ignored for those.
	ColdStartCap int
	// AgeWindow rejects entries at least this old once a source is warm.
	AgeWindow time.Duration
}

func DefaultPolicy() Policy {
	return Policy{ColdStartCap: DefaultColdStartCap, AgeWindow: DefaultAgeWindow}
}

// Ledger is the slice of state a single source is filtered against.
type Ledger struct {
	Delivered  *state.LinkSet
	Suppressed *state.LinkSet
	History    *state.History
}

// LedgerFor returns the ledger for sourceURL and whether the source is cold.
func LedgerFor(doc *state.Document, history *state.History, sourceURL string) (Ledger, bool) {
	delivered, cold := doc.EnsureSource(sourceURL)
	return Ledger{
		Delivered:  delivered,
		Suppressed: doc.SuppressedFor(sourceURL),
		History:    history,
	}, cold
}

type Engine struct {
	policy Policy
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(policy Policy, opts ...Option) *Engine {
	e := &Engine{policy: policy, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Filter returns the entries of sourceURL that are new, in source order, with
// normalized links. It only extends the ledger with history backfills and
// cold-start overflow; delivered links are recorded by MarkDelivered.
func (e *Engine) Filter(sourceURL string, entries []feed.Entry, l Ledger, coldStart bool) []feed.Entry {
	logger := e.logger.With("source", sourceURL)
	if coldStart {
		logger.Info("Cold start detected, age window ignored for the first entries", "cap", e.policy.ColdStartCap)
	}

	now := e.now()
	batch := make(map[string]struct{}, len(entries))
	var out []feed.Entry
	taken := 0

	for _, entry := range entries {
		link := NormalizeLink(entry.Link)
		if link == "" {
			continue
		}
		if _, dup := batch[link]; dup {
			continue
		}
		batch[link] = struct{}{}

		if l.Delivered.Has(link) {
			continue
		}
		if l.History != nil && l.History.Has(link) {
			l.Delivered.Add(link)
			continue
		}
		if l.Suppressed.Has(link) {
			continue
		}

		if coldStart {
			if taken >= e.policy.ColdStartCap {
				if l.Suppressed != nil {
					l.Suppressed.Add(link)
				}
				logger.Debug("Cold start cap reached, entry suppressed", "link", link)
				continue
			}
			taken++
		} else if entry.PublishedAt != nil && now.Sub(*entry.PublishedAt) >= e.policy.AgeWindow {
			logger.Debug("Entry older than age window", "link", link, "age", now.Sub(*entry.PublishedAt).Round(time.Hour))
			continue
		}

		entry.Link = link
		out = append(out, entry)
	}
	return out
}

// MarkDelivered records link as delivered for the source and globally.
func (e *Engine) MarkDelivered(l Ledger, link string) {
	l.Delivered.Add(link)
	if l.History != nil {
		l.History.Append(link)
	}
}
