package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-relay/internal/feed"
	"threat-relay/internal/state"
)

const sourceURL = "https://news.example/feed"

var now = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time {
	t := now.Add(-d)
	return &t
}

func newEngine() *Engine {
	return NewEngine(DefaultPolicy(), WithClock(func() time.Time { return now }))
}

func links(entries []feed.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Link)
	}
	return out
}

const day = 24 * time.Hour

func TestColdStartCapAndRerun(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	history := state.NewHistory(2000)
	entries := []feed.Entry{
		{Link: "https://news.example/e1", PublishedAt: ago(10 * day)},
		{Link: "https://news.example/e2", PublishedAt: ago(1 * day)},
		{Link: "https://news.example/e3", PublishedAt: ago(0)},
		{Link: "https://news.example/e4", PublishedAt: ago(0)},
	}

	ledger, cold := LedgerFor(doc, history, sourceURL)
	require.True(t, cold)
	got := e.Filter(sourceURL, entries, ledger, cold)
	assert.Equal(t, []string{"https://news.example/e1", "https://news.example/e2", "https://news.example/e3"}, links(got))

	for _, entry := range got {
		e.MarkDelivered(ledger, entry.Link)
	}
	assert.False(t, ledger.Delivered.Has("https://news.example/e4"))
	assert.False(t, history.Has("https://news.example/e4"))

	ledger, cold = LedgerFor(doc, history, sourceURL)
	require.False(t, cold)
	assert.Empty(t, e.Filter(sourceURL, entries, ledger, cold))
}

func TestWarmAgeWindow(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	doc.Dedup[sourceURL] = state.NewLinkSet()
	ledger, cold := LedgerFor(doc, state.NewHistory(10), sourceURL)
	require.False(t, cold)

	entries := []feed.Entry{
		{Link: "https://news.example/exact", PublishedAt: ago(7 * day)},
		{Link: "https://news.example/almost", PublishedAt: ago(7*day - time.Minute)},
		{Link: "https://news.example/old", PublishedAt: ago(30 * day)},
		{Link: "https://news.example/undated"},
	}
	got := e.Filter(sourceURL, entries, ledger, cold)
	assert.Equal(t, []string{"https://news.example/almost", "https://news.example/undated"}, links(got))
}

func TestHistoryBackfill(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	doc.Dedup[sourceURL] = state.NewLinkSet()
	history := state.NewHistory(10, "https://other.example/shared")
	ledger, _ := LedgerFor(doc, history, sourceURL)

	got := e.Filter(sourceURL, []feed.Entry{
		{Link: "https://other.example/shared?utm_campaign=x", PublishedAt: ago(day)},
		{Link: "https://news.example/fresh", PublishedAt: ago(day)},
	}, ledger, false)

	assert.Equal(t, []string{"https://news.example/fresh"}, links(got))
	assert.True(t, doc.Dedup[sourceURL].Has("https://other.example/shared"))
}

func TestFilterDropsDuplicatesWithinBatch(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	doc.Dedup[sourceURL] = state.NewLinkSet()
	ledger, _ := LedgerFor(doc, state.NewHistory(10), sourceURL)

	got := e.Filter(sourceURL, []feed.Entry{
		{Link: "https://news.example/a#top", Title: "first"},
		{Link: "https://news.example/a?utm_source=x", Title: "second"},
		{Link: "", Title: "no link"},
	}, ledger, false)

	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, "https://news.example/a", got[0].Link)
}

func TestFilterNeverReturnsDeliveredLinks(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	doc.Dedup[sourceURL] = state.NewLinkSet("https://news.example/a")
	ledger, _ := LedgerFor(doc, state.NewHistory(10), sourceURL)

	got := e.Filter(sourceURL, []feed.Entry{
		{Link: "https://NEWS.example/a#x", PublishedAt: ago(0)},
		{Link: "https://news.example/b", PublishedAt: ago(0)},
	}, ledger, false)
	assert.Equal(t, []string{"https://news.example/b"}, links(got))
}

func TestCompactionMakesSourceColdAgain(t *testing.T) {
	e := newEngine()
	doc := state.NewDocument()
	history := state.NewHistory(10)
	entries := []feed.Entry{
		{Link: "https://news.example/1"}, {Link: "https://news.example/2"},
		{Link: "https://news.example/3"}, {Link: "https://news.example/4"},
		{Link: "https://news.example/5"},
	}

	ledger, cold := LedgerFor(doc, history, sourceURL)
	for _, entry := range e.Filter(sourceURL, entries, ledger, cold) {
		e.MarkDelivered(ledger, entry.Link)
	}
	require.True(t, doc.CompactIfDue(now, 7*day))

	// History still covers the delivered links; the rest is a fresh cold start.
	ledger, cold = LedgerFor(doc, history, sourceURL)
	require.True(t, cold)
	got := e.Filter(sourceURL, entries, ledger, cold)
	assert.Equal(t, []string{"https://news.example/4", "https://news.example/5"}, links(got))
}
