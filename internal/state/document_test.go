package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocumentRoundTrip(t *testing.T) {
	doc := NewDocument()
	set, cold := doc.EnsureSource("https://a.example/feed")
	require.True(t, cold)
	set.Add("https://a.example/1")
	set.Add("https://a.example/2")
	doc.SuppressedFor("https://a.example/feed").Add("https://a.example/3")
	doc.HTTPCache["https://a.example/feed"] = CacheValidator{ETag: `"abc"`}
	doc.PageHashes["https://b.example"] = "deadbeef"
	doc.LastCleanup = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	data, err := EncodeDocument(doc)
	require.NoError(t, err)

	got, problems := DecodeDocument(data)
	assert.Empty(t, problems)
	assert.Equal(t, []string{"https://a.example/1", "https://a.example/2"}, got.Dedup["https://a.example/feed"].Links())
	assert.True(t, got.Suppressed["https://a.example/feed"].Has("https://a.example/3"))
	assert.Equal(t, `"abc"`, got.HTTPCache["https://a.example/feed"].ETag)
	assert.Equal(t, "deadbeef", got.PageHashes["https://b.example"])
	assert.True(t, doc.LastCleanup.Equal(got.LastCleanup))
}

func TestDecodeDocumentTruncated(t *testing.T) {
	doc, problems := DecodeDocument([]byte(`{"dedup": {"https://a.example/feed": ["https://a.exa`))
	require.Len(t, problems, 1)
	assert.Empty(t, doc.Dedup)
	assert.NotNil(t, doc.HTTPCache)
	assert.NotNil(t, doc.PageHashes)

	data, err := EncodeDocument(doc)
	require.NoError(t, err)
	again, problems := DecodeDocument(data)
	assert.Empty(t, problems)
	assert.Empty(t, again.Dedup)
}

func TestDecodeDocumentEmpty(t *testing.T) {
	doc, problems := DecodeDocument([]byte("  \n"))
	require.Len(t, problems, 1)
	assert.ErrorIs(t, problems[0], ErrEmptyDocument)
	assert.NotNil(t, doc.Dedup)
}

func TestDecodeDocumentPerFieldDefaults(t *testing.T) {
	raw := `{
		"dedup": "not a map",
		"http_cache": {"https://a.example/feed": {"etag": "W/\"1\"", "last_modified": "Mon, 02 Jan 2006 15:04:05 GMT"}},
		"html_hashes": [1, 2, 3],
		"last_cleanup": 1700000000.5
	}`
	doc, problems := DecodeDocument([]byte(raw))

	assert.Len(t, problems, 2)
	assert.Empty(t, doc.Dedup)
	assert.Empty(t, doc.PageHashes)
	assert.Equal(t, `W/"1"`, doc.HTTPCache["https://a.example/feed"].ETag)
	assert.Equal(t, int64(1700000000), doc.LastCleanup.Unix())
}

func TestDecodeDocumentNullSetStaysWarm(t *testing.T) {
	doc, problems := DecodeDocument([]byte(`{"dedup": {"https://a.example/feed": null}}`))
	require.Empty(t, problems)

	set, cold := doc.EnsureSource("https://a.example/feed")
	assert.False(t, cold)
	assert.Equal(t, 0, set.Len())
}

func TestEnsureSource(t *testing.T) {
	doc := NewDocument()

	set, cold := doc.EnsureSource("https://a.example/feed")
	assert.True(t, cold)
	set.Add("x")

	again, cold := doc.EnsureSource("https://a.example/feed")
	assert.False(t, cold)
	assert.Same(t, set, again)
}

func TestCompactIfDue(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	interval := 7 * 24 * time.Hour

	doc := NewDocument()
	doc.LastCleanup = base
	doc.EnsureSource("https://a.example/feed")
	doc.SuppressedFor("https://a.example/feed").Add("y")
	doc.HTTPCache["https://a.example/feed"] = CacheValidator{ETag: "e"}
	doc.PageHashes["https://b.example"] = "h"

	assert.False(t, doc.CompactIfDue(base.Add(interval), interval))
	assert.Len(t, doc.Dedup, 1)

	now := base.Add(interval + time.Second)
	assert.True(t, doc.CompactIfDue(now, interval))
	assert.Empty(t, doc.Dedup)
	assert.Empty(t, doc.Suppressed)
	assert.Equal(t, "e", doc.HTTPCache["https://a.example/feed"].ETag)
	assert.Equal(t, "h", doc.PageHashes["https://b.example"])
	assert.Equal(t, now, doc.LastCleanup)

	_, cold := doc.EnsureSource("https://a.example/feed")
	assert.True(t, cold, "compaction must retrigger cold start")
}

func TestCompactIfDueFreshDocument(t *testing.T) {
	doc := NewDocument()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, doc.CompactIfDue(now, 7*24*time.Hour))
	assert.Equal(t, now, doc.LastCleanup)
}
