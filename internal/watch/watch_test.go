package watch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-relay/internal/catalog"
)

func page(body string) string {
	return `<html><head><title> CISA News </title><meta name="x" content="1"></head><body>` + body + `</body></html>`
}

func TestExtractIgnoresNoise(t *testing.T) {
	a := page(`<h1>Advisories</h1><p>Patch now</p><div class="ad">Buy</div><span id="clock">10:00</span><script>var t=1</script>`)
	b := page(`<h1>Advisories</h1><p>Patch now</p><div class="ad">Sell</div><span id="clock">10:05</span><script>var t=2</script><div class="cookie-consent">ok</div>`)

	titleA, textA, err := Extract(strings.NewReader(a))
	require.NoError(t, err)
	_, textB, err := Extract(strings.NewReader(b))
	require.NoError(t, err)

	assert.Equal(t, "CISA News", titleA)
	assert.Equal(t, "Advisories Patch now", textA)
	assert.Equal(t, Hash(textA), Hash(textB))
}

func TestExtractWithoutTitle(t *testing.T) {
	title, text, err := Extract(strings.NewReader(`<p>one</p><p>two</p>`))
	require.NoError(t, err)
	assert.Equal(t, "No Title", title)
	assert.Equal(t, "one two", text)
}

func TestCheckFirstSightingThenChange(t *testing.T) {
	var version atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			fmt.Fprint(w, page(fmt.Sprintf("<p>Advisory %d</p>", version.Load())))
		}
	}))
	defer srv.Close()

	pages := []catalog.Source{
		{URL: srv.URL + "/news", Kind: catalog.KindStaticPage},
		{URL: srv.URL + "/down", Kind: catalog.KindStaticPage},
	}
	hashes := map[string]string{srv.URL + "/down": "kept"}
	w := NewWatcher()

	first := w.Check(context.Background(), pages, hashes)
	require.Len(t, first, 1)
	assert.False(t, first[0].Changed)
	assert.Equal(t, "CISA News", first[0].Title)
	assert.Equal(t, first[0].Hash, hashes[srv.URL+"/news"])
	assert.Equal(t, "kept", hashes[srv.URL+"/down"])
	assert.Empty(t, ChangeEntries(first))

	same := w.Check(context.Background(), pages, hashes)
	require.Len(t, same, 1)
	assert.False(t, same[0].Changed)

	version.Store(1)
	changed := w.Check(context.Background(), pages, hashes)
	require.Len(t, changed, 1)
	assert.True(t, changed[0].Changed)
	assert.NotEqual(t, first[0].Hash, changed[0].Hash)

	entries := ChangeEntries(changed)
	require.Len(t, entries, 1)
	assert.Equal(t, "Update: CISA News", entries[0].Title)
	assert.Equal(t, UpdateSummary, entries[0].Summary)
	assert.Equal(t, srv.URL+"/news?intel_rev="+changed[0].Hash[:16], entries[0].Link)
}

func TestRevisionLink(t *testing.T) {
	hash := Hash("x")
	assert.Equal(t, "https://www.cisa.gov/news?intel_rev="+hash[:16], RevisionLink("https://www.cisa.gov/news#top", hash))
	assert.Equal(t, "https://example.com/p?intel_rev="+hash[:16]+"&page=2", RevisionLink("https://example.com/p?page=2", hash))
}
