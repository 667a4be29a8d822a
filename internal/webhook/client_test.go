package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-relay/internal/config"
	"threat-relay/internal/route"
)

type captured struct {
	path   string
	auth   string
	header http.Header
	body   []byte
}

func recorder(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{path: r.URL.Path, auth: r.Header.Get("Authorization"), header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func sampleMessage() Message {
	published := time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)
	return Message{
		Title:       "LockBit ransomware returns",
		Summary:     "Extortion site back online.",
		Link:        "https://www.bleepingcomputer.com/news/lockbit",
		Media:       "https://www.bleepingcomputer.com/thumb.jpg",
		SourceName:  "BleepingComputer",
		PublishedAt: &published,
		Category:    "ransomware",
		Label:       "Ransomware",
		Emoji:       "🔒",
		Tier:        route.TierCritical,
		Score:       42,
		Color:       route.TierCritical.Color(),
	}
}

func TestSendDiscordEmbed(t *testing.T) {
	srv, ch := recorder(t, http.StatusNoContent)
	c := NewClient()

	err := c.Send(context.Background(), config.Tenant{ID: "soc", DeliveryTarget: srv.URL + "/hook", Provider: config.ProviderDiscord}, sampleMessage())
	require.NoError(t, err)

	got := <-ch
	assert.Equal(t, "/hook", got.path)
	assert.Equal(t, "application/json", got.header.Get("Content-Type"))

	var p DiscordPayload
	require.NoError(t, json.Unmarshal(got.body, &p))
	assert.Empty(t, p.Content)
	require.Len(t, p.Embeds, 1)
	e := p.Embeds[0]
	assert.Equal(t, "LockBit ransomware returns", e.Title)
	assert.Equal(t, 0xFF00FF, e.Color)
	assert.Equal(t, "Source: bleepingcomputer.com", e.Footer.Text)
	assert.Equal(t, "🔒 Ransomware", e.Author.Name)
	assert.Equal(t, "https://www.bleepingcomputer.com/thumb.jpg", e.Thumbnail.URL)
	assert.Equal(t, "2026-10-12T10:00:00Z", e.Timestamp)
	assert.Equal(t, "CRITICAL (42)", e.Fields[0].Value)
}

func TestRenderDiscordMediaLinkIsPlainContent(t *testing.T) {
	m := sampleMessage()
	m.Link = "https://www.youtube.com/watch?v=abc"

	p := RenderDiscord(m)
	assert.Empty(t, p.Embeds)
	assert.Contains(t, p.Content, "https://www.youtube.com/watch?v=abc")
}

func TestRenderDiscordTruncatesTitle(t *testing.T) {
	m := sampleMessage()
	m.Title = strings.Repeat("a", 300)

	e := RenderDiscord(m).Embeds[0]
	assert.Len(t, []rune(e.Title), 256)
	assert.True(t, strings.HasSuffix(e.Title, "..."))
}

func TestSendMisskeyNote(t *testing.T) {
	srv, ch := recorder(t, http.StatusOK)

	tenant := config.Tenant{ID: "mk", DeliveryTarget: srv.URL + "/", Provider: config.ProviderMisskey, APIToken: "tok"}
	require.NoError(t, NewClient().Send(context.Background(), tenant, sampleMessage()))

	got := <-ch
	assert.Equal(t, "/api/notes/create", got.path)
	assert.Equal(t, "Bearer tok", got.auth)

	var note MisskeyNote
	require.NoError(t, json.Unmarshal(got.body, &note))
	assert.Equal(t, "tok", note.Token)
	assert.Equal(t, "public", note.Visibility)
	assert.Contains(t, note.Text, "LockBit ransomware returns")
	assert.Contains(t, note.Text, "https://www.bleepingcomputer.com/news/lockbit")

	tenant.APIToken = ""
	assert.Error(t, NewClient().Send(context.Background(), tenant, sampleMessage()))
}

func TestSendGeneric(t *testing.T) {
	srv, ch := recorder(t, http.StatusAccepted)

	require.NoError(t, NewClient().Send(context.Background(), config.Tenant{ID: "g", DeliveryTarget: srv.URL}, sampleMessage()))

	var p Payload
	require.NoError(t, json.Unmarshal((<-ch).body, &p))
	assert.Equal(t, "BleepingComputer", p.Source)
	assert.Equal(t, "CRITICAL", p.Severity)
	assert.Equal(t, 42, p.Score)
	assert.Equal(t, "ransomware", p.Category)
}

func TestSendErrors(t *testing.T) {
	err := NewClient().Send(context.Background(), config.Tenant{ID: "none"}, sampleMessage())
	assert.True(t, errors.Is(err, ErrNoTarget))

	srv, _ := recorder(t, http.StatusTooManyRequests)
	err = NewClient().Send(context.Background(), config.Tenant{ID: "busy", DeliveryTarget: srv.URL}, sampleMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSendWaitsPostInterval(t *testing.T) {
	srv, _ := recorder(t, http.StatusOK)
	tenant := config.Tenant{ID: "slow", DeliveryTarget: srv.URL, PostInterval: 50 * time.Millisecond}

	start := time.Now()
	require.NoError(t, NewClient().Send(context.Background(), tenant, sampleMessage()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tenant.PostInterval = time.Hour
	err := NewClient().Send(ctx, tenant, sampleMessage())
	assert.Error(t, err)
}

// cancelAfterResponse cancels the request context once the response arrived.
type cancelAfterResponse struct {
	next   http.RoundTripper
	cancel context.CancelFunc
}

func (c cancelAfterResponse) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := c.next.RoundTrip(r)
	c.cancel()
	return resp, err
}

func TestSendSucceedsWhenCancelledDuringPostInterval(t *testing.T) {
	srv, posts := recorder(t, http.StatusNoContent)
	tenant := config.Tenant{ID: "slow", DeliveryTarget: srv.URL, PostInterval: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client := NewClientWithHTTP(&http.Client{Transport: cancelAfterResponse{next: http.DefaultTransport, cancel: cancel}})

	start := time.Now()
	err := client.Send(ctx, tenant, sampleMessage())
	require.NoError(t, err, "the post went out, so the send counts")
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Len(t, posts, 1)
}
