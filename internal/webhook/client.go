package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"threat-relay/internal/config"
	"threat-relay/internal/feed"
	"threat-relay/internal/route"
)

var ErrNoTarget = errors.New("tenant has no delivery target")

var (
	metricDeliveryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "intel_webhook_deliveries_total",
		Help: "The total number of webhook deliveries",
	}, []string{"provider", "status"})
)

const (
	maxTitle       = 256
	maxDescription = 350
	userAgent      = "threat-relay/1.0"
)

// Message is a classified entry ready to be rendered for a provider.
type Message struct {
	Title       string
	Summary     string
	Link        string
	Media       string
	SourceName  string
	PublishedAt *time.Time
	Category    string
	Label       string
	Emoji       string
	Tier        route.Tier
	Score       int
	Color       int
}

func NewMessage(d route.Delivery) Message {
	return Message{
		Title:       d.Entry.Title,
		Summary:     d.Entry.Summary,
		Link:        d.Entry.Link,
		Media:       d.Entry.Media,
		SourceName:  d.Metadata.Name,
		PublishedAt: d.Entry.PublishedAt,
		Category:    d.Classification.Category,
		Label:       d.Classification.Label,
		Emoji:       d.Classification.Emoji,
		Tier:        d.Classification.Tier,
		Score:       d.Classification.Score,
		Color:       d.Classification.Color,
	}
}

// SourceDomain is the link host without a leading "www.".
func (m Message) SourceDomain() string {
	host := feed.Entry{Link: m.Link}.Host()
	return strings.TrimPrefix(host, "www.")
}

type Payload struct {
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Summary     string     `json:"summary"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Category    string     `json:"category"`
	Severity    string     `json:"severity"`
	Score       int        `json:"score"`
}

// DiscordPayload represents the structure for Discord Webhooks
type DiscordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Author      *DiscordAuthor `json:"author,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
	Thumbnail   *DiscordImage  `json:"thumbnail,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
}

type DiscordAuthor struct {
	Name string `json:"name"`
}

type DiscordFooter struct {
	Text string `json:"text"`
}

type DiscordImage struct {
	URL string `json:"url"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type MisskeyNote struct {
	Token      string `json:"i,omitempty"`
	Text       string `json:"text"`
	Visibility string `json:"visibility"`
}

type Client struct {
	client *http.Client
}

func NewClient() *Client {
	return &Client{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func NewClientWithHTTP(c *http.Client) *Client {
	return &Client{client: c}
}

// Send renders msg for the tenant's provider, posts it and then waits the
// tenant's post interval.
func (c *Client) Send(ctx context.Context, t config.Tenant, msg Message) error {
	if strings.TrimSpace(t.DeliveryTarget) == "" {
		return fmt.Errorf("%w: %s", ErrNoTarget, t.ID)
	}

	provider := t.Provider
	if provider == "" {
		provider = config.ProviderGeneric
	}

	endpoint := t.DeliveryTarget
	var body any
	switch provider {
	case config.ProviderDiscord:
		body = RenderDiscord(msg)
	case config.ProviderMisskey:
		if t.APIToken == "" {
			metricDeliveryCount.WithLabelValues(provider, "error").Inc()
			return fmt.Errorf("misskey tenant %s has no api token", t.ID)
		}
		endpoint = strings.TrimSuffix(endpoint, "/") + "/api/notes/create"
		body = MisskeyNote{Token: t.APIToken, Text: RenderText(msg), Visibility: "public"}
	default:
		body = RenderGeneric(msg)
	}

	data, err := json.Marshal(body)
	if err != nil {
		metricDeliveryCount.WithLabelValues(provider, "error").Inc()
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		metricDeliveryCount.WithLabelValues(provider, "error").Inc()
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if provider == config.ProviderMisskey {
		req.Header.Set("Authorization", "Bearer "+t.APIToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metricDeliveryCount.WithLabelValues(provider, "error").Inc()
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metricDeliveryCount.WithLabelValues(provider, "error").Inc()
		return fmt.Errorf("webhook responded with status: %d", resp.StatusCode)
	}
	metricDeliveryCount.WithLabelValues(provider, "success").Inc()

	// Rate Limit Wait. The post already went out, so cancellation only cuts
	// the wait short.
	if t.PostInterval > 0 {
		timer := time.NewTimer(t.PostInterval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}

	return nil
}

// RenderDiscord builds an embed, or plain content for media links so that
// Discord shows its own player instead of the embed.
func RenderDiscord(m Message) DiscordPayload {
	if feed.IsMediaLink(m.Link) {
		return DiscordPayload{Content: fmt.Sprintf("%s **%s**\n%s", m.Emoji, m.Title, m.Link)}
	}

	embed := DiscordEmbed{
		Title:       feed.Truncate(m.Title, maxTitle),
		Description: feed.Truncate(m.Summary, maxDescription),
		URL:         m.Link,
		Color:       m.Color,
		Author:      &DiscordAuthor{Name: strings.TrimSpace(m.Emoji + " " + m.Label)},
		Footer:      &DiscordFooter{Text: "Source: " + m.SourceDomain()},
		Fields: []DiscordField{
			{Name: "Risk", Value: fmt.Sprintf("%s (%d)", m.Tier, m.Score), Inline: true},
		},
	}
	if m.PublishedAt != nil {
		embed.Timestamp = m.PublishedAt.UTC().Format(time.RFC3339)
	}
	if m.Media != "" {
		embed.Thumbnail = &DiscordImage{URL: m.Media}
	}
	return DiscordPayload{Embeds: []DiscordEmbed{embed}}
}

// RenderText is the plain-text form used for notes.
func RenderText(m Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** [%s]\n", m.Emoji, m.Title, m.Tier)
	if m.Summary != "" && !feed.IsMediaLink(m.Link) {
		b.WriteString(feed.Truncate(m.Summary, maxDescription))
		b.WriteByte('\n')
	}
	b.WriteString(m.Link)
	return b.String()
}

func RenderGeneric(m Message) Payload {
	return Payload{
		Source:      m.SourceName,
		Title:       m.Title,
		URL:         m.Link,
		Summary:     m.Summary,
		PublishedAt: m.PublishedAt,
		Category:    m.Category,
		Severity:    m.Tier.String(),
		Score:       m.Score,
	}
}
