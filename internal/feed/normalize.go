package feed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"threat-relay/internal/catalog"
)

// Outcome tells apart the ways a payload can yield no entries.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeEmpty: the payload parsed but has no entries.
	OutcomeEmpty
	// OutcomeParseError: the payload could not be parsed.
	OutcomeParseError
	// OutcomeNoContent: a non-200 response without entries.
	OutcomeNoContent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "empty"
	case OutcomeParseError:
		return "parse_error"
	case OutcomeNoContent:
		return "no_content"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// APIDecoder maps a provider's JSON schema to entries.
type APIDecoder func(payload []byte) ([]Entry, error)

type Normalizer struct {
	parser   *gofeed.Parser
	decoders map[string]APIDecoder
	logger   *slog.Logger
}

type NormalizerOption func(*Normalizer)

// WithDecoder registers the decoder used for API sources served from host.
func WithDecoder(host string, d APIDecoder) NormalizerOption {
	return func(n *Normalizer) { n.decoders[strings.ToLower(host)] = d }
}

func WithNormalizerLogger(l *slog.Logger) NormalizerOption {
	return func(n *Normalizer) { n.logger = l }
}

func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		parser:   gofeed.NewParser(),
		decoders: make(map[string]APIDecoder),
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize turns a fetched payload into entries. It never panics; every
// failure is logged and reported through the outcome.
func (n *Normalizer) Normalize(src catalog.Source, status int, payload []byte) (entries []Entry, outcome Outcome) {
	logger := n.logger.With("source", src.URL)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Normalizer panicked", "panic", r)
			entries, outcome = nil, OutcomeParseError
		}
	}()

	if len(bytes.TrimSpace(payload)) == 0 {
		return nil, n.nothing(logger, status)
	}

	var err error
	if decode, ok := n.decoderFor(src); ok {
		entries, err = decode(payload)
	} else {
		entries, err = n.parseFeed(payload)
	}
	if err != nil {
		logger.Error("Failed to parse payload", "kind", src.Kind, "error", err)
		return nil, OutcomeParseError
	}
	if len(entries) == 0 {
		return nil, n.nothing(logger, status)
	}
	return entries, OutcomeOK
}

func (n *Normalizer) nothing(logger *slog.Logger, status int) Outcome {
	if status != http.StatusOK {
		logger.Warn("Source answered without entries", "status", status)
		return OutcomeNoContent
	}
	logger.Warn("Feed returned 200 OK but no entries")
	return OutcomeEmpty
}

func (n *Normalizer) decoderFor(src catalog.Source) (APIDecoder, bool) {
	if src.Kind != catalog.KindAPI {
		return nil, false
	}
	u, err := url.Parse(src.URL)
	if err != nil {
		return nil, false
	}
	d, ok := n.decoders[strings.ToLower(u.Hostname())]
	return d, ok
}

func (n *Normalizer) parseFeed(payload []byte) ([]Entry, error) {
	parsed, err := n.parser.Parse(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := item.Link
		if link == "" && len(item.Links) > 0 {
			link = item.Links[0]
		}
		summary := item.Description
		if summary == "" {
			summary = item.Content
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		entries = append(entries, Entry{
			Link:        strings.TrimSpace(link),
			Title:       CleanText(item.Title),
			Summary:     CleanText(summary),
			PublishedAt: published,
			Media:       thumbnail(item),
		})
	}
	return entries, nil
}

func thumbnail(item *gofeed.Item) string {
	if media, ok := item.Extensions["media"]; ok {
		if u := firstURL(media["thumbnail"]); u != "" {
			return u
		}
		for _, group := range media["group"] {
			if u := firstURL(group.Children["thumbnail"]); u != "" {
				return u
			}
		}
	}
	if item.Image != nil {
		return item.Image.URL
	}
	return ""
}

func firstURL(list []ext.Extension) string {
	for _, e := range list {
		if u := e.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}
