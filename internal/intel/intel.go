// Package intel holds the threat-intelligence APIs that are not plain feeds:
// enrichment providers polled every cycle and decoders for API sources.
package intel

import (
	"context"
	"strings"
	"time"

	"threat-relay/internal/catalog"
	"threat-relay/internal/feed"
)

// Provider produces entries from an API the catalog does not list. Its entries
// go through the same dedup and routing path as catalog sources.
type Provider interface {
	Source() catalog.Source
	FetchRecent(ctx context.Context) ([]feed.Entry, error)
}

// Decoders returns the API decoders keyed by host, for feed.WithDecoder.
func Decoders() map[string]feed.APIDecoder {
	return map[string]feed.APIDecoder{
		RansomwareLiveHost: DecodeRansomwareLive,
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime reads the timestamp formats seen in intel APIs. Values without a
// zone are UTC.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
