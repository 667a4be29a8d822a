package dedup

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"threat-relay/internal/feed"
)

// MaxLinkLength bounds the stored key of a link.
const MaxLinkLength = 512

var trackingPrefixes = []string{
	"utm_", "ref", "source", "fbclid", "gclid", "timestamp", "mc_cid", "mc_eid",
}

// NormalizeLink strips the fragment and tracking parameters from raw and caps
// the result at MaxLinkLength. NormalizeLink(NormalizeLink(x)) == NormalizeLink(x).
func NormalizeLink(raw string) string {
	link := strings.TrimSpace(raw)
	if link == "" {
		return ""
	}
	if i := strings.IndexByte(link, '#'); i >= 0 {
		link = link[:i]
	}

	base, query, _ := strings.Cut(link, "?")
	base = lowerSchemeAndHost(base)
	if !feed.IsVideoHost(hostOf(base)) {
		query = stripTracking(query)
	}
	link = base
	if query != "" {
		link = base + "?" + query
	}
	return capLength(link)
}

func lowerSchemeAndHost(base string) string {
	i := strings.Index(base, "://")
	if i < 0 {
		return base
	}
	end := len(base)
	if j := strings.IndexByte(base[i+3:], '/'); j >= 0 {
		end = i + 3 + j
	}
	return strings.ToLower(base[:end]) + base[end:]
}

func hostOf(base string) string {
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func stripTracking(query string) string {
	if query == "" {
		return ""
	}
	pairs := strings.Split(query, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		if pair == "" || isTracking(pair) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

func isTracking(pair string) bool {
	key, _, _ := strings.Cut(pair, "=")
	key = strings.ToLower(key)
	for _, p := range trackingPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// capLength drops the query first and hard-cuts the link only when the part
// before it is still too long.
func capLength(link string) string {
	if len(link) <= MaxLinkLength {
		return link
	}
	if base, _, found := strings.Cut(link, "?"); found && len(base) <= MaxLinkLength {
		return base
	}
	n := MaxLinkLength
	for n > 0 && !utf8.RuneStart(link[n]) {
		n--
	}
	return strings.TrimRightFunc(link[:n], unicode.IsSpace)
}
