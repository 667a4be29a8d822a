package feed

import (
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Entry is one item of a source, whatever the source kind.
type Entry struct {
	Link        string
	Title       string
	Summary     string
	PublishedAt *time.Time
	// Media is an optional thumbnail URL.
	Media string
}

// Host returns the lowercase host of the entry link.
func (e Entry) Host() string {
	u, err := url.Parse(e.Link)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

var videoHosts = []string{"youtube.com", "youtu.be"}

var mediaHosts = []string{"youtube.com", "youtu.be", "twitch.tv", "soundcloud.com", "spotify.com"}

// IsVideoHost reports whether host is a video platform, where query strings
// identify the content.
func IsVideoHost(host string) bool {
	return hostIn(host, videoHosts)
}

// IsMediaLink reports whether link points at a platform that renders its own
// player.
func IsMediaLink(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return hostIn(u.Hostname(), mediaHosts)
}

func hostIn(host string, list []string) bool {
	host = strings.ToLower(host)
	for _, h := range list {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

var strict = bluemonday.StrictPolicy()

// CleanText strips markup and entities and collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes, ending with "..." when it had to cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
