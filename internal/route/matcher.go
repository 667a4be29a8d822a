package route

import (
	"regexp"
	"strings"
)

// Matcher finds whole-word keyword occurrences, case-insensitively, allowing a
// trailing plural "s". A keyword directly preceded by ':' does not count, so
// "timestamp:00"-style identifiers stay silent.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher compiles keywords into one alternation. A matcher without
// keywords matches nothing.
func NewMatcher(keywords []string) *Matcher {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) == 0 {
		return &Matcher{}
	}
	// RE2 has no lookbehind; the leading group consumes the preceding rune
	// instead and only admits one that is not a colon.
	pattern := `(?i)(?:^|[^:])\b(?:` + strings.Join(quoted, "|") + `)s?\b`
	return &Matcher{re: regexp.MustCompile(pattern)}
}

func (m *Matcher) Match(text string) bool {
	if m == nil || m.re == nil {
		return false
	}
	return m.re.MatchString(text)
}
