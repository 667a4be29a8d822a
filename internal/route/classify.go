package route

import (
	"net/url"
	"strings"

	"threat-relay/internal/catalog"
	"threat-relay/internal/feed"
)

// Tier is the risk band of an entry.
type Tier int

const (
	TierStable Tier = iota
	TierCaution
	TierCritical
)

// Band edges of the score.
const (
	CautionScore  = 10
	CriticalScore = 30
)

type tierInfo struct {
	label   string
	color   int
	message string
}

var tiers = map[Tier]tierInfo{
	TierStable:   {"STABLE", 0x00FF00, "Nominal activity."},
	TierCaution:  {"CAUTION", 0xE6E600, "Elevated traffic detected."},
	TierCritical: {"CRITICAL", 0xFF00FF, "Interception authorized."},
}

func (t Tier) String() string { return tiers[t].label }

// Color is the RGB colour of the tier.
func (t Tier) Color() int { return tiers[t].color }

func (t Tier) Message() string { return tiers[t].message }

// TierFor maps a score onto its band: [0,10) stable, [10,30) caution and
// critical from 30 up.
func TierFor(score int) Tier {
	switch {
	case score < CautionScore:
		return TierStable
	case score < CriticalScore:
		return TierCaution
	default:
		return TierCritical
	}
}

type Classification struct {
	Score    int
	Tier     Tier
	Category string
	Label    string
	Emoji    string
	Color    int
}

var criticalTerms = []string{
	"ransomware", "zero-day", "0-day", "rce", "remote code execution",
	"actively exploited", "in the wild",
}

// Link hosts of vulnerability databases, and the source names whose entries
// there are always severe.
var (
	vulnDatabases     = []string{"nvd.nist.gov", "cve.org", "cve.mitre.org", "cisa.gov"}
	severeAuthorities = []string{"nist nvd", "cisa", "kev"}
)

var priorityScore = map[catalog.Priority]int{
	catalog.PriorityNormal:   0,
	catalog.PriorityHigh:     10,
	catalog.PriorityCritical: CriticalScore,
}

// Category groups in the order they claim the label of an entry.
var categoryOrder = []string{
	"ransomware", "zero-day", "exploit", "malware", "data breach", "cve", "vulnerability",
}

var categoryWeight = map[string]int{
	"ransomware":    12,
	"zero-day":      12,
	"first-day":     10,
	"exploit":       10,
	"malware":       8,
	"data breach":   8,
	"cve":           6,
	"vulnerability": 5,
	"cvss":          5,
	"hacker":        4,
	"security":      1,
}

type Classifier struct {
	critical   *Matcher
	categories map[string]*Matcher
}

func NewClassifier() *Classifier {
	c := &Classifier{
		critical:   NewMatcher(criticalTerms),
		categories: make(map[string]*Matcher, len(Categories)),
	}
	for tag, kws := range Categories {
		c.categories[tag] = NewMatcher(kws)
	}
	return c
}

// Classify scores an entry from its source priority and content, and labels
// it with the first matching category.
func (c *Classifier) Classify(e feed.Entry, meta catalog.Metadata) Classification {
	text := e.Title + " " + e.Summary

	score := priorityScore[meta.Priority]
	for tag, m := range c.categories {
		if m.Match(text) {
			score += categoryWeight[tag]
		}
	}
	if c.critical.Match(text) || severeDatabaseEntry(e.Link, meta.Name) {
		score = max(score, CriticalScore)
	}

	category := "todos"
	for _, tag := range categoryOrder {
		if c.categories[tag].Match(text) {
			category = tag
			break
		}
	}
	if category == "todos" {
		if _, ok := labels[meta.Category]; ok {
			category = meta.Category
		}
	}

	tier := TierFor(score)
	label := LabelFor(category)
	return Classification{
		Score:    score,
		Tier:     tier,
		Category: category,
		Label:    label.Name,
		Emoji:    label.Emoji,
		Color:    tier.Color(),
	}
}

func severeDatabaseEntry(link, sourceName string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	onDatabase := false
	for _, d := range vulnDatabases {
		if host == d || strings.HasSuffix(host, "."+d) {
			onDatabase = true
			break
		}
	}
	if !onDatabase {
		return false
	}
	name := strings.ToLower(sourceName)
	for _, a := range severeAuthorities {
		if strings.Contains(name, a) {
			return true
		}
	}
	return false
}
