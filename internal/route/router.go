// Package route decides which tenants receive an entry and how severe it is.
package route

import (
	"log/slog"
	"slices"
	"strings"

	"threat-relay/internal/catalog"
	"threat-relay/internal/config"
	"threat-relay/internal/feed"
)

// Delivery is one entry bound for one tenant.
type Delivery struct {
	Tenant         config.Tenant
	Entry          feed.Entry
	Metadata       catalog.Metadata
	Classification Classification
}

type Router struct {
	blocklist  *Matcher
	core       *Matcher
	categories map[string]*Matcher
	classifier *Classifier
	logger     *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		blocklist:  NewMatcher(Blocklist),
		core:       NewMatcher(CoreVocabulary),
		categories: make(map[string]*Matcher, len(Categories)),
		classifier: NewClassifier(),
		logger:     logger,
	}
	for tag, kws := range Categories {
		r.categories[tag] = NewMatcher(kws)
	}
	return r
}

// Route returns one delivery per tenant that accepts e, in tenant order. The
// entry is classified once and shared by all deliveries.
func (r *Router) Route(e feed.Entry, meta catalog.Metadata, tenants []config.Tenant) []Delivery {
	text := strings.ToLower(e.Title + " " + e.Summary)

	var out []Delivery
	var class *Classification
	for _, t := range tenants {
		if !r.accepts(t, text) {
			continue
		}
		if class == nil {
			c := r.classifier.Classify(e, meta)
			class = &c
		}
		out = append(out, Delivery{Tenant: t, Entry: e, Metadata: meta, Classification: *class})
	}
	return out
}

// Accepts reports whether tenant t wants an entry with this title and summary.
func (r *Router) Accepts(t config.Tenant, title, summary string) bool {
	return r.accepts(t, strings.ToLower(title+" "+summary))
}

func (r *Router) accepts(t config.Tenant, text string) bool {
	logger := r.logger.With("tenant", t.ID)
	if len(t.Filters) == 0 {
		logger.Debug("Tenant has no filters configured")
		return false
	}
	if r.blocklist.Match(text) {
		logger.Debug("Entry blocked by blocklist", "text", feed.Truncate(text, 50))
		return false
	}
	if !r.core.Match(text) {
		logger.Debug("Entry has no core terms", "text", feed.Truncate(text, 50))
		return false
	}
	for _, w := range wildcards {
		if slices.ContainsFunc(t.Filters, func(f string) bool { return strings.EqualFold(strings.TrimSpace(f), w) }) {
			return true
		}
	}
	for _, f := range t.Filters {
		if m, ok := r.categories[strings.ToLower(f)]; ok && m.Match(text) {
			return true
		}
	}
	logger.Debug("Entry matched none of the tenant categories", "filters", t.Filters, "text", feed.Truncate(text, 50))
	return false
}
