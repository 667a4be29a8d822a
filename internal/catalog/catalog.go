// Package catalog turns the configured sources document into an ordered,
// deduplicated list of pollable sources.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Kind string

const (
	KindFeed       Kind = "feed"
	KindStaticPage Kind = "static-page"
	KindAPI        Kind = "api"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Metadata is used by the classifier to weight and label entries.
type Metadata struct {
	Name     string
	Category string
	Priority Priority
}

type Source struct {
	URL      string
	Kind     Kind
	Metadata Metadata
}

type Catalog struct {
	sources []Source
	index   map[string]int
}

var ErrMalformed = errors.New("malformed sources document")

// Empty returns a catalog without sources. A cycle over it is a no-op.
func Empty() *Catalog {
	return &Catalog{index: make(map[string]int)}
}

// Load reads and parses the sources document at path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}
	return Parse(data)
}

// Parse accepts either a list of sources or a mapping of group keys to lists.
// Items may be bare URL strings or objects carrying url/link, name, category,
// priority and kind.
func Parse(data []byte) (*Catalog, error) {
	c := Empty()

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if root.Kind == 0 {
		// Empty document.
		return c, nil
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, ErrMalformed
	}

	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		c.addGroup("", doc)
	case yaml.MappingNode:
		for i := 0; i+1 < len(doc.Content); i += 2 {
			key, val := doc.Content[i], doc.Content[i+1]
			if val.Kind != yaml.SequenceNode {
				continue
			}
			c.addGroup(key.Value, val)
		}
	default:
		return nil, fmt.Errorf("%w: expected a list or a mapping", ErrMalformed)
	}
	return c, nil
}

type item struct {
	URL      string `yaml:"url"`
	Link     string `yaml:"link"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Priority string `yaml:"priority"`
	Kind     string `yaml:"kind"`
}

func (c *Catalog) addGroup(group string, seq *yaml.Node) {
	kind := kindForGroup(group)
	for _, n := range seq.Content {
		var it item
		switch n.Kind {
		case yaml.ScalarNode:
			it.URL = n.Value
		case yaml.MappingNode:
			if err := n.Decode(&it); err != nil {
				continue
			}
		default:
			continue
		}

		raw := it.URL
		if raw == "" {
			raw = it.Link
		}
		src, ok := newSource(raw, kind, group, it)
		if !ok {
			continue
		}
		c.add(src)
	}
}

func newSource(raw string, kind Kind, group string, it item) (Source, bool) {
	raw = strings.TrimSpace(raw)
	if !validURL(raw) {
		return Source{}, false
	}
	if it.Kind != "" {
		kind = parseKind(it.Kind, kind)
	}
	meta := Metadata{
		Name:     strings.TrimSpace(it.Name),
		Category: strings.TrimSpace(it.Category),
		Priority: parsePriority(it.Priority),
	}
	if meta.Category == "" {
		meta.Category = group
	}
	if meta.Name == "" {
		if u, err := url.Parse(raw); err == nil {
			meta.Name = u.Hostname()
		}
	}
	return Source{URL: raw, Kind: kind, Metadata: meta}, true
}

func (c *Catalog) add(src Source) {
	if _, dup := c.index[src.URL]; dup {
		return
	}
	c.index[src.URL] = len(c.sources)
	c.sources = append(c.sources, src)
}

func validURL(raw string) bool {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host != ""
}

func kindForGroup(group string) Kind {
	g := strings.ToLower(group)
	if strings.HasPrefix(g, "official_sites_reference") {
		return KindStaticPage
	}
	words := strings.FieldsFunc(g, func(r rune) bool {
		return r < 'a' || r > 'z'
	})
	for _, w := range words {
		switch w {
		case "api", "apis":
			return KindAPI
		case "static", "page", "pages":
			return KindStaticPage
		}
	}
	return KindFeed
}

func parseKind(s string, fallback Kind) Kind {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFeed:
		return KindFeed
	case KindStaticPage, "static", "page":
		return KindStaticPage
	case KindAPI:
		return KindAPI
	}
	return fallback
}

func parsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	}
	return PriorityNormal
}

// Sources returns every source in first-seen order.
func (c *Catalog) Sources() []Source {
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// Pollable returns feed and API sources, the ones fetched conditionally.
func (c *Catalog) Pollable() []Source {
	var out []Source
	for _, s := range c.sources {
		if s.Kind != KindStaticPage {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) StaticPages() []Source {
	var out []Source
	for _, s := range c.sources {
		if s.Kind == KindStaticPage {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) Lookup(rawURL string) (Source, bool) {
	i, ok := c.index[rawURL]
	if !ok {
		return Source{}, false
	}
	return c.sources[i], true
}

func (c *Catalog) Len() int {
	return len(c.sources)
}

// File loads the catalog from a path on every call so edits apply on the next
// cycle.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) Load() (*Catalog, error) {
	return Load(f.path)
}
