package state

import "encoding/json"

// LinkSet is an insertion-ordered set of links. It encodes as a JSON array.
type LinkSet struct {
	order []string
	index map[string]struct{}
}

func NewLinkSet(links ...string) *LinkSet {
	s := &LinkSet{index: make(map[string]struct{}, len(links))}
	for _, l := range links {
		s.Add(l)
	}
	return s
}

func (s *LinkSet) Has(link string) bool {
	if s == nil {
		return false
	}
	_, ok := s.index[link]
	return ok
}

// Add appends link and reports whether it was not already present.
func (s *LinkSet) Add(link string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[link]; ok {
		return false
	}
	s.index[link] = struct{}{}
	s.order = append(s.order, link)
	return true
}

func (s *LinkSet) Len() int {
	return len(s.order)
}

// Links returns the links in insertion order.
func (s *LinkSet) Links() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Last returns at most n of the most recently added links.
func (s *LinkSet) Last(n int) []string {
	if n <= 0 || n >= len(s.order) {
		return s.Links()
	}
	out := make([]string, n)
	copy(out, s.order[len(s.order)-n:])
	return out
}

func (s *LinkSet) MarshalJSON() ([]byte, error) {
	if s == nil || s.order == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.order)
}

func (s *LinkSet) UnmarshalJSON(data []byte) error {
	var links []string
	if err := json.Unmarshal(data, &links); err != nil {
		return err
	}
	*s = *NewLinkSet(links...)
	return nil
}

// History is the cross-source record of delivered links, bounded on save.
type History struct {
	set   *LinkSet
	limit int
}

func NewHistory(limit int, links ...string) *History {
	h := &History{set: NewLinkSet(), limit: limit}
	if limit > 0 && len(links) > limit {
		links = links[len(links)-limit:]
	}
	for _, l := range links {
		h.set.Add(l)
	}
	return h
}

func (h *History) Has(link string) bool {
	return h.set.Has(link)
}

func (h *History) Append(link string) {
	h.set.Add(link)
}

func (h *History) Len() int {
	return h.set.Len()
}

func (h *History) Limit() int {
	return h.limit
}

// Links returns the retained tail of the history.
func (h *History) Links() []string {
	return h.set.Last(h.limit)
}
