package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// CacheValidator holds the HTTP validators returned by a source.
type CacheValidator struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

func (v CacheValidator) IsZero() bool {
	return v.ETag == "" && v.LastModified == ""
}

// HTTPCache maps source URLs to their validators.
type HTTPCache map[string]CacheValidator

// Document is the whole persisted state. It is owned by exactly one cycle at a
// time and written back only once that cycle is done with it.
type Document struct {
	// Dedup holds the delivered links per source. A missing key means the
	// source has never been processed (cold start).
	Dedup map[string]*LinkSet `json:"dedup"`
	// Suppressed holds links refused by the cold-start cap. They were never
	// delivered and are forgotten on compaction.
	Suppressed  map[string]*LinkSet `json:"suppressed"`
	HTTPCache   HTTPCache           `json:"http_cache"`
	PageHashes  map[string]string   `json:"html_hashes"`
	LastCleanup time.Time           `json:"last_cleanup"`
}

func NewDocument() *Document {
	return &Document{
		Dedup:      make(map[string]*LinkSet),
		Suppressed: make(map[string]*LinkSet),
		HTTPCache:  make(HTTPCache),
		PageHashes: make(map[string]string),
	}
}

// EnsureSource returns the delivered set for sourceURL, creating it when the
// source is seen for the first time. cold reports whether it had to be created.
func (d *Document) EnsureSource(sourceURL string) (set *LinkSet, cold bool) {
	if set, ok := d.Dedup[sourceURL]; ok && set != nil {
		return set, false
	}
	_, existed := d.Dedup[sourceURL]
	set = NewLinkSet()
	d.Dedup[sourceURL] = set
	return set, !existed
}

// SuppressedFor returns the cold-start overflow set for sourceURL.
func (d *Document) SuppressedFor(sourceURL string) *LinkSet {
	set, ok := d.Suppressed[sourceURL]
	if !ok || set == nil {
		set = NewLinkSet()
		d.Suppressed[sourceURL] = set
	}
	return set
}

// CompactIfDue clears the per-source dedup data when more than interval has
// passed since the last cleanup. HTTP validators and page hashes are kept.
func (d *Document) CompactIfDue(now time.Time, interval time.Duration) bool {
	if now.Sub(d.LastCleanup) <= interval {
		return false
	}
	d.Dedup = make(map[string]*LinkSet)
	d.Suppressed = make(map[string]*LinkSet)
	d.LastCleanup = now
	return true
}

var ErrEmptyDocument = errors.New("empty state document")

// DecodeDocument parses data field by field. A field that cannot be decoded is
// replaced by its default and reported in problems; a document that is not a
// JSON object at all yields a fresh document.
func DecodeDocument(data []byte) (doc *Document, problems []error) {
	doc = NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, []error{ErrEmptyDocument}
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return doc, []error{fmt.Errorf("invalid state document: %w", err)}
	}

	if raw, ok := fields["dedup"]; ok {
		if err := decodeSets(raw, doc.Dedup); err != nil {
			problems = append(problems, fmt.Errorf("field dedup: %w", err))
		}
	}
	if raw, ok := fields["suppressed"]; ok {
		if err := decodeSets(raw, doc.Suppressed); err != nil {
			problems = append(problems, fmt.Errorf("field suppressed: %w", err))
		}
	}
	if raw, ok := fields["http_cache"]; ok {
		var cache HTTPCache
		if err := json.Unmarshal(raw, &cache); err != nil {
			problems = append(problems, fmt.Errorf("field http_cache: %w", err))
		} else {
			for k, v := range cache {
				doc.HTTPCache[k] = v
			}
		}
	}
	if raw, ok := fields["html_hashes"]; ok {
		var hashes map[string]string
		if err := json.Unmarshal(raw, &hashes); err != nil {
			problems = append(problems, fmt.Errorf("field html_hashes: %w", err))
		} else {
			for k, v := range hashes {
				doc.PageHashes[k] = v
			}
		}
	}
	if raw, ok := fields["last_cleanup"]; ok {
		t, err := decodeTimestamp(raw)
		if err != nil {
			problems = append(problems, fmt.Errorf("field last_cleanup: %w", err))
		} else {
			doc.LastCleanup = t
		}
	}
	return doc, problems
}

func decodeSets(raw json.RawMessage, into map[string]*LinkSet) error {
	var sets map[string]*LinkSet
	if err := json.Unmarshal(raw, &sets); err != nil {
		return err
	}
	for k, v := range sets {
		if v == nil {
			v = NewLinkSet()
		}
		into[k] = v
	}
	return nil
}

// decodeTimestamp accepts RFC 3339 strings and unix seconds.
func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	var t time.Time
	if err := json.Unmarshal(raw, &t); err == nil {
		return t, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %s", raw)
	}
	whole := int64(secs)
	return time.Unix(whole, int64((secs-float64(whole))*1e9)).UTC(), nil
}

// EncodeDocument renders doc as indented JSON.
func EncodeDocument(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return data, nil
}
