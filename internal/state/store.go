package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Snapshot is what a cycle loads at its start and writes back at its end.
type Snapshot struct {
	Doc     *Document
	History *History
}

// Store persists the state document and the delivered-link history.
type Store interface {
	// Load never fails: missing or corrupt data yields fresh defaults.
	Load(ctx context.Context) Snapshot
	// Save replaces the persisted state with snap in one step.
	Save(ctx context.Context, snap Snapshot) error
}

// MemoryStore keeps the encoded state in memory. It goes through the same
// codec as the persistent stores.
type MemoryStore struct {
	mu           sync.RWMutex
	state        []byte
	history      []byte
	historyLimit int
	logger       *slog.Logger
}

func NewMemoryStore(historyLimit int) *MemoryStore {
	return &MemoryStore{
		historyLimit: historyLimit,
		logger:       slog.Default(),
	}
}

func (s *MemoryStore) Load(_ context.Context) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc *Document
	if s.state == nil {
		doc = NewDocument()
	} else {
		var problems []error
		doc, problems = DecodeDocument(s.state)
		logProblems(s.logger, "memory", problems)
	}
	return Snapshot{Doc: doc, History: decodeHistory(s.logger, s.history, s.historyLimit)}
}

func (s *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	state, err := EncodeDocument(snap.Doc)
	if err != nil {
		return err
	}
	history, err := encodeHistory(snap.History)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.history = history
	return nil
}

// SetRaw replaces the stored bytes, bypassing the codec.
func (s *MemoryStore) SetRaw(state, history []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.history = history
}

// Raw returns the stored state bytes.
func (s *MemoryStore) Raw() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.state...)
}

func logProblems(logger *slog.Logger, where string, problems []error) {
	for _, p := range problems {
		logger.Warn("State document repaired with defaults", "store", where, "error", p)
	}
}

func decodeHistory(logger *slog.Logger, data []byte, limit int) *History {
	if len(data) == 0 {
		return NewHistory(limit)
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("History is invalid, starting fresh", "error", err)
		return NewHistory(limit)
	}
	links := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			links = append(links, s)
		}
	}
	return NewHistory(limit, links...)
}

func encodeHistory(h *History) ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.MarshalIndent(h.Links(), "", "  ")
}
