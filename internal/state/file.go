package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"threat-relay/internal/atomicfile"
)

const (
	stateFileName   = "state.json"
	historyFileName = "history.json"
)

// FileStore keeps state.json and history.json in a directory. Both files are
// replaced atomically so a crash mid-write leaves the previous version intact.
type FileStore struct {
	statePath    string
	historyPath  string
	historyLimit int
	logger       *slog.Logger
}

func NewFileStore(dir string, historyLimit int, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		statePath:    filepath.Join(dir, stateFileName),
		historyPath:  filepath.Join(dir, historyFileName),
		historyLimit: historyLimit,
		logger:       logger.With("store", "file"),
	}
}

func (s *FileStore) Load(_ context.Context) Snapshot {
	doc := NewDocument()
	if data, ok := s.read(s.statePath); ok {
		var problems []error
		doc, problems = DecodeDocument(data)
		logProblems(s.logger, s.statePath, problems)
	}

	var history *History
	if data, ok := s.read(s.historyPath); ok {
		history = decodeHistory(s.logger, data, s.historyLimit)
	} else {
		history = NewHistory(s.historyLimit)
	}
	return Snapshot{Doc: doc, History: history}
}

func (s *FileStore) read(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("State file missing, using defaults", "path", path)
		return nil, false
	}
	if err != nil {
		s.logger.Error("Failed to read state file, using defaults", "path", path, "error", err)
		return nil, false
	}
	return data, true
}

func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	state, err := EncodeDocument(snap.Doc)
	if err != nil {
		return err
	}
	history, err := encodeHistory(snap.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}

	if err := atomicfile.WriteFile(s.statePath, state, 0o644); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	if err := atomicfile.WriteFile(s.historyPath, history, 0o644); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}
