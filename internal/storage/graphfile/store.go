package graphfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/logger"
)

// Store persists a graph.Document as a single JSON file. Every Save rewrites
// the whole document.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load reads the document. A missing, empty or corrupt file yields an empty
// document that is written back immediately.
func (s *Store) Load() (*graph.Document, error) {
	var snap graph.Snapshot
	if !readJSON(s.path, &snap) {
		doc := graph.NewDocument()
		if err := s.Save(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}

	doc := graph.FromSnapshot(snap)
	logger.Info("Loaded knowledge graph",
		zap.String("path", s.path),
		zap.Int("nodes", doc.NodeCount()),
		zap.Int("edges", doc.EdgeCount()),
	)
	return doc, nil
}

func (s *Store) Save(doc *graph.Document) error {
	snap := doc.Snapshot()
	if snap.Nodes == nil {
		snap.Nodes = map[string]*graph.Node{}
	}
	if snap.Edges == nil {
		snap.Edges = map[string]*graph.Edge{}
	}
	if err := writeJSON(s.path, snap); err != nil {
		return fmt.Errorf("failed to save knowledge graph: %w", err)
	}
	logger.Debug("Saved knowledge graph", zap.String("path", s.path))
	return nil
}

// readJSON decodes path into v. It returns false when the file is missing,
// unreadable, empty or unparsable.
func readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("No existing file, initializing", zap.String("path", path))
			return false
		}
		logger.Error("Failed to read file, initializing", zap.String("path", path), zap.Error(err))
		return false
	}
	if len(data) == 0 {
		logger.Info("Empty file, initializing", zap.String("path", path))
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Error("Corrupt file, initializing", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// writeJSON writes v to a temp file beside path and renames it into place.
func writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
