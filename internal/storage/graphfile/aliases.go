package graphfile

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/logger"
)

// AliasStore persists the name index as a JSON object of lowercased name to
// node id.
type AliasStore struct {
	path string
}

func NewAliasStore(path string) *AliasStore {
	return &AliasStore{path: path}
}

// Load registers stored aliases into doc's name index, on top of the names
// derived from the document itself. Aliases pointing at unknown nodes are
// skipped. It returns the number of aliases applied.
func (s *AliasStore) Load(doc *graph.Document) (int, error) {
	aliases := map[string]string{}
	if !readJSON(s.path, &aliases) {
		if err := writeJSON(s.path, map[string]string{}); err != nil {
			return 0, fmt.Errorf("failed to initialize aliases: %w", err)
		}
		return 0, nil
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	applied := 0
	for _, name := range names {
		id := aliases[name]
		if _, exists := doc.Node(id); !exists {
			logger.Warn("Alias points at unknown node, skipping",
				zap.String("alias", name),
				zap.String("node_id", id),
			)
			continue
		}
		doc.Names().Register(name, id)
		applied++
	}

	logger.Info("Loaded entity aliases", zap.String("path", s.path), zap.Int("count", applied))
	return applied, nil
}

func (s *AliasStore) Save(doc *graph.Document) error {
	if err := writeJSON(s.path, doc.Names().Snapshot()); err != nil {
		return fmt.Errorf("failed to save entity aliases: %w", err)
	}
	return nil
}
