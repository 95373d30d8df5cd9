package graph

import (
	"strings"

	"go.uber.org/zap"

	"github.com/biokg/backend/pkg/logger"
)

// NameIndex maps case-folded names to node ids. Register and Lookup are the
// only paths that touch the map; Document calls Register whenever a node is
// created or gains a name.
//
// A name claimed by a second node silently moves to that node (last writer
// wins). The shadowing is logged so it can be audited.
type NameIndex struct {
	ids map[string]string
}

func NewNameIndex() *NameIndex {
	return &NameIndex{ids: make(map[string]string)}
}

func (x *NameIndex) Lookup(name string) (string, bool) {
	id, ok := x.ids[foldName(name)]
	return id, ok
}

func (x *NameIndex) Register(name, id string) {
	key := foldName(name)
	if key == "" {
		return
	}
	if prev, ok := x.ids[key]; ok && prev != id {
		logger.Warn("Name reassigned to a different node",
			zap.String("name", key),
			zap.String("previous_node_id", prev),
			zap.String("node_id", id),
		)
	}
	x.ids[key] = id
}

func (x *NameIndex) Len() int {
	return len(x.ids)
}

// Snapshot returns a copy of the index.
func (x *NameIndex) Snapshot() map[string]string {
	out := make(map[string]string, len(x.ids))
	for k, v := range x.ids {
		out[k] = v
	}
	return out
}

func foldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
