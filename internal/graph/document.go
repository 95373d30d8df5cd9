package graph

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/biokg/backend/pkg/logger"
)

const nodeIDPrefix = "node_"

// Snapshot is the persisted shape of a Document.
type Snapshot struct {
	Nodes map[string]*Node `json:"nodes"`
	Edges map[string]*Edge `json:"edges"`
}

// Matcher resolves an entity against existing nodes. CreateNode uses it for
// the last check before allocating an id.
type Matcher interface {
	Resolve(ctx context.Context, entity EntityInfo) (Resolution, error)
}

// Document owns the canonical node and edge storage. It is not safe for
// concurrent use.
type Document struct {
	nodes  map[string]*Node
	edges  map[string]*Edge
	names  *NameIndex
	nextID int
	now    func() time.Time
}

func NewDocument() *Document {
	return &Document{
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
		names: NewNameIndex(),
		now:   time.Now,
	}
}

// FromSnapshot rebuilds a Document and its NameIndex from persisted state.
// The id counter resumes after the highest existing node number.
func FromSnapshot(s Snapshot) *Document {
	d := NewDocument()
	for id, n := range s.Nodes {
		if n == nil {
			continue
		}
		n.ID = id
		if n.ExternalIDs == nil {
			n.ExternalIDs = make(map[string]string)
		}
		if n.AlternativeNames == nil {
			n.AlternativeNames = []string{}
		}
		d.nodes[id] = n
		if seq, ok := nodeSeq(id); ok && seq >= d.nextID {
			d.nextID = seq + 1
		}
	}
	for key, e := range s.Edges {
		if e == nil {
			continue
		}
		if e.Evidence == nil {
			e.Evidence = []Evidence{}
		}
		d.edges[key] = e
	}
	for _, n := range d.Nodes() {
		for _, name := range n.Names() {
			d.names.Register(name, n.ID)
		}
	}
	return d
}

// Snapshot exposes the document for serialisation. The maps are shared, so
// the caller must not hold it across mutations.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{Nodes: d.nodes, Edges: d.edges}
}

func (d *Document) SetClock(now func() time.Time) {
	d.now = now
}

func (d *Document) Names() *NameIndex {
	return d.names
}

func (d *Document) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

func (d *Document) Edge(key string) (*Edge, bool) {
	e, ok := d.edges[key]
	return e, ok
}

func (d *Document) NodeCount() int { return len(d.nodes) }
func (d *Document) EdgeCount() int { return len(d.edges) }

// Nodes returns all nodes ordered by id sequence.
func (d *Document) Nodes() []*Node {
	out := make([]*Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return lessNodeID(out[i].ID, out[j].ID) })
	return out
}

// Edges returns all edges ordered by key.
func (d *Document) Edges() []*Edge {
	keys := make([]string, 0, len(d.edges))
	for k := range d.edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Edge, len(keys))
	for i, k := range keys {
		out[i] = d.edges[k]
	}
	return out
}

// CreateNode allocates a node for entity. When check is non-nil the entity is
// resolved once more first and an existing match is returned instead, with
// created set to false.
func (d *Document) CreateNode(ctx context.Context, entity EntityInfo, check Matcher) (id string, created bool, err error) {
	if err := validateEntity(entity); err != nil {
		return "", false, err
	}
	entity.Name = strings.TrimSpace(entity.Name)

	if check != nil {
		res, err := check.Resolve(ctx, entity)
		if err != nil {
			return "", false, fmt.Errorf("final resolution check: %w", err)
		}
		if res.Matched() {
			logger.Info("Match found during final check, skipping node creation",
				zap.String("name", entity.Name),
				zap.String("node_id", res.NodeID),
			)
			return res.NodeID, false, nil
		}
	}

	id = nodeIDPrefix + strconv.Itoa(d.nextID)
	for d.nodes[id] != nil {
		d.nextID++
		id = nodeIDPrefix + strconv.Itoa(d.nextID)
	}
	d.nextID++

	now := d.now()
	d.nodes[id] = &Node{
		ID:               id,
		EntityType:       entity.Type,
		PrimaryName:      entity.Name,
		AlternativeNames: []string{},
		ExternalIDs:      copyIDs(entity.ExternalIDs),
		Description:      entity.Description,
		CreationDate:     now,
		LastUpdated:      now,
	}
	d.names.Register(entity.Name, id)

	logger.Info("Created node",
		zap.String("node_id", id),
		zap.String("name", entity.Name),
		zap.String("entity_type", string(entity.Type)),
	)
	return id, true, nil
}

// MergeIntoNode folds incoming into node id. The description only grows
// (measured in characters),
// external ids are overwritten per key and a new spelling becomes an
// alternative name.
func (d *Document) MergeIntoNode(id string, incoming EntityInfo) error {
	n, ok := d.nodes[id]
	if !ok {
		return &NotFoundError{ID: id}
	}

	if utf8.RuneCountInString(incoming.Description) > utf8.RuneCountInString(n.Description) {
		n.Description = incoming.Description
	}

	if n.ExternalIDs == nil {
		n.ExternalIDs = make(map[string]string, len(incoming.ExternalIDs))
	}
	for k, v := range incoming.ExternalIDs {
		n.ExternalIDs[k] = v
	}

	name := strings.TrimSpace(incoming.Name)
	if name != "" {
		if !n.hasName(name) {
			n.AlternativeNames = append(n.AlternativeNames, name)
		}
		d.names.Register(name, id)
	}

	n.LastUpdated = d.now()
	return nil
}

func validateEntity(e EntityInfo) error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEntity)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidEntity, e.Type)
	}
	return nil
}

func copyIDs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func nodeSeq(id string) (int, bool) {
	if !strings.HasPrefix(id, nodeIDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, nodeIDPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func lessNodeID(a, b string) bool {
	sa, okA := nodeSeq(a)
	sb, okB := nodeSeq(b)
	switch {
	case okA && okB:
		return sa < sb
	case okA != okB:
		return okA
	default:
		return a < b
	}
}
