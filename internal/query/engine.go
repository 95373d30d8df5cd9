package query

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/logger"
)

// Viewer grants read access to the live document.
type Viewer interface {
	View(fn func(doc *graph.Document))
}

type Direction string

const (
	Outgoing Direction = "outgoing"
	Incoming Direction = "incoming"
)

// NodeSummary is the short form of a node used next to edges.
type NodeSummary struct {
	ID          string           `json:"id"`
	EntityType  graph.EntityType `json:"entity_type"`
	PrimaryName string           `json:"primary_name"`
}

type EdgeView struct {
	Key       string      `json:"key"`
	Direction Direction   `json:"direction"`
	Neighbor  NodeSummary `json:"neighbor"`
	Edge      graph.Edge  `json:"edge"`
}

type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	Evidence    int            `json:"evidence"`
	Names       int            `json:"names"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

// Engine answers read-only questions about the graph. Results are copies
// and stay valid after the document changes.
type Engine struct {
	viewer Viewer
}

func NewEngine(viewer Viewer) *Engine {
	return &Engine{viewer: viewer}
}

// LookupNode finds a node by any of its names, case-insensitively. A
// non-empty entityType must match the node's type.
func (e *Engine) LookupNode(name string, entityType graph.EntityType) (*graph.Node, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, graph.ErrInvalidEntity
	}

	var out *graph.Node
	e.viewer.View(func(doc *graph.Document) {
		id, ok := doc.Names().Lookup(name)
		if !ok {
			return
		}
		n, ok := doc.Node(id)
		if !ok {
			return
		}
		if entityType != "" && n.EntityType != entityType {
			logger.Debug("Name lookup hit a node of another type",
				zap.String("name", name),
				zap.String("node_id", id),
				zap.String("node_type", string(n.EntityType)),
			)
			return
		}
		out = cloneNode(n)
	})

	if out == nil {
		return nil, graph.ErrNodeNotFound
	}
	return out, nil
}

func (e *Engine) Node(id string) (*graph.Node, error) {
	var out *graph.Node
	e.viewer.View(func(doc *graph.Document) {
		if n, ok := doc.Node(id); ok {
			out = cloneNode(n)
		}
	})
	if out == nil {
		return nil, &graph.NotFoundError{ID: id}
	}
	return out, nil
}

// EdgesFor returns every edge touching id, strongest evidence first.
func (e *Engine) EdgesFor(id string) ([]EdgeView, error) {
	var (
		views []EdgeView
		found bool
	)

	e.viewer.View(func(doc *graph.Document) {
		if _, found = doc.Node(id); !found {
			return
		}
		for _, edge := range doc.Edges() {
			var dir Direction
			var other string
			switch id {
			case edge.SourceNode:
				dir, other = Outgoing, edge.TargetNode
			case edge.TargetNode:
				dir, other = Incoming, edge.SourceNode
			default:
				continue
			}

			v := EdgeView{
				Key:       edge.Key().String(),
				Direction: dir,
				Neighbor:  NodeSummary{ID: other},
				Edge:      cloneEdge(edge),
			}
			if n, ok := doc.Node(other); ok {
				v.Neighbor.EntityType = n.EntityType
				v.Neighbor.PrimaryName = n.PrimaryName
			}
			views = append(views, v)
		}
	})

	if !found {
		return nil, &graph.NotFoundError{ID: id}
	}

	sort.SliceStable(views, func(i, j int) bool {
		si := views[i].Edge.AggregatedMetadata.EvidenceStrength
		sj := views[j].Edge.AggregatedMetadata.EvidenceStrength
		if si != sj {
			return si > sj
		}
		return views[i].Key < views[j].Key
	})
	if views == nil {
		views = []EdgeView{}
	}
	return views, nil
}

func (e *Engine) Stats() Stats {
	s := Stats{
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	e.viewer.View(func(doc *graph.Document) {
		s.Nodes = doc.NodeCount()
		s.Edges = doc.EdgeCount()
		s.Names = doc.Names().Len()
		for _, n := range doc.Nodes() {
			s.NodesByType[string(n.EntityType)]++
		}
		for _, edge := range doc.Edges() {
			s.EdgesByType[string(edge.RelationshipType)]++
			s.Evidence += len(edge.Evidence)
		}
	})
	return s
}

func cloneNode(n *graph.Node) *graph.Node {
	c := *n
	c.AlternativeNames = append([]string{}, n.AlternativeNames...)
	c.ExternalIDs = make(map[string]string, len(n.ExternalIDs))
	for k, v := range n.ExternalIDs {
		c.ExternalIDs[k] = v
	}
	return &c
}

// cloneEdge copies the evidence slice. Context maps inside evidence are
// never mutated after insertion and are shared.
func cloneEdge(e *graph.Edge) graph.Edge {
	c := *e
	c.Evidence = append([]graph.Evidence{}, e.Evidence...)
	return c
}
