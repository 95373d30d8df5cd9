package graph

import (
	"fmt"
)

// UpsertResult reports what UpsertEdge did to the edge record.
type UpsertResult struct {
	Key       string
	Created   bool
	Duplicate bool
}

// EdgeAggregator upserts edges on a Document and keeps their aggregated
// metadata in line with the evidence list.
type EdgeAggregator struct {
	doc *Document
}

func NewEdgeAggregator(doc *Document) *EdgeAggregator {
	return &EdgeAggregator{doc: doc}
}

// UpsertEdge appends ev to the edge (source, target, relType), creating the
// edge when absent. Evidence from a paper already on the edge is dropped.
func (a *EdgeAggregator) UpsertEdge(source, target string, relType RelationshipType, ev Evidence) (UpsertResult, error) {
	if _, ok := a.doc.Node(source); !ok {
		return UpsertResult{}, &NotFoundError{ID: source}
	}
	if _, ok := a.doc.Node(target); !ok {
		return UpsertResult{}, &NotFoundError{ID: target}
	}
	if !relType.Valid() {
		return UpsertResult{}, fmt.Errorf("unknown relationship type %q", relType)
	}

	key := EdgeKey{Source: source, Target: target, Type: relType}.String()
	res := UpsertResult{Key: key}
	now := a.doc.now()

	edge, ok := a.doc.edges[key]
	if !ok {
		edge = &Edge{
			SourceNode:       source,
			TargetNode:       target,
			RelationshipType: relType,
			Evidence:         []Evidence{},
			LastUpdated:      now,
		}
		a.doc.edges[key] = edge
		res.Created = true
	}

	for _, existing := range edge.Evidence {
		if existing.PaperID == ev.PaperID {
			res.Duplicate = true
			return res, nil
		}
	}

	if ev.LastVerified.IsZero() {
		ev.LastVerified = now
	}
	if ev.StatisticalEvidence == nil {
		ev.StatisticalEvidence = map[string]any{}
	}
	edge.Evidence = append(edge.Evidence, ev)
	edge.AggregatedMetadata = Aggregate(edge.Evidence)
	edge.LastUpdated = now

	return res, nil
}

// Aggregate computes edge metadata from scratch. Evidence without a year is
// left out of the year range.
func Aggregate(evidence []Evidence) AggregatedMetadata {
	meta := AggregatedMetadata{TotalPapers: len(evidence)}
	if len(evidence) == 0 {
		return meta
	}

	var sum float64
	for _, ev := range evidence {
		sum += ev.ExtractionConfidence
		y := ev.CitationMetadata.Year
		if y == nil {
			continue
		}
		if meta.EarliestEvidence == nil || *y < *meta.EarliestEvidence {
			meta.EarliestEvidence = IntPtr(*y)
		}
		if meta.LatestEvidence == nil || *y > *meta.LatestEvidence {
			meta.LatestEvidence = IntPtr(*y)
		}
	}
	meta.EvidenceStrength = sum / float64(len(evidence))
	return meta
}
