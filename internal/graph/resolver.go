package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/biokg/backend/pkg/logger"
)

type MatchKind string

const (
	MatchNone          MatchKind = "no_match"
	MatchExact         MatchKind = "exact"
	MatchDisambiguated MatchKind = "disambiguated"
)

// Resolution is the outcome of resolving one entity mention.
type Resolution struct {
	NodeID string
	Kind   MatchKind
	// TypeMismatch is set when an exact name hit was refused because the
	// node has a different entity type.
	TypeMismatch bool
	Candidates   int
}

func (r Resolution) Matched() bool {
	return r.NodeID != ""
}

// Candidate is an existing node offered to the disambiguator.
type Candidate struct {
	ID          string            `json:"entity_id"`
	Name        string            `json:"name"`
	Type        EntityType        `json:"type"`
	Description string            `json:"description"`
	ExternalIDs map[string]string `json:"external_ids"`
}

// Disambiguator picks which candidate, if any, an entity refers to. An empty
// id means no match.
type Disambiguator interface {
	Disambiguate(ctx context.Context, entity EntityInfo, candidates []Candidate) (string, error)
}

type Resolver struct {
	doc           *Document
	disambiguator Disambiguator
	threshold     float64
}

type ResolverOption func(*Resolver)

func WithThreshold(t float64) ResolverOption {
	return func(r *Resolver) {
		if t > 0 && t <= 1 {
			r.threshold = t
		}
	}
}

func NewResolver(doc *Document, disambiguator Disambiguator, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		doc:           doc,
		disambiguator: disambiguator,
		threshold:     DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries an exact name match, then fuzzy candidates of the same type
// handed to the disambiguator. It never returns a node of another type.
func (r *Resolver) Resolve(ctx context.Context, entity EntityInfo) (Resolution, error) {
	res := Resolution{Kind: MatchNone}

	if id, ok := r.doc.Names().Lookup(entity.Name); ok {
		if n, exists := r.doc.Node(id); exists {
			if n.EntityType == entity.Type {
				logger.Debug("Exact match",
					zap.String("name", entity.Name),
					zap.String("node_id", id),
				)
				return Resolution{NodeID: id, Kind: MatchExact}, nil
			}
			logger.Warn("Exact name match has a different entity type",
				zap.String("name", entity.Name),
				zap.String("node_id", id),
				zap.String("found_type", string(n.EntityType)),
				zap.String("entity_type", string(entity.Type)),
			)
			res.TypeMismatch = true
		}
	}

	candidates := r.fuzzyCandidates(entity)
	res.Candidates = len(candidates)
	if len(candidates) == 0 || r.disambiguator == nil {
		return res, nil
	}

	match, err := r.disambiguator.Disambiguate(ctx, entity, candidates)
	if err != nil {
		return res, fmt.Errorf("disambiguate %q: %w", entity.Name, err)
	}
	if match == "" {
		return res, nil
	}
	for _, c := range candidates {
		if c.ID == match {
			logger.Info("Disambiguation matched entity",
				zap.String("name", entity.Name),
				zap.String("node_id", match),
				zap.Int("candidates", len(candidates)),
			)
			res.NodeID = match
			res.Kind = MatchDisambiguated
			return res, nil
		}
	}

	logger.Warn("Disambiguator returned an id outside the candidate set",
		zap.String("name", entity.Name),
		zap.String("returned_id", match),
	)
	return res, nil
}

func (r *Resolver) fuzzyCandidates(entity EntityInfo) []Candidate {
	query := foldName(entity.Name)
	var out []Candidate
	for _, n := range r.doc.Nodes() {
		if n.EntityType != entity.Type {
			continue
		}
		for _, name := range n.Names() {
			if Similarity(query, foldName(name)) >= r.threshold {
				out = append(out, Candidate{
					ID:          n.ID,
					Name:        n.PrimaryName,
					Type:        n.EntityType,
					Description: n.Description,
					ExternalIDs: copyIDs(n.ExternalIDs),
				})
				break
			}
		}
	}
	return out
}
