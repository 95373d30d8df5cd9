package builder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/pkg/logger"
)

const pubTatorKey = "PubTatorID"

// Extractor turns an abstract into candidate entities and relations.
type Extractor interface {
	ExtractAbstract(ctx context.Context, abstract graph.Abstract) (graph.Extraction, error)
}

// Normalizer looks up canonical identifiers for an entity name.
type Normalizer interface {
	FindExternalIDs(ctx context.Context, name string) ([]string, error)
}

// Result describes what one abstract did to the graph. On error it holds
// whatever was applied before the failure.
type Result struct {
	Changes   []graph.ChangeRecord
	NodeIDs   []string
	Entities  int
	Relations int
}

type Builder struct {
	extractor     Extractor
	normalizer    Normalizer
	disambiguator graph.Disambiguator
	threshold     float64
	now           func() time.Time
}

type Option func(*Builder)

func WithThreshold(t float64) Option {
	return func(b *Builder) { b.threshold = t }
}

func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// NewBuilder wires the collaborators. normalizer and disambiguator may be
// nil; without a disambiguator fuzzy candidates never match.
func NewBuilder(extractor Extractor, normalizer Normalizer, disambiguator graph.Disambiguator, opts ...Option) *Builder {
	b := &Builder{
		extractor:     extractor,
		normalizer:    normalizer,
		disambiguator: disambiguator,
		threshold:     graph.DefaultFuzzyThreshold,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildFromAbstract extracts, normalizes and merges one abstract into doc.
func (b *Builder) BuildFromAbstract(ctx context.Context, doc *graph.Document, abstract graph.Abstract) (Result, error) {
	logger.Info("Building graph from abstract", zap.String("pmid", abstract.PMID))

	if b.extractor == nil {
		return Result{}, fmt.Errorf("no extractor configured")
	}
	extraction, err := b.extractor.ExtractAbstract(ctx, abstract)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", abstract.PMID, err)
	}

	logger.Info("Extraction complete",
		zap.String("pmid", abstract.PMID),
		zap.Int("entities", len(extraction.Entities)),
		zap.Int("relations", len(extraction.Relations)),
	)

	b.Normalize(ctx, &extraction)

	res, err := b.MergeExtraction(ctx, doc, abstract, extraction)
	res.Entities = len(extraction.Entities)
	return res, err
}

// Normalize attaches the first identifier found for each distinct entity
// name, on both the entity list and the relation endpoints. Lookup failures
// leave the entity as it was.
func (b *Builder) Normalize(ctx context.Context, extraction *graph.Extraction) {
	if b.normalizer == nil {
		return
	}

	found := make(map[string]string)
	tried := make(map[string]bool)

	lookup := func(e *graph.EntityInfo) {
		key := strings.ToLower(strings.TrimSpace(e.Name))
		if key == "" {
			return
		}
		if !tried[key] {
			tried[key] = true
			ids, err := b.normalizer.FindExternalIDs(ctx, e.Name)
			switch {
			case err != nil:
				metrics.NormalizationLookups.WithLabelValues("error").Inc()
				logger.Warn("Failed to fetch external id", zap.String("name", e.Name), zap.Error(err))
			case len(ids) == 0:
				metrics.NormalizationLookups.WithLabelValues("not_found").Inc()
			default:
				metrics.NormalizationLookups.WithLabelValues("found").Inc()
				found[key] = ids[0]
				logger.Debug("Found external id", zap.String("name", e.Name), zap.String("id", ids[0]))
			}
		}
		if id, ok := found[key]; ok {
			ext := make(map[string]string, len(e.ExternalIDs)+1)
			for k, v := range e.ExternalIDs {
				ext[k] = v
			}
			ext[pubTatorKey] = id
			e.ExternalIDs = ext
		}
	}

	for i := range extraction.Entities {
		lookup(&extraction.Entities[i])
	}
	for i := range extraction.Relations {
		lookup(&extraction.Relations[i].Source)
		lookup(&extraction.Relations[i].Target)
	}
}

// MergeExtraction resolves both endpoints of every relation, merging into
// or creating nodes, and upserts one evidence item per relation. The first
// failure aborts the abstract; earlier mutations stay in doc.
func (b *Builder) MergeExtraction(ctx context.Context, doc *graph.Document, abstract graph.Abstract, extraction graph.Extraction) (Result, error) {
	resolver := graph.NewResolver(doc, b.disambiguator, graph.WithThreshold(b.threshold))
	edges := graph.NewEdgeAggregator(doc)

	res := Result{Changes: []graph.ChangeRecord{}, Relations: len(extraction.Relations)}
	touched := make(map[string]struct{})
	citation := abstract.Citation()

	for i, rel := range extraction.Relations {
		sourceID, err := b.resolveEntity(ctx, doc, resolver, rel.Source)
		if err != nil {
			return res.finish(touched), fmt.Errorf("relation %d source %q: %w", i, rel.Source.Name, err)
		}
		touched[sourceID] = struct{}{}

		targetID, err := b.resolveEntity(ctx, doc, resolver, rel.Target)
		if err != nil {
			return res.finish(touched), fmt.Errorf("relation %d target %q: %w", i, rel.Target.Name, err)
		}
		touched[targetID] = struct{}{}

		up, err := edges.UpsertEdge(sourceID, targetID, rel.RelationshipType, b.evidence(abstract.PMID, citation, rel))
		if err != nil {
			return res.finish(touched), fmt.Errorf("relation %d edge: %w", i, err)
		}

		action := graph.ActionUpdated
		if up.Created {
			action = graph.ActionCreated
		}
		metrics.EdgeUpserts.WithLabelValues(string(action)).Inc()
		if up.Duplicate {
			metrics.DuplicateEvidence.Inc()
		}

		res.Changes = append(res.Changes, graph.ChangeRecord{
			EdgeID:   up.Key,
			SourceID: sourceID,
			TargetID: targetID,
			Action:   action,
		})
	}

	logger.Info("Abstract merged",
		zap.String("pmid", abstract.PMID),
		zap.Int("changes", len(res.Changes)),
		zap.Int("nodes", doc.NodeCount()),
		zap.Int("edges", doc.EdgeCount()),
	)
	return res.finish(touched), nil
}

func (b *Builder) resolveEntity(ctx context.Context, doc *graph.Document, resolver *graph.Resolver, entity graph.EntityInfo) (string, error) {
	match, err := resolver.Resolve(ctx, entity)
	if err != nil {
		return "", err
	}
	metrics.Resolutions.WithLabelValues(outcome(match)).Inc()

	if match.Matched() {
		if err := doc.MergeIntoNode(match.NodeID, entity); err != nil {
			return "", err
		}
		metrics.NodeMerges.Inc()
		return match.NodeID, nil
	}

	id, created, err := doc.CreateNode(ctx, entity, resolver)
	if err != nil {
		return "", err
	}
	if created {
		metrics.NodesCreated.Inc()
		return id, nil
	}

	if err := doc.MergeIntoNode(id, entity); err != nil {
		return "", err
	}
	metrics.NodeMerges.Inc()
	return id, nil
}

func (b *Builder) evidence(pmid string, citation graph.CitationMetadata, rel graph.RelationInfo) graph.Evidence {
	experimental := make(map[string]any, len(rel.Context))
	statistical := map[string]any{}
	for k, v := range rel.Context {
		if k == "statistical_evidence" {
			if m, ok := v.(map[string]any); ok {
				statistical = m
				continue
			}
		}
		experimental[k] = v
	}

	return graph.Evidence{
		PaperID:              pmid,
		CitationMetadata:     citation,
		ExperimentalContext:  experimental,
		StatisticalEvidence:  statistical,
		ExtractedText:        rel.SupportingText,
		ExtractionConfidence: rel.Confidence,
		LastVerified:         b.now(),
	}
}

func outcome(r graph.Resolution) string {
	switch {
	case r.Matched():
		return string(r.Kind)
	case r.TypeMismatch:
		return "exact_type_mismatch"
	default:
		return string(graph.MatchNone)
	}
}

func (r Result) finish(touched map[string]struct{}) Result {
	r.NodeIDs = make([]string, 0, len(touched))
	for id := range touched {
		r.NodeIDs = append(r.NodeIDs, id)
	}
	sort.Strings(r.NodeIDs)
	return r
}
