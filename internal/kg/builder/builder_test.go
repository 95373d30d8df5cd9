package builder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokg/backend/internal/graph"
)

type fakeExtractor struct {
	extraction graph.Extraction
	err        error
	calls      int
}

func (f *fakeExtractor) ExtractAbstract(_ context.Context, _ graph.Abstract) (graph.Extraction, error) {
	f.calls++
	return f.extraction, f.err
}

type fakeNormalizer struct {
	ids   map[string][]string
	err   error
	calls map[string]int
}

func (f *fakeNormalizer) FindExternalIDs(_ context.Context, name string) ([]string, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[name]++
	if f.err != nil {
		return nil, f.err
	}
	return f.ids[name], nil
}

type fakeDisambiguator struct {
	answer string
	err    error
	seen   [][]graph.Candidate
}

func (f *fakeDisambiguator) Disambiguate(_ context.Context, _ graph.EntityInfo, candidates []graph.Candidate) (string, error) {
	f.seen = append(f.seen, candidates)
	return f.answer, f.err
}

func geneDisease(confidence float64) graph.Extraction {
	geneA := graph.EntityInfo{Name: "GeneA", Type: graph.EntityGene}
	diseaseB := graph.EntityInfo{Name: "DiseaseB", Type: graph.EntityDisease}
	return graph.Extraction{
		Entities: []graph.EntityInfo{geneA, diseaseB},
		Relations: []graph.RelationInfo{{
			Source:           geneA,
			Target:           diseaseB,
			RelationshipType: graph.RelAssociate,
			Context:          map[string]any{"study_type": "cohort"},
			SupportingText:   "GeneA is associated with DiseaseB.",
			Confidence:       confidence,
		}},
	}
}

func testAbstract() graph.Abstract {
	return graph.Abstract{PMID: "100", Title: "T", Authors: []string{"Smith J"}, Journal: "J", Year: graph.IntPtr(2020)}
}

func TestBuildFromAbstractIsIdempotent(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(&fakeExtractor{extraction: geneDisease(0.9)}, nil, nil)

	res, err := b.BuildFromAbstract(context.Background(), doc, testAbstract())
	require.NoError(t, err)

	assert.Equal(t, 2, doc.NodeCount())
	assert.Equal(t, 1, doc.EdgeCount())
	require.Len(t, res.Changes, 1)
	assert.Equal(t, graph.ActionCreated, res.Changes[0].Action)
	assert.Equal(t, "node_0_node_1_ASSOCIATE", res.Changes[0].EdgeID)
	assert.Equal(t, []string{"node_0", "node_1"}, res.NodeIDs)

	edge, ok := doc.Edge(res.Changes[0].EdgeID)
	require.True(t, ok)
	assert.Equal(t, 1, edge.AggregatedMetadata.TotalPapers)
	assert.InDelta(t, 0.9, edge.AggregatedMetadata.EvidenceStrength, 1e-9)
	assert.Equal(t, "100", edge.Evidence[0].PaperID)
	assert.Equal(t, "T", edge.Evidence[0].CitationMetadata.Title)
	assert.Equal(t, 2020, *edge.Evidence[0].CitationMetadata.Year)
	assert.Equal(t, "cohort", edge.Evidence[0].ExperimentalContext["study_type"])

	res, err = b.BuildFromAbstract(context.Background(), doc, testAbstract())
	require.NoError(t, err)

	assert.Equal(t, 2, doc.NodeCount())
	assert.Equal(t, 1, doc.EdgeCount())
	require.Len(t, res.Changes, 1)
	assert.Equal(t, graph.ActionUpdated, res.Changes[0].Action)

	edge, _ = doc.Edge(res.Changes[0].EdgeID)
	assert.Equal(t, 1, edge.AggregatedMetadata.TotalPapers)
	assert.Len(t, edge.Evidence, 1)
}

func TestMergeExtractionAddsEvidenceFromNewPaper(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(nil, nil, nil)

	_, err := b.MergeExtraction(context.Background(), doc, testAbstract(), geneDisease(0.9))
	require.NoError(t, err)

	second := graph.Abstract{PMID: "200", Title: "Later", Year: graph.IntPtr(2023)}
	res, err := b.MergeExtraction(context.Background(), doc, second, geneDisease(0.5))
	require.NoError(t, err)

	edge, ok := doc.Edge(res.Changes[0].EdgeID)
	require.True(t, ok)
	assert.Equal(t, 2, edge.AggregatedMetadata.TotalPapers)
	assert.InDelta(t, 0.7, edge.AggregatedMetadata.EvidenceStrength, 1e-9)
	assert.Equal(t, 2020, *edge.AggregatedMetadata.EarliestEvidence)
	assert.Equal(t, 2023, *edge.AggregatedMetadata.LatestEvidence)
}

func TestMergeExtractionCaseInsensitiveMatchAddsNoNode(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(nil, nil, nil)

	_, err := b.MergeExtraction(context.Background(), doc, testAbstract(), geneDisease(0.9))
	require.NoError(t, err)

	ext := geneDisease(0.8)
	ext.Relations[0].Source.Name = "genea"
	ext.Relations[0].Source.Description = "a longer description"
	_, err = b.MergeExtraction(context.Background(), doc, graph.Abstract{PMID: "300", Title: "x"}, ext)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.NodeCount())
	n, _ := doc.Node("node_0")
	assert.Equal(t, "GeneA", n.PrimaryName)
	assert.Empty(t, n.AlternativeNames)
	assert.Equal(t, "a longer description", n.Description)
}

func TestMergeExtractionUsesDisambiguator(t *testing.T) {
	doc := graph.NewDocument()
	dis := &fakeDisambiguator{answer: "node_0"}
	b := NewBuilder(nil, nil, dis)

	_, err := b.MergeExtraction(context.Background(), doc, testAbstract(), geneDisease(0.9))
	require.NoError(t, err)

	ext := geneDisease(0.8)
	ext.Relations[0].Source.Name = "GeneA1"
	res, err := b.MergeExtraction(context.Background(), doc, graph.Abstract{PMID: "400", Title: "x"}, ext)
	require.NoError(t, err)

	assert.Equal(t, 2, doc.NodeCount())
	assert.Equal(t, "node_0", res.Changes[0].SourceID)
	n, _ := doc.Node("node_0")
	assert.Equal(t, []string{"GeneA1"}, n.AlternativeNames)

	id, ok := doc.Names().Lookup("genea1")
	require.True(t, ok)
	assert.Equal(t, "node_0", id)
	require.NotEmpty(t, dis.seen)
	assert.Equal(t, "node_0", dis.seen[0][0].ID)
}

func TestMergeExtractionTypeMismatchCreatesNode(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(nil, nil, nil)

	_, err := b.MergeExtraction(context.Background(), doc, testAbstract(), geneDisease(0.9))
	require.NoError(t, err)

	ext := geneDisease(0.9)
	ext.Relations[0].Source.Type = graph.EntityProtein
	res, err := b.MergeExtraction(context.Background(), doc, graph.Abstract{PMID: "500", Title: "x"}, ext)
	require.NoError(t, err)

	assert.Equal(t, 3, doc.NodeCount())
	assert.Equal(t, "node_2", res.Changes[0].SourceID)
	assert.Equal(t, graph.ActionCreated, res.Changes[0].Action)
}

func TestMergeExtractionAbortsOnFailureKeepingEarlierMutations(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(nil, nil, nil)

	ext := geneDisease(0.9)
	ext.Relations = append(ext.Relations, graph.RelationInfo{
		Source:           graph.EntityInfo{Name: "DrugC", Type: graph.EntityChemical},
		Target:           graph.EntityInfo{Name: "", Type: graph.EntityDisease},
		RelationshipType: graph.RelTreat,
		Confidence:       0.5,
	})

	res, err := b.MergeExtraction(context.Background(), doc, testAbstract(), ext)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidEntity)

	assert.Len(t, res.Changes, 1)
	assert.Equal(t, 3, doc.NodeCount())
	assert.Equal(t, 1, doc.EdgeCount())
	assert.Equal(t, []string{"node_0", "node_1", "node_2"}, res.NodeIDs)
}

func TestBuildFromAbstractExtractionFailure(t *testing.T) {
	doc := graph.NewDocument()
	b := NewBuilder(&fakeExtractor{err: errors.New("invalid after repairs")}, nil, nil)

	_, err := b.BuildFromAbstract(context.Background(), doc, testAbstract())
	require.Error(t, err)
	assert.Zero(t, doc.NodeCount())
}

func TestNormalizeEnrichesEntitiesAndEndpoints(t *testing.T) {
	norm := &fakeNormalizer{ids: map[string][]string{
		"GeneA":    {"@GENE_1", "@GENE_2"},
		"DiseaseB": nil,
	}}
	b := NewBuilder(nil, norm, nil)

	ext := geneDisease(0.9)
	b.Normalize(context.Background(), &ext)

	assert.Equal(t, "@GENE_1", ext.Entities[0].ExternalIDs["PubTatorID"])
	assert.Equal(t, "@GENE_1", ext.Relations[0].Source.ExternalIDs["PubTatorID"])
	assert.Empty(t, ext.Relations[0].Target.ExternalIDs)
	assert.Equal(t, 1, norm.calls["GeneA"])
	assert.Equal(t, 1, norm.calls["DiseaseB"])
}

func TestNormalizeFailureLeavesEntityUnchanged(t *testing.T) {
	norm := &fakeNormalizer{err: errors.New("pubtator down")}
	b := NewBuilder(&fakeExtractor{extraction: geneDisease(0.9)}, norm, nil)

	doc := graph.NewDocument()
	_, err := b.BuildFromAbstract(context.Background(), doc, testAbstract())
	require.NoError(t, err)

	n, _ := doc.Node("node_0")
	assert.Empty(t, n.ExternalIDs)
}

func TestEvidenceSplitsStatisticalContext(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuilder(nil, nil, nil, WithClock(func() time.Time { return now }))

	ev := b.evidence("9", graph.CitationMetadata{Title: "t"}, graph.RelationInfo{
		Context: map[string]any{
			"model_system":         "mouse",
			"statistical_evidence": map[string]any{"p_value": 0.01},
		},
		SupportingText: "s",
		Confidence:     0.4,
	})

	assert.Equal(t, map[string]any{"model_system": "mouse"}, ev.ExperimentalContext)
	assert.Equal(t, map[string]any{"p_value": 0.01}, ev.StatisticalEvidence)
	assert.Equal(t, now, ev.LastVerified)
	assert.Equal(t, "9", ev.PaperID)
}
