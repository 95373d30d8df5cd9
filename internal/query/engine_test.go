package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokg/backend/internal/graph"
)

type docViewer struct {
	doc *graph.Document
}

func (v docViewer) View(fn func(doc *graph.Document)) { fn(v.doc) }

func seed(t *testing.T) *graph.Document {
	t.Helper()
	doc := graph.NewDocument()
	ctx := context.Background()

	brca, _, err := doc.CreateNode(ctx, graph.EntityInfo{Name: "BRCA1", Type: graph.EntityGene}, nil)
	require.NoError(t, err)
	cancer, _, err := doc.CreateNode(ctx, graph.EntityInfo{Name: "Breast cancer", Type: graph.EntityDisease}, nil)
	require.NoError(t, err)
	drug, _, err := doc.CreateNode(ctx, graph.EntityInfo{Name: "Olaparib", Type: graph.EntityChemical}, nil)
	require.NoError(t, err)
	require.NoError(t, doc.MergeIntoNode(brca, graph.EntityInfo{Name: "RNF53", Type: graph.EntityGene}))

	agg := graph.NewEdgeAggregator(doc)
	_, err = agg.UpsertEdge(brca, cancer, graph.RelAssociate, graph.Evidence{PaperID: "1", ExtractionConfidence: 0.6})
	require.NoError(t, err)
	_, err = agg.UpsertEdge(drug, brca, graph.RelInhibit, graph.Evidence{PaperID: "2", ExtractionConfidence: 0.9})
	require.NoError(t, err)
	_, err = agg.UpsertEdge(drug, cancer, graph.RelTreat, graph.Evidence{PaperID: "3", ExtractionConfidence: 0.95})
	require.NoError(t, err)
	return doc
}

func TestLookupNode(t *testing.T) {
	e := NewEngine(docViewer{seed(t)})

	n, err := e.LookupNode("rnf53", "")
	require.NoError(t, err)
	assert.Equal(t, "BRCA1", n.PrimaryName)

	n, err = e.LookupNode("BRCA1", graph.EntityGene)
	require.NoError(t, err)
	assert.Equal(t, "node_0", n.ID)

	_, err = e.LookupNode("BRCA1", graph.EntityProtein)
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	_, err = e.LookupNode("nothing", "")
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestNodeReturnsCopy(t *testing.T) {
	doc := seed(t)
	e := NewEngine(docViewer{doc})

	n, err := e.Node("node_0")
	require.NoError(t, err)
	n.AlternativeNames[0] = "changed"

	orig, _ := doc.Node("node_0")
	assert.Equal(t, []string{"RNF53"}, orig.AlternativeNames)

	_, err = e.Node("node_99")
	var nf *graph.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestEdgesForSortedByStrength(t *testing.T) {
	e := NewEngine(docViewer{seed(t)})

	views, err := e.EdgesFor("node_0")
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "node_2_node_0_INHIBIT", views[0].Key)
	assert.Equal(t, Incoming, views[0].Direction)
	assert.Equal(t, "Olaparib", views[0].Neighbor.PrimaryName)

	assert.Equal(t, "node_0_node_1_ASSOCIATE", views[1].Key)
	assert.Equal(t, Outgoing, views[1].Direction)

	_, err = e.EdgesFor("node_42")
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestStats(t *testing.T) {
	s := NewEngine(docViewer{seed(t)}).Stats()

	assert.Equal(t, 3, s.Nodes)
	assert.Equal(t, 3, s.Edges)
	assert.Equal(t, 3, s.Evidence)
	assert.Equal(t, 4, s.Names)
	assert.Equal(t, 1, s.NodesByType["GENE"])
	assert.Equal(t, 1, s.EdgesByType["TREAT"])
}
