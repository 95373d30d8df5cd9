package graphfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokg/backend/internal/graph"
)

func TestLoadMissingFileCreatesEmptyGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "graph.json")

	doc, err := NewStore(path).Load()
	require.NoError(t, err)
	assert.Zero(t, doc.NodeCount())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":{},"edges":{}}`, string(raw))
}

func TestLoadCorruptOrEmptyFileRecovers(t *testing.T) {
	for name, content := range map[string]string{
		"corrupt": `{"nodes": {`,
		"empty":   ``,
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "graph.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			doc, err := NewStore(path).Load()
			require.NoError(t, err)
			assert.Zero(t, doc.NodeCount())

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.JSONEq(t, `{"nodes":{},"edges":{}}`, string(raw))
		})
	}
}

func TestSaveLoadRoundTripKeepsGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	store := NewStore(path)

	doc := graph.NewDocument()
	ctx := context.Background()
	a, _, err := doc.CreateNode(ctx, graph.EntityInfo{Name: "GeneA", Type: graph.EntityGene}, nil)
	require.NoError(t, err)
	b, _, err := doc.CreateNode(ctx, graph.EntityInfo{Name: "DiseaseB", Type: graph.EntityDisease}, nil)
	require.NoError(t, err)
	require.NoError(t, doc.MergeIntoNode(a, graph.EntityInfo{Name: "gene-a", Type: graph.EntityGene}))
	res, err := graph.NewEdgeAggregator(doc).UpsertEdge(a, b, graph.RelAssociate, graph.Evidence{
		PaperID:              "100",
		CitationMetadata:     graph.CitationMetadata{Title: "T", Year: graph.IntPtr(2020)},
		ExtractionConfidence: 0.9,
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(doc))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NodeCount())

	e, ok := loaded.Edge(res.Key)
	require.True(t, ok)
	assert.Equal(t, 1, e.AggregatedMetadata.TotalPapers)
	require.NotNil(t, e.AggregatedMetadata.EarliestEvidence)
	assert.Equal(t, 2020, *e.AggregatedMetadata.EarliestEvidence)

	id, ok := loaded.Names().Lookup("GENE-A")
	require.True(t, ok)
	assert.Equal(t, a, id)

	next, _, err := loaded.CreateNode(ctx, graph.EntityInfo{Name: "C", Type: graph.EntityChemical}, nil)
	require.NoError(t, err)
	assert.Equal(t, "node_2", next)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "graph.json"))
	require.NoError(t, store.Save(graph.NewDocument()))
	require.NoError(t, store.Save(graph.NewDocument()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "graph.json", entries[0].Name())
}

func TestAliasStoreLoadRegistersKnownNodesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aliases.json")
	raw, err := json.Marshal(map[string]string{
		"her2":  "node_0",
		"ghost": "node_9",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	doc := graph.NewDocument()
	_, _, err = doc.CreateNode(context.Background(), graph.EntityInfo{Name: "ERBB2", Type: graph.EntityGene}, nil)
	require.NoError(t, err)

	applied, err := NewAliasStore(path).Load(doc)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	id, ok := doc.Names().Lookup("HER2")
	require.True(t, ok)
	assert.Equal(t, "node_0", id)
	_, ok = doc.Names().Lookup("ghost")
	assert.False(t, ok)
}

func TestAliasStoreSaveWritesIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	doc := graph.NewDocument()
	_, _, err := doc.CreateNode(context.Background(), graph.EntityInfo{Name: "Aspirin", Type: graph.EntityChemical}, nil)
	require.NoError(t, err)

	aliases := NewAliasStore(path)
	require.NoError(t, aliases.Save(doc))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"aspirin":"node_0"}`, string(raw))
}

func TestAliasStoreMissingFileInitializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aliases.json")

	applied, err := NewAliasStore(path).Load(graph.NewDocument())
	require.NoError(t, err)
	assert.Zero(t, applied)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}
