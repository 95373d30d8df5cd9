package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDisambiguator struct {
	match  string
	err    error
	calls  int
	offers [][]Candidate
}

func (f *fakeDisambiguator) Disambiguate(_ context.Context, _ EntityInfo, candidates []Candidate) (string, error) {
	f.calls++
	f.offers = append(f.offers, candidates)
	return f.match, f.err
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 1.0, Similarity("brca1", "brca1"))
	assert.Equal(t, 0.5, Similarity("abcd", "abxy"))
	assert.Equal(t, 0.25, Similarity("abcd", "axyz"))
	assert.Equal(t, Similarity("kitten", "sitting"), Similarity("sitting", "kitten"))
	assert.Equal(t, 0.0, Similarity("abc", ""))
}

func TestResolveExactMatchIsCaseInsensitive(t *testing.T) {
	d := NewDocument()
	id := mustCreate(t, d, EntityInfo{Name: "BRCA1", Type: EntityGene})
	dis := &fakeDisambiguator{}

	res, err := NewResolver(d, dis).Resolve(context.Background(), EntityInfo{Name: "brca1", Type: EntityGene})
	require.NoError(t, err)
	assert.Equal(t, id, res.NodeID)
	assert.Equal(t, MatchExact, res.Kind)
	assert.Zero(t, dis.calls)
}

func TestResolveExactMatchRefusesOtherType(t *testing.T) {
	d := NewDocument()
	mustCreate(t, d, EntityInfo{Name: "BRCA1", Type: EntityGene})
	dis := &fakeDisambiguator{match: "node_0"}

	res, err := NewResolver(d, dis).Resolve(context.Background(), EntityInfo{Name: "BRCA1", Type: EntityProtein})
	require.NoError(t, err)
	assert.False(t, res.Matched())
	assert.True(t, res.TypeMismatch)
	assert.Equal(t, MatchNone, res.Kind)
	// No PROTEIN nodes exist, so there is nothing to disambiguate.
	assert.Zero(t, dis.calls)
}

func TestResolveFuzzyThresholdBoundary(t *testing.T) {
	d := NewDocument()
	at := mustCreate(t, d, EntityInfo{Name: "abxy", Type: EntityChemical})
	mustCreate(t, d, EntityInfo{Name: "axyz", Type: EntityChemical})
	dis := &fakeDisambiguator{}

	res, err := NewResolver(d, dis).Resolve(context.Background(), EntityInfo{Name: "abcd", Type: EntityChemical})
	require.NoError(t, err)
	assert.False(t, res.Matched())
	require.Equal(t, 1, dis.calls)
	require.Len(t, dis.offers[0], 1)
	assert.Equal(t, at, dis.offers[0][0].ID)
	assert.Equal(t, 1, res.Candidates)
}

func TestResolveFuzzyCountsCandidateOnce(t *testing.T) {
	d := NewDocument()
	id := mustCreate(t, d, EntityInfo{Name: "interleukin 6", Type: EntityProtein})
	require.NoError(t, d.MergeIntoNode(id, EntityInfo{Name: "interleukin-6", Type: EntityProtein}))
	mustCreate(t, d, EntityInfo{Name: "interleukin 6", Type: EntityGene})
	dis := &fakeDisambiguator{match: id}

	res, err := NewResolver(d, dis).Resolve(context.Background(), EntityInfo{Name: "interleukin 6 protein", Type: EntityProtein})
	require.NoError(t, err)
	require.Len(t, dis.offers[0], 1)
	assert.Equal(t, id, res.NodeID)
	assert.Equal(t, MatchDisambiguated, res.Kind)
}

func TestResolveIgnoresMatchOutsideCandidates(t *testing.T) {
	d := NewDocument()
	mustCreate(t, d, EntityInfo{Name: "aspirin", Type: EntityChemical})
	gene := mustCreate(t, d, EntityInfo{Name: "aspirin gene", Type: EntityGene})
	dis := &fakeDisambiguator{match: gene}

	res, err := NewResolver(d, dis).Resolve(context.Background(), EntityInfo{Name: "aspirine", Type: EntityChemical})
	require.NoError(t, err)
	assert.False(t, res.Matched())
}

func TestResolvePropagatesDisambiguationError(t *testing.T) {
	d := NewDocument()
	mustCreate(t, d, EntityInfo{Name: "insulin", Type: EntityChemical})
	boom := errors.New("upstream unavailable")

	_, err := NewResolver(d, &fakeDisambiguator{err: boom}).Resolve(context.Background(), EntityInfo{Name: "insulins", Type: EntityChemical})
	assert.ErrorIs(t, err, boom)
}

func TestResolveWithThreshold(t *testing.T) {
	d := NewDocument()
	mustCreate(t, d, EntityInfo{Name: "abxy", Type: EntityChemical})
	dis := &fakeDisambiguator{}

	_, err := NewResolver(d, dis, WithThreshold(0.9)).Resolve(context.Background(), EntityInfo{Name: "abcd", Type: EntityChemical})
	require.NoError(t, err)
	assert.Zero(t, dis.calls)
}
