package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokg/backend/internal/graph"
)

func TestAbstractsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "data.json")

	got, err := readAbstracts(path)
	require.NoError(t, err)
	assert.Nil(t, got)

	year := 2023
	in := []graph.Abstract{{PMID: "1", Title: "T", Abstract: "A", Authors: []string{"Doe J"}, Year: &year}}
	require.NoError(t, writeAbstracts(path, in))

	got, err = readAbstracts(path)
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestReadAbstractsEmptyAndInvalid(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	got, err := readAbstracts(empty)
	require.NoError(t, err)
	assert.Nil(t, got)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))
	_, err = readAbstracts(bad)
	assert.Error(t, err)
}
