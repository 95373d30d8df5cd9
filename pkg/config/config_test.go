package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Graph.FuzzyThreshold)
	assert.Equal(t, "./data/knowledge_graph.json", cfg.Graph.Path)
	assert.Equal(t, 100, cfg.PubMed.BatchSize)
	assert.Equal(t, 5, cfg.PubTator.Limit)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 2000, cfg.LLM.MaxTokens)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biokg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graph:
  path: /var/lib/biokg/graph.json
  fuzzyThreshold: 0.8
redis:
  enabled: true
`), 0o644))
	t.Setenv("BIOKG_SERVER_PORT", "9090")
	t.Setenv("CEREBRAS_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/biokg/graph.json", cfg.Graph.Path)
	assert.Equal(t, 0.8, cfg.Graph.FuzzyThreshold)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() *Config {
		return &Config{
			Graph:  GraphConfig{Path: "g.json", AliasPath: "a.json", FuzzyThreshold: 0.5},
			PubMed: PubMedConfig{BatchSize: 100, RequestsPerSecond: 1},
		}
	}
	require.NoError(t, base().Validate())

	c := base()
	c.Graph.FuzzyThreshold = 0
	assert.Error(t, c.Validate())

	c = base()
	c.Graph.FuzzyThreshold = 1.5
	assert.Error(t, c.Validate())

	c = base()
	c.Graph.Path = ""
	assert.Error(t, c.Validate())

	c = base()
	c.PubMed.BatchSize = 0
	assert.Error(t, c.Validate())
}
