package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/config"
)

// scriptedServer answers chat completions with queued contents, in order.
type scriptedServer struct {
	mu        sync.Mutex
	responses []string
	status    int
	prompts   []string
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if n := len(req.Messages); n > 0 {
		s.prompts = append(s.prompts, req.Messages[n-1].Content)
	}

	if s.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(s.status)
		_, _ = w.Write([]byte(`{"error":{"message":"rejected","type":"invalid_request_error"}}`))
		return
	}

	content := `{}`
	if len(s.responses) > 0 {
		content = s.responses[0]
		s.responses = s.responses[1:]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func (s *scriptedServer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func newTestClient(t *testing.T, srv *scriptedServer, audit *AuditLog) *Client {
	t.Helper()
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return NewClient(config.LLMConfig{
		BaseURL:    ts.URL + "/v1",
		Model:      "test-model",
		APIKey:     "test",
		MaxTokens:  100,
		TimeoutSec: 5,
	}, audit)
}

const validExtraction = `{
  "entities": [
    {"name": "GeneA", "type": "GENE"},
    {"name": "DiseaseB", "type": "DISEASE", "description": "a disease"}
  ],
  "relations": [{
    "source_entity": {"name": "GeneA", "type": "GENE"},
    "target_entity": {"name": "DiseaseB", "type": "DISEASE"},
    "relationship_type": "ASSOCIATE",
    "context": {"study_type": "cohort"},
    "supporting_text": "GeneA is associated with DiseaseB",
    "confidence": 0.9
  }]
}`

func testAbstract() graph.Abstract {
	return graph.Abstract{PMID: "100", Title: "T", Abstract: "GeneA is associated with DiseaseB.", Year: graph.IntPtr(2020)}
}

func TestExtractAbstractValidFirstTime(t *testing.T) {
	srv := &scriptedServer{responses: []string{"```json\n" + validExtraction + "\n```"}}
	c := newTestClient(t, srv, nil)

	ex, err := c.ExtractAbstract(context.Background(), testAbstract())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.calls())

	require.Len(t, ex.Entities, 2)
	require.Len(t, ex.Relations, 1)
	rel := ex.Relations[0]
	assert.Equal(t, "GeneA", rel.Source.Name)
	assert.Equal(t, graph.EntityGene, rel.Source.Type)
	assert.Equal(t, graph.EntityDisease, rel.Target.Type)
	assert.Equal(t, graph.RelAssociate, rel.RelationshipType)
	assert.Equal(t, 0.9, rel.Confidence)
	assert.Equal(t, "cohort", rel.Context["study_type"])
}

func TestExtractAbstractRepairsInvalidResponse(t *testing.T) {
	missingConfidence := `{"entities": [], "relations": [{
	  "source_entity": {"name": "GeneA", "type": "GENE"},
	  "target_entity": {"name": "DiseaseB", "type": "DISEASE"},
	  "relationship_type": "ASSOCIATE",
	  "context": {},
	  "supporting_text": "x"
	}]}`
	srv := &scriptedServer{responses: []string{missingConfidence, validExtraction}}
	c := newTestClient(t, srv, nil)

	ex, err := c.ExtractAbstract(context.Background(), testAbstract())
	require.NoError(t, err)
	assert.Equal(t, 2, srv.calls())
	assert.Len(t, ex.Relations, 1)
	assert.Contains(t, srv.prompts[1], "Previous extraction")
	assert.Contains(t, srv.prompts[1], "Confidence")
}

func TestExtractAbstractGivesUpAfterMaxRepairs(t *testing.T) {
	bad := `{"entities": [{"name": "X", "type": "ORGAN"}], "relations": []}`
	srv := &scriptedServer{responses: []string{bad, bad, bad, bad, validExtraction}}
	c := newTestClient(t, srv, nil)

	_, err := c.ExtractAbstract(context.Background(), testAbstract())
	assert.ErrorIs(t, err, ErrExtractionInvalid)
	assert.Equal(t, 1+MaxRepairAttempts, srv.calls())
}

func TestExtractAbstractClientErrorNotRetried(t *testing.T) {
	srv := &scriptedServer{status: http.StatusBadRequest}
	c := newTestClient(t, srv, nil)

	_, err := c.ExtractAbstract(context.Background(), testAbstract())
	require.Error(t, err)
	assert.Equal(t, 1, srv.calls())
}

func TestParseExtractionRepairsNearJSON(t *testing.T) {
	raw, result := parseExtraction(`{"entities": [{"name": "aspirin", "type": "chemical",}], "relations": []`)
	require.True(t, result.Valid, result.Reason)
	ex := raw.toExtraction()
	require.Len(t, ex.Entities, 1)
	assert.Equal(t, graph.EntityChemical, ex.Entities[0].Type)
}

func TestValidateExtractionReasons(t *testing.T) {
	conf := 1.5
	text := "t"
	result := validateExtraction(rawExtraction{
		Relations: []rawRelation{{
			SourceEntity:     &rawEntity{Name: "A", Type: "GENE"},
			TargetEntity:     &rawEntity{Name: "B", Type: "GENE"},
			RelationshipType: "BINDS",
			Context:          map[string]any{},
			SupportingText:   &text,
			Confidence:       &conf,
		}},
	})
	assert.False(t, result.Valid)
	assert.Contains(t, result.Reason, "relationtype")
	assert.Contains(t, result.Reason, "lte")
}

func TestDisambiguate(t *testing.T) {
	candidates := []graph.Candidate{
		{ID: "node_1", Name: "BRCA1", Type: graph.EntityGene},
		{ID: "node_2", Name: "BRCA2", Type: graph.EntityGene},
	}
	entity := graph.EntityInfo{Name: "BRCA-1", Type: graph.EntityGene}

	cases := map[string]struct {
		answer string
		want   string
	}{
		"match":        {`{"match": "node_1"}`, "node_1"},
		"no match":     {`{"match": "No Match"}`, ""},
		"unknown id":   {`{"match": "node_9"}`, ""},
		"not json":     {`I think it is node_1`, ""},
		"fenced match": {"```json\n{\"match\": \"node_2\"}\n```", "node_2"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := &scriptedServer{responses: []string{tc.answer}}
			c := newTestClient(t, srv, nil)

			got, err := c.Disambiguate(context.Background(), entity, candidates)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Contains(t, srv.prompts[0], `"entity_id": "node_1"`)
		})
	}
}

func TestDisambiguateWithoutCandidatesSkipsCall(t *testing.T) {
	srv := &scriptedServer{}
	c := newTestClient(t, srv, nil)

	got, err := c.Disambiguate(context.Background(), graph.EntityInfo{Name: "X", Type: graph.EntityGene}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, srv.calls())
}

func TestAuditLogWritesOneLinePerCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "calls.ndjson")
	audit, err := NewAuditLog(path)
	require.NoError(t, err)

	bad := `{"entities": [{"name": "", "type": "GENE"}], "relations": []}`
	srv := &scriptedServer{responses: []string{bad, validExtraction}}
	c := newTestClient(t, srv, audit)

	_, err = c.ExtractAbstract(context.Background(), testAbstract())
	require.NoError(t, err)
	require.NoError(t, audit.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "extraction", lines[0]["purpose"])
	assert.Equal(t, "100", lines[0]["pmid"])
	assert.Equal(t, true, lines[1]["fix_attempt"])
	assert.Equal(t, bad, lines[1]["previous_extraction"])
}

func TestNewAuditLogEmptyPath(t *testing.T) {
	audit, err := NewAuditLog("")
	require.NoError(t, err)
	assert.Nil(t, audit)
	audit.Record(AuditEntry{Purpose: "noop"})
	assert.NoError(t, audit.Close())
}
