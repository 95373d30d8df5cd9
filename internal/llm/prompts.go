package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/biokg/backend/internal/graph"
)

const extractionSystemPrompt = `You are an expert biomedical knowledge extractor. Your task is to analyze scientific abstracts
and extract exclusively biomedical entities and their relationships of the designated types only. Follow these rules strictly:

1. Entity Types: GENE, PROTEIN, DISEASE, CHEMICAL, GENETIC_VARIANT (protein mutation, DNA mutation, SNP), SPECIES
2. Relationship Types: ASSOCIATE, CAUSE, COMPARE, COTREAT, DRUG_INTERACT, INHIBIT, INTERACT, NEGATIVE_CORRELATE, POSITIVE_CORRELATE, PREVENT, STIMULATE, TREAT, SUBTYPE
3. Format all output as valid JSON
4. Include a confidence score between 0 and 1 for each relation
5. Extract experimental context (study type, model system, methods)
6. Quote the supporting text for each relation exactly as it appears in the abstract
7. Be precise with entity names and types
8. Do not infer relationships not stated in the abstract
9. Include entity identifiers (UMLS, MeSH, etc.) only when you know them

Output must be in this exact format:
{
    "entities": [
        {
            "name": "entity_name",
            "type": "entity_type",
            "description": "brief description",
            "external_ids": {"system": "id"}
        }
    ],
    "relations": [
        {
            "source_entity": {entity object},
            "target_entity": {entity object},
            "relationship_type": "type",
            "context": {
                "study_type": "type",
                "model_system": {"type": "system", "details": "details"},
                "methods": ["method1", "method2"]
            },
            "supporting_text": "exact text from abstract",
            "confidence": 0.95
        }
    ]
}`

const disambiguationSystemPrompt = "You are a helpful assistant that follows instructions carefully."

func extractionUserPrompt(a graph.Abstract) string {
	return fmt.Sprintf(`Analyze this biomedical abstract and extract biomedical entities and their relationships:

Title: %s
Abstract: %s
Journal: %s
Year: %s

Provide all entities and relationships found in the exact JSON format specified.`,
		a.Title, a.Abstract, a.Journal, yearString(a.Year))
}

func repairUserPrompt(a graph.Abstract, previous, reason string) string {
	return fmt.Sprintf(`The previous extraction was invalid (%s). Fix it so it matches the required format.

Previous extraction:
%s

Original abstract:
Title: %s
Abstract: %s

Ensure all entities and relations follow the exact schema specified. Return JSON only.`,
		reason, previous, a.Title, a.Abstract)
}

func disambiguationUserPrompt(entity graph.EntityInfo, candidates []graph.Candidate) string {
	var b strings.Builder
	b.WriteString(`You are an expert biomedical entity resolver.
Given a new entity and a list of candidate existing entities, determine if the new entity matches any of the candidates.

Match criteria: the entities must refer to the same real-world biomedical concept. Consider name, type, description and external IDs.

If there is a match, return the entity_id of the matching candidate.
If there is no match, return "No Match".

Return the answer as JSON:
{"match": "entity_id"} or {"match": "No Match"}

New entity:
`)
	b.WriteString(indentJSON(entity))
	b.WriteString("\n\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d.\n%s\n", i+1, indentJSON(c))
	}
	return b.String()
}

func indentJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(raw)
}

func yearString(y *int) string {
	if y == nil {
		return "unknown"
	}
	return fmt.Sprint(*y)
}
