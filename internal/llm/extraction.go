package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/metrics"
	"github.com/biokg/backend/pkg/logger"
)

// MaxRepairAttempts bounds the repair prompts sent after an invalid extraction.
const MaxRepairAttempts = 3

var ErrExtractionInvalid = errors.New("extraction failed validation")

// ValidationResult is the outcome of checking one extraction response.
type ValidationResult struct {
	Valid  bool
	Reason string
}

type rawEntity struct {
	Name        string            `json:"name" validate:"required"`
	Type        string            `json:"type" validate:"required,entitytype"`
	Description string            `json:"description,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
}

type rawRelation struct {
	SourceEntity     *rawEntity     `json:"source_entity" validate:"required"`
	TargetEntity     *rawEntity     `json:"target_entity" validate:"required"`
	RelationshipType string         `json:"relationship_type" validate:"required,relationtype"`
	Context          map[string]any `json:"context" validate:"required"`
	SupportingText   *string        `json:"supporting_text" validate:"required"`
	Confidence       *float64       `json:"confidence" validate:"required,gte=0,lte=1"`
}

type rawExtraction struct {
	Entities  []rawEntity   `json:"entities" validate:"dive"`
	Relations []rawRelation `json:"relations" validate:"dive"`
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entitytype", func(fl validator.FieldLevel) bool {
		_, err := graph.ParseEntityType(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("relationtype", func(fl validator.FieldLevel) bool {
		_, err := graph.ParseRelationshipType(fl.Field().String())
		return err == nil
	})
	return v
}

// ExtractAbstract asks the model for entities and relations in a, sending
// up to MaxRepairAttempts repair prompts while the answer is invalid.
func (c *Client) ExtractAbstract(ctx context.Context, a graph.Abstract) (graph.Extraction, error) {
	logger.Info("Extracting abstract", zap.String("pmid", a.PMID))

	userPrompt := extractionUserPrompt(a)
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return graph.Extraction{}, fmt.Errorf("extraction request: %w", err)
	}
	c.audit.Record(AuditEntry{
		Purpose:      "extraction",
		Model:        c.model,
		PMID:         a.PMID,
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   userPrompt,
		Response:     resp.Content,
		Duration:     resp.Duration,
	})

	content := resp.Content
	raw, result := parseExtraction(content)

	for attempt := 1; !result.Valid; attempt++ {
		if attempt > MaxRepairAttempts {
			return graph.Extraction{}, fmt.Errorf("%w after %d repair attempts: %s", ErrExtractionInvalid, MaxRepairAttempts, result.Reason)
		}

		logger.Warn("Extraction invalid, requesting repair",
			zap.String("pmid", a.PMID),
			zap.Int("attempt", attempt),
			zap.String("reason", result.Reason),
		)
		metrics.ExtractionRepairs.Inc()

		repairPrompt := repairUserPrompt(a, content, result.Reason)
		resp, err := c.Complete(ctx, CompletionRequest{
			SystemPrompt: extractionSystemPrompt,
			UserPrompt:   repairPrompt,
		})
		if err != nil {
			return graph.Extraction{}, fmt.Errorf("repair request: %w", err)
		}
		c.audit.Record(AuditEntry{
			Purpose:            "extraction_repair",
			Model:              c.model,
			PMID:               a.PMID,
			SystemPrompt:       extractionSystemPrompt,
			UserPrompt:         repairPrompt,
			Response:           resp.Content,
			Duration:           resp.Duration,
			FixAttempt:         true,
			PreviousExtraction: content,
		})

		content = resp.Content
		raw, result = parseExtraction(content)
	}

	out := raw.toExtraction()
	logger.Info("Extraction complete",
		zap.String("pmid", a.PMID),
		zap.Int("entities", len(out.Entities)),
		zap.Int("relations", len(out.Relations)),
	)
	return out, nil
}

// parseExtraction decodes and validates a model response.
func parseExtraction(content string) (rawExtraction, ValidationResult) {
	var raw rawExtraction
	if err := decodeJSON(content, &raw); err != nil {
		return raw, ValidationResult{Reason: "response is not valid JSON"}
	}
	return raw, validateExtraction(raw)
}

func validateExtraction(raw rawExtraction) ValidationResult {
	err := validate.Struct(raw)
	if err == nil {
		return ValidationResult{Valid: true}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationResult{Reason: err.Error()}
	}
	reasons := make([]string, 0, len(verrs))
	for i, fe := range verrs {
		if i == 5 {
			reasons = append(reasons, fmt.Sprintf("and %d more", len(verrs)-i))
			break
		}
		reasons = append(reasons, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return ValidationResult{Reason: strings.Join(reasons, "; ")}
}

// decodeJSON unwraps a fenced block if present, then unmarshals, falling
// back to jsonrepair for the near-JSON models tend to produce.
func decodeJSON(content string, out any) error {
	content = strings.TrimSpace(content)
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		content = m[1]
	}

	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(content)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	return json.Unmarshal([]byte(repaired), out)
}

func (r rawExtraction) toExtraction() graph.Extraction {
	out := graph.Extraction{
		Entities:  make([]graph.EntityInfo, 0, len(r.Entities)),
		Relations: make([]graph.RelationInfo, 0, len(r.Relations)),
	}
	for _, e := range r.Entities {
		out.Entities = append(out.Entities, e.toEntity())
	}
	for _, rel := range r.Relations {
		rt, _ := graph.ParseRelationshipType(rel.RelationshipType)
		out.Relations = append(out.Relations, graph.RelationInfo{
			Source:           rel.SourceEntity.toEntity(),
			Target:           rel.TargetEntity.toEntity(),
			RelationshipType: rt,
			Context:          rel.Context,
			SupportingText:   *rel.SupportingText,
			Confidence:       *rel.Confidence,
		})
	}
	return out
}

func (e rawEntity) toEntity() graph.EntityInfo {
	t, _ := graph.ParseEntityType(e.Type)
	return graph.EntityInfo{
		Name:        strings.TrimSpace(e.Name),
		Type:        t,
		Description: e.Description,
		ExternalIDs: e.ExternalIDs,
	}
}
