package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/logger"
)

const noMatch = "No Match"

type disambiguationAnswer struct {
	Match string `json:"match"`
}

// Disambiguate asks the model which candidate, if any, entity refers to. It
// returns "" for no match, including when the answer cannot be parsed or
// names an id outside candidates.
func (c *Client) Disambiguate(ctx context.Context, entity graph.EntityInfo, candidates []graph.Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	logger.Info("Disambiguating entity",
		zap.String("name", entity.Name),
		zap.Int("candidates", len(candidates)),
	)

	userPrompt := disambiguationUserPrompt(entity, candidates)
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: disambiguationSystemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("disambiguation request: %w", err)
	}
	c.audit.Record(AuditEntry{
		Purpose:      "disambiguation",
		Model:        c.model,
		SystemPrompt: disambiguationSystemPrompt,
		UserPrompt:   userPrompt,
		Response:     resp.Content,
		Duration:     resp.Duration,
	})

	var answer disambiguationAnswer
	if err := decodeJSON(resp.Content, &answer); err != nil {
		logger.Error("Failed to parse disambiguation response", zap.Error(err))
		return "", nil
	}

	match := strings.TrimSpace(answer.Match)
	if match == "" || strings.EqualFold(match, noMatch) {
		return "", nil
	}
	for _, cand := range candidates {
		if cand.ID == match {
			return match, nil
		}
	}

	logger.Warn("Disambiguation answer is not a candidate",
		zap.String("name", entity.Name),
		zap.String("match", match),
	)
	return "", nil
}
