package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/ingestion"
	"github.com/biokg/backend/internal/middleware/validation"
	"github.com/biokg/backend/pkg/logger"
)

type AbstractProcessor interface {
	ProcessOne(ctx context.Context, a graph.Abstract) (ingestion.Outcome, error)
}

// AbstractRecorder stores submitted abstracts in the ledger.
type AbstractRecorder interface {
	UpsertAbstracts(abstracts []graph.Abstract) (int, error)
}

type AbstractHandler struct {
	processor AbstractProcessor
	recorder  AbstractRecorder
}

// NewAbstractHandler builds the handler. recorder may be nil.
func NewAbstractHandler(processor AbstractProcessor, recorder AbstractRecorder) *AbstractHandler {
	return &AbstractHandler{
		processor: processor,
		recorder:  recorder,
	}
}

// SubmitAbstract merges one abstract into the graph. It expects the body to
// have been decoded by validation.Body[graph.Abstract].
func (h *AbstractHandler) SubmitAbstract(c *fiber.Ctx) error {
	a, ok := c.Locals(validation.BodyKey).(*graph.Abstract)
	if !ok || a == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if h.recorder != nil {
		if _, err := h.recorder.UpsertAbstracts([]graph.Abstract{*a}); err != nil {
			logger.Warn("Failed to record abstract in ledger", zap.String("pmid", a.PMID), zap.Error(err))
		}
	}

	out, err := h.processor.ProcessOne(c.Context(), *a)
	if err != nil {
		logger.Error("Failed to process abstract", zap.String("pmid", a.PMID), zap.Error(err))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(out)
	}

	return c.JSON(out)
}
