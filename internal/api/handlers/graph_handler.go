package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/internal/query"
	"github.com/biokg/backend/pkg/logger"
)

type GraphHandler struct {
	queryEngine *query.Engine
}

func NewGraphHandler(queryEngine *query.Engine) *GraphHandler {
	return &GraphHandler{
		queryEngine: queryEngine,
	}
}

func (h *GraphHandler) GetNode(c *fiber.Ctx) error {
	n, err := h.queryEngine.Node(c.Params("id"))
	if err != nil {
		return notFound(c, err)
	}
	return c.JSON(n)
}

// FindNode looks a node up by name, optionally restricted to a type.
func (h *GraphHandler) FindNode(c *fiber.Ctx) error {
	name := c.Query("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	var entityType graph.EntityType
	if raw := c.Query("type"); raw != "" {
		t, err := graph.ParseEntityType(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		entityType = t
	}

	n, err := h.queryEngine.LookupNode(name, entityType)
	if err != nil {
		return notFound(c, err)
	}
	return c.JSON(n)
}

func (h *GraphHandler) GetEdges(c *fiber.Ctx) error {
	id := c.Params("id")
	edges, err := h.queryEngine.EdgesFor(id)
	if err != nil {
		return notFound(c, err)
	}
	return c.JSON(fiber.Map{
		"node_id": id,
		"count":   len(edges),
		"edges":   edges,
	})
}

func (h *GraphHandler) GetStats(c *fiber.Ctx) error {
	return c.JSON(h.queryEngine.Stats())
}

func notFound(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, graph.ErrNodeNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, graph.ErrInvalidEntity):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	logger.Error("Graph query failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Graph query failed",
	})
}
