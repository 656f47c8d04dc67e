// Package retrievalapi exposes hybrid search over HTTP.
package retrievalapi

import (
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/retrieval"
	"github.com/gofiber/fiber/v2"
)

type SearchHandlers struct {
	engine *retrieval.Engine
}

func NewSearchHandlers(engine *retrieval.Engine) *SearchHandlers {
	return &SearchHandlers{engine: engine}
}

// RegisterRoutes mounts the search endpoints behind the given auth middleware.
func (h *SearchHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Post("/memory/search", authenticate, h.Search)
	app.Post("/memory/search/ids", authenticate, h.SearchIDs)
}

func (h *SearchHandlers) Search(c *fiber.Ctx) error {
	auth, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || auth == nil {
		return iam.ErrUnauthorized()
	}

	var req retrieval.SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	results, err := h.engine.Search(c.Context(), auth, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"results": results, "count": len(results)})
}

func (h *SearchHandlers) SearchIDs(c *fiber.Ctx) error {
	auth, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || auth == nil {
		return iam.ErrUnauthorized()
	}

	var req retrieval.SearchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	previews, err := h.engine.RetrieveIDs(c.Context(), auth, req)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"results": previews, "count": len(previews)})
}
