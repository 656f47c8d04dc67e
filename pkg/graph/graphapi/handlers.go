// Package graphapi exposes the knowledge graph over HTTP.
package graphapi

import (
	"github.com/aimemory/platform/pkg/graph"
	"github.com/aimemory/platform/pkg/graph/graphsrv"
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type GraphHandlers struct {
	service *graphsrv.GraphService
}

func NewGraphHandlers(service *graphsrv.GraphService) *GraphHandlers {
	return &GraphHandlers{service: service}
}

// RegisterRoutes mounts the graph endpoints behind the given auth middleware.
func (h *GraphHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	group := app.Group("/graph", authenticate)

	group.Post("/nodes", h.AddNode)
	group.Delete("/nodes/:id", h.RemoveNode)
	group.Get("/nodes/:id/neighbors", h.Neighbors)
	group.Post("/edges", h.AddEdge)
	group.Delete("/edges", h.RemoveEdge)
	group.Post("/query", h.Query)
}

func principal(c *fiber.Ctx, writeOp bool) (kernel.UserID, error) {
	auth, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || auth == nil || !auth.IsValid() {
		return "", iam.ErrUnauthorized()
	}
	if writeOp && !auth.AtLeast(kernel.RoleUser) {
		return "", iam.ErrAccessDenied()
	}

	owner := *auth.UserID
	if target := c.Query("target_user"); target != "" {
		if auth.Role != kernel.RoleAdmin {
			return "", iam.ErrAccessDenied()
		}
		owner = kernel.UserID(target)
	}
	return owner, nil
}

func (h *GraphHandlers) AddNode(c *fiber.Ctx) error {
	owner, err := principal(c, true)
	if err != nil {
		return err
	}

	var req graphsrv.AddNodeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	node, err := h.service.AddNode(c.Context(), owner, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(node)
}

func (h *GraphHandlers) RemoveNode(c *fiber.Ctx) error {
	owner, err := principal(c, true)
	if err != nil {
		return err
	}

	if err := h.service.RemoveNode(c.Context(), owner, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *GraphHandlers) Neighbors(c *fiber.Ctx) error {
	owner, err := principal(c, false)
	if err != nil {
		return err
	}

	var relTypes []string
	if rel := c.Query("rel"); rel != "" {
		relTypes = []string{rel}
	}

	nodes, err := h.service.Neighbors(c.Context(), owner, c.Params("id"), relTypes, graph.Direction(c.Query("direction", "out")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"neighbors": nodes})
}

func (h *GraphHandlers) AddEdge(c *fiber.Ctx) error {
	owner, err := principal(c, true)
	if err != nil {
		return err
	}

	var req graphsrv.AddEdgeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	edge, err := h.service.AddEdge(c.Context(), owner, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(edge)
}

func (h *GraphHandlers) RemoveEdge(c *fiber.Ctx) error {
	owner, err := principal(c, true)
	if err != nil {
		return err
	}

	src, dst, rel := c.Query("src"), c.Query("dst"), c.Query("rel")
	if src == "" || dst == "" || rel == "" {
		return fiber.NewError(fiber.StatusBadRequest, "src, dst, and rel are required")
	}

	if err := h.service.RemoveEdge(c.Context(), owner, src, dst, rel); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *GraphHandlers) Query(c *fiber.Ctx) error {
	owner, err := principal(c, false)
	if err != nil {
		return err
	}

	var q graph.TraversalQuery
	if err := c.BodyParser(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	result, err := h.service.Query(c.Context(), owner, q)
	if err != nil {
		return err
	}
	return c.JSON(result)
}
