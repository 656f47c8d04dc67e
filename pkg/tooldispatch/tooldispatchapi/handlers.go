// Package tooldispatchapi exposes the tool surface over HTTP: a listing of
// remote-capable tools and a single call endpoint.
package tooldispatchapi

import (
	"encoding/json"

	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/tooldispatch"
	"github.com/gofiber/fiber/v2"
)

type ToolHandlers struct {
	dispatcher *tooldispatch.Dispatcher
}

func NewToolHandlers(dispatcher *tooldispatch.Dispatcher) *ToolHandlers {
	return &ToolHandlers{dispatcher: dispatcher}
}

// RegisterRoutes mounts the tool endpoints behind auth.
func (h *ToolHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Get("/mcp/tools", authenticate, h.ListTools)
	app.Post("/mcp/call", authenticate, h.Call)
}

// ListTools returns the remote-visible tool set with schemas.
func (h *ToolHandlers) ListTools(c *fiber.Ctx) error {
	if _, ok := c.Locals("auth").(*kernel.AuthContext); !ok {
		return iam.ErrUnauthorized()
	}
	return c.JSON(fiber.Map{"tools": h.dispatcher.Registry().List(true)})
}

type callRequest struct {
	ToolName string          `json:"tool_name"`
	Input    json.RawMessage `json:"input"`
}

// Call dispatches one tool invocation.
func (h *ToolHandlers) Call(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil {
		return iam.ErrUnauthorized()
	}

	var req callRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	output, err := h.dispatcher.Dispatch(c.Context(), authCtx, req.ToolName, req.Input, true)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"output": output})
}
