// Package apikeyapi exposes API key management over HTTP.
package apikeyapi

import (
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/iam/apikey"
	"github.com/aimemory/platform/pkg/iam/apikey/apikeysrv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type APIKeyHandlers struct {
	service *apikeysrv.APIKeyService
}

func NewAPIKeyHandlers(service *apikeysrv.APIKeyService) *APIKeyHandlers {
	return &APIKeyHandlers{service: service}
}

// RegisterRoutes mounts the key management endpoints behind auth.
func (h *APIKeyHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	group := app.Group("/api-keys", authenticate)

	group.Get("/", h.List)
	group.Post("/", h.Create)
	group.Delete("/:id", h.Revoke)
}

func principal(c *fiber.Ctx) (*kernel.AuthContext, error) {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || !authCtx.IsValid() {
		return nil, iam.ErrUnauthorized()
	}
	if !authCtx.AtLeast(kernel.RoleUser) {
		return nil, iam.ErrAccessDenied()
	}
	return authCtx, nil
}

// Create mints a key; the response carries the plaintext exactly once.
func (h *APIKeyHandlers) Create(c *fiber.Ctx) error {
	authCtx, err := principal(c)
	if err != nil {
		return err
	}

	var req apikey.CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.service.CreateAPIKey(c.Context(), authCtx, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List returns the caller's keys, hashes excluded.
func (h *APIKeyHandlers) List(c *fiber.Ctx) error {
	authCtx, err := principal(c)
	if err != nil {
		return err
	}

	resp, err := h.service.ListAPIKeys(c.Context(), *authCtx.UserID)
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// Revoke disables a key permanently.
func (h *APIKeyHandlers) Revoke(c *fiber.Ctx) error {
	authCtx, err := principal(c)
	if err != nil {
		return err
	}

	if err := h.service.RevokeAPIKey(c.Context(), authCtx, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
