// Package vaultapi exposes external secret management over HTTP; every
// endpoint is admin-only and no response ever carries a decrypted value.
package vaultapi

import (
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/iam/vault"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type VaultHandlers struct {
	service *vault.VaultService
}

func NewVaultHandlers(service *vault.VaultService) *VaultHandlers {
	return &VaultHandlers{service: service}
}

// RegisterRoutes mounts the secret endpoints behind auth.
func (h *VaultHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	group := app.Group("/external-api-keys", authenticate)

	group.Get("/", h.List)
	group.Post("/", h.Set)
	group.Put("/:name", h.Update)
	group.Delete("/:name", h.Delete)
	group.Post("/rotate", h.Rotate)
}

func adminOnly(c *fiber.Ctx) (*kernel.AuthContext, error) {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || !authCtx.IsValid() {
		return nil, iam.ErrUnauthorized()
	}
	if authCtx.Role != kernel.RoleAdmin {
		return nil, iam.ErrAccessDenied()
	}
	return authCtx, nil
}

type secretBody struct {
	KeyName     string `json:"key_name"`
	ProviderTag string `json:"provider_tag"`
	Value       string `json:"value"`
}

func (h *VaultHandlers) List(c *fiber.Ctx) error {
	if _, err := adminOnly(c); err != nil {
		return err
	}
	secrets, err := h.service.List(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"secrets": secrets})
}

func (h *VaultHandlers) Set(c *fiber.Ctx) error {
	authCtx, err := adminOnly(c)
	if err != nil {
		return err
	}

	var body secretBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	secret, err := h.service.Set(c.Context(), authCtx, body.KeyName, body.ProviderTag, body.Value)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(secret)
}

func (h *VaultHandlers) Update(c *fiber.Ctx) error {
	authCtx, err := adminOnly(c)
	if err != nil {
		return err
	}

	var body secretBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	secret, err := h.service.Set(c.Context(), authCtx, c.Params("name"), body.ProviderTag, body.Value)
	if err != nil {
		return err
	}
	return c.JSON(secret)
}

func (h *VaultHandlers) Delete(c *fiber.Ctx) error {
	authCtx, err := adminOnly(c)
	if err != nil {
		return err
	}

	if err := h.service.Delete(c.Context(), authCtx, c.Params("name")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type rotateBody struct {
	OldKey string `json:"old_key"`
	NewKey string `json:"new_key"`
}

func (h *VaultHandlers) Rotate(c *fiber.Ctx) error {
	authCtx, err := adminOnly(c)
	if err != nil {
		return err
	}

	var body rotateBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	rotated, err := h.service.Rotate(c.Context(), authCtx, body.OldKey, body.NewKey)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"rotated": rotated})
}
