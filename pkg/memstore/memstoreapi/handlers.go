// Package memstoreapi exposes the memory store over HTTP.
package memstoreapi

import (
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/aimemory/platform/pkg/memstore"
	"github.com/aimemory/platform/pkg/memstore/memstoresrv"
	"github.com/gofiber/fiber/v2"
)

type MemoryHandlers struct {
	service *memstoresrv.MemoryService
}

func NewMemoryHandlers(service *memstoresrv.MemoryService) *MemoryHandlers {
	return &MemoryHandlers{service: service}
}

// RegisterRoutes mounts the memory endpoints behind the given auth middleware.
func (h *MemoryHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	group := app.Group("/memory", authenticate)

	group.Post("/", h.Put)
	group.Get("/", h.List)
	group.Get("/stats", h.Stats)
	group.Post("/gc", h.GC)
	group.Get("/:key", h.Get)
	group.Put("/:key", h.Update)
	group.Delete("/:key", h.Delete)
}

// principal pulls the authenticated context and resolves the user whose
// data this request targets (admins may override with ?target_user=).
func principal(c *fiber.Ctx) (*kernel.AuthContext, kernel.UserID, error) {
	auth, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || auth == nil || !auth.IsValid() {
		return nil, "", iam.ErrUnauthorized()
	}

	owner := *auth.UserID
	if target := c.Query("target_user"); target != "" {
		if auth.Role != kernel.RoleAdmin {
			return nil, "", iam.ErrAccessDenied()
		}
		owner = kernel.UserID(target)
	}
	return auth, owner, nil
}

func (h *MemoryHandlers) Put(c *fiber.Ctx) error {
	auth, owner, err := principal(c)
	if err != nil {
		return err
	}
	if !auth.AtLeast(kernel.RoleUser) {
		return iam.ErrAccessDenied()
	}

	var req memstore.PutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	m, err := h.service.Put(c.Context(), owner, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(m)
}

func (h *MemoryHandlers) Get(c *fiber.Ctx) error {
	_, owner, err := principal(c)
	if err != nil {
		return err
	}

	m, err := h.service.Get(c.Context(), owner, c.Query("agent", "default"), c.Params("key"))
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *MemoryHandlers) List(c *fiber.Ctx) error {
	_, owner, err := principal(c)
	if err != nil {
		return err
	}

	filter := memstore.ListFilter{
		AgentName: c.Query("agent"),
		Scope:     memstore.Scope(c.Query("scope")),
		Kind:      memstore.Kind(c.Query("kind")),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = memstore.NormalizeTags(splitCSV(tags))
	}

	page := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}

	result, err := h.service.List(c.Context(), owner, filter, page)
	if err != nil {
		return err
	}
	return c.JSON(result)
}

func (h *MemoryHandlers) Update(c *fiber.Ctx) error {
	auth, owner, err := principal(c)
	if err != nil {
		return err
	}
	if !auth.AtLeast(kernel.RoleUser) {
		return iam.ErrAccessDenied()
	}

	var patch memstore.UpdateRequest
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	m, err := h.service.Update(c.Context(), owner, c.Query("agent", "default"), c.Params("key"), patch)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *MemoryHandlers) Delete(c *fiber.Ctx) error {
	auth, owner, err := principal(c)
	if err != nil {
		return err
	}
	if !auth.AtLeast(kernel.RoleUser) {
		return iam.ErrAccessDenied()
	}

	if err := h.service.Delete(c.Context(), owner, c.Query("agent", "default"), c.Params("key")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MemoryHandlers) Stats(c *fiber.Ctx) error {
	_, owner, err := principal(c)
	if err != nil {
		return err
	}

	stats, err := h.service.Stats(c.Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

func (h *MemoryHandlers) GC(c *fiber.Ctx) error {
	auth, _, err := principal(c)
	if err != nil {
		return err
	}
	if auth.Role != kernel.RoleAdmin {
		return iam.ErrAccessDenied()
	}

	// An explicit target narrows the sweep to one user; default is all.
	owner := kernel.UserID(c.Query("target_user"))
	deleted, err := h.service.GC(c.Context(), owner)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
