// Package identityapi exposes login, session, and user management over HTTP.
package identityapi

import (
	"time"

	"github.com/aimemory/platform/pkg/config"
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/iam/identity/identitysrv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type AuthHandlers struct {
	service *identitysrv.IdentityService
	cfg     config.SessionConfig
}

func NewAuthHandlers(service *identitysrv.IdentityService, cfg config.SessionConfig) *AuthHandlers {
	return &AuthHandlers{service: service, cfg: cfg}
}

// RegisterRoutes mounts the auth endpoints. Login and callback are public;
// the rest require a principal.
func (h *AuthHandlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Get("/auth/login", h.Login)
	app.Get("/auth/callback", h.Callback)

	app.Get("/auth/me", authenticate, h.Me)
	app.Get("/auth/csrf", authenticate, h.CSRF)
	app.Post("/auth/logout", authenticate, h.Logout)
	app.Get("/auth/users", authenticate, h.ListUsers)
	app.Put("/auth/users/:id/role", authenticate, h.ChangeRole)
}

// Login starts the IdP redirect.
func (h *AuthHandlers) Login(c *fiber.Ctx) error {
	redirectURL, err := h.service.StartLogin(c.Context())
	if err != nil {
		return err
	}
	return c.Redirect(redirectURL, fiber.StatusFound)
}

// Callback completes the IdP flow and sets the session cookie.
func (h *AuthHandlers) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code or state")
	}

	user, session, err := h.service.HandleCallback(c.Context(), code, state, c.IP(), c.Get("User-Agent"))
	if err != nil {
		return err
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    session.Token,
		Expires:  session.ExpiresAt,
		HTTPOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Domain:   h.cfg.CookieDomain,
		Path:     "/",
	})

	return c.JSON(fiber.Map{
		"user":       user,
		"expires_at": session.ExpiresAt,
	})
}

// Me returns the authenticated principal.
func (h *AuthHandlers) Me(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || !authCtx.IsValid() {
		return iam.ErrUnauthorized()
	}

	user, err := h.service.GetUser(c.Context(), *authCtx.UserID)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// CSRF returns the synchronizer token for the caller's session. Cookie
// flows fetch this once and send it back on every state-changing request.
func (h *AuthHandlers) CSRF(c *fiber.Ctx) error {
	cookie := c.Cookies(h.cfg.CookieName)
	if cookie == "" {
		return iam.ErrUnauthorized()
	}
	return c.JSON(fiber.Map{"csrf_token": h.service.CSRFToken(cookie)})
}

// Logout revokes the session and clears the cookie.
func (h *AuthHandlers) Logout(c *fiber.Ctx) error {
	cookie := c.Cookies(h.cfg.CookieName)
	if cookie != "" {
		if err := h.service.Logout(c.Context(), cookie, c.IP()); err != nil {
			return err
		}
	}

	c.Cookie(&fiber.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})

	return c.JSON(fiber.Map{"logged_out": true})
}

// ListUsers is admin-only.
func (h *AuthHandlers) ListUsers(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || authCtx.Role != kernel.RoleAdmin {
		return iam.ErrAccessDenied()
	}

	page := kernel.PaginationOptions{
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 50),
	}
	users, err := h.service.ListUsers(c.Context(), page)
	if err != nil {
		return err
	}
	return c.JSON(users)
}

// ChangeRole is admin-only and audited.
func (h *AuthHandlers) ChangeRole(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || authCtx.Role != kernel.RoleAdmin {
		return iam.ErrAccessDenied()
	}

	actor, err := h.service.GetUser(c.Context(), *authCtx.UserID)
	if err != nil {
		return err
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	updated, err := h.service.ChangeRole(c.Context(), actor, kernel.UserID(c.Params("id")), kernel.Role(body.Role), c.IP())
	if err != nil {
		return err
	}
	return c.JSON(updated)
}
