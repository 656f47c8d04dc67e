package identity

import (
	"context"
	"strings"

	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// SessionAuthenticator resolves session cookies and their CSRF tokens.
type SessionAuthenticator interface {
	ResolveSession(ctx context.Context, token string) (*User, error)
	VerifyCSRF(sessionToken, presented string) bool
}

// TokenAuthenticator resolves OAuth2 access tokens issued by this server.
type TokenAuthenticator interface {
	ResolveAccessToken(ctx context.Context, token string) (kernel.UserID, []string, error)
}

// APIKeyAuthenticator resolves presented API keys.
type APIKeyAuthenticator interface {
	ResolveAPIKey(ctx context.Context, key string) (kernel.UserID, []string, error)
}

// UnifiedAuthMiddleware authenticates a request from any supported
// credential, in precedence order: session cookie, then bearer OAuth2
// access token, then bearer API key. The resolved principal is stored in
// fiber locals under "auth".
type UnifiedAuthMiddleware struct {
	sessions   SessionAuthenticator
	tokens     TokenAuthenticator
	apiKeys    APIKeyAuthenticator
	users      UserRepository
	cookieName string
}

func NewUnifiedAuthMiddleware(
	sessions SessionAuthenticator,
	tokens TokenAuthenticator,
	apiKeys APIKeyAuthenticator,
	users UserRepository,
	cookieName string,
) *UnifiedAuthMiddleware {
	return &UnifiedAuthMiddleware{
		sessions:   sessions,
		tokens:     tokens,
		apiKeys:    apiKeys,
		users:      users,
		cookieName: cookieName,
	}
}

// Authenticate validates the request credential and injects the principal.
func (m *UnifiedAuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cookie := c.Cookies(m.cookieName); cookie != "" {
			if authCtx, err := m.fromSession(c, cookie); err == nil {
				c.Locals("auth", authCtx)
				return c.Next()
			}
		}

		if bearer := bearerToken(c); bearer != "" {
			if authCtx := m.fromBearer(c.Context(), bearer); authCtx != nil {
				c.Locals("auth", authCtx)
				return c.Next()
			}
		}

		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": iam.ErrUnauthorized().Error(),
		})
	}
}

// fromSession builds the principal from a session cookie, enforcing the
// CSRF synchronizer token on state-changing methods.
func (m *UnifiedAuthMiddleware) fromSession(c *fiber.Ctx, cookie string) (*kernel.AuthContext, error) {
	user, err := m.sessions.ResolveSession(c.Context(), cookie)
	if err != nil {
		return nil, err
	}

	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
	default:
		if !m.sessions.VerifyCSRF(cookie, c.Get("X-CSRF-Token")) {
			return nil, ErrCSRFMismatch()
		}
	}

	return &kernel.AuthContext{
		UserID: &user.ID,
		Email:  user.Email,
		Name:   user.Name,
		Role:   user.Role,
		Scopes: []string{"*"},
	}, nil
}

// fromBearer tries the token as an OAuth2 access token first, then as an
// API key.
func (m *UnifiedAuthMiddleware) fromBearer(ctx context.Context, bearer string) *kernel.AuthContext {
	if m.tokens != nil {
		if userID, scopes, err := m.tokens.ResolveAccessToken(ctx, bearer); err == nil {
			if authCtx := m.principalFor(ctx, userID, scopes, false); authCtx != nil {
				return authCtx
			}
		}
	}

	if m.apiKeys != nil {
		if userID, scopes, err := m.apiKeys.ResolveAPIKey(ctx, bearer); err == nil {
			if authCtx := m.principalFor(ctx, userID, scopes, true); authCtx != nil {
				return authCtx
			}
		}
	}

	return nil
}

func (m *UnifiedAuthMiddleware) principalFor(ctx context.Context, userID kernel.UserID, scopes []string, isAPIKey bool) *kernel.AuthContext {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		return nil
	}
	if len(scopes) == 0 {
		scopes = []string{"*"}
	}
	return &kernel.AuthContext{
		UserID:   &user.ID,
		Email:    user.Email,
		Name:     user.Name,
		Role:     user.Role,
		Scopes:   scopes,
		IsAPIKey: isAPIKey,
	}
}

// RequireRole rejects principals below the given role.
func (m *UnifiedAuthMiddleware) RequireRole(required kernel.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
		if !ok || authCtx == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": iam.ErrUnauthorized().Error(),
			})
		}
		if !authCtx.AtLeast(required) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": iam.ErrAccessDenied().Error(),
			})
		}
		return c.Next()
	}
}

// RequireAdmin is RequireRole(admin).
func (m *UnifiedAuthMiddleware) RequireAdmin() fiber.Handler {
	return m.RequireRole(kernel.RoleAdmin)
}

func bearerToken(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return ""
	}
	return parts[1]
}
