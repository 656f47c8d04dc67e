// Package oauth2api exposes the authorization server endpoints. The token,
// revoke, and introspect endpoints speak the RFC 6749 wire shape, including
// its error vocabulary, rather than the platform's JSON error envelope.
package oauth2api

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/iam"
	"github.com/aimemory/platform/pkg/iam/oauth2"
	"github.com/aimemory/platform/pkg/iam/oauth2/oauth2srv"
	"github.com/aimemory/platform/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

type OAuth2Handlers struct {
	service *oauth2srv.OAuth2Service
}

func NewOAuth2Handlers(service *oauth2srv.OAuth2Service) *OAuth2Handlers {
	return &OAuth2Handlers{service: service}
}

// RegisterRoutes mounts the endpoints. The authorize endpoint needs an
// authenticated user; the token-family endpoints authenticate the client
// themselves.
func (h *OAuth2Handlers) RegisterRoutes(app *fiber.App, authenticate fiber.Handler) {
	app.Get("/oauth/authorize", authenticate, h.Authorize)
	app.Post("/oauth/token", h.Token)
	app.Post("/oauth/revoke", h.Revoke)
	app.Post("/oauth/introspect", h.Introspect)

	app.Post("/oauth/clients", authenticate, h.RegisterClient)
	app.Get("/oauth/clients", authenticate, h.ListClients)
}

// Authorize issues a code for the logged-in user and redirects back to the
// client.
func (h *OAuth2Handlers) Authorize(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || !authCtx.IsValid() {
		return iam.ErrUnauthorized()
	}

	req := oauth2srv.AuthorizeRequest{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		ResponseType:        c.Query("response_type"),
		Scope:               c.Query("scope"),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.Query("code_challenge_method"),
	}

	code, err := h.service.IssueCode(c.Context(), *authCtx.UserID, req)
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("code", code.Code)
	if req.State != "" {
		q.Set("state", req.State)
	}
	return c.Redirect(req.RedirectURI+"?"+q.Encode(), fiber.StatusFound)
}

// Token is the RFC 6749 token endpoint.
func (h *OAuth2Handlers) Token(c *fiber.Ctx) error {
	req := parseTokenRequest(c)

	resp, err := h.service.Exchange(c.Context(), req)
	if err != nil {
		return oauthError(c, err)
	}

	c.Set("Cache-Control", "no-store")
	return c.JSON(resp)
}

// Revoke is the RFC 7009 revocation endpoint.
func (h *OAuth2Handlers) Revoke(c *fiber.Ctx) error {
	req := parseTokenRequest(c)
	token := c.FormValue("token")

	if err := h.service.Revoke(c.Context(), req, token); err != nil {
		return oauthError(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// Introspect is the RFC 7662 introspection endpoint.
func (h *OAuth2Handlers) Introspect(c *fiber.Ctx) error {
	req := parseTokenRequest(c)
	token := c.FormValue("token")

	result, err := h.service.Introspect(c.Context(), req, token)
	if err != nil {
		return oauthError(c, err)
	}
	return c.JSON(result)
}

// RegisterClient creates a client registration; admin only.
func (h *OAuth2Handlers) RegisterClient(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || authCtx.Role != kernel.RoleAdmin {
		return iam.ErrAccessDenied()
	}

	var req oauth2srv.RegisterClientRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	resp, err := h.service.RegisterClient(c.Context(), authCtx, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// ListClients enumerates registrations; admin only.
func (h *OAuth2Handlers) ListClients(c *fiber.Ctx) error {
	authCtx, ok := c.Locals("auth").(*kernel.AuthContext)
	if !ok || authCtx == nil || authCtx.Role != kernel.RoleAdmin {
		return iam.ErrAccessDenied()
	}

	clients, err := h.service.ListClients(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"clients": clients})
}

// ============================================================================
// Wire helpers
// ============================================================================

// parseTokenRequest reads client credentials from the form body or, for
// client_secret_basic, the Authorization header.
func parseTokenRequest(c *fiber.Ctx) oauth2srv.TokenRequest {
	req := oauth2srv.TokenRequest{
		GrantType:    c.FormValue("grant_type"),
		Code:         c.FormValue("code"),
		RedirectURI:  c.FormValue("redirect_uri"),
		ClientID:     c.FormValue("client_id"),
		ClientSecret: c.FormValue("client_secret"),
		CodeVerifier: c.FormValue("code_verifier"),
		RefreshToken: c.FormValue("refresh_token"),
	}

	if header := c.Get("Authorization"); strings.HasPrefix(header, "Basic ") {
		if raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, "Basic ")); err == nil {
			if id, secret, found := strings.Cut(string(raw), ":"); found {
				req.ClientID = id
				req.ClientSecret = secret
			}
		}
	}

	return req
}

// oauthError maps internal errors to the RFC 6749 error vocabulary.
func oauthError(c *fiber.Ctx, err error) error {
	var e *errx.Error
	if !errx.As(err, &e) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "server_error"})
	}

	var code string
	var status int
	switch e.Code {
	case oauth2.CodeInvalidClient.Code, oauth2.CodeClientNotFound.Code:
		code, status = "invalid_client", fiber.StatusUnauthorized
	case oauth2.CodeInvalidGrant.Code, oauth2.CodePKCEMismatch.Code, oauth2.CodeTokenNotFound.Code:
		code, status = "invalid_grant", fiber.StatusBadRequest
	case oauth2.CodeUnsupportedGrant.Code:
		code, status = "unsupported_grant_type", fiber.StatusBadRequest
	case oauth2.CodePKCERequired.Code, oauth2.CodeInvalidRedirect.Code:
		code, status = "invalid_request", fiber.StatusBadRequest
	default:
		code, status = "invalid_request", e.HTTPStatus
	}

	return c.Status(status).JSON(fiber.Map{"error": code, "error_description": e.Message})
}
