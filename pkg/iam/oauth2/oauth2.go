// Package oauth2 is the authorization server's domain: registered clients,
// single-use authorization codes with PKCE, and opaque access/refresh
// tokens with rotation and chain revocation.
package oauth2

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
)

// Client auth methods supported at the token endpoint.
const (
	AuthMethodSecretPost  = "client_secret_post"
	AuthMethodSecretBasic = "client_secret_basic"
	AuthMethodNone        = "none"
)

// PKCE challenge methods.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// Client is a registered third-party application. Public clients carry no
// secret hash and must use PKCE.
type Client struct {
	ClientID                string    `json:"client_id"`
	SecretHash              string    `json:"-"`
	Name                    string    `json:"name"`
	RedirectURIs            []string  `json:"redirect_uris"`
	GrantTypes              []string  `json:"grant_types"`
	ResponseTypes           []string  `json:"response_types"`
	Scope                   string    `json:"scope"`
	TokenEndpointAuthMethod string    `json:"token_endpoint_auth_method"`
	CreatedAt               time.Time `json:"created_at"`
}

// Public reports whether the client authenticates with PKCE only.
func (c *Client) Public() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// AllowsRedirect checks a presented redirect_uri against the registration.
func (c *Client) AllowsRedirect(uri string) bool {
	for _, registered := range c.RedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// AuthCode is a short-lived single-use grant. Consuming it deletes it.
type AuthCode struct {
	Code                string        `json:"-"`
	ClientID            string        `json:"client_id"`
	UserID              kernel.UserID `json:"user_id"`
	RedirectURI         string        `json:"redirect_uri"`
	Scope               string        `json:"scope"`
	CodeChallenge       string        `json:"code_challenge,omitempty"`
	CodeChallengeMethod string        `json:"code_challenge_method,omitempty"`
	AuthTime            time.Time     `json:"auth_time"`
	ExpiresAt           time.Time     `json:"expires_at"`
}

// Expired reports whether the code is past its lifetime.
func (a *AuthCode) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// VerifyPKCE checks a presented verifier against the stored challenge
// under its declared method.
func (a *AuthCode) VerifyPKCE(verifier string) bool {
	switch a.CodeChallengeMethod {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]) == a.CodeChallenge
	case PKCEMethodPlain:
		return verifier == a.CodeChallenge
	case "":
		return a.CodeChallenge == "" // no PKCE on this grant
	default:
		return false
	}
}

// Token is one issued access/refresh pair. Tokens minted through refresh
// rotation share a chain id; revoking the chain kills every descendant.
type Token struct {
	AccessToken      string        `json:"-"`
	RefreshToken     string        `json:"-"`
	ChainID          string        `json:"chain_id"`
	ClientID         string        `json:"client_id"`
	UserID           kernel.UserID `json:"user_id"`
	Scope            string        `json:"scope"`
	IssuedAt         time.Time     `json:"issued_at"`
	ExpiresIn        int           `json:"expires_in"`
	Revoked          bool          `json:"revoked"`
	AccessRevokedAt  *time.Time    `json:"access_revoked_at,omitempty"`
	RefreshRevokedAt *time.Time    `json:"refresh_revoked_at,omitempty"`
}

// AccessValid reports whether the access token is live at t.
func (t *Token) AccessValid(now time.Time) bool {
	if t.Revoked || t.AccessRevokedAt != nil {
		return false
	}
	return now.Before(t.IssuedAt.Add(time.Duration(t.ExpiresIn) * time.Second))
}

// RefreshValid reports whether the refresh token is live.
func (t *Token) RefreshValid() bool {
	return t.RefreshToken != "" && !t.Revoked && t.RefreshRevokedAt == nil
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("OAUTH2")

var (
	CodeClientNotFound   = ErrRegistry.Register("CLIENT_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "OAuth2 client not found")
	CodeInvalidClient    = ErrRegistry.Register("INVALID_CLIENT", errx.TypeAuthorization, http.StatusUnauthorized, "Client authentication failed")
	CodeInvalidGrant     = ErrRegistry.Register("INVALID_GRANT", errx.TypeAuthorization, http.StatusBadRequest, "Authorization grant is invalid, expired, or revoked")
	CodeInvalidRedirect  = ErrRegistry.Register("INVALID_REDIRECT", errx.TypeValidation, http.StatusBadRequest, "redirect_uri is not registered for this client")
	CodePKCERequired     = ErrRegistry.Register("PKCE_REQUIRED", errx.TypeValidation, http.StatusBadRequest, "Public clients must use PKCE")
	CodePKCEMismatch     = ErrRegistry.Register("PKCE_MISMATCH", errx.TypeAuthorization, http.StatusBadRequest, "code_verifier does not match the stored challenge")
	CodeTokenNotFound    = ErrRegistry.Register("TOKEN_NOT_FOUND", errx.TypeAuthorization, http.StatusUnauthorized, "Token is unknown, expired, or revoked")
	CodeUnsupportedGrant = ErrRegistry.Register("UNSUPPORTED_GRANT", errx.TypeValidation, http.StatusBadRequest, "Unsupported grant_type")
)

func ErrClientNotFound() *errx.Error   { return ErrRegistry.New(CodeClientNotFound) }
func ErrInvalidClient() *errx.Error    { return ErrRegistry.New(CodeInvalidClient) }
func ErrInvalidGrant() *errx.Error     { return ErrRegistry.New(CodeInvalidGrant) }
func ErrInvalidRedirect() *errx.Error  { return ErrRegistry.New(CodeInvalidRedirect) }
func ErrPKCERequired() *errx.Error     { return ErrRegistry.New(CodePKCERequired) }
func ErrPKCEMismatch() *errx.Error     { return ErrRegistry.New(CodePKCEMismatch) }
func ErrTokenNotFound() *errx.Error    { return ErrRegistry.New(CodeTokenNotFound) }
func ErrUnsupportedGrant() *errx.Error { return ErrRegistry.New(CodeUnsupportedGrant) }
