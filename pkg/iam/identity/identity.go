// Package identity owns users and sessions: login against the external
// identity provider, user provisioning with the first-user-admin bootstrap,
// and the opaque session tokens behind the cookie flow.
package identity

import (
	"net/http"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
)

// User is a provisioned account. The id is the stable subject the identity
// provider asserts, so repeated logins map to the same user.
type User struct {
	ID          kernel.UserID `json:"id"`
	Email       string        `json:"email"`
	Name        string        `json:"name"`
	AvatarURL   string        `json:"avatar_url,omitempty"`
	Role        kernel.Role   `json:"role"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastLoginAt time.Time     `json:"last_login_at"`
}

// Session is one server-side login. The token is opaque and high-entropy;
// the client only ever holds it inside an HTTP-only cookie.
type Session struct {
	Token     string        `json:"-"`
	UserID    kernel.UserID `json:"user_id"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
	RevokedAt *time.Time    `json:"revoked_at,omitempty"`
	IPAddress string        `json:"ip_address,omitempty"`
	UserAgent string        `json:"user_agent,omitempty"`
}

// Active reports whether the session is usable at t.
func (s *Session) Active(t time.Time) bool {
	return s.RevokedAt == nil && t.Before(s.ExpiresAt)
}

// IdentityClaims is the validated identity the IdP asserted.
type IdentityClaims struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	Nonce     string
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IDENTITY")

var (
	CodeUserNotFound    = ErrRegistry.Register("USER_NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "User not found")
	CodeSessionInvalid  = ErrRegistry.Register("SESSION_INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "Session is invalid, expired, or revoked")
	CodeStateMismatch   = ErrRegistry.Register("STATE_MISMATCH", errx.TypeAuthorization, http.StatusUnauthorized, "OAuth state parameter does not match")
	CodeExchangeFailed  = ErrRegistry.Register("EXCHANGE_FAILED", errx.TypeExternal, http.StatusBadGateway, "Failed to exchange authorization code with identity provider")
	CodeIDTokenInvalid  = ErrRegistry.Register("ID_TOKEN_INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "Identity token failed validation")
	CodeNonceMismatch   = ErrRegistry.Register("NONCE_MISMATCH", errx.TypeAuthorization, http.StatusUnauthorized, "Identity token nonce does not match")
	CodeInvalidRole     = ErrRegistry.Register("INVALID_ROLE", errx.TypeValidation, http.StatusBadRequest, "Unknown role")
	CodeSelfDemotion    = ErrRegistry.Register("SELF_DEMOTION", errx.TypeValidation, http.StatusBadRequest, "Admins cannot change their own role")
	CodeCSRFMismatch    = ErrRegistry.Register("CSRF_MISMATCH", errx.TypeAuthorization, http.StatusForbidden, "CSRF token missing or invalid")
)

func ErrUserNotFound() *errx.Error   { return ErrRegistry.New(CodeUserNotFound) }
func ErrSessionInvalid() *errx.Error { return ErrRegistry.New(CodeSessionInvalid) }
func ErrStateMismatch() *errx.Error  { return ErrRegistry.New(CodeStateMismatch) }
func ErrExchangeFailed() *errx.Error { return ErrRegistry.New(CodeExchangeFailed) }
func ErrIDTokenInvalid() *errx.Error { return ErrRegistry.New(CodeIDTokenInvalid) }
func ErrNonceMismatch() *errx.Error  { return ErrRegistry.New(CodeNonceMismatch) }
func ErrInvalidRole() *errx.Error    { return ErrRegistry.New(CodeInvalidRole) }
func ErrSelfDemotion() *errx.Error   { return ErrRegistry.New(CodeSelfDemotion) }
func ErrCSRFMismatch() *errx.Error   { return ErrRegistry.New(CodeCSRFMismatch) }
