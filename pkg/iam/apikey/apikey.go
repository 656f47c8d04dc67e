// Package apikey owns API key credentials: generation, hashing, and the
// validity rules. The plaintext key exists only in the create response;
// storage and lookup work exclusively with its hash.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
)

var (
	keyPrefix   = "kg_"
	tokenLength = 32
)

// InitAPIKeyConfig sets the generation parameters once at startup.
func InitAPIKeyConfig(prefix string, length int) {
	if prefix != "" {
		keyPrefix = prefix
	}
	if length > 0 {
		tokenLength = length
	}
}

// APIKey is one stored credential. KeyHash is the SHA-256 of the plaintext;
// the plaintext itself is never persisted or logged.
type APIKey struct {
	ID          string        `json:"id"`
	KeyHash     string        `json:"-"`
	KeyPrefix   string        `json:"key_prefix"`
	OwnerUserID kernel.UserID `json:"owner_user_id"`
	Name        string        `json:"name"`
	Scopes      []string      `json:"scopes,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastUsedAt  *time.Time    `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty"`
}

// IsValid reports whether the key may authenticate right now.
func (k *APIKey) IsValid() bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !time.Now().UTC().Before(*k.ExpiresAt) {
		return false
	}
	return true
}

// IsExpired reports whether the key is past its expiry.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && !time.Now().UTC().Before(*k.ExpiresAt)
}

// Revoke stamps the key revoked; revocation is permanent.
func (k *APIKey) Revoke() {
	now := time.Now().UTC()
	k.RevokedAt = &now
	k.UpdatedAt = now
}

// GeneratedKey carries a fresh plaintext key and its display prefix.
type GeneratedKey struct {
	Key       string
	KeyPrefix string
}

// GenerateAPIKey mints a new random key "{prefix}{hex}". The returned
// plaintext is shown to the caller exactly once.
func GenerateAPIKey() (*GeneratedKey, error) {
	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf); err != nil {
		return nil, errx.Internal("failed to generate API key")
	}
	key := keyPrefix + hex.EncodeToString(buf)
	return &GeneratedKey{
		Key:       key,
		KeyPrefix: key[:len(keyPrefix)+6],
	}, nil
}

// HashAPIKey returns the storable SHA-256 fingerprint of a plaintext key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKeyFormat cheaply rejects strings that cannot be our keys
// before any storage lookup happens.
func ValidateAPIKeyFormat(key string) bool {
	return strings.HasPrefix(key, keyPrefix) && len(key) == len(keyPrefix)+tokenLength*2
}

// ============================================================================
// Requests / responses
// ============================================================================

// CreateAPIKeyRequest describes a new key.
type CreateAPIKeyRequest struct {
	Name        string   `json:"name"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresDays *int     `json:"expires_days,omitempty"`
}

// CreateAPIKeyResponse carries the one-time plaintext.
type CreateAPIKeyResponse struct {
	APIKey    APIKey `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Message   string `json:"message"`
}

// APIKeyListResponse wraps a listing.
type APIKeyListResponse struct {
	APIKeys []APIKey `json:"api_keys"`
	Total   int      `json:"total"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("APIKEY")

var (
	CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "API key not found")
	CodeInvalid  = ErrRegistry.Register("INVALID", errx.TypeAuthorization, http.StatusUnauthorized, "API key is invalid")
	CodeExpired  = ErrRegistry.Register("EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has expired")
	CodeRevoked  = ErrRegistry.Register("REVOKED", errx.TypeAuthorization, http.StatusUnauthorized, "API key has been revoked")
	CodeBadName  = ErrRegistry.Register("BAD_NAME", errx.TypeValidation, http.StatusBadRequest, "API key name is required")
)

func ErrAPIKeyNotFound() *errx.Error { return ErrRegistry.New(CodeNotFound) }
func ErrAPIKeyInvalid() *errx.Error  { return ErrRegistry.New(CodeInvalid) }
func ErrAPIKeyExpired() *errx.Error  { return ErrRegistry.New(CodeExpired) }
func ErrAPIKeyRevoked() *errx.Error  { return ErrRegistry.New(CodeRevoked) }
func ErrAPIKeyBadName() *errx.Error  { return ErrRegistry.New(CodeBadName) }
