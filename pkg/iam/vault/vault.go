// Package vault stores third-party provider credentials encrypted at rest.
// Plaintext exists only in memory at the moment of use and never reaches
// logs or API responses; listing returns names and tags only.
package vault

import (
	"net/http"
	"time"

	"github.com/aimemory/platform/pkg/errx"
	"github.com/aimemory/platform/pkg/kernel"
)

// Secret is one stored credential. EncryptedValue is AEAD ciphertext with
// the nonce prepended.
type Secret struct {
	KeyName        string        `json:"key_name"`
	ProviderTag    string        `json:"provider_tag"`
	EncryptedValue []byte        `json:"-"`
	UpdatedBy      kernel.UserID `json:"updated_by"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("VAULT")

var (
	CodeNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Secret not found")
	CodeBadKey        = ErrRegistry.Register("BAD_KEY", errx.TypeValidation, http.StatusInternalServerError, "Vault key must be exactly 32 bytes")
	CodeDecryptFailed = ErrRegistry.Register("DECRYPT_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to decrypt secret")
	CodeEmptyName     = ErrRegistry.Register("EMPTY_NAME", errx.TypeValidation, http.StatusBadRequest, "Secret key_name is required")
)

func ErrSecretNotFound() *errx.Error { return ErrRegistry.New(CodeNotFound) }
func ErrBadKey() *errx.Error         { return ErrRegistry.New(CodeBadKey) }
func ErrDecryptFailed() *errx.Error  { return ErrRegistry.New(CodeDecryptFailed) }
func ErrEmptyName() *errx.Error      { return ErrRegistry.New(CodeEmptyName) }
