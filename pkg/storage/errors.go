package storage

import (
	"net/http"

	"github.com/aimemory/platform/pkg/errx"
)

// ErrRegistry is the storage adapter's own error registry.
var ErrRegistry = errx.NewRegistry("STORAGE")

var (
	CodeNotFound    = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "record not found")
	CodeConflict    = ErrRegistry.Register("CONFLICT", errx.TypeConflict, http.StatusConflict, "unique constraint violation")
	CodeRetryable   = ErrRegistry.Register("RETRYABLE", errx.TypeTimeout, http.StatusServiceUnavailable, "transient storage error, retry")
	CodeUnavailable = ErrRegistry.Register("UNAVAILABLE", errx.TypeUnavailable, http.StatusServiceUnavailable, "storage backend unavailable")
	CodePermission  = ErrRegistry.Register("PERMISSION", errx.TypeForbidden, http.StatusForbidden, "storage permission denied")
)

func ErrNotFound() *errx.Error    { return ErrRegistry.New(CodeNotFound) }
func ErrConflict() *errx.Error    { return ErrRegistry.New(CodeConflict) }
func ErrRetryable() *errx.Error   { return ErrRegistry.New(CodeRetryable) }
func ErrUnavailable() *errx.Error { return ErrRegistry.New(CodeUnavailable) }
func ErrPermission() *errx.Error  { return ErrRegistry.New(CodePermission) }
