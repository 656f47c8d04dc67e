package memstore

import (
	"net/http"

	"github.com/aimemory/platform/pkg/errx"
)

var ErrRegistry = errx.NewRegistry("MEMORY")

var (
	CodeNotFound = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Memory not found")
	CodeKeyTooLong = ErrRegistry.Register("KEY_TOO_LONG", errx.TypeValidation, http.StatusBadRequest, "Memory key exceeds maximum length")
	CodeValueTooLarge = ErrRegistry.Register("VALUE_TOO_LARGE", errx.TypeValidation, http.StatusBadRequest, "Memory value exceeds maximum size")
	CodeEmptyKey = ErrRegistry.Register("EMPTY_KEY", errx.TypeValidation, http.StatusBadRequest, "Memory key cannot be empty")
	CodeInvalidScope = ErrRegistry.Register("INVALID_SCOPE", errx.TypeValidation, http.StatusBadRequest, "Scope must be working or persistent")
	CodeInvalidKind = ErrRegistry.Register("INVALID_KIND", errx.TypeValidation, http.StatusBadRequest, "Kind must be normal or coding")
	CodeUnknownOwner = ErrRegistry.Register("UNKNOWN_OWNER", errx.TypeValidation, http.StatusBadRequest, "Memory owner does not exist")
)

func ErrNotFound() *errx.Error      { return ErrRegistry.New(CodeNotFound) }
func ErrKeyTooLong() *errx.Error    { return ErrRegistry.New(CodeKeyTooLong) }
func ErrValueTooLarge() *errx.Error { return ErrRegistry.New(CodeValueTooLarge) }
func ErrEmptyKey() *errx.Error      { return ErrRegistry.New(CodeEmptyKey) }
func ErrInvalidScope() *errx.Error  { return ErrRegistry.New(CodeInvalidScope) }
func ErrInvalidKind() *errx.Error   { return ErrRegistry.New(CodeInvalidKind) }
func ErrUnknownOwner() *errx.Error  { return ErrRegistry.New(CodeUnknownOwner) }
