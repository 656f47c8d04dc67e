package embedgateway

import (
	"net/http"

	"github.com/aimemory/platform/pkg/errx"
)

var errorRegistry = errx.NewRegistry("EMBED")

var (
	ErrEmptyInput = errorRegistry.Register(
		"EMPTY_INPUT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Embedding input cannot be empty",
	)

	ErrDimensionMismatch = errorRegistry.Register(
		"DIMENSION_MISMATCH",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Provider returned a vector of unexpected dimension",
	)

	ErrProviderUnavailable = errorRegistry.Register(
		"PROVIDER_UNAVAILABLE",
		errx.TypeUnavailable,
		http.StatusServiceUnavailable,
		"Embedding provider is unavailable",
	)

	ErrRateLimited = errorRegistry.Register(
		"RATE_LIMITED",
		errx.TypeRateLimited,
		http.StatusTooManyRequests,
		"Embedding provider quota exhausted",
	)

	ErrRerankUnsupported = errorRegistry.Register(
		"RERANK_UNSUPPORTED",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Configured provider does not support reranking",
	)

	ErrUnknownProvider = errorRegistry.Register(
		"UNKNOWN_PROVIDER",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Unknown embedding provider",
	)
)
