package embedazure

import (
	"net/http"
	"strings"

	"github.com/aimemory/platform/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("AZURE_EMBED")

	ErrAPIRequest = errorRegistry.Register(
		"API_REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Failed to make request to Azure OpenAI API",
	)

	ErrAPIUnauthorized = errorRegistry.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"Invalid or missing Azure OpenAI credentials",
	)

	ErrAPIRateLimit = errorRegistry.Register(
		"API_RATE_LIMIT",
		errx.TypeRateLimited,
		http.StatusTooManyRequests,
		"Azure OpenAI rate limit exceeded",
	)

	ErrDeploymentNotFound = errorRegistry.Register(
		"DEPLOYMENT_NOT_FOUND",
		errx.TypeValidation,
		http.StatusNotFound,
		"Azure OpenAI deployment not found",
	)

	ErrEmptyEmbeddingInput = errorRegistry.Register(
		"EMPTY_EMBEDDING_INPUT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Embedding input cannot be empty",
	)

	ErrNoEmbeddingReturned = errorRegistry.Register(
		"NO_EMBEDDING_RETURNED",
		errx.TypeExternal,
		http.StatusInternalServerError,
		"No embedding returned in API response",
	)

	ErrMissingEndpoint = errorRegistry.Register(
		"MISSING_ENDPOINT",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Azure OpenAI endpoint not configured",
	)
)

// ParseAzureError maps an SDK error onto the registry by message content.
func ParseAzureError(err error) *errx.Error {
	if err == nil {
		return nil
	}

	var customErr *errx.Error
	if errx.As(err, &customErr) {
		return customErr
	}

	errLower := strings.ToLower(err.Error())

	var baseErr *errx.ErrorCode
	switch {
	case strings.Contains(errLower, "unauthorized"), strings.Contains(errLower, "401"):
		baseErr = ErrAPIUnauthorized
	case strings.Contains(errLower, "rate limit"), strings.Contains(errLower, "429"):
		baseErr = ErrAPIRateLimit
	case strings.Contains(errLower, "deployment") && strings.Contains(errLower, "not found"):
		baseErr = ErrDeploymentNotFound
	default:
		baseErr = ErrAPIRequest
	}

	return errorRegistry.NewWithCause(baseErr, err)
}
