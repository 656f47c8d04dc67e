package embedbedrock

import (
	"net/http"
	"strings"

	"github.com/aimemory/platform/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("BEDROCK_EMBED")

	ErrAPIRequest = errorRegistry.Register(
		"API_REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Failed to invoke Bedrock model",
	)

	ErrAccessDenied = errorRegistry.Register(
		"ACCESS_DENIED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"AWS credentials rejected or model access not granted",
	)

	ErrThrottled = errorRegistry.Register(
		"THROTTLED",
		errx.TypeRateLimited,
		http.StatusTooManyRequests,
		"Bedrock request throttled",
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
		"No embedding returned in model response",
	)

	ErrRequestEncoding = errorRegistry.Register(
		"REQUEST_ENCODING_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Failed to encode model request body",
	)

	ErrResponseDecoding = errorRegistry.Register(
		"RESPONSE_DECODING_FAILED",
		errx.TypeExternal,
		http.StatusInternalServerError,
		"Failed to decode model response body",
	)
)

// ParseBedrockError maps an SDK error onto the registry by message content.
func ParseBedrockError(err error) *errx.Error {
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
	case strings.Contains(errLower, "accessdenied"), strings.Contains(errLower, "unauthorized"):
		baseErr = ErrAccessDenied
	case strings.Contains(errLower, "throttl"), strings.Contains(errLower, "toomanyrequests"):
		baseErr = ErrThrottled
	default:
		baseErr = ErrAPIRequest
	}

	return errorRegistry.NewWithCause(baseErr, err)
}
