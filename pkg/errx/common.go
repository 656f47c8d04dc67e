package errx

// Common error constructors for convenience

// Internal creates an internal server error
func Internal(message string) *Error {
	return New(message, TypeInternal)
}

// Validation creates a validation error
func Validation(message string) *Error {
	return New(message, TypeValidation)
}

// NotFound creates a not found error
func NotFound(message string) *Error {
	return New(message, TypeNotFound)
}

// Unauthorized creates an authorization error
func Unauthorized(message string) *Error {
	return New(message, TypeAuthorization)
}

// Conflict creates a conflict error
func Conflict(message string) *Error {
	return New(message, TypeConflict)
}

// Business creates a business logic error
func Business(message string) *Error {
	return New(message, TypeBusiness)
}

// External creates an external service error
func External(message string) *Error {
	return New(message, TypeExternal)
}

// Forbidden creates a forbidden error (valid credential, insufficient role).
func Forbidden(message string) *Error {
	return New(message, TypeForbidden)
}

// RateLimited creates a rate-limited error.
func RateLimited(message string) *Error {
	return New(message, TypeRateLimited)
}

// Timeout creates a deadline-exceeded error.
func Timeout(message string) *Error {
	return New(message, TypeTimeout)
}

// Unavailable creates a dependency-unavailable error.
func Unavailable(message string) *Error {
	return New(message, TypeUnavailable)
}
