// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package apperr defines the centralized error handling framework for the gateway.

It provides a rich error type that bridges the gap between low-level domain or
storage errors and high-level HTTP responses.

Architecture:

  - AppError: A struct containing machine-readable ErrorCode and user-friendly messages.
  - Headers: Response-shaping fields (Retry-After, WWW-Authenticate) carried on the error.
  - Mapping: Explicit mapping from AppError to standard HTTP Status Codes.

Every error that leaves the service layer should be wrapped as an [AppError] to ensure
consistent API responses.
*/
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the canonical error type for the gateway API.
//
// It carries an HTTP status code, a machine-readable code, a client-safe
// message, and optional response-header metadata.
//
// # Security
//
// The Cause field is for server-side logging only and is never sent to clients
// to avoid leaking internal implementation details (e.g., SQL queries).
type AppError struct {
	// Code is a machine-readable error identifier (e.g. "UNAUTHORIZED", "RATE_LIMITED").
	Code string `json:"code"`
	// Message is a human-readable description safe to return to the client.
	Message string `json:"error"`
	// HTTPStatus is the HTTP response status code.
	HTTPStatus int `json:"-"`
	// Cause is the underlying error, used for server-side logging only.
	Cause error `json:"-"`
	// RetryAfterSeconds, when positive, is emitted as a Retry-After header.
	RetryAfterSeconds int `json:"-"`
	// ChallengeScheme, when set, is emitted as a WWW-Authenticate header and
	// marks the error as a retryable authentication challenge rather than a
	// terminal failure.
	ChallengeScheme string `json:"-"`
}

// Error implements the error interface. It returns the client-safe message.
func (e *AppError) Error() string { return e.Message }

// Unwrap allows [errors.Is] and [errors.As] to traverse the cause chain.
func (e *AppError) Unwrap() error { return e.Cause }

// Retryable reports whether the error is an authentication challenge the
// client is expected to answer (for example by re-prompting for Basic
// credentials) instead of a terminal failure.
func (e *AppError) Retryable() bool { return e.ChallengeScheme != "" }

// # Client Errors (4xx)

// BadRequest creates a 400 [AppError] for malformed or ambiguous parameters.
func BadRequest(msg string) *AppError {
	return &AppError{
		Code:       "BAD_REQUEST",
		Message:    msg,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Unauthorized creates a 401 [AppError].
func Unauthorized(msg string) *AppError {
	return &AppError{
		Code:       "UNAUTHORIZED",
		Message:    msg,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Challenge creates a retryable 401 [AppError] that instructs the client to
// authenticate with the given scheme via a WWW-Authenticate header.
func Challenge(scheme string) *AppError {
	return &AppError{
		Code:            "UNAUTHORIZED",
		Message:         "Authentication required",
		HTTPStatus:      http.StatusUnauthorized,
		ChallengeScheme: scheme,
	}
}

// Forbidden creates a 403 [AppError].
func Forbidden(msg string) *AppError {
	return &AppError{
		Code:       "FORBIDDEN",
		Message:    msg,
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound creates a 404 [AppError] for a named resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    resource + " not found",
		HTTPStatus: http.StatusNotFound,
	}
}

// RateLimited creates a 429 [AppError] carrying a Retry-After hint.
//
// The wait duration is rounded up to whole seconds with a minimum of one
// second, so the header is never zero even for sub-second block remainders.
func RateLimited(wait time.Duration) *AppError {
	seconds := int((wait + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &AppError{
		Code:              "RATE_LIMITED",
		Message:           fmt.Sprintf("Too many requests. Try again in %ds.", seconds),
		HTTPStatus:        http.StatusTooManyRequests,
		RetryAfterSeconds: seconds,
	}
}

// # Server Errors (5xx)

// Internal creates a 500 [AppError] wrapping an unexpected server-side error.
// The cause is stored for logging but is never sent to the client.
func Internal(cause error) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// ServiceUnavailable creates a 503 [AppError].
func ServiceUnavailable(msg string) *AppError {
	return &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    msg,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// # Helpers

// IsAppError reports whether err (or any error in its chain) is an [*AppError].
func IsAppError(err error) bool {
	var ae *AppError
	return errors.As(err, &ae)
}

// As extracts the [*AppError] from err's chain. It returns nil if not found.
func As(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return nil
}
