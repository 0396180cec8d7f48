package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is. Every APIError wraps exactly one of them.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")

	// ErrConfigNotFound means the store ID has no entry in the store registry.
	ErrConfigNotFound = errors.New("store config not found")
)

// Error codes carried in APIError.Code and in JSON error bodies.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeStoreNotConfigured = "STORE_NOT_CONFIGURED"
)

// APIError is an error with a stable code and the HTTP status the webhook
// and MCP surfaces report for it. Message is safe to show callers; Err is not.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

func newAPIError(code string, status int, err error, format string, args ...any) *APIError {
	return &APIError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: status,
		Err:        err,
	}
}

// NewNotFoundError reports a missing ledger record or other resource.
func NewNotFoundError(resource string) *APIError {
	return newAPIError(CodeNotFound, http.StatusNotFound, ErrNotFound, "%s not found", resource)
}

// NewValidationError reports a malformed or unusable input field.
func NewValidationError(field, reason string) *APIError {
	return newAPIError(CodeValidation, http.StatusBadRequest, ErrInvalidRequest, "invalid %s: %s", field, reason)
}

// NewUnauthorizedError reports rejected store credentials.
func NewUnauthorizedError(reason string) *APIError {
	return newAPIError(CodeUnauthorized, http.StatusUnauthorized, ErrUnauthorized, "%s", reason)
}

// NewUpstreamError reports a failed platform call. The cause stays reachable
// through errors.Is alongside ErrUpstreamError.
func NewUpstreamError(service string, err error) *APIError {
	cause := ErrUpstreamError
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrUpstreamError, err)
	}
	return newAPIError(CodeUpstream, http.StatusBadGateway, cause, "%s request failed", service)
}

// NewRateLimitError reports a 429 from the platform.
func NewRateLimitError(service string) *APIError {
	return newAPIError(CodeRateLimited, http.StatusTooManyRequests, ErrRateLimited,
		"%s rate limit exceeded, please retry later", service)
}

// NewInternalError hides err behind a generic message.
func NewInternalError(err error) *APIError {
	return newAPIError(CodeInternal, http.StatusInternalServerError, err, "an internal error occurred")
}

// NewConfigNotFoundError reports a store ID missing from the registry.
func NewConfigNotFoundError(storeID string) *APIError {
	return newAPIError(CodeStoreNotConfigured, http.StatusNotFound, ErrConfigNotFound,
		"store %s is not configured", storeID)
}

// AsAPIError returns the APIError in err's chain, or an internal error
// wrapping err when there is none.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewInternalError(err)
}
