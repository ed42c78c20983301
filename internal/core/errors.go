package core

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType classifies a dispatch error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates bad caller input; never retried.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	// ErrorTypeInvalidCredential indicates an unusable credential at adapter
	// construction; fatal for that adapter only.
	ErrorTypeInvalidCredential ErrorType = "invalid_credential"
	// ErrorTypeServiceUnavailable indicates an adapter reporting itself down.
	// A routing signal, not a caller-facing failure unless terminal.
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
	// ErrorTypeRateLimited indicates a refused quota admission. Also a
	// routing signal.
	ErrorTypeRateLimited ErrorType = "rate_limited"
	// ErrorTypeProvider indicates a failed remote call.
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeProviderNotFound indicates a caller naming an unconfigured
	// provider; a programming error, surfaced immediately.
	ErrorTypeProviderNotFound ErrorType = "provider_not_found"
	// ErrorTypeAllProvidersExhausted is terminal: every candidate was
	// unavailable, incompatible, rate-limited, or failed.
	ErrorTypeAllProvidersExhausted ErrorType = "all_providers_exhausted"
)

// DispatchError is the error type for all dispatch-layer failures.
type DispatchError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider,omitempty"`
	Code       string    `json:"code,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	StatusCode int       `json:"-"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status the error maps to.
func (e *DispatchError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeInvalidCredential:
		return http.StatusUnauthorized
	case ErrorTypeRateLimited:
		return http.StatusTooManyRequests
	case ErrorTypeProviderNotFound:
		return http.StatusNotFound
	case ErrorTypeServiceUnavailable, ErrorTypeAllProvidersExhausted:
		return http.StatusServiceUnavailable
	case ErrorTypeProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON renders the error in the shape the HTTP surface returns to clients.
func (e *DispatchError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// ToResultError converts the error into the structured form attached to a
// failed GenerationResult.
func (e *DispatchError) ToResultError() *ResultError {
	return &ResultError{
		Message:   e.Message,
		Code:      e.Code,
		Retryable: e.Retryable,
	}
}

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *DispatchError {
	return &DispatchError{Type: ErrorTypeInvalidRequest, Message: message}
}

// NewInvalidCredentialError creates a construction-time credential error.
func NewInvalidCredentialError(provider, message string) *DispatchError {
	return &DispatchError{Type: ErrorTypeInvalidCredential, Provider: provider, Message: message}
}

// NewServiceUnavailableError creates an adapter-down routing signal.
func NewServiceUnavailableError(provider string) *DispatchError {
	return &DispatchError{
		Type:     ErrorTypeServiceUnavailable,
		Provider: provider,
		Message:  "provider is not available",
		Code:     "SERVICE_UNAVAILABLE",
	}
}

// NewRateLimitedError creates a quota refusal routing signal.
func NewRateLimitedError(provider, userID string) *DispatchError {
	return &DispatchError{
		Type:     ErrorTypeRateLimited,
		Provider: provider,
		Message:  fmt.Sprintf("rate limit exceeded for user %s", userID),
		Code:     "RATE_LIMITED",
	}
}

// NewProviderError creates a remote call failure. retryable signals whether
// the same provider could plausibly succeed on a later attempt.
func NewProviderError(provider, message string, retryable bool, err error) *DispatchError {
	return &DispatchError{
		Type:      ErrorTypeProvider,
		Provider:  provider,
		Message:   message,
		Retryable: retryable,
		Err:       err,
	}
}

// NewProviderNotFoundError creates an unconfigured provider error.
func NewProviderNotFoundError(provider string) *DispatchError {
	return &DispatchError{
		Type:     ErrorTypeProviderNotFound,
		Provider: provider,
		Message:  fmt.Sprintf("provider %q is not configured", provider),
	}
}

// NewAllProvidersExhaustedError creates the terminal dispatch failure.
func NewAllProvidersExhaustedError(attempted int) *DispatchError {
	return &DispatchError{
		Type:    ErrorTypeAllProvidersExhausted,
		Message: fmt.Sprintf("all %d candidate providers were unavailable, incompatible, rate limited, or failed", attempted),
	}
}

// ParseProviderError interprets a non-2xx provider response body and returns
// a DispatchError with the retryable flag set from the status class:
// 429 and 5xx are retryable, other 4xx are not.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *DispatchError {
	var errorResponse struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResponse); err == nil {
		switch {
		case errorResponse.Error.Message != "":
			message = errorResponse.Error.Message
		case errorResponse.Message != "":
			message = errorResponse.Message
		case errorResponse.Detail != "":
			message = errorResponse.Detail
		}
	}

	retryable := statusCode == http.StatusTooManyRequests || statusCode >= 500
	e := NewProviderError(provider, message, retryable, originalErr)
	e.StatusCode = statusCode
	e.Code = errorResponse.Error.Code
	if e.Code == "" {
		e.Code = fmt.Sprintf("HTTP_%d", statusCode)
	}
	return e
}
