package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies provider failures for retry and fallback decisions.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient failures (5xx, EOF, connection reset).
	ErrorTypeTransient
	// ErrorTypeTimeout represents a request that hit its QoS deadline.
	ErrorTypeTimeout
	// ErrorTypeEmptyResponse represents HTTP 200 with no usable content.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication failures (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed requests (too long, policy violation).
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is the default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the wire name of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Retryable reports whether errors of this type may be retried.
func (et ErrorType) Retryable() bool {
	switch et {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeTimeout, ErrorTypeEmptyResponse:
		return true
	default:
		return false
	}
}

// Error is a classified provider failure.
type Error struct {
	Type    ErrorType
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %s", e.Type, e.Message)
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string) *Error {
	return &Error{Type: errType, Message: message}
}

// Classify maps an arbitrary provider error to an ErrorType. Already
// classified errors pass through; context deadline becomes timeout.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is not a provider failure; surface as non-retryable.
		return NewError(ErrorTypeBadPrompt, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate") || strings.Contains(msg, "quota"):
		return NewError(ErrorTypeRateLimit, err.Error())
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return NewError(ErrorTypeAuth, err.Error())
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return NewError(ErrorTypeTimeout, err.Error())
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "overloaded") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "eof"):
		return NewError(ErrorTypeTransient, err.Error())
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid request") ||
		strings.Contains(msg, "too long"):
		return NewError(ErrorTypeBadPrompt, err.Error())
	default:
		return NewError(ErrorTypeUnknown, err.Error())
	}
}

// ShouldRetry reports whether the error warrants another attempt.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var breakerErr *BreakerError
	if errors.As(err, &breakerErr) {
		// The breaker handles its own recovery; retrying would defeat the cooldown.
		return false
	}
	return Classify(err).Type.Retryable()
}
