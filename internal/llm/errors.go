// Package llm provides the text-generation backends and the error taxonomy
// used to decide fallback and retry behaviour.
package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes backend errors for fallback, retry and user messaging decisions.
type ErrorKind string

const (
	KindUnknown           ErrorKind = "unknown"
	KindConfiguration     ErrorKind = "configuration"
	KindOverload          ErrorKind = "overload"
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindNetwork           ErrorKind = "network"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is a classified error. Message is user-facing; Err keeps the cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage returns the text shown to the reader.
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return FormatErrorForUser(e.Kind)
}

// NewError builds a classified error. An empty message uses the kind's default.
func NewError(kind ErrorKind, message string, err error) *Error {
	if message == "" {
		message = FormatErrorForUser(kind)
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// ConfigError is shorthand for a fatal configuration error surfaced verbatim.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// Classify wraps err in an *Error, keeping an existing classification.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(ClassifyError(err.Error()), "", err)
}

// KindOf returns the kind of a classified error, or classifies it by message.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ClassifyError(err.Error())
}

// ClassifyError determines the error kind from an error message.
// Returns KindUnknown if the message doesn't match any known pattern.
func ClassifyError(msg string) ErrorKind {
	if msg == "" {
		return KindUnknown
	}
	// quota before overload: Gemini quota errors can mention capacity
	if IsQuotaMessage(msg) {
		return KindQuotaExceeded
	}
	if IsOverloadedMessage(msg) {
		return KindOverload
	}
	if IsAuthMessage(msg) {
		return KindConfiguration
	}
	if IsNetworkMessage(msg) {
		return KindNetwork
	}
	return KindUnknown
}

// FormatErrorForUser returns a user-friendly error message for a kind.
func FormatErrorForUser(kind ErrorKind) string {
	switch kind {
	case KindConfiguration:
		return "The assistant is not configured correctly. Check the API key."
	case KindOverload:
		return "The AI service is temporarily overloaded. Please try again in a moment."
	case KindQuotaExceeded:
		return "The AI service quota has been used up. Please try again later."
	case KindNetwork:
		return "Could not reach the AI service. Check your connection and try again."
	case KindMalformedResponse:
		return "The AI service returned an unexpected response."
	default:
		return "Something went wrong while generating a response."
	}
}

// IsQuotaMessage checks if a message indicates rate limiting or an exhausted quota.
func IsQuotaMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 429, 402
	if strings.Contains(lower, "429") || strings.Contains(lower, "402") {
		return true
	}

	if strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "requests per minute") ||
		strings.Contains(lower, "requests per day") ||
		strings.Contains(lower, "payment required") ||
		strings.Contains(lower, "billing") {
		return true
	}

	return false
}

// IsOverloadedMessage checks if a message indicates the service is overloaded.
func IsOverloadedMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 503, Anthropic 529
	if strings.Contains(lower, "503") && (strings.Contains(lower, "service") || strings.Contains(lower, "unavailable")) {
		return true
	}
	if strings.Contains(lower, "529") {
		return true
	}

	if strings.Contains(lower, "overloaded_error") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "service unavailable") ||
		strings.Contains(lower, "\"unavailable\"") ||
		strings.Contains(lower, "server is busy") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "capacity") {
		return true
	}

	return false
}

// IsAuthMessage checks if a message indicates a missing or rejected credential.
func IsAuthMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 401, 403
	if strings.Contains(lower, "401") || strings.Contains(lower, "403") {
		return true
	}

	if strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid_api_key") ||
		strings.Contains(lower, "api key not valid") ||
		strings.Contains(lower, "api_key_invalid") ||
		strings.Contains(lower, "incorrect api key") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "permission_denied") ||
		strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "no api key") ||
		strings.Contains(lower, "api key not found") {
		return true
	}

	return false
}

// IsNetworkMessage checks if a message indicates a transport failure or timeout.
func IsNetworkMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	// HTTP 408, 504
	if strings.Contains(lower, "408") || strings.Contains(lower, "504") {
		return true
	}

	if strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "network is unreachable") ||
		strings.Contains(lower, "tls handshake") ||
		strings.Contains(lower, "unexpected eof") ||
		strings.HasSuffix(lower, ": eof") ||
		strings.Contains(lower, "broken pipe") ||
		strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded") {
		return true
	}

	return false
}
