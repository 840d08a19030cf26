// Package apperr defines the small error taxonomy shared by the tutor
// endpoint, the model gateway and the conversation controller.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	// KindProvider is the zero value: anything not classified otherwise is
	// reported to the learner as a retryable model failure.
	KindProvider Kind = iota
	KindConfiguration
	KindRateLimit
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindRateLimit:
		return "rate_limited"
	case KindValidation:
		return "validation"
	default:
		return "provider"
	}
}

// ParseKind is the inverse of Kind.String. Unknown values map to KindProvider.
func ParseKind(s string) Kind {
	switch s {
	case "configuration":
		return KindConfiguration
	case "rate_limited":
		return KindRateLimit
	case "validation":
		return KindValidation
	default:
		return KindProvider
	}
}

// Error carries a Kind and a short learner-facing message. Err holds the
// underlying cause, which is logged but never shown.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Configuration(msg string, err error) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Err: err}
}

func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimit, Message: msg}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Provider(msg string, err error) *Error {
	return &Error{Kind: KindProvider, Message: msg, Err: err}
}

var (
	ErrNotConfigured   = Configuration("OpenAI API key is not configured. Please set OPENAI_API_KEY environment variable.", nil)
	ErrTooManyRequests = RateLimited("Too many requests. Please wait a moment before sending another message.")
)

// KindOf classifies err. Errors outside the taxonomy count as provider failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProvider
}

// Message returns the learner-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "An error occurred while processing your message. Please try again."
}

// HTTPStatus maps a Kind onto the status used by the chat endpoint.
func HTTPStatus(k Kind) int {
	switch k {
	case KindConfiguration:
		return http.StatusInternalServerError
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
