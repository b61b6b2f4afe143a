package backend

import (
	"errors"
	"fmt"
)

// Category is the normalized failure taxonomy for backend calls.
type Category string

const (
	// CategoryConfiguration means no usable endpoints are configured. It is
	// fatal and never retried.
	CategoryConfiguration Category = "configuration"

	// CategoryNetworkFailure covers timeouts, DNS and connection errors.
	CategoryNetworkFailure Category = "network_failure"

	// CategoryUnexpectedShape means the endpoint answered with markup (an
	// HTML login or web-app page) instead of JSON. Usually a wrong or
	// GET-only deployment URL.
	CategoryUnexpectedShape Category = "unexpected_response_shape"

	// CategoryUnparseable means the body was neither JSON nor HTML.
	CategoryUnparseable Category = "unparseable_response"

	// CategoryRejected means valid JSON with a falsy success flag.
	CategoryRejected Category = "backend_rejected"
)

// Retryable reports whether the next endpoint should be tried after this category.
func (c Category) Retryable() bool {
	return c != CategoryConfiguration && c != ""
}

// Error describes a single failed attempt, or the configuration failure from New.
type Error struct {
	Category   Category
	Endpoint   string
	Message    string
	StatusCode int
	Underlying error
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("backend [%s]", e.Category)
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("backend %s [%s]", e.Endpoint, e.Category)
	}
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category Category, endpoint, message string, underlying error) *Error {
	return &Error{
		Category:   category,
		Endpoint:   endpoint,
		Message:    message,
		Underlying: underlying,
	}
}

// GetCategory extracts the category from an error chain, or "" if none.
func GetCategory(err error) Category {
	var be *Error
	if errors.As(err, &be) {
		return be.Category
	}
	return ""
}

// ErrNoEndpoints is wrapped by the configuration error New returns.
var ErrNoEndpoints = errors.New("no backend endpoints configured")

// ErrInvalidEndpoint is wrapped when a configured endpoint URL is not an
// absolute http(s) URL.
var ErrInvalidEndpoint = errors.New("invalid backend endpoint URL")
