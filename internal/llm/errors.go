package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Provider failures collapse into two kinds: transient ones the agent loop
// retries with backoff, permanent ones it surfaces immediately.
type ProviderError struct {
	Transient bool
	Status    int
	Message   string
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("provider error (%s, status %d): %s", kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (%s): %s", kind, e.Message)
}

// NewTransientError wraps a retryable failure.
func NewTransientError(msg string) *ProviderError {
	return &ProviderError{Transient: true, Message: msg}
}

// NewPermanentError wraps a failure that retrying cannot fix.
func NewPermanentError(msg string) *ProviderError {
	return &ProviderError{Message: msg}
}

// IsTransient reports whether the agent loop should retry after err.
// Unclassified network and timeout errors count as transient.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// mapHTTPError classifies a non-2xx status. 5xx and 429 are transient;
// the rest of 4xx (auth, bad request) is permanent. The body is truncated
// into the message so failures stay debuggable.
func mapHTTPError(status int, body []byte) *ProviderError {
	const maxBody = 500
	msg := string(body)
	if len(msg) > maxBody {
		msg = msg[:maxBody] + "..."
	}
	return &ProviderError{
		Transient: status >= 500 || status == 429,
		Status:    status,
		Message:   msg,
	}
}
