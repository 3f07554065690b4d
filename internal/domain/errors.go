package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfig             = errors.New("invalid configuration")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrTimeout            = errors.New("request timed out")
	ErrNoBackend          = errors.New("no backend available")
	ErrChatNotFound       = errors.New("chat not found")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrEmptyStream        = errors.New("empty stream from backend")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

// HTTPError is a non-2xx reply from a backend.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d from %s", e.Status, e.URL)
}
