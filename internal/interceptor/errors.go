package interceptor

import (
	"errors"
	"fmt"
)

// ErrNoQueue is the cause of a TransportError for an offline write when no
// pending action queue is configured.
var ErrNoQueue = errors.New("offline and no pending action queue to defer the write")

// AuthorizationError rejects an API request that carries no valid session.
// It always reaches the caller and is never queued.
type AuthorizationError struct {
	Path string
	Err  error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("unauthorized request to %s: %v", e.Path, e.Err)
}

func (e *AuthorizationError) Unwrap() error {
	return e.Err
}

// TransportError reports an unreachable network, or a non-success status when
// StatusCode is set.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
