package backend

import (
	"errors"
	"fmt"
)

// ErrStalePosition is returned when a position-addressed task can no longer
// be found in the store, e.g. because another client deleted it.
var ErrStalePosition = errors.New("task position is stale: refresh the list")

// AuthError reports a missing or rejected credential
type AuthError struct {
	Backend string
	Reason  string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Backend == "" {
		return "authentication required: " + e.Reason
	}
	return fmt.Sprintf("authentication failed for %s: %s", e.Backend, e.Reason)
}

// RemoteError reports a failed backend call. Message is taken from the
// backend's error envelope when there is one, else from the transport error.
type RemoteError struct {
	Backend string
	Op      string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Backend, e.Op, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError wraps err, using its text as the message
func NewRemoteError(backendName, op string, err error) *RemoteError {
	return &RemoteError{Backend: backendName, Op: op, Message: err.Error(), Err: err}
}

// Message returns the human readable part of err: the RemoteError or
// AuthError message when err carries one, else err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Message
	}
	var auth *AuthError
	if errors.As(err, &auth) {
		return auth.Reason
	}
	return err.Error()
}

// IsAuthError reports whether err is, or wraps, an AuthError
func IsAuthError(err error) bool {
	var auth *AuthError
	return errors.As(err, &auth)
}
