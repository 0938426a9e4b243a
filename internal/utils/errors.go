package utils

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorWithSuggestion wraps an error with a user-friendly suggestion.
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface.
func (e *ErrorWithSuggestion) Error() string {
	return fmt.Sprintf("%s\n\nSuggestion: %s", e.Err.Error(), e.Suggestion)
}

// GetSuggestion returns the suggestion text.
func (e *ErrorWithSuggestion) GetSuggestion() string {
	return e.Suggestion
}

// Unwrap returns the underlying error for error chain support.
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// WrapWithSuggestion wraps an existing error with a suggestion.
func WrapWithSuggestion(err error, suggestion string) error {
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// ErrTaskNotFound returns an error for when a task reference matches nothing.
func ErrTaskNotFound(ref string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("task not found: %s", ref),
		Suggestion: "Use 'focuslist list' to see task ids and numbers",
	}
}

// ErrNotLoggedIn returns an error when a backend needs a session and none exists.
func ErrNotLoggedIn(cause error) error {
	err := errors.New("not logged in")
	if cause != nil {
		err = fmt.Errorf("not logged in: %w", cause)
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: "Run 'focuslist login' to sign in",
	}
}

// ErrBackendNotConfigured returns an error when a backend is not configured.
func ErrBackendNotConfigured(name string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend not configured: %s", name),
		Suggestion: fmt.Sprintf("Add backends.%s settings to your config file", name),
	}
}

// ErrBackendOffline returns an error when a backend is unreachable with smart suggestions.
func ErrBackendOffline(name, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("backend %s is offline: %s", name, reason),
		Suggestion: getSmartSuggestion(reason),
	}
}

// getSmartSuggestion returns a context-aware suggestion based on the error reason.
func getSmartSuggestion(reason string) string {
	lowerReason := strings.ToLower(reason)

	if strings.Contains(lowerReason, "no such host") || strings.Contains(lowerReason, "dns") {
		return "Check your DNS settings and internet connection"
	}

	if strings.Contains(lowerReason, "connection refused") {
		return "Check if the server is running and accessible"
	}

	if strings.Contains(lowerReason, "timeout") || strings.Contains(lowerReason, "timed out") {
		return "The server may be slow or unreachable. Try again later or raise request_timeout"
	}

	return "Check your internet connection and try again"
}

// ErrAuthenticationFailed returns an error when a credential is rejected.
func ErrAuthenticationFailed(backend, reason string) error {
	return &ErrorWithSuggestion{
		Err:        fmt.Errorf("authentication failed for %s: %s", backend, reason),
		Suggestion: "Run 'focuslist login' again; the session may have expired",
	}
}

// ErrStaleTask returns an error when a task moved or vanished remotely.
func ErrStaleTask(cause error) error {
	return &ErrorWithSuggestion{
		Err:        cause,
		Suggestion: "Another client changed the list. Run 'focuslist list' and retry",
	}
}
