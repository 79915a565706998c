package api

import (
	"errors"
	"fmt"
)

// AuthError indicates the backend rejected the bearer token.
// It is returned by Client methods when a 401 response is received.
type AuthError struct {
	Path    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Path, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// StatusError is a non-2xx response other than 401.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.Status, e.Method, e.Path, e.Body)
}
