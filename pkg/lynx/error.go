package lynx

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned for any response with status >= 400. Transport
// failures (DNS, timeout, refused) surface as plain errors instead.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("lynx: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("lynx: %s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsAuthError reports whether err is an API rejection of the key itself.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return false
}

// IsRejected reports whether the API refused the request for reasons other
// than auth or a missing resource (validation failures and the like).
func IsRejected(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			!IsAuthError(err) && !IsNotFound(err)
	}
	return false
}
