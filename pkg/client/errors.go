package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnsuccessful is returned when the API answers 2xx with "success": false.
var ErrUnsuccessful = errors.New("api reported failure")

// HTTPError represents a non-2xx HTTP response from the API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus returns true if err (or any wrapped error) is an HTTPError with the given status code.
func IsStatus(err error, code int) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == code
	}
	return false
}

// IsNotFound reports whether err means the endpoint (or resource) does not
// exist. It is the trigger for the legacy chat API fallback.
func IsNotFound(err error) bool {
	return IsStatus(err, http.StatusNotFound)
}
