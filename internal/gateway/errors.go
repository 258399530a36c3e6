package gateway

import (
	"errors"
	"net/http"

	apperrors "github.com/alexjbarnes/dashgate/internal/errors"
)

// APIError is a non-2xx response. Message is taken from the body's
// "detail" or "message" field, falling back to "HTTP <status>" or, when the
// body is not JSON, to a generic network error message.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return e.Message }

// TransportError is a request that got no HTTP response at all
// (connection refused, timeout, cancelled context).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return apperrors.ErrNetwork.Error() + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() []error {
	return []error{apperrors.ErrNetwork, e.Err}
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// an APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
