package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrResourceGone        = errors.New("resource gone")
	ErrEmptyResponse       = errors.New("empty response")
)

// APIError is a non-2xx response from the remote API.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case strings.Contains(strings.ToLower(e.Message), "invalid refresh token"):
		return ErrInvalidRefreshToken
	case e.Status == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Status == http.StatusGone:
		return ErrResourceGone
	default:
		return nil
	}
}

// StatusOf returns the HTTP status carried by err, or 0 when err did not come
// from a response.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsServiceUnavailable is the retry predicate for reads and claims.
func IsServiceUnavailable(err error) bool {
	return StatusOf(err) == http.StatusServiceUnavailable
}
