package api

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized token missing, expired or rejected (401)
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNetwork request never got a response
	ErrNetwork = errors.New("network unavailable")
)

// APIError non-2xx response other than 401
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
}

// IsNotFound 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}

// IsForbidden 403, the caller is logged in but not allowed
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 403
}
