package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrMissingRefreshToken = errors.New("missing refresh token")
)

type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "http request failed"
	}
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("http status %d", e.StatusCode)
}
