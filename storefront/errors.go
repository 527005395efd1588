package storefront

import (
	"errors"
	"fmt"
)

var (
	ErrNoBaseURL = errors.New("storefront: base URL is required")
	ErrNoItems   = errors.New("storefront: no items to add")
)

// StatusError is returned when the storefront answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("storefront: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("storefront: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}
