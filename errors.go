package storecache

import (
	"errors"
	"fmt"
)

var (
	ErrNoProvider = errors.New("storecache: provider is required")
	ErrNoCodec    = errors.New("storecache: codec is required")
)

// EncodeError is returned by Set when the value (or its envelope) cannot be encoded.
// Nothing is written in that case.
type EncodeError struct {
	Key string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("storecache: encode %q: %v", e.Key, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
