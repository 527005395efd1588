package coordinator

import (
	"errors"
	"fmt"
)

var (
	ErrSubmitInProgress = errors.New("coordinator: submission already in progress")
	ErrClosed           = errors.New("coordinator: closed")
	ErrInvalidState     = errors.New("coordinator: purchase state cannot be submitted")
	ErrSubmitTimeout    = errors.New("coordinator: submission timed out")

	// ErrUnknownEvent is returned for raw event names no widget is known to send.
	ErrUnknownEvent = errors.New("coordinator: unknown event")
	// ErrEchoEvent marks a raw event the coordinator itself produced.
	ErrEchoEvent = errors.New("coordinator: echoed event")
	// ErrSchemaVersion is returned when decoding an event of another schema version.
	ErrSchemaVersion = errors.New("coordinator: unsupported event schema version")
)

// DecodeError reports a raw event whose detail has the wrong shape.
type DecodeError struct {
	Event  string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coordinator: decode %q: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("coordinator: decode %q: %s", e.Event, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func invalidState(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidState}, args...)...)
}
