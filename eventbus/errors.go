package eventbus

import "errors"

// Bus errors
var (
	// ErrInvalidEventName is returned when an event name contains characters
	// outside [A-Za-z0-9._-].
	ErrInvalidEventName = errors.New("eventbus: invalid event name")

	// ErrHandlerNil is returned when a nil handler is subscribed.
	ErrHandlerNil = errors.New("eventbus: event handler cannot be nil")

	// ErrBusClosed is returned when emitting on a destroyed bus.
	ErrBusClosed = errors.New("eventbus: bus is closed")
)
