package disruptor

import "errors"

var (
	// ErrCapacityExceeded is returned by non-blocking claims when the slowest
	// gating consumer has not released enough slots.
	ErrCapacityExceeded = errors.New("disruptor: insufficient capacity")

	// ErrAlerted is returned by a barrier that has been signalled to halt.
	ErrAlerted = errors.New("disruptor: barrier alerted")

	// ErrInvalidCapacity is returned when the buffer size is not a positive power of two.
	ErrInvalidCapacity = errors.New("disruptor: buffer size must be a positive power of 2")

	// ErrTimeout is returned by wait strategies that give up after a deadline.
	ErrTimeout = errors.New("disruptor: timeout")

	ErrAlreadyStarted = errors.New("disruptor: already started")
	ErrAlreadyRunning = errors.New("disruptor: processor is already running")
	ErrNoHandlers     = errors.New("disruptor: no handlers supplied")
)

// ErrHandlerPanic wraps a panic recovered from an event or work handler.
var ErrHandlerPanic = errors.New("disruptor: handler panicked")
