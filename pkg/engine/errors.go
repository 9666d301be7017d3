package engine

import "errors"

var (
	// ErrClosed is returned for operations against an engine after Close.
	ErrClosed = errors.New("engine: closed")

	// ErrBusy is returned when an admitted write does not complete before the
	// caller's context deadline. The write itself still completes; only the
	// caller stops waiting for it.
	ErrBusy = errors.New("engine: write timed out waiting for the writer")

	// ErrBackpressure is returned when the writer queue is full and the write
	// was rejected without being admitted.
	ErrBackpressure = errors.New("engine: writer queue full")

	// ErrDegraded is returned for operations that need the full graph while
	// the engine is serving from the brute-force fallback.
	ErrDegraded = errors.New("engine: running in degraded mode")
)
