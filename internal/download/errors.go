package download

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLarge is wrapped in an IOError when the body exceeds the configured limit.
	ErrTooLarge = errors.New("download: file exceeds size limit")
	// ErrStalled is wrapped in a NetworkError when no bytes arrive within the read timeout.
	ErrStalled = errors.New("download: transfer stalled")
)

// HTTPError is returned for a non-success status from the variant URL.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("download: source returned status %d", e.Status)
}

// IOError is returned when the local file cannot be created or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("download: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("download: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// NetworkError is returned when the transfer fails on the wire (connect, timeout, reset).
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("download: network: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
