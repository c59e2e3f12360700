package poll

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by the multiplexer.
var (
	// ErrWouldBlock is returned by a Socket when a non-blocking call has
	// nothing to do. It never escapes Conn.Handle.
	ErrWouldBlock = errors.New("operation would block")

	// ErrRequestTooLarge means a connection tried to buffer more than the
	// configured request limit.
	ErrRequestTooLarge = errors.New("request too large")

	// ErrGrowth means the receive buffer could not be reallocated.
	ErrGrowth = errors.New("buffer growth failed")

	// ErrTableFull is the capacity error of a bounded Table.
	ErrTableFull = errors.New("connection table full")

	// ErrInvalidConfig wraps every Config validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// BindError is the only fatal error of the package: the listening port
// could not be acquired.
type BindError struct {
	Port int
	Op   string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind port %d: %s: %v", e.Port, e.Op, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError describes a failed accept. It is logged and discarded.
type AcceptError struct {
	Op  string
	Err error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept: %s: %v", e.Op, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }
