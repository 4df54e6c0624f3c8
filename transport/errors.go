package transport

import (
	"errors"
	"fmt"
)

// Common transport errors
var (
	// ErrShortPacket indicates a datagram smaller than the fixed header
	ErrShortPacket = errors.New("packet shorter than header")

	// ErrBadMagic indicates a datagram that does not start with the protocol magic
	ErrBadMagic = errors.New("bad packet magic")

	// ErrUnknownType indicates a header with a packet type outside the protocol
	ErrUnknownType = errors.New("unknown packet type")

	// ErrReceiverRunning indicates Start was called on a running receiver
	ErrReceiverRunning = errors.New("receiver already running")

	// ErrSenderClosed indicates the sender has been closed
	ErrSenderClosed = errors.New("sender closed")
)

// BindError reports that the receiver could not bind its UDP port.
// It is fatal to the receiver; the caller decides whether to retry.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind udp port %d: %v", e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// OpError represents a socket error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("meomic %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("meomic %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
