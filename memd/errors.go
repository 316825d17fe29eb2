package memd

import (
	"errors"
	"fmt"
)

// ErrIncomplete is returned by Decode when the buffer holds less than one
// full frame. It is not a failure: the caller keeps the bytes and reads more.
var ErrIncomplete = errors.New("memd: incomplete frame")

// ProtocolError reports a frame that cannot be decoded or encoded.
//
// Common causes:
//   - Declared body length above the configured maximum
//   - Unknown magic byte
//   - Key and extras lengths exceeding the body length
//   - Oversized key or extras on encode
//
// Connection handling: CLOSE the connection, the stream cannot be resynchronized.
type ProtocolError struct {
	Message string
}

func (e *ProtocolError) Error() string {
	return "memd protocol: " + e.Message
}

// ShouldCloseConnection returns true - the byte stream is no longer aligned on frames
func (e *ProtocolError) ShouldCloseConnection() bool {
	return true
}

// StatusError is a well-formed response whose status the caller did not
// expect (e.g. StatusBusy, StatusOutOfMemory).
//
// Connection handling: Connection can be REUSED.
type StatusError struct {
	OpCode OpCode
	Status Status
	// Message is the response value, which servers use for error context.
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("memd: %s failed: %s (0x%02x): %s", e.OpCode, e.Status, uint16(e.Status), e.Message)
	}
	return fmt.Sprintf("memd: %s failed: %s (0x%02x)", e.OpCode, e.Status, uint16(e.Status))
}

// ShouldCloseConnection returns false - status errors don't corrupt protocol state
func (e *StatusError) ShouldCloseConnection() bool {
	return false
}

// ConnectionError wraps underlying I/O errors from connection operations.
//
// Connection handling: Connection is already broken, CLOSE it.
type ConnectionError struct {
	Op  string // Operation that failed (read, write, dial)
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("memd: connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ShouldCloseConnection returns true - connection errors mean connection is broken
func (e *ConnectionError) ShouldCloseConnection() bool {
	return true
}

// ErrorWithConnectionState is implemented by errors that know whether the
// connection that produced them is still usable.
type ErrorWithConnectionState interface {
	error
	ShouldCloseConnection() bool
}

// ShouldCloseConnection reports whether err leaves the connection unusable.
// Unknown error types are treated conservatively as fatal.
func ShouldCloseConnection(err error) bool {
	if err == nil {
		return false
	}

	var e ErrorWithConnectionState
	if errors.As(err, &e) {
		return e.ShouldCloseConnection()
	}

	return true
}

// NewStatusError builds a StatusError from a response packet.
func NewStatusError(resp *Packet) *StatusError {
	return &StatusError{
		OpCode:  resp.OpCode,
		Status:  resp.Status,
		Message: string(resp.Value),
	}
}
