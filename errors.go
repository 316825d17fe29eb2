package memdoc

import (
	"errors"
	"strings"
)

// Operation errors. Every verb returns one of these (possibly wrapped) so
// callers can branch with errors.Is.
var (
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = errors.New("memdoc: document not found")

	// ErrVersionConflict is returned when an expected version does not match
	// the stored version (optimistic concurrency failure).
	ErrVersionConflict = errors.New("memdoc: version conflict")

	// ErrDocumentExists is returned by Insert when the key is already present.
	ErrDocumentExists = errors.New("memdoc: document already exists")

	// ErrInvalidKey is returned for empty keys or keys longer than 250 bytes.
	ErrInvalidKey = errors.New("memdoc: invalid key")

	// ErrTimeout is returned when no response arrived before the deadline.
	// The server may still apply the request.
	ErrTimeout = errors.New("memdoc: operation timed out")

	// ErrTopologyUnstable is returned when a request was rejected as
	// not-my-partition again after the partition map was refreshed.
	ErrTopologyUnstable = errors.New("memdoc: topology unstable")

	// ErrClusterClosed is returned for operations issued after Disconnect.
	ErrClusterClosed = errors.New("memdoc: cluster disconnected")
)

// Connection errors.
var (
	// ErrConnectionClosing is returned for requests sent to a draining connection.
	ErrConnectionClosing = errors.New("memdoc: connection closing")

	// ErrConnectionLost fails requests whose connection closed before a
	// response arrived, and requests sent to a closed connection.
	ErrConnectionLost = errors.New("memdoc: connection lost")

	// ErrShutdownForced fails requests still in flight when the shutdown
	// timeout of Disconnect expired.
	ErrShutdownForced = errors.New("memdoc: shutdown forced")
)

// Pending-request table errors.
var (
	ErrDuplicateID = errors.New("memdoc: opaque id already outstanding")
	ErrUnknownID   = errors.New("memdoc: unknown opaque id")
)

// ConnectError is returned by Connect when no node could be reached or the
// initial partition map could not be loaded.
type ConnectError struct {
	Nodes []string
	Err   error
}

func (e *ConnectError) Error() string {
	return "memdoc: connect to [" + strings.Join(e.Nodes, ",") + "] failed: " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
