package testutils

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// ConnectionMock is a net.Conn whose read side is fed by the test through
// Push. Reads block until data is pushed or the mock is closed, so a reader
// goroutine can be started before the test decides what the "server" sends.
type ConnectionMock struct {
	mu       sync.Mutex
	cond     *sync.Cond
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
	writes   chan struct{}
}

// NewConnectionMock creates a mock connection with pre-loaded response data.
func NewConnectionMock(responseData ...[]byte) *ConnectionMock {
	m := &ConnectionMock{writes: make(chan struct{}, 1024)}
	m.cond = sync.NewCond(&m.mu)
	for _, d := range responseData {
		m.readBuf.Write(d)
	}
	return m
}

// Push makes data available to Read.
func (m *ConnectionMock) Push(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readBuf.Write(data)
	m.cond.Broadcast()
}

func (m *ConnectionMock) Read(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.readBuf.Len() == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.readBuf.Len() == 0 {
		return 0, io.EOF
	}
	return m.readBuf.Read(b)
}

func (m *ConnectionMock) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, net.ErrClosed
	}
	n, err := m.writeBuf.Write(b)
	select {
	case m.writes <- struct{}{}:
	default:
	}
	return n, err
}

func (m *ConnectionMock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cond.Broadcast()
	return nil
}

// IsClosed reports whether Close was called.
func (m *ConnectionMock) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Written returns a copy of everything written so far.
func (m *ConnectionMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.writeBuf.Bytes())
}

// WaitForWrite blocks until the total written length reaches n bytes or the
// timeout expires. Returns false on timeout.
func (m *ConnectionMock) WaitForWrite(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		m.mu.Lock()
		size := m.writeBuf.Len()
		m.mu.Unlock()
		if size >= n {
			return true
		}
		select {
		case <-m.writes:
		case <-deadline:
			return false
		}
	}
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11210}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }
