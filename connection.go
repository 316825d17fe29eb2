package memdoc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edwingeng/deque/v2"
	"github.com/google/uuid"
	"github.com/pior/memdoc/internal/bufpool"
	"github.com/pior/memdoc/internal/coarsetime"
	"github.com/pior/memdoc/memd"
)

// ConnState is the lifecycle state of a Connection.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateReady
	StateDraining
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	readBufferSize  = 16 * 1024
	writeBufferSize = 16 * 1024

	// opaque ids are tried in sequence until a free one is found
	maxOpaqueAttempts = 16
)

var framePool = bufpool.New(256, 64*1024)

// ConnConfig holds the per-connection settings.
type ConnConfig struct {
	// Bucket is selected during the handshake. Empty skips SELECT_BUCKET.
	Bucket string

	// MaxBodyLength bounds the body of incoming frames.
	// Zero means memd.DefaultMaxBodyLength.
	MaxBodyLength int

	// Logger receives connection lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// Connection owns one socket to one data node. Requests are multiplexed:
// any number of callers may have requests in flight, and responses are
// matched to them by opaque id.
type Connection struct {
	id     string
	addr   string
	conn   net.Conn
	config ConnConfig
	logger *slog.Logger

	mu       sync.Mutex
	state    ConnState
	closeErr error

	pending    *pendingTable
	nextOpaque atomic.Uint32

	writeMu     sync.Mutex
	writeQ      *deque.Deque[*[]byte]
	writeClosed bool
	writeWake   chan struct{}

	lastActivity atomic.Int64
	done         chan struct{}
}

// Dial opens a connection to addr and performs the handshake.
// The returned connection is Ready.
func Dial(ctx context.Context, dialer *net.Dialer, addr string, config ConnConfig) (*Connection, error) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &memd.ConnectionError{Op: "dial", Err: err}
	}

	conn := NewConnection(netConn, config)
	if err := conn.Handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// NewConnection wraps an established socket and starts its reader and writer
// goroutines. The connection starts in StateConnecting; call Handshake to make
// it Ready.
func NewConnection(netConn net.Conn, config ConnConfig) *Connection {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Connection{
		id:        uuid.NewString(),
		addr:      netConn.RemoteAddr().String(),
		conn:      netConn,
		config:    config,
		state:     StateConnecting,
		pending:   newPendingTable(),
		writeQ:    deque.NewDeque[*[]byte](),
		writeWake: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.logger = logger.With("conn", c.id, "addr", c.addr)
	c.lastActivity.Store(coarsetime.UnixNano())

	go c.readLoop()
	go c.writeLoop()

	return c
}

// ID returns the connection id sent to the server in HELLO.
func (c *Connection) ID() string {
	return c.id
}

// Addr returns the remote address.
func (c *Connection) Addr() string {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// InFlight returns the number of requests awaiting a response.
func (c *Connection) InFlight() int {
	return c.pending.len()
}

// LastActivity returns when a frame was last sent or received.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection closed, or nil while it is open or
// if it closed after a clean drain.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Handshake identifies the client with HELLO and selects the configured
// bucket, then moves the connection from Connecting to Ready.
func (c *Connection) Handshake(ctx context.Context) error {
	hello := memd.NewRequest(memd.OpHello, []byte(`{"a":"memdoc","i":"`+c.id+`"}`), nil)
	resp, err := c.roundTrip(ctx, hello, true)
	if err != nil {
		return fmt.Errorf("memdoc: hello: %w", err)
	}
	// Plain memcached does not know HELLO; that is not fatal.
	if !resp.IsSuccess() && resp.Status != memd.StatusUnknownCommand {
		return fmt.Errorf("memdoc: hello: %w", memd.NewStatusError(resp))
	}

	if c.config.Bucket != "" {
		sel := memd.NewRequest(memd.OpSelectBucket, []byte(c.config.Bucket), nil)
		resp, err := c.roundTrip(ctx, sel, true)
		if err != nil {
			return fmt.Errorf("memdoc: select bucket %q: %w", c.config.Bucket, err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("memdoc: select bucket %q: %w", c.config.Bucket, memd.NewStatusError(resp))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return c.unavailableErrLocked()
	}
	c.state = StateReady
	c.logger.Debug("connection ready", "bucket", c.config.Bucket)
	return nil
}

// Call is a request that has been handed to the connection.
type Call struct {
	conn   *Connection
	opaque uint32
	result chan callResult
}

type callResult struct {
	resp *memd.Packet
	err  error
}

// Send registers req under a fresh opaque id and queues it for writing.
// Only valid in StateReady: a draining connection fails with
// ErrConnectionClosing, a closed one with ErrConnectionLost.
//
// req.Opaque is overwritten. req may be reused once Send returns.
func (c *Connection) Send(req *memd.Packet) (*Call, error) {
	return c.send(req, false)
}

// Dispatch sends req and waits for its response.
func (c *Connection) Dispatch(ctx context.Context, req *memd.Packet) (*memd.Packet, error) {
	call, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func (c *Connection) roundTrip(ctx context.Context, req *memd.Packet, handshake bool) (*memd.Packet, error) {
	call, err := c.send(req, handshake)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func (c *Connection) send(req *memd.Packet, handshake bool) (*Call, error) {
	call := &Call{
		conn:   c,
		result: make(chan callResult, 1),
	}
	cb := func(resp *memd.Packet, err error) {
		call.result <- callResult{resp: resp, err: err}
	}

	// Registration happens under c.mu so that a concurrent transition to
	// Draining or Closed either sees the entry or rejects the request.
	c.mu.Lock()
	switch {
	case c.state == StateReady:
	case c.state == StateConnecting && handshake:
	case c.state == StateDraining:
		c.mu.Unlock()
		return nil, ErrConnectionClosing
	default:
		err := c.unavailableErrLocked()
		c.mu.Unlock()
		return nil, err
	}
	opaque, err := c.registerLocked(cb)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	call.opaque = opaque

	req.Magic = memd.MagicReq
	req.Opaque = opaque

	buf := framePool.Get()
	*buf, err = memd.AppendPacket(*buf, req)
	if err != nil {
		framePool.Put(buf)
		c.pending.remove(opaque)
		c.maybeFinishDrain()
		return nil, err
	}

	// A close racing this send already failed the entry; Wait reports it.
	if c.enqueue(buf) {
		select {
		case c.writeWake <- struct{}{}:
		default:
		}
	}

	return call, nil
}

// enqueue hands a frame to the writer. It reports false, and recycles the
// frame, once the connection closed.
func (c *Connection) enqueue(buf *[]byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeClosed {
		framePool.Put(buf)
		return false
	}
	c.writeQ.PushBack(buf)
	return true
}

// registerLocked takes the next opaque id that is not outstanding.
// The counter wraps around at 2^32.
func (c *Connection) registerLocked(cb pendingCallback) (uint32, error) {
	for range maxOpaqueAttempts {
		opaque := c.nextOpaque.Add(1)
		err := c.pending.register(opaque, cb)
		if err == nil {
			return opaque, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return 0, err
		}
	}
	return 0, ErrDuplicateID
}

// Wait blocks until the response arrives, the connection fails the request,
// or ctx is done. On ctx expiry the request is forgotten locally and
// ErrTimeout is returned; the server may still execute it, and a late
// response is discarded.
func (call *Call) Wait(ctx context.Context) (*memd.Packet, error) {
	select {
	case r := <-call.result:
		return r.resp, r.err
	case <-ctx.Done():
	}

	if !call.conn.pending.remove(call.opaque) {
		// Resolved concurrently, the callback is about to deliver.
		r := <-call.result
		return r.resp, r.err
	}
	call.conn.maybeFinishDrain()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
	return nil, ctx.Err()
}

// Opaque returns the id the request was registered under.
func (call *Call) Opaque() uint32 {
	return call.opaque
}

// Drain stops admitting new requests. The connection closes by itself once
// every in-flight request has been resolved or timed out.
func (c *Connection) Drain() {
	c.mu.Lock()
	if c.state == StateReady || c.state == StateConnecting {
		c.state = StateDraining
		c.logger.Debug("connection draining", "in_flight", c.pending.len())
	}
	c.mu.Unlock()

	c.maybeFinishDrain()
}

// Close closes the socket immediately, failing in-flight requests with
// ErrConnectionLost.
func (c *Connection) Close() error {
	c.closeWith(ErrConnectionLost)
	return nil
}

func (c *Connection) maybeFinishDrain() {
	c.mu.Lock()
	draining := c.state == StateDraining
	c.mu.Unlock()

	// No registration happens once Draining, so the table only shrinks.
	if draining && c.pending.len() == 0 {
		c.closeWith(nil)
	}
}

// closeWith moves the connection to StateClosed and fails everything pending
// with err. A nil err marks a clean drain; leftovers then fail with
// ErrConnectionLost. Only the first call has an effect.
func (c *Connection) closeWith(err error) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateClosed
	c.closeErr = err
	c.mu.Unlock()

	_ = c.conn.Close()

	failErr := err
	if failErr == nil {
		failErr = ErrConnectionLost
	}
	failed := c.pending.failAll(failErr)

	c.writeMu.Lock()
	c.writeClosed = true
	for c.writeQ.Len() > 0 {
		framePool.Put(c.writeQ.PopFront())
	}
	c.writeMu.Unlock()

	close(c.done)

	if err != nil {
		c.logger.Warn("connection closed", "from", prev.String(), "failed_requests", failed, "error", err)
	} else {
		c.logger.Debug("connection closed", "from", prev.String())
	}
}

func (c *Connection) unavailableErrLocked() error {
	switch {
	case c.closeErr == nil:
		return ErrConnectionLost
	case errors.Is(c.closeErr, ErrConnectionLost):
		return c.closeErr
	default:
		return fmt.Errorf("%w: %w", ErrConnectionLost, c.closeErr)
	}
}

// readLoop feeds socket bytes to the decoder. Whatever follows the last
// complete frame stays buffered for the next read.
func (c *Connection) readLoop() {
	maxBody := c.config.MaxBodyLength
	if maxBody <= 0 {
		maxBody = memd.DefaultMaxBodyLength
	}

	buf := make([]byte, readBufferSize)
	start, end := 0, 0

	for {
		if end == len(buf) {
			if start > 0 {
				end = copy(buf, buf[start:end])
				start = 0
			} else {
				grown := make([]byte, 2*len(buf))
				copy(grown, buf[:end])
				buf = grown
			}
		}

		n, err := c.conn.Read(buf[end:])
		end += n

		for start < end {
			pkt, used, derr := memd.Decode(buf[start:end], maxBody)
			if errors.Is(derr, memd.ErrIncomplete) {
				break
			}
			if derr != nil {
				c.closeWith(fmt.Errorf("%w: %w", ErrConnectionLost, derr))
				return
			}
			start += used
			c.handle(pkt)
		}
		if start == end {
			start, end = 0, 0
		}

		if err != nil {
			c.closeWith(fmt.Errorf("%w: %w", ErrConnectionLost, &memd.ConnectionError{Op: "read", Err: err}))
			return
		}
	}
}

func (c *Connection) handle(pkt *memd.Packet) {
	c.lastActivity.Store(coarsetime.UnixNano())

	if !pkt.IsResponse() {
		c.logger.Debug("ignoring server request", "opcode", pkt.OpCode.String())
		return
	}

	if err := c.pending.resolve(pkt.Opaque, pkt); err != nil {
		// Late response for a request that timed out.
		c.logger.Debug("discarding response", "opaque", pkt.Opaque, "opcode", pkt.OpCode.String())
		return
	}

	c.maybeFinishDrain()
}

// writeLoop writes queued frames, flushing whenever the queue runs empty so
// that requests issued together leave in as few syscalls as possible.
func (c *Connection) writeLoop() {
	w := bufio.NewWriterSize(c.conn, writeBufferSize)

	for {
		select {
		case <-c.writeWake:
		case <-c.done:
			return
		}

		for {
			c.writeMu.Lock()
			if c.writeQ.Len() == 0 {
				c.writeMu.Unlock()
				break
			}
			buf := c.writeQ.PopFront()
			c.writeMu.Unlock()

			_, err := w.Write(*buf)
			framePool.Put(buf)
			if err != nil {
				c.closeWith(fmt.Errorf("%w: %w", ErrConnectionLost, &memd.ConnectionError{Op: "write", Err: err}))
				return
			}
		}

		if err := w.Flush(); err != nil {
			c.closeWith(fmt.Errorf("%w: %w", ErrConnectionLost, &memd.ConnectionError{Op: "write", Err: err}))
			return
		}
		c.lastActivity.Store(coarsetime.UnixNano())
	}
}
