package memdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
	"github.com/pior/memdoc/memd"
	"github.com/sony/gobreaker/v2"
)

// maxAcquireAttempts bounds how many dead connections are skipped before a
// request gives up on a node.
const maxAcquireAttempts = 3

type nodeConfig struct {
	maxConns       int32
	connectTimeout time.Duration
	dial           func(ctx context.Context, addr string) (*Connection, error)
	newBreaker     func(addr string) *gobreaker.CircuitBreaker[*memd.Packet]
	logger         *slog.Logger
}

// node wraps the connection pool and circuit breaker of one data node.
//
// Connections are multiplexed, so a pool resource is held only while a
// request is being queued, never while its response is awaited.
type node struct {
	addr    string
	pool    *puddle.Pool[*Connection]
	breaker *gobreaker.CircuitBreaker[*memd.Packet]
	logger  *slog.Logger

	createdConns   atomic.Int64
	destroyedConns atomic.Int64

	// conns tracks every open connection, including those that left the pool
	// and are draining.
	connsMu sync.Mutex
	conns   map[*Connection]struct{}
}

func newNode(addr string, config nodeConfig) (*node, error) {
	n := &node{
		addr:   addr,
		logger: config.logger.With("node", addr),
		conns:  make(map[*Connection]struct{}),
	}

	poolConfig := &puddle.Config[*Connection]{
		Constructor: func(ctx context.Context) (*Connection, error) {
			if config.connectTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, config.connectTimeout)
				defer cancel()
			}

			conn, err := config.dial(ctx, addr)
			if err != nil {
				n.logger.Warn("connect failed", "error", err)
				return nil, err
			}
			n.createdConns.Add(1)
			n.track(conn)
			return conn, nil
		},
		// Leaving the pool lets in-flight requests finish.
		Destructor: func(c *Connection) {
			n.destroyedConns.Add(1)
			c.Drain()
		},
		MaxSize: config.maxConns,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	n.pool = pool

	if config.newBreaker != nil {
		n.breaker = config.newBreaker(addr)
	}

	return n, nil
}

func (n *node) track(conn *Connection) {
	n.connsMu.Lock()
	n.conns[conn] = struct{}{}
	n.connsMu.Unlock()

	go func() {
		<-conn.Done()
		n.connsMu.Lock()
		delete(n.conns, conn)
		n.connsMu.Unlock()
	}()
}

func (n *node) openConns() []*Connection {
	n.connsMu.Lock()
	defer n.connsMu.Unlock()

	conns := make([]*Connection, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	return conns
}

// Execute sends req to the node and waits for its response.
// The exchange is wrapped with the node's circuit breaker.
func (n *node) Execute(ctx context.Context, req *memd.Packet) (*memd.Packet, error) {
	if n.breaker == nil {
		return n.execDirect(ctx, req)
	}

	return n.breaker.Execute(func() (*memd.Packet, error) {
		return n.execDirect(ctx, req)
	})
}

// execDirect performs the exchange without circuit breaker.
func (n *node) execDirect(ctx context.Context, req *memd.Packet) (*memd.Packet, error) {
	call, err := n.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// send queues req on a pooled connection. Connections found closed or
// draining are removed from the pool and the next one is tried.
func (n *node) send(ctx context.Context, req *memd.Packet) (*Call, error) {
	var lastErr error

	for range maxAcquireAttempts {
		res, err := n.pool.Acquire(ctx)
		if err != nil {
			if errors.Is(err, puddle.ErrClosedPool) {
				return nil, fmt.Errorf("%w: node %s retired", ErrConnectionClosing, n.addr)
			}
			return nil, err
		}

		conn := res.Value()
		call, err := conn.Send(req)
		switch {
		case err == nil:
			res.Release()
			return call, nil
		case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrConnectionClosing):
			res.Destroy()
			lastErr = err
		default:
			res.Release()
			return nil, err
		}
	}

	return nil, lastErr
}

// warm opens one connection and parks it in the pool.
func (n *node) warm(ctx context.Context) error {
	return n.pool.CreateResource(ctx)
}

// checkConnections sends a NOOP on every idle connection, closing those that fail.
// Connections past maxLifetime or idle past maxIdle leave the pool and drain.
func (n *node) checkConnections(ctx context.Context, maxLifetime, maxIdle, timeout time.Duration) {
	now := time.Now()

	for _, res := range n.pool.AcquireAllIdle() {
		conn := res.Value()

		if conn.State() != StateReady {
			res.Destroy()
			continue
		}

		if maxLifetime > 0 && now.Sub(res.CreationTime()) > maxLifetime {
			n.logger.Debug("retiring connection", "conn", conn.ID(), "reason", "lifetime")
			res.Destroy()
			continue
		}

		if maxIdle > 0 && res.IdleDuration() > maxIdle && conn.InFlight() == 0 {
			n.logger.Debug("retiring connection", "conn", conn.ID(), "reason", "idle")
			res.Destroy()
			continue
		}

		call, err := conn.Send(memd.NewRequest(memd.OpNoOp, nil, nil))
		if err != nil {
			res.Destroy()
			continue
		}
		// The NOOP is queued, the connection can serve other callers while it
		// travels.
		res.ReleaseUnused()

		go func() {
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := checkNoOp(call.Wait(pingCtx))
			if err != nil && ctx.Err() == nil {
				n.logger.Warn("health check failed", "conn", conn.ID(), "error", err)
				conn.closeWith(fmt.Errorf("%w: health check: %w", ErrConnectionLost, err))
			}
		}()
	}
}

func checkNoOp(resp *memd.Packet, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return memd.NewStatusError(resp)
	}
	return nil
}

// ping sends a NOOP through the pool and waits for the answer.
func (n *node) ping(ctx context.Context) error {
	return checkNoOp(n.execDirect(ctx, memd.NewRequest(memd.OpNoOp, nil, nil)))
}

// drain closes the pool and asks every connection to finish its in-flight
// requests. It does not wait.
func (n *node) drain() {
	n.pool.Close()
	for _, c := range n.openConns() {
		c.Drain()
	}
}

// wait blocks until every connection closed or ctx is done.
func (n *node) wait(ctx context.Context) error {
	for _, c := range n.openConns() {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// forceClose fails whatever is still in flight with err.
func (n *node) forceClose(err error) int {
	closed := 0
	for _, c := range n.openConns() {
		closed += c.InFlight()
		c.closeWith(err)
	}
	return closed
}

// retire drains the node in the background; used when a partition map
// drops it. Connections still busy after timeout are closed. done runs once
// the node holds no more requests.
func (n *node) retire(timeout time.Duration, done func()) {
	n.drain()

	go func() {
		defer done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := n.wait(ctx); err != nil {
			failed := n.forceClose(ErrShutdownForced)
			n.logger.Warn("node retired with requests in flight", "failed_requests", failed)
			return
		}
		n.logger.Debug("node retired")
	}()
}

// Stats returns a snapshot of the node's pool and breaker state.
func (n *node) Stats() NodeStats {
	s := n.pool.Stat()

	var inFlight int32
	for _, c := range n.openConns() {
		inFlight += int32(c.InFlight())
	}

	stats := NodeStats{
		Addr: n.addr,
		PoolStats: PoolStats{
			TotalConns:        s.TotalResources(),
			IdleConns:         s.IdleResources(),
			ActiveConns:       s.AcquiredResources(),
			InFlight:          inFlight,
			AcquireCount:      uint64(s.AcquireCount()),
			AcquireWaitCount:  uint64(s.EmptyAcquireCount()),
			CreatedConns:      uint64(n.createdConns.Load()),
			DestroyedConns:    uint64(n.destroyedConns.Load()),
			AcquireErrors:     uint64(s.CanceledAcquireCount()),
			AcquireWaitTimeNs: uint64(s.EmptyAcquireWaitTime().Nanoseconds()),
		},
	}
	if n.breaker != nil {
		stats.CircuitBreakerState = n.breaker.State()
		stats.CircuitBreakerCounts = n.breaker.Counts()
	}
	return stats
}
