package memdoc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pior/memdoc/memd"
	"golang.org/x/sync/singleflight"
)

// errConfigUnsupported means the node does not serve GET_CLUSTER_CONFIG
// (plain memcached). The router then routes with a static map.
var errConfigUnsupported = errors.New("memdoc: cluster config not supported by server")

// Route records where a request was sent and which map decided it.
type Route struct {
	Rev       int64
	Node      string
	Partition uint16
}

type routerConfig struct {
	seeds          []string
	numPartitions  int
	refreshTimeout time.Duration
	retireTimeout  time.Duration
	node           nodeConfig
	logger         *slog.Logger
	stats          *clientStatsCollector
}

// router maps keys to partitions and partitions to nodes.
//
// The partition map is read lock-free and replaced wholesale. Nodes are
// created lazily the first time a map routes to them.
type router struct {
	config routerConfig
	logger *slog.Logger

	pmap atomic.Pointer[PartitionMap]

	mu       sync.RWMutex
	nodes    map[string]*node
	retiring map[*node]struct{}
	closed   bool

	refreshGroup singleflight.Group
}

func newRouter(config routerConfig) *router {
	return &router{
		config: config,
		logger: config.logger,
		nodes:    make(map[string]*node),
		retiring: make(map[*node]struct{}),
	}
}

// PartitionMap returns the map currently used for routing.
func (r *router) PartitionMap() *PartitionMap {
	return r.pmap.Load()
}

// Execute routes req by its key and exchanges it with the owning node.
// The returned Route is valid even when err is not nil.
func (r *router) Execute(ctx context.Context, req *memd.Packet) (*memd.Packet, Route, error) {
	m := r.pmap.Load()
	if m == nil {
		return nil, Route{}, ErrClusterClosed
	}

	partition := m.PartitionFor(req.Key)
	addr, err := m.NodeFor(partition)
	route := Route{Rev: m.Rev, Node: addr, Partition: partition}
	if err != nil {
		return nil, route, err
	}

	n, err := r.getOrCreateNode(addr)
	if err != nil {
		return nil, route, err
	}

	req.Partition = partition
	resp, err := n.Execute(ctx, req)
	return resp, route, err
}

// getOrCreateNode gets or creates the node for the given address.
func (r *router) getOrCreateNode(addr string) (*node, error) {
	// Fast path: read lock
	r.mu.RLock()
	n, exists := r.nodes[addr]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClusterClosed
	}
	if exists {
		return n, nil
	}

	// Slow path: write lock and create
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClusterClosed
	}
	// Double-check after acquiring write lock
	if n, exists := r.nodes[addr]; exists {
		return n, nil
	}

	n, err := newNode(addr, r.config.node)
	if err != nil {
		return nil, err
	}
	r.nodes[addr] = n
	return n, nil
}

func (r *router) allNodes() []*node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]*node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// Refresh reloads the partition map after a request routed with revision
// observedRev was rejected. Concurrent refreshes share one fetch, and no
// fetch happens if the map already moved past observedRev.
func (r *router) Refresh(ctx context.Context, observedRev int64) error {
	if m := r.pmap.Load(); m != nil && m.Rev > observedRev {
		return nil
	}

	ch := r.refreshGroup.DoChan("refresh", func() (any, error) {
		if m := r.pmap.Load(); m != nil && m.Rev > observedRev {
			return m, nil
		}

		// The fetch outlives a caller that gives up: others may share it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.refreshTimeout)
		defer cancel()

		m, err := r.fetchPartitionMap(fetchCtx)
		if errors.Is(err, errConfigUnsupported) {
			// The static map cannot change without a new seed list.
			return r.pmap.Load(), nil
		}
		if err != nil {
			r.logger.Warn("partition map refresh failed", "error", err)
			return nil, err
		}
		if err := r.applyPartitionMap(m); err != nil {
			return nil, err
		}
		return m, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchPartitionMap asks the nodes of the current map, then the seeds, for
// the cluster config. The first valid answer wins.
func (r *router) fetchPartitionMap(ctx context.Context) (*PartitionMap, error) {
	r.config.stats.recordRefresh()

	var candidates []string
	if m := r.pmap.Load(); m != nil {
		candidates = append(candidates, m.Nodes...)
	}
	for _, seed := range r.config.seeds {
		if !slices.Contains(candidates, seed) {
			candidates = append(candidates, seed)
		}
	}

	var errs []error
	for _, addr := range candidates {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		m, err := r.fetchFrom(ctx, addr)
		if errors.Is(err, errConfigUnsupported) {
			return nil, err
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		return m, nil
	}
	return nil, errors.Join(errs...)
}

// fetchFrom asks one node for the cluster config. Nodes of the current map
// are reached through their pool. Any other address, such as a seed the map
// dropped, gets a one-off connection so that no node is brought back.
func (r *router) fetchFrom(ctx context.Context, addr string) (*PartitionMap, error) {
	req := memd.NewRequest(memd.OpGetClusterConfig, nil, nil)

	var resp *memd.Packet
	n, err := r.routedNode(addr)
	switch {
	case err != nil:
		return nil, err
	case n != nil:
		resp, err = n.Execute(ctx, req)
	default:
		resp, err = r.dispatchOnce(ctx, addr, req)
	}
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case memd.StatusSuccess:
		return ParsePartitionMap(resp.Value)
	case memd.StatusUnknownCommand, memd.StatusNotSupported:
		return nil, errConfigUnsupported
	default:
		return nil, memd.NewStatusError(resp)
	}
}

// routedNode returns the node for addr when the current map references it,
// or when it was created before any map was installed. It returns nil for
// any other address.
func (r *router) routedNode(addr string) (*node, error) {
	if m := r.pmap.Load(); m != nil && slices.Contains(m.Nodes, addr) {
		return r.getOrCreateNode(addr)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClusterClosed
	}
	return r.nodes[addr], nil
}

func (r *router) dispatchOnce(ctx context.Context, addr string, req *memd.Packet) (*memd.Packet, error) {
	dialCtx := ctx
	if t := r.config.node.connectTimeout; t > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	conn, err := r.config.node.dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return conn.Dispatch(ctx, req)
}

// applyPartitionMap installs m if it is newer than the current map. Nodes
// the new map no longer references are drained in the background.
func (r *router) applyPartitionMap(m *PartitionMap) error {
	if m.NumPartitions() != r.config.numPartitions {
		return fmt.Errorf("memdoc: cluster config has %d partitions, expected %d", m.NumPartitions(), r.config.numPartitions)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClusterClosed
	}

	prev := r.pmap.Load()
	if prev != nil && m.Rev <= prev.Rev {
		r.mu.Unlock()
		r.logger.Debug("ignoring partition map", "rev", m.Rev, "current_rev", prev.Rev)
		return nil
	}
	r.pmap.Store(m)

	var retired []*node
	for addr, n := range r.nodes {
		if !slices.Contains(m.Nodes, addr) {
			retired = append(retired, n)
			delete(r.nodes, addr)
			r.retiring[n] = struct{}{}
		}
	}
	r.mu.Unlock()

	added, removed := diffNodes(prev, m)
	var prevRev int64
	if prev != nil {
		prevRev = prev.Rev
	}
	r.logger.Info("partition map updated",
		"rev", m.Rev,
		"prev_rev", prevRev,
		"nodes", len(m.Nodes),
		"added", added,
		"removed", removed,
		"moved_partitions", movedPartitions(prev, m),
	)

	for _, n := range retired {
		n.retire(r.config.retireTimeout, func() {
			r.mu.Lock()
			delete(r.retiring, n)
			r.mu.Unlock()
		})
	}
	return nil
}

// shutdown rejects new requests, drains every node, including nodes still
// retiring after a map change, and waits for in-flight requests until ctx
// is done. Whatever is left is failed with ErrShutdownForced. Returns the
// number of requests failed that way.
func (r *router) shutdown(ctx context.Context) int {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0
	}
	r.closed = true
	nodes := make([]*node, 0, len(r.nodes)+len(r.retiring))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	for n := range r.retiring {
		nodes = append(nodes, n)
	}
	r.nodes = make(map[string]*node)
	r.mu.Unlock()

	for _, n := range nodes {
		n.drain()
	}

	var waitErr error
	for _, n := range nodes {
		if waitErr = n.wait(ctx); waitErr != nil {
			break
		}
	}
	if waitErr == nil {
		return 0
	}

	failed := 0
	for _, n := range nodes {
		failed += n.forceClose(ErrShutdownForced)
	}
	return failed
}
