package memdoc

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Cluster is a connected client. It routes every document operation to the
// node owning the key's partition.
type Cluster struct {
	*Commands

	config Config
	router *router
	logger *slog.Logger

	healthCtx    context.Context
	stopHealth   context.CancelFunc
	healthDone   chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

var _ Querier = (*Cluster)(nil)

// Connect dials the seed nodes and loads the partition map.
//
// Nodes that cannot be reached are skipped as long as one of them answers.
// If none does, or no partition map can be built, Connect returns a
// *ConnectError. Servers without cluster config support are routed with a
// static map spreading partitions over the seed nodes.
func Connect(ctx context.Context, config Config) (*Cluster, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	logger := config.Logger

	stats := newClientStatsCollector()
	connConfig := ConnConfig{
		Bucket:        config.Bucket,
		MaxBodyLength: config.MaxBodyLength,
		Logger:        logger,
	}

	r := newRouter(routerConfig{
		seeds:          config.Nodes,
		numPartitions:  config.NumPartitions,
		refreshTimeout: config.OperationTimeout,
		retireTimeout:  config.ShutdownTimeout,
		logger:         logger,
		stats:          stats,
		node: nodeConfig{
			maxConns:       config.ConnectionsPerNode,
			connectTimeout: config.ConnectTimeout,
			dial: func(ctx context.Context, addr string) (*Connection, error) {
				return Dial(ctx, config.Dialer, addr, connConfig)
			},
			newBreaker: config.NewCircuitBreaker,
			logger:     logger,
		},
	})

	if err := bootstrap(ctx, r, config); err != nil {
		r.shutdown(ctx)
		return nil, &ConnectError{Nodes: config.Nodes, Err: err}
	}

	healthCtx, stopHealth := context.WithCancel(context.Background())
	c := &Cluster{
		Commands:   newCommands(r, config.OperationTimeout, stats),
		config:     config,
		router:     r,
		logger:     logger,
		healthCtx:  healthCtx,
		stopHealth: stopHealth,
		healthDone: make(chan struct{}),
	}

	// Start health check goroutine if enabled
	if config.HealthCheckInterval > 0 {
		go c.healthCheckLoop()
	} else {
		close(c.healthDone)
	}

	return c, nil
}

func bootstrap(ctx context.Context, r *router, config Config) error {
	var errs []error
	reachable := 0
	for _, addr := range config.Nodes {
		n, err := r.getOrCreateNode(addr)
		if err == nil {
			err = n.warm(ctx)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		reachable++
	}
	if reachable == 0 {
		return errors.Join(errs...)
	}
	if len(errs) > 0 {
		config.Logger.Warn("some seed nodes are unreachable", "error", errors.Join(errs...))
	}

	m, err := r.fetchPartitionMap(ctx)
	if errors.Is(err, errConfigUnsupported) {
		config.Logger.Info("cluster config not supported, using static partition map")
		m, err = StaticPartitionMap(config.Nodes, config.NumPartitions)
	}
	if err != nil {
		return err
	}
	return r.applyPartitionMap(m)
}

// Disconnect stops admitting operations, waits for in-flight requests to
// complete, then closes every connection. The wait is bounded by
// Config.ShutdownTimeout and by ctx; requests still pending then fail with
// ErrShutdownForced, and so does Disconnect.
//
// Operations issued after Disconnect fail with ErrClusterClosed.
// Calling Disconnect again returns the result of the first call.
func (c *Cluster) Disconnect(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		c.stopHealth()
		<-c.healthDone

		ctx, cancel := context.WithTimeout(ctx, c.config.ShutdownTimeout)
		defer cancel()

		if failed := c.router.shutdown(ctx); failed > 0 {
			c.shutdownErr = fmt.Errorf("%w: %d requests abandoned", ErrShutdownForced, failed)
			c.logger.Warn("disconnect forced", "failed_requests", failed)
			return
		}
		c.logger.Debug("disconnected")
	})
	return c.shutdownErr
}

// Ping sends a NOOP to every node of the partition map.
func (c *Cluster) Ping(ctx context.Context) error {
	m := c.router.PartitionMap()

	ctx, cancel := context.WithTimeout(ctx, c.config.OperationTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, addr := range m.Nodes {
		n, err := c.router.getOrCreateNode(addr)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := n.ping(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", addr, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// PartitionMap returns the partition map currently used for routing.
func (c *Cluster) PartitionMap() *PartitionMap {
	return c.router.PartitionMap()
}

// NodeStats returns the pool and circuit breaker stats of every node,
// sorted by address.
func (c *Cluster) NodeStats() []NodeStats {
	nodes := c.router.allNodes()

	stats := make([]NodeStats, 0, len(nodes))
	for _, n := range nodes {
		stats = append(stats, n.Stats())
	}
	slices.SortFunc(stats, func(a, b NodeStats) int {
		return cmp.Compare(a.Addr, b.Addr)
	})
	return stats
}

// healthCheckLoop periodically checks idle connections for health and lifecycle limits.
func (c *Cluster) healthCheckLoop() {
	defer close(c.healthDone)

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.healthCtx.Done():
			return
		case <-ticker.C:
			for _, n := range c.router.allNodes() {
				n.checkConnections(c.healthCtx, c.config.MaxConnLifetime, c.config.MaxConnIdleTime, c.config.OperationTimeout)
			}
		}
	}
}
