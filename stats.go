package memdoc

import (
	"sync/atomic"

	"github.com/sony/gobreaker/v2"
)

// PoolStats contains statistics about the connection pool of one node.
//
// For Prometheus integration, expose these as:
//   - Gauges: TotalConns, IdleConns, ActiveConns, InFlight
//   - Counters: AcquireCount, AcquireWaitCount, CreatedConns, DestroyedConns, AcquireErrors
type PoolStats struct {
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait for a connection
	CreatedConns      uint64 // Total connections created
	DestroyedConns    uint64 // Total connections destroyed
	AcquireErrors     uint64 // Canceled acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	TotalConns  int32 // Connections in the pool (acquired + idle + constructing)
	IdleConns   int32 // Connections not currently enqueuing a request
	ActiveConns int32 // Connections currently enqueuing a request
	InFlight    int32 // Requests awaiting a response on any connection of the node
}

// NodeStats contains the stats of one data node.
type NodeStats struct {
	Addr                 string
	PoolStats            PoolStats
	CircuitBreakerState  gobreaker.State
	CircuitBreakerCounts gobreaker.Counts
}

// ClientStats contains statistics about document operations.
// All fields are safe for concurrent access.
//
// For Prometheus integration, expose these as counters; derive the hit rate
// as GetHits/Gets.
type ClientStats struct {
	Gets      uint64 // Total Get operations
	GetHits   uint64 // Get operations that found the document
	Upserts   uint64 // Successful Upsert operations
	Inserts   uint64 // Successful Insert operations
	Replaces  uint64 // Successful Replace operations
	Removes   uint64 // Successful Remove operations
	Conflicts uint64 // Mutations rejected with a version conflict
	Retries   uint64 // Requests retried after a partition map refresh
	Timeouts  uint64 // Operations that timed out
	Errors    uint64 // Operations that failed for any other reason
	Refreshes uint64 // Partition map fetches
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - the cluster updates its own stats.
type clientStatsCollector struct {
	stats *ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{
		stats: &ClientStats{},
	}
}

func (c *clientStatsCollector) recordGet(found bool) {
	atomic.AddUint64(&c.stats.Gets, 1)
	if found {
		atomic.AddUint64(&c.stats.GetHits, 1)
	}
}

func (c *clientStatsCollector) recordUpsert() {
	atomic.AddUint64(&c.stats.Upserts, 1)
}

func (c *clientStatsCollector) recordInsert() {
	atomic.AddUint64(&c.stats.Inserts, 1)
}

func (c *clientStatsCollector) recordReplace() {
	atomic.AddUint64(&c.stats.Replaces, 1)
}

func (c *clientStatsCollector) recordRemove() {
	atomic.AddUint64(&c.stats.Removes, 1)
}

func (c *clientStatsCollector) recordConflict() {
	atomic.AddUint64(&c.stats.Conflicts, 1)
}

func (c *clientStatsCollector) recordRetry() {
	atomic.AddUint64(&c.stats.Retries, 1)
}

func (c *clientStatsCollector) recordTimeout() {
	atomic.AddUint64(&c.stats.Timeouts, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) recordRefresh() {
	atomic.AddUint64(&c.stats.Refreshes, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:      atomic.LoadUint64(&c.stats.Gets),
		GetHits:   atomic.LoadUint64(&c.stats.GetHits),
		Upserts:   atomic.LoadUint64(&c.stats.Upserts),
		Inserts:   atomic.LoadUint64(&c.stats.Inserts),
		Replaces:  atomic.LoadUint64(&c.stats.Replaces),
		Removes:   atomic.LoadUint64(&c.stats.Removes),
		Conflicts: atomic.LoadUint64(&c.stats.Conflicts),
		Retries:   atomic.LoadUint64(&c.stats.Retries),
		Timeouts:  atomic.LoadUint64(&c.stats.Timeouts),
		Errors:    atomic.LoadUint64(&c.stats.Errors),
		Refreshes: atomic.LoadUint64(&c.stats.Refreshes),
	}
}
