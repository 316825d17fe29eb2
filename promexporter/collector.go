// Package promexporter exports memdoc client statistics to Prometheus.
package promexporter

import (
	"github.com/pior/memdoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Source is what the collector reads on every scrape. *memdoc.Cluster
// implements it.
type Source interface {
	Stats() memdoc.ClientStats
	NodeStats() []memdoc.NodeStats
}

// Collector is a prometheus.Collector reading a Source at scrape time.
type Collector struct {
	source Source

	operations   *prometheus.Desc
	getHits      *prometheus.Desc
	conflicts    *prometheus.Desc
	retries      *prometheus.Desc
	timeouts     *prometheus.Desc
	errors       *prometheus.Desc
	refreshes    *prometheus.Desc
	partitionRev *prometheus.Desc

	circuitState    *prometheus.Desc
	circuitRequests *prometheus.Desc
	circuitFailures *prometheus.Desc

	poolConnections *prometheus.Desc
	poolCreated     *prometheus.Desc
	poolDestroyed   *prometheus.Desc
	poolAcquires    *prometheus.Desc
	poolErrors      *prometheus.Desc
	inFlight        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for source. constLabels are added to
// every metric, e.g. to tell two clusters apart.
func NewCollector(source Source, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("memdoc_"+name, help, labels, constLabels)
	}

	return &Collector{
		source: source,

		operations:   desc("operations_total", "Total number of document operations", "op"),
		getHits:      desc("get_hits_total", "Get operations that found the document"),
		conflicts:    desc("version_conflicts_total", "Mutations rejected with a version conflict"),
		retries:      desc("retries_total", "Requests retried after a partition map refresh"),
		timeouts:     desc("timeouts_total", "Operations that timed out"),
		errors:       desc("errors_total", "Operations that failed for any other reason"),
		refreshes:    desc("partition_map_fetches_total", "Partition map fetches"),
		partitionRev: desc("partition_map_revision", "Revision of the partition map in use"),

		circuitState:    desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)", "server"),
		circuitRequests: desc("circuit_breaker_requests", "Number of requests tracked by circuit breaker", "server"),
		circuitFailures: desc("circuit_breaker_failures", "Circuit breaker failure counts", "server", "type"),

		poolConnections: desc("pool_connections", "Connection pool statistics", "server", "state"),
		poolCreated:     desc("pool_connections_created_total", "Total connections created", "server"),
		poolDestroyed:   desc("pool_connections_destroyed_total", "Total connections destroyed", "server"),
		poolAcquires:    desc("pool_acquires_total", "Total connection acquires", "server"),
		poolErrors:      desc("pool_acquire_errors_total", "Total canceled connection acquires", "server"),
		inFlight:        desc("requests_in_flight", "Requests awaiting a response", "server"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.operations, c.getHits, c.conflicts, c.retries, c.timeouts, c.errors, c.refreshes,
		c.circuitState, c.circuitRequests, c.circuitFailures,
		c.poolConnections, c.poolCreated, c.poolDestroyed, c.poolAcquires, c.poolErrors, c.inFlight,
	} {
		ch <- d
	}
	if _, ok := c.source.(partitionMapSource); ok {
		ch <- c.partitionRev
	}
}

type partitionMapSource interface {
	PartitionMap() *memdoc.PartitionMap
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Stats()

	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v, labels...)
	}

	counter(c.operations, s.Gets, "get")
	counter(c.operations, s.Upserts, "upsert")
	counter(c.operations, s.Inserts, "insert")
	counter(c.operations, s.Replaces, "replace")
	counter(c.operations, s.Removes, "remove")
	counter(c.getHits, s.GetHits)
	counter(c.conflicts, s.Conflicts)
	counter(c.retries, s.Retries)
	counter(c.timeouts, s.Timeouts)
	counter(c.errors, s.Errors)
	counter(c.refreshes, s.Refreshes)

	if pms, ok := c.source.(partitionMapSource); ok {
		if m := pms.PartitionMap(); m != nil {
			gauge(c.partitionRev, float64(m.Rev))
		}
	}

	for _, n := range c.source.NodeStats() {
		gauge(c.circuitState, circuitStateValue(n.CircuitBreakerState), n.Addr)
		gauge(c.circuitRequests, float64(n.CircuitBreakerCounts.Requests), n.Addr)
		gauge(c.circuitFailures, float64(n.CircuitBreakerCounts.TotalFailures), n.Addr, "total")
		gauge(c.circuitFailures, float64(n.CircuitBreakerCounts.ConsecutiveFailures), n.Addr, "consecutive")

		p := n.PoolStats
		gauge(c.poolConnections, float64(p.TotalConns), n.Addr, "total")
		gauge(c.poolConnections, float64(p.ActiveConns), n.Addr, "active")
		gauge(c.poolConnections, float64(p.IdleConns), n.Addr, "idle")
		counter(c.poolCreated, p.CreatedConns, n.Addr)
		counter(c.poolDestroyed, p.DestroyedConns, n.Addr)
		counter(c.poolAcquires, p.AcquireCount, n.Addr)
		counter(c.poolErrors, p.AcquireErrors, n.Addr)
		gauge(c.inFlight, float64(p.InFlight), n.Addr)
	}
}

func circuitStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
