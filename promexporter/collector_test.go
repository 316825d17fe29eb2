package promexporter

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pior/memdoc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	stats memdoc.ClientStats
	nodes []memdoc.NodeStats
}

func (f *fakeSource) Stats() memdoc.ClientStats      { return f.stats }
func (f *fakeSource) NodeStats() []memdoc.NodeStats { return f.nodes }

type fakeClusterSource struct {
	fakeSource
	pmap *memdoc.PartitionMap
}

func (f *fakeClusterSource) PartitionMap() *memdoc.PartitionMap { return f.pmap }

func newFakeSource() *fakeSource {
	return &fakeSource{
		stats: memdoc.ClientStats{
			Gets:      10,
			GetHits:   7,
			Upserts:   4,
			Conflicts: 2,
			Retries:   1,
			Refreshes: 3,
		},
		nodes: []memdoc.NodeStats{
			{
				Addr: "10.0.0.1:11210",
				PoolStats: memdoc.PoolStats{
					TotalConns:   2,
					IdleConns:    1,
					ActiveConns:  1,
					InFlight:     5,
					CreatedConns: 3,
				},
				CircuitBreakerState:  gobreaker.StateOpen,
				CircuitBreakerCounts: gobreaker.Counts{Requests: 9, TotalFailures: 6, ConsecutiveFailures: 4},
			},
		},
	}
}

func TestCollector_ClientStats(t *testing.T) {
	c := NewCollector(newFakeSource(), nil)

	expected := `
# HELP memdoc_operations_total Total number of document operations
# TYPE memdoc_operations_total counter
memdoc_operations_total{op="get"} 10
memdoc_operations_total{op="insert"} 0
memdoc_operations_total{op="remove"} 0
memdoc_operations_total{op="replace"} 0
memdoc_operations_total{op="upsert"} 4
# HELP memdoc_get_hits_total Get operations that found the document
# TYPE memdoc_get_hits_total counter
memdoc_get_hits_total 7
# HELP memdoc_version_conflicts_total Mutations rejected with a version conflict
# TYPE memdoc_version_conflicts_total counter
memdoc_version_conflicts_total 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"memdoc_operations_total", "memdoc_get_hits_total", "memdoc_version_conflicts_total")
	require.NoError(t, err)
}

func TestCollector_NodeStats(t *testing.T) {
	c := NewCollector(newFakeSource(), prometheus.Labels{"cluster": "main"})

	expected := `
# HELP memdoc_circuit_breaker_state Circuit breaker state (0=closed, 1=half-open, 2=open)
# TYPE memdoc_circuit_breaker_state gauge
memdoc_circuit_breaker_state{cluster="main",server="10.0.0.1:11210"} 2
# HELP memdoc_circuit_breaker_failures Circuit breaker failure counts
# TYPE memdoc_circuit_breaker_failures gauge
memdoc_circuit_breaker_failures{cluster="main",server="10.0.0.1:11210",type="consecutive"} 4
memdoc_circuit_breaker_failures{cluster="main",server="10.0.0.1:11210",type="total"} 6
# HELP memdoc_pool_connections Connection pool statistics
# TYPE memdoc_pool_connections gauge
memdoc_pool_connections{cluster="main",server="10.0.0.1:11210",state="active"} 1
memdoc_pool_connections{cluster="main",server="10.0.0.1:11210",state="idle"} 1
memdoc_pool_connections{cluster="main",server="10.0.0.1:11210",state="total"} 2
# HELP memdoc_requests_in_flight Requests awaiting a response
# TYPE memdoc_requests_in_flight gauge
memdoc_requests_in_flight{cluster="main",server="10.0.0.1:11210"} 5
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"memdoc_circuit_breaker_state", "memdoc_circuit_breaker_failures",
		"memdoc_pool_connections", "memdoc_requests_in_flight")
	require.NoError(t, err)
}

func TestCollector_PartitionMapRevision(t *testing.T) {
	src := &fakeClusterSource{
		fakeSource: *newFakeSource(),
		pmap:       &memdoc.PartitionMap{Rev: 42, Nodes: []string{"a:1"}, Owners: []int{0}},
	}
	c := NewCollector(src, nil)

	assert.Equal(t, 1, testutil.CollectAndCount(c, "memdoc_partition_map_revision"))
	assert.Equal(t, 0, testutil.CollectAndCount(NewCollector(newFakeSource(), nil), "memdoc_partition_map_revision"))

	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(`
# HELP memdoc_partition_map_revision Revision of the partition map in use
# TYPE memdoc_partition_map_revision gauge
memdoc_partition_map_revision 42
`), "memdoc_partition_map_revision"))
}

func TestCollector_Lint(t *testing.T) {
	problems, err := testutil.CollectAndLint(NewCollector(newFakeSource(), nil))
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestExporter_Handler(t *testing.T) {
	e := NewExporter(newFakeSource())

	srv := httptest.NewServer(e.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `memdoc_operations_total{op="get"} 10`)
	assert.Contains(t, string(body), "go_goroutines")
}
