package memdoc

import (
	"context"
	"sync"
	"testing"

	"github.com/pior/memdoc/internal/memdtest"
	"github.com/pior/memdoc/memd"
	"github.com/stretchr/testify/require"
)

func startServer(t testing.TB) *memdtest.Server {
	t.Helper()
	srv, err := memdtest.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func connectCluster(t testing.TB, config Config) *Cluster {
	t.Helper()
	c, err := Connect(context.Background(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

// serveConfig makes every server hand out the same cluster config, with
// every partition owned by nodes[owner].
func serveConfig(rev int64, numPartitions, owner int, servers ...*memdtest.Server) {
	nodes := make([]string, len(servers))
	for i, s := range servers {
		nodes[i] = s.Addr()
	}
	config := memdtest.EncodeClusterConfig(rev, nodes, numPartitions, func(int) int { return owner })
	for _, s := range servers {
		s.SetClusterConfig(config)
	}
}

func rejectAllPartitions(partition uint16) bool {
	return false
}

// fakeExecutor answers requests with handler and records what it saw.
type fakeExecutor struct {
	handler func(req *memd.Packet) (*memd.Packet, error)

	mu         sync.Mutex
	requests   []memd.Packet
	rev        int64
	refreshes  []int64
	refreshErr error
}

func (f *fakeExecutor) Execute(ctx context.Context, req *memd.Packet) (*memd.Packet, Route, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	route := Route{Rev: f.rev, Node: "fake:11210"}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, route, err
	}

	resp, err := f.handler(req)
	if resp != nil {
		resp.Magic = memd.MagicRes
		resp.OpCode = req.OpCode
	}
	return resp, route, err
}

func (f *fakeExecutor) Refresh(ctx context.Context, observedRev int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes = append(f.refreshes, observedRev)
	if f.refreshErr != nil {
		return f.refreshErr
	}
	f.rev++
	return nil
}

func (f *fakeExecutor) sent() []memd.Packet {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]memd.Packet(nil), f.requests...)
}

func respondStatus(status memd.Status) func(*memd.Packet) (*memd.Packet, error) {
	return func(*memd.Packet) (*memd.Packet, error) {
		return &memd.Packet{Status: status}, nil
	}
}
