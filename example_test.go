package memdoc_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pior/memdoc"
	"github.com/pior/memdoc/internal/memdtest"
	"github.com/pior/memdoc/memd"
	"github.com/sony/gobreaker/v2"
)

func Example() {
	srv, _ := memdtest.Start("127.0.0.1:0")
	defer srv.Close()

	ctx := context.Background()

	cluster, err := memdoc.Connect(ctx, memdoc.Config{Nodes: []string{srv.Addr()}})
	if err != nil {
		fmt.Println("connect:", err)
		return
	}
	defer cluster.Disconnect(ctx)

	version, _ := cluster.Upsert(ctx, "user:123", []byte(`{"name":"John"}`))

	doc, _ := cluster.Get(ctx, "user:123")
	fmt.Printf("%s (%s)\n", doc.Value, doc.Format)

	// Update only if nobody wrote in between.
	_, err = cluster.Upsert(ctx, "user:123", []byte(`{"name":"Jane"}`), memdoc.WithExpectedVersion(version))
	fmt.Println("first update:", err)

	_, err = cluster.Upsert(ctx, "user:123", []byte(`{"name":"Jack"}`), memdoc.WithExpectedVersion(version))
	fmt.Println("stale update conflicts:", errors.Is(err, memdoc.ErrVersionConflict))

	// Output:
	// {"name":"John"} (json)
	// first update: <nil>
	// stale update conflicts: true
}

// Example demonstrating how to use circuit breakers with the cluster
func ExampleConfig_circuitBreaker() {
	cluster, err := memdoc.Connect(context.Background(), memdoc.Config{
		Nodes: []string{"localhost:11210", "localhost:11211"},
		NewCircuitBreaker: func(addr string) *gobreaker.CircuitBreaker[*memd.Packet] {
			return gobreaker.NewCircuitBreaker[*memd.Packet](gobreaker.Settings{
				Name:        addr,
				MaxRequests: 3,                // maxRequests in half-open state
				Interval:    time.Minute,      // interval to reset failure counts
				Timeout:     10 * time.Second, // timeout before transitioning to half-open
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
					return counts.Requests >= 10 && failureRatio >= 0.6
				},
				OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
					fmt.Printf("Circuit breaker %s: %s -> %s\n", name, from, to)
				},
			})
		},
	})
	if err != nil {
		fmt.Println("connect:", err)
		return
	}
	defer cluster.Disconnect(context.Background())

	// Check circuit breaker states
	for _, node := range cluster.NodeStats() {
		fmt.Printf("Node: %s\n", node.Addr)
		fmt.Printf("  Circuit Breaker: %s\n", node.CircuitBreakerState)
		fmt.Printf("  Total Connections: %d\n", node.PoolStats.TotalConns)
		fmt.Printf("  In-Flight: %d\n", node.PoolStats.InFlight)
	}
}

func Example_stats() {
	srv, _ := memdtest.Start("127.0.0.1:0")
	defer srv.Close()

	ctx := context.Background()
	cluster, _ := memdoc.Connect(ctx, memdoc.Config{Nodes: []string{srv.Addr()}})
	defer cluster.Disconnect(ctx)

	_, _ = cluster.Get(ctx, "missing")
	_, _ = cluster.Upsert(ctx, "present", []byte("1"), memdoc.WithFormat(memdoc.FormatString))
	_, _ = cluster.Get(ctx, "present")

	stats := cluster.Stats()
	fmt.Printf("gets=%d hits=%d upserts=%d\n", stats.Gets, stats.GetHits, stats.Upserts)

	// Output:
	// gets=2 hits=1 upserts=1
}
