package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pior/memdoc"
)

// client is the part of *memdoc.Cluster the REPL drives.
type client interface {
	memdoc.Querier
	Ping(ctx context.Context) error
	Stats() memdoc.ClientStats
	NodeStats() []memdoc.NodeStats
	PartitionMap() *memdoc.PartitionMap
}

func main() {
	nodes := flag.String("nodes", envOrDefault("MEMDOC_NODES", "127.0.0.1:11210"), "comma-separated seed nodes")
	bucket := flag.String("bucket", envOrDefault("MEMDOC_BUCKET", ""), "bucket to select")
	timeout := flag.Duration("timeout", memdoc.DefaultOperationTimeout, "operation timeout")
	verbose := flag.Bool("v", false, "log client events to stderr")
	flag.Parse()

	logger := slog.New(slog.DiscardHandler)
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx := context.Background()
	cluster, err := memdoc.Connect(ctx, memdoc.Config{
		Nodes:            strings.Split(*nodes, ","),
		Bucket:           *bucket,
		OperationTimeout: *timeout,
		Logger:           logger,
	})
	if err != nil {
		fmt.Printf("Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := cluster.Disconnect(ctx); err != nil {
			fmt.Printf("Disconnect: %v\n", err)
		}
	}()

	fmt.Println("memdoc CLI")
	fmt.Println("==========")
	fmt.Println("Commands: get, upsert, insert, replace, remove, map, stats, ping, help, quit")
	fmt.Println()

	if err := repl(ctx, os.Stdin, os.Stdout, cluster); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func repl(ctx context.Context, in io.Reader, out io.Writer, c client) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}

		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		if quit := execute(ctx, out, c, strings.ToLower(parts[0]), parts[1:]); quit {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
	}
	return scanner.Err()
}

// execute runs one command line. It returns true when the user asked to quit.
func execute(ctx context.Context, out io.Writer, c client, command string, args []string) bool {
	switch command {
	case "get":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: get <key>")
			return false
		}
		handleGet(ctx, out, c, args[0])

	case "upsert", "set", "insert", "add", "replace":
		if len(args) < 2 || len(args) > 3 {
			fmt.Fprintf(out, "Usage: %s <key> <value> [version]\n", command)
			return false
		}
		opts, ok := versionOption(out, args[2:])
		if !ok {
			return false
		}
		handleStore(ctx, out, c, command, args[0], args[1], opts)

	case "remove", "delete", "del":
		if len(args) < 1 || len(args) > 2 {
			fmt.Fprintln(out, "Usage: remove <key> [version]")
			return false
		}
		opts, ok := versionOption(out, args[1:])
		if !ok {
			return false
		}
		handleRemove(ctx, out, c, args[0], opts)

	case "map":
		handleMap(out, c)

	case "stats":
		handleStats(out, c)

	case "ping":
		handlePing(ctx, out, c)

	case "help":
		fmt.Fprintln(out, "Commands:")
		fmt.Fprintln(out, "  get <key>                          - Get a document")
		fmt.Fprintln(out, "  upsert <key> <value> [version]     - Store a document, optionally only if unchanged")
		fmt.Fprintln(out, "  insert <key> <value>               - Create a document that must not exist")
		fmt.Fprintln(out, "  replace <key> <value> [version]    - Overwrite an existing document")
		fmt.Fprintln(out, "  remove <key> [version]             - Delete a document")
		fmt.Fprintln(out, "  map                                - Show the partition map")
		fmt.Fprintln(out, "  stats                              - Show client and node statistics")
		fmt.Fprintln(out, "  ping                               - Ping all nodes")
		fmt.Fprintln(out, "  quit                               - Exit the CLI")

	case "quit", "exit":
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s. Type 'help' for available commands.\n", command)
	}
	return false
}

func versionOption(out io.Writer, args []string) ([]memdoc.Option, bool) {
	if len(args) == 0 {
		return nil, true
	}
	version, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(out, "Invalid version: %v\n", err)
		return nil, false
	}
	return []memdoc.Option{memdoc.WithExpectedVersion(version)}, true
}

func handleGet(ctx context.Context, out io.Writer, c client, key string) {
	start := time.Now()
	doc, err := c.Get(ctx, key)
	duration := time.Since(start)

	if errors.Is(err, memdoc.ErrNotFound) {
		fmt.Fprintf(out, "Key not found (took %v)\n", duration)
		return
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}

	fmt.Fprintf(out, "Value: %s (took %v)\n", doc.Value, duration)
	fmt.Fprintf(out, "Version: %d Format: %s\n", doc.Version, doc.Format)
}

func handleStore(ctx context.Context, out io.Writer, c client, command, key, value string, opts []memdoc.Option) {
	store := c.Upsert
	switch command {
	case "insert", "add":
		store = c.Insert
	case "replace":
		store = c.Replace
	}

	format := memdoc.FormatString
	if json.Valid([]byte(value)) {
		format = memdoc.FormatJSON
	}
	opts = append(opts, memdoc.WithFormat(format))

	start := time.Now()
	version, err := store(ctx, key, []byte(value), opts...)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Fprintf(out, "Stored version %d (took %v)\n", version, duration)
}

func handleRemove(ctx context.Context, out io.Writer, c client, key string, opts []memdoc.Option) {
	start := time.Now()
	err := c.Remove(ctx, key, opts...)
	duration := time.Since(start)

	if errors.Is(err, memdoc.ErrNotFound) {
		fmt.Fprintf(out, "Key not found (took %v)\n", duration)
		return
	}
	if err != nil {
		fmt.Fprintf(out, "Error: %v (took %v)\n", err, duration)
		return
	}
	fmt.Fprintf(out, "Delete successful (took %v)\n", duration)
}

func handleMap(out io.Writer, c client) {
	m := c.PartitionMap()
	if m == nil {
		fmt.Fprintln(out, "No partition map")
		return
	}

	fmt.Fprintf(out, "Revision %d, %d partitions\n", m.Rev, m.NumPartitions())
	counts := m.PartitionsOf()
	for _, addr := range m.Nodes {
		fmt.Fprintf(out, "  %s: %d partitions\n", addr, counts[addr])
	}
}

func handleStats(out io.Writer, c client) {
	s := c.Stats()
	fmt.Fprintln(out, "Client Statistics:")
	fmt.Fprintf(out, "  Gets: %d (hits %d)\n", s.Gets, s.GetHits)
	fmt.Fprintf(out, "  Upserts: %d Inserts: %d Replaces: %d Removes: %d\n", s.Upserts, s.Inserts, s.Replaces, s.Removes)
	fmt.Fprintf(out, "  Conflicts: %d Retries: %d Timeouts: %d Errors: %d\n", s.Conflicts, s.Retries, s.Timeouts, s.Errors)
	fmt.Fprintf(out, "  Partition map fetches: %d\n", s.Refreshes)
	fmt.Fprintln(out)

	for i, n := range c.NodeStats() {
		fmt.Fprintf(out, "Node %d (%s):\n", i+1, n.Addr)
		fmt.Fprintf(out, "  Total Connections: %d\n", n.PoolStats.TotalConns)
		fmt.Fprintf(out, "  Active Connections: %d\n", n.PoolStats.ActiveConns)
		fmt.Fprintf(out, "  Total In-Flight: %d\n", n.PoolStats.InFlight)
		fmt.Fprintf(out, "  Circuit Breaker: %s\n", n.CircuitBreakerState)
		fmt.Fprintln(out)
	}
}

func handlePing(ctx context.Context, out io.Writer, c client) {
	start := time.Now()
	err := c.Ping(ctx)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(out, "Ping failed: %v (took %v)\n", err, duration)
		return
	}
	fmt.Fprintf(out, "Ping successful (took %v)\n", duration)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
