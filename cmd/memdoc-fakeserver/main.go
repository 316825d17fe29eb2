// Command memdoc-fakeserver runs an in-memory data node for local
// development. Several instances can form a cluster by sharing a node list.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pior/memdoc/internal/memdtest"
)

func main() {
	addr := flag.String("addr", envOrDefault("MEMDOC_FAKE_ADDR", "127.0.0.1:11210"), "listen address")
	nodes := flag.String("cluster", os.Getenv("MEMDOC_FAKE_CLUSTER"), "comma-separated addresses of every node, enables cluster config")
	partitions := flag.Int("partitions", 1024, "number of partitions in the cluster config")
	buckets := flag.String("buckets", "", "comma-separated bucket names accepted by SELECT_BUCKET (empty accepts any)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	srv, err := memdtest.Start(*addr)
	if err != nil {
		logger.Error("listen failed", "error", err)
		os.Exit(1)
	}

	if *buckets != "" {
		srv.SetBuckets(strings.Split(*buckets, ",")...)
	}

	if *nodes != "" {
		members := strings.Split(*nodes, ",")
		self := -1
		for i, m := range members {
			if m == srv.Addr() {
				self = i
			}
		}
		if self < 0 {
			logger.Error("listen address missing from cluster", "addr", srv.Addr(), "cluster", members)
			os.Exit(1)
		}

		owner := func(p int) int { return p % len(members) }
		srv.SetClusterConfig(memdtest.EncodeClusterConfig(1, members, *partitions, owner))
		srv.SetOwns(func(p uint16) bool { return owner(int(p)) == self })
	}

	logger.Info("serving", "addr", srv.Addr(), "cluster", *nodes)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down", "requests", srv.Requests())
	_ = srv.Close()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
