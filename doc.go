// Package memdoc is a client for a partitioned document store speaking the
// memcached binary protocol with cluster extensions.
//
// Connect dials the seed nodes and loads the partition map. Every key hashes
// to a partition, and every partition is owned by one node:
//
//	cluster, err := memdoc.Connect(ctx, memdoc.Config{Nodes: []string{"10.0.0.1:11210"}})
//	if err != nil {
//		return err
//	}
//	defer cluster.Disconnect(ctx)
//
//	version, err := cluster.Upsert(ctx, "user:1", []byte(`{"name":"a"}`))
//	doc, err := cluster.Get(ctx, "user:1")
//
// Each mutation returns the new version of the document. Passing it back with
// WithExpectedVersion makes the next mutation conditional: it fails with
// ErrVersionConflict if the document changed in between.
//
// Requests to a node are multiplexed over a few connections and correlated by
// opaque id, so any number of operations can be in flight at once. When a
// node answers that it no longer owns a partition, the client reloads the
// partition map once and retries the request once.
package memdoc
