package memdoc

import (
	"context"

	"github.com/pior/memdoc/memd"
)

// Querier is the document API shared by Cluster and Commands.
type Querier interface {
	// Get returns the document stored under key, or ErrNotFound.
	Get(ctx context.Context, key string, opts ...Option) (Document, error)

	// Upsert stores value under key and returns the new version.
	// It is unconditional unless WithExpectedVersion is given.
	Upsert(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error)

	// Insert stores value only if key does not exist (ErrDocumentExists).
	Insert(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error)

	// Replace stores value only if key exists (ErrNotFound).
	Replace(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error)

	// Remove deletes the document stored under key.
	Remove(ctx context.Context, key string, opts ...Option) error
}

// Executor sends a request to the node owning its key.
type Executor interface {
	Execute(ctx context.Context, req *memd.Packet) (*memd.Packet, Route, error)

	// Refresh reloads the partition map after a request routed with map
	// revision observedRev was rejected by its node.
	Refresh(ctx context.Context, observedRev int64) error
}
