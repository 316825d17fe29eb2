package memdoc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pior/memdoc/memd"
)

// Commands provides the document operations on top of an Executor.
// It can be used independently with a custom Executor, or through Cluster
// which embeds it.
type Commands struct {
	executor Executor
	timeout  time.Duration
	stats    *clientStatsCollector
}

var _ Querier = (*Commands)(nil)

// NewCommands creates a Commands using executor. Every operation is bounded by
// timeout unless the caller's context expires first or WithTimeout is given.
// A zero timeout leaves operations bounded by the context only.
func NewCommands(executor Executor, timeout time.Duration) *Commands {
	return newCommands(executor, timeout, newClientStatsCollector())
}

func newCommands(executor Executor, timeout time.Duration, stats *clientStatsCollector) *Commands {
	return &Commands{
		executor: executor,
		timeout:  timeout,
		stats:    stats,
	}
}

// Get retrieves a document.
func (c *Commands) Get(ctx context.Context, key string, opts ...Option) (Document, error) {
	if err := validateKey(key); err != nil {
		return Document{}, err
	}
	o := collectOptions(opts)

	req := memd.NewRequest(memd.OpGet, []byte(key), nil)
	resp, err := c.execute(ctx, req, o.timeout)
	if err != nil {
		return Document{}, err
	}

	switch resp.Status {
	case memd.StatusSuccess:
	case memd.StatusKeyNotFound:
		c.stats.recordGet(false)
		return Document{}, ErrNotFound
	default:
		return Document{}, c.unexpected(resp)
	}

	c.stats.recordGet(true)
	flags, _ := resp.Flags()
	return Document{
		Key:     key,
		Value:   resp.Value,
		Format:  formatFromFlags(flags),
		Version: resp.CAS,
	}, nil
}

// Upsert stores a document, creating or overwriting it.
//
// With WithExpectedVersion the write only happens if the stored version
// matches: a different version fails with ErrVersionConflict, a missing
// document with an error matching both ErrVersionConflict and ErrNotFound.
func (c *Commands) Upsert(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error) {
	version, err := c.store(ctx, memd.OpSet, key, value, opts)
	if err == nil {
		c.stats.recordUpsert()
	}
	return version, err
}

// Insert stores a document only if the key does not exist yet.
// WithExpectedVersion is ignored.
func (c *Commands) Insert(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error) {
	version, err := c.store(ctx, memd.OpAdd, key, value, opts)
	if err == nil {
		c.stats.recordInsert()
	}
	return version, err
}

// Replace stores a document only if the key already exists.
func (c *Commands) Replace(ctx context.Context, key string, value []byte, opts ...Option) (uint64, error) {
	version, err := c.store(ctx, memd.OpReplace, key, value, opts)
	if err == nil {
		c.stats.recordReplace()
	}
	return version, err
}

func (c *Commands) store(ctx context.Context, op memd.OpCode, key string, value []byte, opts []Option) (uint64, error) {
	if err := validateKey(key); err != nil {
		return 0, err
	}
	o := collectOptions(opts)
	if op == memd.OpAdd {
		o.expectedVersion, o.hasExpectedVersion = 0, false
	}

	// Version 0 is never assigned by the server, no document can match it.
	if o.hasExpectedVersion && o.expectedVersion == 0 {
		c.stats.recordConflict()
		return 0, fmt.Errorf("%w: expected version 0", ErrVersionConflict)
	}

	req := memd.NewRequest(op, []byte(key), value)
	req.Extras = memd.StoreExtras(o.format.flags(), expiryField(o.expiry, time.Now()))
	req.Datatype = o.format.datatype()
	req.CAS = o.expectedVersion

	resp, err := c.execute(ctx, req, o.timeout)
	if err != nil {
		return 0, err
	}

	switch resp.Status {
	case memd.StatusSuccess:
		return resp.CAS, nil

	case memd.StatusKeyExists:
		if op == memd.OpAdd {
			return 0, ErrDocumentExists
		}
		c.stats.recordConflict()
		return 0, ErrVersionConflict

	case memd.StatusKeyNotFound:
		if o.hasExpectedVersion {
			c.stats.recordConflict()
			return 0, fmt.Errorf("%w: %w", ErrVersionConflict, ErrNotFound)
		}
		return 0, ErrNotFound

	case memd.StatusNotStored:
		// Older servers answer a failed add/replace with NOT_STORED.
		if op == memd.OpAdd {
			return 0, ErrDocumentExists
		}
		return 0, ErrNotFound

	default:
		return 0, c.unexpected(resp)
	}
}

// Remove deletes a document. With WithExpectedVersion it only deletes the
// version the caller last saw.
func (c *Commands) Remove(ctx context.Context, key string, opts ...Option) error {
	if err := validateKey(key); err != nil {
		return err
	}
	o := collectOptions(opts)

	if o.hasExpectedVersion && o.expectedVersion == 0 {
		c.stats.recordConflict()
		return fmt.Errorf("%w: expected version 0", ErrVersionConflict)
	}

	req := memd.NewRequest(memd.OpDelete, []byte(key), nil)
	req.CAS = o.expectedVersion

	resp, err := c.execute(ctx, req, o.timeout)
	if err != nil {
		return err
	}

	switch resp.Status {
	case memd.StatusSuccess:
		c.stats.recordRemove()
		return nil
	case memd.StatusKeyNotFound:
		return ErrNotFound
	case memd.StatusKeyExists:
		c.stats.recordConflict()
		return ErrVersionConflict
	default:
		return c.unexpected(resp)
	}
}

// Stats returns a snapshot of operation statistics.
func (c *Commands) Stats() ClientStats {
	return c.stats.snapshot()
}

// execute sends req within the operation timeout. A NOT_MY_VBUCKET answer
// triggers one partition map refresh and one retry; application statuses
// are returned to the caller untouched.
func (c *Commands) execute(ctx context.Context, req *memd.Packet, timeout time.Duration) (*memd.Packet, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, route, err := c.executor.Execute(ctx, req)
	if err != nil {
		return nil, c.failed(err)
	}
	if resp.Status != memd.StatusNotMyVbucket {
		return resp, nil
	}

	c.stats.recordRetry()
	if err := c.executor.Refresh(ctx, route.Rev); err != nil {
		if isTimeout(err) {
			return nil, c.failed(err)
		}
		c.stats.recordError()
		return nil, fmt.Errorf("%w: refresh after partition %d moved: %w", ErrTopologyUnstable, route.Partition, err)
	}

	resp, retryRoute, err := c.executor.Execute(ctx, req)
	if err != nil {
		return nil, c.failed(err)
	}
	if resp.Status == memd.StatusNotMyVbucket {
		c.stats.recordError()
		return nil, fmt.Errorf("%w: partition %d rejected by %s (map rev %d)", ErrTopologyUnstable, retryRoute.Partition, retryRoute.Node, retryRoute.Rev)
	}
	return resp, nil
}

// failed classifies a transport error and records it.
func (c *Commands) failed(err error) error {
	if isTimeout(err) {
		c.stats.recordTimeout()
		if !errors.Is(err, ErrTimeout) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return err
	}
	c.stats.recordError()
	return err
}

func (c *Commands) unexpected(resp *memd.Packet) error {
	c.stats.recordError()
	return memd.NewStatusError(resp)
}

func isTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func validateKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > memd.MaxKeyLength {
		return fmt.Errorf("%w: key length %d exceeds %d", ErrInvalidKey, len(key), memd.MaxKeyLength)
	}
	return nil
}
