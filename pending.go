package memdoc

import (
	"sync"

	"github.com/pior/memdoc/memd"
)

// pendingCallback receives the outcome of one request: either the correlated
// response or the error that invalidated it. It is invoked exactly once.
type pendingCallback func(resp *memd.Packet, err error)

// pendingTable correlates in-flight requests with their responses by opaque id.
// register races with resolve (reader goroutine) and remove (caller timeouts),
// so every access goes through mu. Callbacks run outside the lock.
type pendingTable struct {
	mu      sync.Mutex
	entries map[uint32]pendingCallback
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[uint32]pendingCallback),
	}
}

// register adds an entry. An id that is still outstanding is rejected with
// ErrDuplicateID and the existing entry is left untouched.
func (t *pendingTable) register(opaque uint32, cb pendingCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[opaque]; exists {
		return ErrDuplicateID
	}
	t.entries[opaque] = cb
	return nil
}

// resolve hands resp to the entry registered under its opaque id and removes
// the entry. Returns ErrUnknownID if no such entry exists (already resolved,
// timed out, or never registered).
func (t *pendingTable) resolve(opaque uint32, resp *memd.Packet) error {
	t.mu.Lock()
	cb, exists := t.entries[opaque]
	if exists {
		delete(t.entries, opaque)
	}
	t.mu.Unlock()

	if !exists {
		return ErrUnknownID
	}
	cb(resp, nil)
	return nil
}

// remove drops an entry without invoking its callback.
// Returns false if the entry was already gone.
func (t *pendingTable) remove(opaque uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[opaque]; !exists {
		return false
	}
	delete(t.entries, opaque)
	return true
}

// failAll empties the table and fails every entry with err.
// Returns the number of entries failed.
func (t *pendingTable) failAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[uint32]pendingCallback)
	t.mu.Unlock()

	for _, cb := range entries {
		cb(nil, err)
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
