package memdoc

import (
	"sync"
	"testing"

	"github.com/pior/memdoc/memd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedResult struct {
	resp *memd.Packet
	err  error
}

func recorder() (pendingCallback, *[]recordedResult) {
	var mu sync.Mutex
	results := &[]recordedResult{}
	return func(resp *memd.Packet, err error) {
		mu.Lock()
		defer mu.Unlock()
		*results = append(*results, recordedResult{resp: resp, err: err})
	}, results
}

func TestPendingTable_RegisterResolve(t *testing.T) {
	table := newPendingTable()
	cb, results := recorder()

	require.NoError(t, table.register(7, cb))
	assert.Equal(t, 1, table.len())

	resp := &memd.Packet{Magic: memd.MagicRes, Opaque: 7}
	require.NoError(t, table.resolve(7, resp))

	require.Len(t, *results, 1)
	assert.Same(t, resp, (*results)[0].resp)
	assert.NoError(t, (*results)[0].err)
	assert.Equal(t, 0, table.len())
}

func TestPendingTable_DuplicateID(t *testing.T) {
	table := newPendingTable()
	first, firstResults := recorder()
	second, secondResults := recorder()

	require.NoError(t, table.register(1, first))
	require.ErrorIs(t, table.register(1, second), ErrDuplicateID)

	require.NoError(t, table.resolve(1, &memd.Packet{Opaque: 1}))
	assert.Len(t, *firstResults, 1, "original entry must not be overwritten")
	assert.Empty(t, *secondResults)
}

func TestPendingTable_ResolveUnknownIsHarmless(t *testing.T) {
	table := newPendingTable()
	cb, results := recorder()
	require.NoError(t, table.register(1, cb))

	// Never registered
	assert.ErrorIs(t, table.resolve(99, &memd.Packet{Opaque: 99}), ErrUnknownID)

	// Already resolved
	require.NoError(t, table.resolve(1, &memd.Packet{Opaque: 1}))
	assert.ErrorIs(t, table.resolve(1, &memd.Packet{Opaque: 1}), ErrUnknownID)

	// Timed out
	require.NoError(t, table.register(2, cb))
	assert.True(t, table.remove(2))
	assert.False(t, table.remove(2))
	assert.ErrorIs(t, table.resolve(2, &memd.Packet{Opaque: 2}), ErrUnknownID)

	assert.Len(t, *results, 1)
}

func TestPendingTable_FailAll(t *testing.T) {
	table := newPendingTable()
	cb, results := recorder()

	for i := range 5 {
		require.NoError(t, table.register(uint32(i), cb))
	}

	assert.Equal(t, 5, table.failAll(ErrConnectionLost))
	assert.Equal(t, 0, table.len())
	require.Len(t, *results, 5)
	for _, r := range *results {
		assert.Nil(t, r.resp)
		assert.ErrorIs(t, r.err, ErrConnectionLost)
	}

	// The table stays usable.
	require.NoError(t, table.register(1, cb))
	assert.Equal(t, 0, newPendingTable().failAll(ErrConnectionLost))
}

func TestPendingTable_ConcurrentRegisterResolve(t *testing.T) {
	table := newPendingTable()
	cb, results := recorder()

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			assert.NoError(t, table.register(id, cb))
			_ = table.resolve(id, &memd.Packet{Opaque: id})
		}(uint32(i))
	}
	wg.Wait()

	assert.Equal(t, 0, table.len())
	assert.Len(t, *results, 100)
}
