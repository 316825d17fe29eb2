// Package bufpool recycles the byte slices frames are encoded into between
// the sender and the connection writer goroutine.
package bufpool

import "sync"

// Pool hands out *[]byte with at least the configured capacity.
// Slices that grew past maxRetained are dropped instead of being pooled.
type Pool struct {
	pool        sync.Pool
	maxRetained int
}

func New(initialSize, maxRetained int) *Pool {
	return &Pool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, 0, initialSize)
				return &b
			},
		},
		maxRetained: maxRetained,
	}
}

// Get returns an empty slice.
func (p *Pool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool.
func (p *Pool) Put(b *[]byte) {
	if cap(*b) > p.maxRetained {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}
