// Package coarsetime provides a clock that is refreshed every 10ms by a
// background goroutine. Reading it costs an atomic load instead of a
// time.Now call, which matters on paths that run once per decoded frame.
package coarsetime

import (
	"sync/atomic"
	"time"
)

const tick = 10 * time.Millisecond

var now atomic.Int64

func init() {
	now.Store(time.Now().UnixNano())

	ticker := time.NewTicker(tick)
	go func() {
		for t := range ticker.C {
			now.Store(t.UnixNano())
		}
	}()
}

// Now returns the current time with a resolution of about 10ms.
func Now() time.Time {
	return time.Unix(0, now.Load())
}

// UnixNano returns Now as nanoseconds since the epoch.
func UnixNano() int64 {
	return now.Load()
}

// Since returns the coarse time elapsed since t.
func Since(t time.Time) time.Duration {
	return time.Duration(now.Load() - t.UnixNano())
}
