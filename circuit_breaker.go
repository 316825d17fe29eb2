package memdoc

import (
	"context"
	"errors"
	"time"

	"github.com/pior/memdoc/memd"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that creates circuit breakers for nodes.
// This is a helper for common use cases; assign it to Config.NewCircuitBreaker.
//
// The breaker trips when at least 60% of 3 or more requests in the interval
// failed at the transport level. Server status responses (not found, version
// conflict, not my partition...) and caller cancellations are successes from
// the breaker's point of view.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[*memd.Packet] {
	return func(nodeAddr string) *gobreaker.CircuitBreaker[*memd.Packet] {
		settings := gobreaker.Settings{
			Name:        nodeAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: isBreakerSuccess,
		}
		return gobreaker.NewCircuitBreaker[*memd.Packet](settings)
	}
}

func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *memd.StatusError
	return errors.As(err, &statusErr)
}
