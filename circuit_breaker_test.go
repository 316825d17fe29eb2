package memdoc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/pior/memdoc/memd"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Second, time.Second)("node1:11210")
	require.NotNil(t, cb)

	assert.Equal(t, "node1:11210", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_Execute_Success(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Second, time.Second)("test")

	result, err := cb.Execute(func() (*memd.Packet, error) {
		return &memd.Packet{Magic: memd.MagicRes, Status: memd.StatusSuccess}, nil
	})

	require.NoError(t, err)
	assert.True(t, result.IsSuccess())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_TripsOnTransportFailures(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	for range 3 {
		_, err := cb.Execute(func() (*memd.Packet, error) {
			return nil, fmt.Errorf("%w: boom", ErrConnectionLost)
		})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (*memd.Packet, error) {
		t.Fatal("must not be called while open")
		return nil, nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestCircuitBreaker_IgnoresApplicationErrors(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	statusErr := memd.NewStatusError(&memd.Packet{
		Magic:  memd.MagicRes,
		OpCode: memd.OpGet,
		Status: memd.StatusKeyNotFound,
	})

	for range 10 {
		_, err := cb.Execute(func() (*memd.Packet, error) {
			return nil, statusErr
		})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Counts().TotalFailures)
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreakerConfig(1, time.Minute, time.Minute)("test")

	for range 5 {
		_, _ = cb.Execute(func() (*memd.Packet, error) {
			return nil, context.Canceled
		})
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestIsBreakerSuccess(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), true},
		{"status", &memd.StatusError{Status: memd.StatusTmpFail}, true},
		{"timeout", ErrTimeout, false},
		{"connection lost", ErrConnectionLost, false},
		{"other", errors.New("dial refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isBreakerSuccess(tt.err))
		})
	}
}

func TestCircuitBreakerState_String(t *testing.T) {
	tests := []struct {
		state    gobreaker.State
		expected string
	}{
		{gobreaker.StateClosed, "closed"},
		{gobreaker.StateHalfOpen, "half-open"},
		{gobreaker.StateOpen, "open"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}
