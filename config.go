package memdoc

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/pior/memdoc/memd"
	"github.com/sony/gobreaker/v2"
)

// Default configuration values.
const (
	DefaultOperationTimeout = 2500 * time.Millisecond
	DefaultConnectTimeout   = 5 * time.Second
	DefaultShutdownTimeout  = 5 * time.Second
	DefaultNumPartitions    = 1024
)

// Config holds the configuration of a Cluster.
type Config struct {
	// Nodes are the seed node addresses ("host:port").
	// Required: at least one.
	Nodes []string

	// Bucket is selected on every connection. Empty skips bucket selection.
	Bucket string

	// OperationTimeout bounds every operation unless the caller's context
	// expires first. Default: 2.5s.
	OperationTimeout time.Duration

	// ConnectTimeout bounds dialing and handshaking one connection.
	// Default: 5s.
	ConnectTimeout time.Duration

	// ShutdownTimeout bounds how long Disconnect waits for in-flight requests.
	// Default: 5s.
	ShutdownTimeout time.Duration

	// NumPartitions is the number of partitions keys are hashed into. It must
	// match the cluster config served by the nodes. Default: 1024.
	NumPartitions int

	// MaxBodyLength bounds the body of response frames. Larger frames close
	// the connection. Zero means memd.DefaultMaxBodyLength.
	MaxBodyLength int

	// ConnectionsPerNode is the number of multiplexed connections per node.
	// Default: 1.
	ConnectionsPerNode int32

	// MaxConnLifetime is the maximum duration a connection can be reused.
	// Zero means no limit.
	MaxConnLifetime time.Duration

	// MaxConnIdleTime is the maximum duration a connection can be idle before being closed.
	// Zero means no limit.
	MaxConnIdleTime time.Duration

	// HealthCheckInterval is how often idle connections are checked with a NOOP.
	// Zero disables health checks.
	HealthCheckInterval time.Duration

	// Dialer is the net.Dialer used to create new connections.
	// If nil, the default net.Dialer is used.
	Dialer *net.Dialer

	// NewCircuitBreaker creates a circuit breaker for a node.
	// Called once per node address when the node is first used.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(nodeAddr string) *gobreaker.CircuitBreaker[*memd.Packet]

	// Logger receives connection and topology events. If nil, nothing is logged.
	Logger *slog.Logger
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Nodes) == 0 {
		return c, errors.New("memdoc: no nodes provided")
	}
	if c.NumPartitions == 0 {
		c.NumPartitions = DefaultNumPartitions
	}
	if c.NumPartitions < 0 || c.NumPartitions > MaxPartitions {
		return c, fmt.Errorf("memdoc: invalid NumPartitions %d", c.NumPartitions)
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.ConnectionsPerNode == 0 {
		c.ConnectionsPerNode = 1
	}
	if c.ConnectionsPerNode < 0 {
		return c, fmt.Errorf("memdoc: invalid ConnectionsPerNode %d", c.ConnectionsPerNode)
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{}
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}
