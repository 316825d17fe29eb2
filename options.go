package memdoc

import "time"

// Option customizes a single operation.
type Option func(*opOptions)

type opOptions struct {
	expectedVersion    uint64
	hasExpectedVersion bool
	format             Format
	expiry             time.Duration
	timeout            time.Duration
}

// WithExpectedVersion makes a mutation conditional on the stored version.
// The mutation fails with ErrVersionConflict if the versions differ.
// Without it, Upsert and Remove are unconditional.
func WithExpectedVersion(version uint64) Option {
	return func(o *opOptions) {
		o.expectedVersion = version
		o.hasExpectedVersion = true
	}
}

// WithFormat sets the format recorded with the value. Defaults to FormatJSON.
func WithFormat(format Format) Option {
	return func(o *opOptions) {
		o.format = format
	}
}

// WithExpiry sets the document expiry. Zero means the document never expires.
func WithExpiry(expiry time.Duration) Option {
	return func(o *opOptions) {
		o.expiry = expiry
	}
}

// WithTimeout overrides Config.OperationTimeout for one call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *opOptions) {
		o.timeout = timeout
	}
}

func collectOptions(opts []Option) opOptions {
	var o opOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// maxRelativeExpiry is the largest expiry the server interprets as relative;
// larger values are read as a unix timestamp.
const maxRelativeExpiry = 30 * 24 * time.Hour

func expiryField(d time.Duration, now time.Time) uint32 {
	if d <= 0 {
		return 0
	}
	if d <= maxRelativeExpiry {
		secs := uint32(d / time.Second)
		if secs == 0 {
			secs = 1
		}
		return secs
	}
	return uint32(now.Add(d).Unix())
}
