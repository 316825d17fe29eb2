package memd

// Magic identifies the direction of a frame.
type Magic uint8

// OpCode is the one-byte command code of a frame.
type OpCode uint8

// Status is the two-byte status code carried by response frames.
type Status uint16

// Datatype is a bit set describing the value encoding.
type Datatype uint8

// Frame magics
const (
	MagicReq Magic = 0x80
	MagicRes Magic = 0x81
)

// HeaderSize is the fixed size of every frame header.
const HeaderSize = 24

// Protocol limits
const (
	// MaxKeyLength is the largest key the server accepts.
	MaxKeyLength = 250

	// MaxExtrasLength is bounded by the one-byte extras length field.
	MaxExtrasLength = 255

	// DefaultMaxBodyLength is the body size above which a frame is treated as
	// malformed when no explicit limit is configured (20MB, the server's
	// document limit plus headroom).
	DefaultMaxBodyLength = 20 * 1024 * 1024
)

// Command codes
//
// Request extras:
//   - OpSet, OpAdd, OpReplace: flags(4) expiry(4)
//   - all others: none
//
// Response extras:
//   - OpGet: flags(4)
//   - all others: none
const (
	// OpGet returns the value, the flags extras and the CAS of a document.
	OpGet OpCode = 0x00

	// OpSet stores unconditionally, or only if the CAS matches when the
	// request CAS is non-zero.
	OpSet OpCode = 0x01

	// OpAdd stores only if the key does not exist.
	OpAdd OpCode = 0x02

	// OpReplace stores only if the key exists (and the CAS matches, if given).
	OpReplace OpCode = 0x03

	// OpDelete removes a document, optionally guarded by CAS.
	OpDelete OpCode = 0x04

	// OpNoOp does nothing; used for health checks.
	OpNoOp OpCode = 0x0a

	// OpHello negotiates features. The key is the client agent string.
	OpHello OpCode = 0x1f

	// OpSelectBucket binds the connection to the bucket named by the key.
	OpSelectBucket OpCode = 0x89

	// OpGetClusterConfig returns the cluster map as JSON.
	OpGetClusterConfig OpCode = 0xb5
)

// Response status codes
const (
	StatusSuccess        Status = 0x00
	StatusKeyNotFound    Status = 0x01
	StatusKeyExists      Status = 0x02
	StatusTooBig         Status = 0x03
	StatusInvalidArgs    Status = 0x04
	StatusNotStored      Status = 0x05
	StatusNotMyVbucket   Status = 0x07
	StatusNoBucket       Status = 0x08
	StatusUnknownCommand Status = 0x81
	StatusOutOfMemory    Status = 0x82
	StatusNotSupported   Status = 0x83
	StatusInternalError  Status = 0x84
	StatusBusy           Status = 0x85
	StatusTmpFail        Status = 0x86
)

// Datatype bits
const (
	DatatypeRaw  Datatype = 0x00
	DatatypeJSON Datatype = 0x01
)

var opNames = map[OpCode]string{
	OpGet:              "GET",
	OpSet:              "SET",
	OpAdd:              "ADD",
	OpReplace:          "REPLACE",
	OpDelete:           "DELETE",
	OpNoOp:             "NOOP",
	OpHello:            "HELLO",
	OpSelectBucket:     "SELECT_BUCKET",
	OpGetClusterConfig: "GET_CLUSTER_CONFIG",
}

func (o OpCode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return "UNKNOWN"
}

var statusNames = map[Status]string{
	StatusSuccess:        "success",
	StatusKeyNotFound:    "key not found",
	StatusKeyExists:      "key exists",
	StatusTooBig:         "value too big",
	StatusInvalidArgs:    "invalid arguments",
	StatusNotStored:      "not stored",
	StatusNotMyVbucket:   "not my vbucket",
	StatusNoBucket:       "no bucket",
	StatusUnknownCommand: "unknown command",
	StatusOutOfMemory:    "out of memory",
	StatusNotSupported:   "not supported",
	StatusInternalError:  "internal error",
	StatusBusy:           "busy",
	StatusTmpFail:        "temporary failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown status"
}
