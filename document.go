package memdoc

import (
	"fmt"

	"github.com/pior/memdoc/memd"
)

// Format describes how a document value is encoded.
type Format uint8

const (
	FormatJSON Format = iota
	FormatBinary
	FormatString
)

// Common flags stored in the high byte of the 4-byte flags extras.
// These are the values other SDKs write, so documents are readable across clients.
const (
	commonFlagsMask   uint32 = 0xff000000
	commonFlagsJSON   uint32 = 0x02 << 24
	commonFlagsBinary uint32 = 0x03 << 24
	commonFlagsString uint32 = 0x04 << 24
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatBinary:
		return "binary"
	case FormatString:
		return "string"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseFormat parses the names returned by Format.String.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "json":
		return FormatJSON, nil
	case "binary":
		return FormatBinary, nil
	case "string":
		return FormatString, nil
	default:
		return 0, fmt.Errorf("memdoc: unknown format %q", s)
	}
}

func (f Format) flags() uint32 {
	switch f {
	case FormatBinary:
		return commonFlagsBinary
	case FormatString:
		return commonFlagsString
	default:
		return commonFlagsJSON
	}
}

func (f Format) datatype() memd.Datatype {
	if f == FormatJSON {
		return memd.DatatypeJSON
	}
	return memd.DatatypeRaw
}

// formatFromFlags maps stored flags back to a Format.
// Legacy documents written with zero flags are treated as JSON.
func formatFromFlags(flags uint32) Format {
	switch flags & commonFlagsMask {
	case commonFlagsJSON, 0:
		return FormatJSON
	case commonFlagsString:
		return FormatString
	default:
		return FormatBinary
	}
}

// Document is a stored value with its version token.
type Document struct {
	Key    string
	Value  []byte
	Format Format

	// Version is the CAS assigned by the server on the last mutation.
	// It matches the returned Value.
	Version uint64
}
