// Package memd implements the binary frame codec used to talk to
// document-store data nodes (the memcached binary protocol with the
// Couchbase extensions for partitions and cluster maps).
//
// Every frame is a 24-byte header followed by extras, key and value:
//
//	byte  0     magic (0x80 request, 0x81 response)
//	byte  1     opcode
//	bytes 2-3   key length
//	byte  4     extras length
//	byte  5     datatype
//	bytes 6-7   partition (request) / status (response)
//	bytes 8-11  total body length (extras + key + value)
//	bytes 12-15 opaque
//	bytes 16-23 CAS
//
// The package is transport agnostic: AppendPacket/Encode produce bytes and
// Decode consumes them from a caller-owned buffer, returning ErrIncomplete
// when more bytes are needed.
//
// Usage:
//
//	req := memd.NewRequest(memd.OpGet, []byte("doc-1"), nil)
//	req.Opaque = 42
//	frame, err := memd.Encode(req)
//
//	resp, n, err := memd.Decode(buf, memd.DefaultMaxBodyLength)
//	if errors.Is(err, memd.ErrIncomplete) {
//	    // read more
//	}
//	buf = buf[n:]
package memd
