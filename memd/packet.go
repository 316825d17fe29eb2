package memd

import "encoding/binary"

// Packet is a single request or response frame.
// Requests carry Partition, responses carry Status; the two share the same
// header bytes on the wire.
type Packet struct {
	Magic     Magic
	OpCode    OpCode
	Datatype  Datatype
	Partition uint16 // requests only
	Status    Status // responses only
	Opaque    uint32
	CAS       uint64
	Extras    []byte
	Key       []byte
	Value     []byte
}

// NewRequest creates a request frame for the given command.
func NewRequest(op OpCode, key []byte, value []byte) *Packet {
	return &Packet{
		Magic:  MagicReq,
		OpCode: op,
		Key:    key,
		Value:  value,
	}
}

// IsResponse reports whether the packet travels server to client.
func (p *Packet) IsResponse() bool {
	return p.Magic == MagicRes
}

// IsSuccess reports whether a response carries StatusSuccess.
func (p *Packet) IsSuccess() bool {
	return p.Status == StatusSuccess
}

// BodyLength is the number of bytes following the header.
func (p *Packet) BodyLength() int {
	return len(p.Extras) + len(p.Key) + len(p.Value)
}

// StoreExtras builds the flags/expiry extras used by OpSet, OpAdd and OpReplace.
func StoreExtras(flags uint32, expiry uint32) []byte {
	extras := make([]byte, 8)
	binary.BigEndian.PutUint32(extras[0:4], flags)
	binary.BigEndian.PutUint32(extras[4:8], expiry)
	return extras
}

// Flags returns the flags word from the extras of a get response or a store
// request. ok is false if the extras are too short.
func (p *Packet) Flags() (flags uint32, ok bool) {
	if len(p.Extras) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(p.Extras[0:4]), true
}
