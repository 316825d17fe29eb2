package memd

import (
	"encoding/binary"
	"strconv"
)

// Decode parses one frame from the start of buf.
//
// Returns the packet and the number of bytes it occupied. If buf does not yet
// hold a full frame, Decode returns ErrIncomplete and consumes nothing; the
// caller keeps the buffered bytes and retries after the next read.
//
// A declared body longer than maxBody (DefaultMaxBodyLength if maxBody <= 0),
// an unknown magic byte, or key/extras lengths that do not fit in the body
// fail with *ProtocolError. The connection must be closed in that case.
//
// Extras, Key and Value of the returned packet are copies and remain valid
// after buf is reused.
func Decode(buf []byte, maxBody int) (*Packet, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyLength
	}

	magic := Magic(buf[0])
	if magic != MagicReq && magic != MagicRes {
		return nil, 0, &ProtocolError{Message: "invalid magic 0x" + strconv.FormatUint(uint64(buf[0]), 16)}
	}

	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))
	extLen := int(buf[4])
	bodyLen := binary.BigEndian.Uint32(buf[8:12])

	// Validated before waiting for the body.
	if uint64(bodyLen) > uint64(maxBody) {
		return nil, 0, &ProtocolError{Message: "body length " + strconv.FormatUint(uint64(bodyLen), 10) + " exceeds maximum " + strconv.Itoa(maxBody)}
	}
	if keyLen+extLen > int(bodyLen) {
		return nil, 0, &ProtocolError{Message: "key and extras exceed body length"}
	}

	total := HeaderSize + int(bodyLen)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}

	p := &Packet{
		Magic:    magic,
		OpCode:   OpCode(buf[1]),
		Datatype: Datatype(buf[5]),
		Opaque:   binary.BigEndian.Uint32(buf[12:16]),
		CAS:      binary.BigEndian.Uint64(buf[16:24]),
	}
	if magic == MagicRes {
		p.Status = Status(binary.BigEndian.Uint16(buf[6:8]))
	} else {
		p.Partition = binary.BigEndian.Uint16(buf[6:8])
	}

	body := buf[HeaderSize:total]
	if extLen > 0 {
		p.Extras = append([]byte(nil), body[:extLen]...)
	}
	if keyLen > 0 {
		p.Key = append([]byte(nil), body[extLen:extLen+keyLen]...)
	}
	if valueLen := len(body) - extLen - keyLen; valueLen > 0 {
		p.Value = append([]byte(nil), body[extLen+keyLen:]...)
	}

	return p, total, nil
}
