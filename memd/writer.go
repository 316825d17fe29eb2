package memd

import (
	"encoding/binary"
	"io"
	"strconv"
)

// AppendPacket appends the wire form of p to dst.
//
// The frame is written as a request if p.Magic is MagicReq (Partition in
// bytes 6-7) and as a response if p.Magic is MagicRes (Status in bytes 6-7).
// A zero Magic is encoded as a request.
func AppendPacket(dst []byte, p *Packet) ([]byte, error) {
	if len(p.Key) > MaxKeyLength {
		return dst, &ProtocolError{Message: "key length " + strconv.Itoa(len(p.Key)) + " exceeds " + strconv.Itoa(MaxKeyLength)}
	}
	if len(p.Extras) > MaxExtrasLength {
		return dst, &ProtocolError{Message: "extras length " + strconv.Itoa(len(p.Extras)) + " exceeds " + strconv.Itoa(MaxExtrasLength)}
	}

	magic := p.Magic
	if magic == 0 {
		magic = MagicReq
	}

	var hdr [HeaderSize]byte
	hdr[0] = byte(magic)
	hdr[1] = byte(p.OpCode)
	binary.BigEndian.PutUint16(hdr[2:4], uint16(len(p.Key)))
	hdr[4] = byte(len(p.Extras))
	hdr[5] = byte(p.Datatype)
	if magic == MagicRes {
		binary.BigEndian.PutUint16(hdr[6:8], uint16(p.Status))
	} else {
		binary.BigEndian.PutUint16(hdr[6:8], p.Partition)
	}
	binary.BigEndian.PutUint32(hdr[8:12], uint32(p.BodyLength()))
	binary.BigEndian.PutUint32(hdr[12:16], p.Opaque)
	binary.BigEndian.PutUint64(hdr[16:24], p.CAS)

	dst = append(dst, hdr[:]...)
	dst = append(dst, p.Extras...)
	dst = append(dst, p.Key...)
	dst = append(dst, p.Value...)
	return dst, nil
}

// Encode returns the wire form of p in a new buffer.
func Encode(p *Packet) ([]byte, error) {
	return AppendPacket(make([]byte, 0, HeaderSize+p.BodyLength()), p)
}

// WritePacket encodes p and writes it to w in a single call.
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := Encode(p)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}
	return nil
}
