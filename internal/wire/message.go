package wire

import (
	"encoding/binary"
)

// MessageWriter accumulates the bytes of a single outgoing message before
// it is framed with a length prefix by Writer.Message. It never touches
// the network itself.
type MessageWriter struct {
	buf []byte
}

// U8 appends a single byte.
func (m *MessageWriter) U8(v uint8) *MessageWriter {
	m.buf = append(m.buf, v)
	return m
}

// I32 appends a big-endian 32-bit signed integer.
func (m *MessageWriter) I32(v int32) *MessageWriter {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	m.buf = append(m.buf, b[:]...)
	return m
}

// U53 appends v as a varint, panicking if v exceeds the 53-bit domain.
func (m *MessageWriter) U53(v uint64) *MessageWriter {
	m.buf = AppendU53(m.buf, v)
	return m
}

// U62 appends v as a varint using the full 62-bit domain.
func (m *MessageWriter) U62(v uint64) *MessageWriter {
	m.buf = AppendU62(m.buf, v)
	return m
}

// String appends a varint length prefix followed by the UTF-8 bytes of s.
func (m *MessageWriter) String(s string) *MessageWriter {
	m.buf = AppendU53(m.buf, uint64(len(s)))
	m.buf = append(m.buf, s...)
	return m
}

// Write appends raw bytes with no framing.
func (m *MessageWriter) Write(p []byte) *MessageWriter {
	m.buf = append(m.buf, p...)
	return m
}

// Bytes returns the accumulated message body.
func (m *MessageWriter) Bytes() []byte {
	return m.buf
}

// Len returns the number of bytes accumulated so far.
func (m *MessageWriter) Len() int {
	return len(m.buf)
}
