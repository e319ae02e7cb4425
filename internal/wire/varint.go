// Package wire implements the low-level byte-stream primitives shared by
// both MoQ dialects: QUIC-style varints, length-prefixed message framing,
// and string helpers. It knows nothing about broadcasts, tracks, or the
// control-message formats layered on top of it.
package wire

import (
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MaxU53 is the largest integer a u53 value may hold: JavaScript/wire
// callers that need "safe integer" semantics never see more than this.
const MaxU53 = (uint64(1) << 53) - 1

// ErrU53Overflow is returned by ReadU53 when the decoded varint exceeds
// the 53-bit safe-integer domain.
var ErrU53Overflow = errors.New("wire: varint exceeds 53-bit range")

// AppendU53 appends v as a QUIC varint. It panics if v exceeds MaxU53;
// callers constructing outgoing messages are expected to only ever pass
// values they derived from u53 arithmetic (sequence numbers, sizes, ids).
func AppendU53(buf []byte, v uint64) []byte {
	if v > MaxU53 {
		panic(fmt.Sprintf("wire: u53 value %d out of range", v))
	}
	return quicvarint.Append(buf, v)
}

// AppendU62 appends v as a QUIC varint using the full 62-bit domain.
func AppendU62(buf []byte, v uint64) []byte {
	return quicvarint.Append(buf, v)
}

// ReadU53 reads a QUIC varint from br and rejects values outside the
// 53-bit safe-integer domain.
func ReadU53(br io.ByteReader) (uint64, error) {
	v, err := quicvarint.Read(br)
	if err != nil {
		return 0, err
	}
	if v > MaxU53 {
		return 0, ErrU53Overflow
	}
	return v, nil
}

// ReadU62 reads a QUIC varint using the full 62-bit domain.
func ReadU62(br io.ByteReader) (uint64, error) {
	return quicvarint.Read(br)
}

// LenU62 returns the number of bytes AppendU62 would write for v — the
// minimum varint length class (1/2/4/8 bytes) that fits v.
func LenU62(v uint64) int {
	return quicvarint.Len(v)
}
