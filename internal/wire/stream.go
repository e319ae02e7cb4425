package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"sync"
)

// MaxMessageSize bounds a single framed message to guard against runaway
// allocation from a hostile or corrupt peer.
const MaxMessageSize = 64 << 20 // 64 MiB

// ErrMessageTooLarge is returned when a message's declared length exceeds
// MaxMessageSize.
var ErrMessageTooLarge = errors.New("wire: message exceeds maximum size")

// ErrUnderconsumed is returned by Reader.Message when the callback reads
// fewer bytes than the message's declared length.
var ErrUnderconsumed = errors.New("wire: message callback underconsumed payload")

// byteReader is satisfied by both *bufio.Reader and the internal limited
// sub-reader used while decoding a framed message.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// Writer wraps a duplex byte stream with the MoQ wire encoding helpers.
// It is safe for concurrent use: every public method that touches the
// underlying stream serializes through a mutex, matching the control
// stream's "writer lock" requirement when a stream is shared by multiple
// goroutines.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(p)
	return err
}

// U8 writes a single byte.
func (w *Writer) U8(v uint8) error {
	return w.write([]byte{v})
}

// I32 writes a big-endian 32-bit signed integer.
func (w *Writer) I32(v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return w.write(b[:])
}

// U53 writes v as a varint, panicking if v exceeds the 53-bit domain.
func (w *Writer) U53(v uint64) error {
	return w.write(AppendU53(nil, v))
}

// U62 writes v as a varint using the full 62-bit domain.
func (w *Writer) U62(v uint64) error {
	return w.write(AppendU62(nil, v))
}

// String writes a varint length prefix followed by the UTF-8 bytes of s.
func (w *Writer) String(s string) error {
	buf := AppendU53(nil, uint64(len(s)))
	buf = append(buf, s...)
	return w.write(buf)
}

// Write writes raw bytes with no framing, in a single underlying Write call.
func (w *Writer) Write(p []byte) error {
	return w.write(p)
}

// Message buffers f's output into a scratch MessageWriter, then writes a
// varint length prefix followed by exactly those bytes as one underlying
// Write call — never the scratch buffer's spare capacity.
func (w *Writer) Message(f func(*MessageWriter)) error {
	var m MessageWriter
	f(&m)
	body := m.Bytes()
	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge
	}
	framed := AppendU53(nil, uint64(len(body)))
	framed = append(framed, body...)
	return w.write(framed)
}

// Reader wraps a duplex byte stream with the MoQ wire decoding helpers.
type Reader struct {
	br byteReader

	// raw is non-nil only on a top-level Reader (not one handed to a
	// Message callback); it lets MessageMaybe peek for EOF.
	raw *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	br := bufio.NewReader(r)
	return &Reader{br: br, raw: br}
}

// U8 reads a single byte.
func (r *Reader) U8() (uint8, error) {
	return r.br.ReadByte()
}

// I32 reads a big-endian 32-bit signed integer.
func (r *Reader) I32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.br, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

// U53 reads a varint and rejects values outside the 53-bit safe-integer domain.
func (r *Reader) U53() (uint64, error) {
	return ReadU53(r.br)
}

// U62 reads a varint using the full 62-bit domain.
func (r *Reader) U62() (uint64, error) {
	return ReadU62(r.br)
}

// String reads a varint length prefix followed by that many UTF-8 bytes.
func (r *Reader) String() (string, error) {
	n, err := r.U53()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Read fills p exactly, as io.ReadFull would.
func (r *Reader) Read(p []byte) (int, error) {
	return io.ReadFull(r.br, p)
}

// Message reads a varint length, lends f a byte-limited sub-Reader, and
// fails with ErrUnderconsumed if f reads fewer bytes than declared. f may
// read more than the message contains: any such read observes io.EOF-style
// errors from the limited sub-reader rather than spilling into the next
// message on the stream.
func (r *Reader) Message(f func(*Reader) error) error {
	length, err := r.U62()
	if err != nil {
		return err
	}
	if length > MaxMessageSize {
		return ErrMessageTooLarge
	}
	remain := int64(length)
	sub := &Reader{br: &limitedReader{br: r.br, remain: &remain}}
	if err := f(sub); err != nil {
		return err
	}
	if remain > 0 {
		return ErrUnderconsumed
	}
	return nil
}

// MessageMaybe behaves like Message, but returns ok=false (with a nil
// error) if the stream is already at EOF before any bytes of a new
// message have been read. It is only valid on a top-level Reader (one
// returned by NewReader, not one handed to a Message callback).
func (r *Reader) MessageMaybe(f func(*Reader) error) (ok bool, err error) {
	if r.raw == nil {
		return false, errors.New("wire: MessageMaybe called on a nested reader")
	}
	if _, err := r.raw.Peek(1); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	if err := r.Message(f); err != nil {
		return false, err
	}
	return true, nil
}

// limitedReader enforces a shared byte budget across reads, so a nested
// Message's sub-Reader can never consume bytes belonging to the next
// message on the same stream.
type limitedReader struct {
	br     byteReader
	remain *int64
}

func (l *limitedReader) ReadByte() (byte, error) {
	if *l.remain <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b, err := l.br.ReadByte()
	if err != nil {
		return 0, err
	}
	*l.remain--
	return b, nil
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if *l.remain <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	if int64(len(p)) > *l.remain {
		p = p[:*l.remain]
	}
	n, err := io.ReadFull(l.br, p)
	*l.remain -= int64(n)
	return n, err
}
