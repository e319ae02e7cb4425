// Package wsquic emulates a QUIC-like multiplexed session over a single
// WebSocket connection: the fallback half of session.Connect's dial race
// (spec §2.6, §4.6), used when WebTransport itself is unavailable or
// loses the head-start race. It is grounded on the teacher pack's
// WebSocket usage (vinq1911-nonchalant's internal/svc/wsflv, a
// server-side websocket.Upgrader/Conn pair) adapted to the client side
// and generalized from "one connection, one media stream" to "one
// connection, many multiplexed logical streams," each tagged with a
// frame-type byte and a varint stream id.
package wsquic

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/moqlite/moqlite/internal/transport"
	"github.com/moqlite/moqlite/internal/wire"
)

// Options configures a WebSocket tunnel dial, mirroring spec §6's
// `websocket` configuration block's dialer-relevant fields.
type Options struct {
	// Header is sent with the WebSocket upgrade request.
	Header http.Header
}

// Dial opens a WebSocket connection to u and wraps it as a
// transport.Session. u's scheme must already be ws:// or wss://; the
// http(s)-to-ws(s) scheme rewrite is session.Connect's responsibility.
func Dial(ctx context.Context, u *url.URL, opts Options) (transport.Session, error) {
	dialer := websocket.Dialer{}
	conn, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsquic: dial %s: %w (status %s)", u, err, resp.Status)
		}
		return nil, fmt.Errorf("wsquic: dial %s: %w", u, err)
	}
	return newSession(conn, true), nil
}

// Frame types. Every WebSocket binary message is one frame: a type byte
// followed by a varint stream id and, for data frames, the payload.
const (
	frameOpenBidi     = 0x00
	frameOpenUni      = 0x01
	frameData         = 0x02
	frameFin          = 0x03
	frameReset        = 0x04
	frameStopSending  = 0x05
	frameSessionClose = 0x06
)

// session multiplexes logical bidi/uni streams over one *websocket.Conn.
// Stream ids follow QUIC's four-class convention (low two bits encode
// initiator and directionality) so both sides allocate ids without
// coordinating: client bidi 0 mod 4, server bidi 1, client uni 2,
// server uni 3.
type session struct {
	conn     *websocket.Conn
	isClient bool

	writeMu sync.Mutex

	mu         sync.Mutex
	streams    map[uint64]*wsStream
	nextBidiID uint64
	nextUniID  uint64

	acceptBidi chan *wsStream
	acceptUni  chan *wsStream

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(conn *websocket.Conn, isClient bool) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:       conn,
		isClient:   isClient,
		streams:    make(map[uint64]*wsStream),
		acceptBidi: make(chan *wsStream, 16),
		acceptUni:  make(chan *wsStream, 16),
		ctx:        ctx,
		cancel:     cancel,
	}
	if isClient {
		s.nextBidiID, s.nextUniID = 0, 2
	} else {
		s.nextBidiID, s.nextUniID = 1, 3
	}
	go s.readLoop()
	return s
}

func (s *session) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	s.mu.Lock()
	id := s.nextBidiID
	s.nextBidiID += 4
	st := newWSStream(s, id, true, true)
	s.streams[id] = st
	s.mu.Unlock()

	if err := s.writeFrame(frameOpenBidi, id, nil); err != nil {
		return nil, fmt.Errorf("wsquic: open bidi stream: %w", err)
	}
	return st, nil
}

func (s *session) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	s.mu.Lock()
	id := s.nextUniID
	s.nextUniID += 4
	st := newWSStream(s, id, false, true)
	s.streams[id] = st
	s.mu.Unlock()

	if err := s.writeFrame(frameOpenUni, id, nil); err != nil {
		return nil, fmt.Errorf("wsquic: open uni stream: %w", err)
	}
	return st, nil
}

func (s *session) AcceptStream(ctx context.Context) (transport.Stream, error) {
	select {
	case st := <-s.acceptBidi:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, io.ErrClosedPipe
	}
}

func (s *session) AcceptUniStream(ctx context.Context) (transport.ReceiveStream, error) {
	select {
	case st := <-s.acceptUni:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, io.ErrClosedPipe
	}
}

func (s *session) CloseWithError(code uint64, reason string) error {
	var payload [8]byte
	binary.BigEndian.PutUint64(payload[:], code)
	_ = s.writeFrame(frameSessionClose, 0, payload[:])
	s.cancel()
	return s.conn.Close()
}

func (s *session) Context() context.Context { return s.ctx }

// writeFrame serializes one frame as a single WebSocket binary message:
// a type byte, a varint stream id, then raw payload, so message
// boundaries double as frame boundaries and no length prefix is needed.
func (s *session) writeFrame(typ byte, id uint64, payload []byte) error {
	var buf bytes.Buffer
	buf.WriteByte(typ)
	buf.Write(wire.AppendU62(nil, id))
	buf.Write(payload)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (s *session) readLoop() {
	defer s.cancel()
	for {
		typ, r, err := s.conn.NextReader()
		if err != nil {
			s.abortAll(err)
			return
		}
		if typ != websocket.BinaryMessage {
			continue
		}
		if err := s.dispatch(r); err != nil {
			s.abortAll(err)
			return
		}
	}
}

// dispatch parses one complete WebSocket message (already delimited by
// gorilla's reader) into a frame. The message is read fully into memory
// first and parsed with a bytes.Reader rather than wire.Reader's
// bufio-backed decoder: bufio would prefetch past the varint id into its
// own internal buffer, and the remaining payload bytes would then be
// stranded there instead of reachable from the underlying reader.
func (s *session) dispatch(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("wsquic: empty frame")
	}
	frameType := data[0]
	if frameType == frameSessionClose {
		return io.EOF
	}

	rest := bytes.NewReader(data[1:])
	id, err := wire.ReadU62(rest)
	if err != nil {
		return err
	}
	payload := data[len(data)-rest.Len():]

	switch frameType {
	case frameOpenBidi:
		st := newWSStream(s, id, true, true)
		s.mu.Lock()
		s.streams[id] = st
		s.mu.Unlock()
		select {
		case s.acceptBidi <- st:
		case <-s.ctx.Done():
		}
	case frameOpenUni:
		st := newWSStream(s, id, true, false)
		s.mu.Lock()
		s.streams[id] = st
		s.mu.Unlock()
		select {
		case s.acceptUni <- st:
		case <-s.ctx.Done():
		}
	case frameData:
		if st := s.lookup(id); st != nil {
			st.pushData(payload)
		}
	case frameFin:
		if st := s.lookup(id); st != nil {
			st.pushEOF()
		}
	case frameReset:
		if st := s.lookup(id); st != nil {
			code, _ := wire.ReadU62(bytes.NewReader(payload))
			st.pushReset(code)
		}
	case frameStopSending:
		if st := s.lookup(id); st != nil {
			code, _ := wire.ReadU62(bytes.NewReader(payload))
			st.stopSending(code)
		}
	default:
		return fmt.Errorf("wsquic: unknown frame type %#x", frameType)
	}
	return nil
}

func (s *session) lookup(id uint64) *wsStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id]
}

func (s *session) abortAll(err error) {
	s.mu.Lock()
	streams := make([]*wsStream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()
	for _, st := range streams {
		st.pushAbort(err)
	}
}

// wsStream is one multiplexed logical stream: reads are served from an
// internal buffer fed by the session's single read loop, writes go
// straight out as data frames serialized by the session's write mutex.
type wsStream struct {
	sess      *session
	id        uint64
	canRead   bool
	canWrite  bool
	writeDone atomic.Bool

	readMu  sync.Mutex
	readBuf bytes.Buffer
	readErr error
	readCh  chan struct{}
}

func newWSStream(sess *session, id uint64, canRead, canWrite bool) *wsStream {
	return &wsStream{sess: sess, id: id, canRead: canRead, canWrite: canWrite, readCh: make(chan struct{}, 1)}
}

func (s *wsStream) wake() {
	select {
	case s.readCh <- struct{}{}:
	default:
	}
}

func (s *wsStream) pushData(b []byte) {
	s.readMu.Lock()
	if s.readErr == nil {
		s.readBuf.Write(b)
	}
	s.readMu.Unlock()
	s.wake()
}

func (s *wsStream) pushEOF() {
	s.readMu.Lock()
	if s.readErr == nil {
		s.readErr = io.EOF
	}
	s.readMu.Unlock()
	s.wake()
}

func (s *wsStream) pushReset(code uint64) {
	s.readMu.Lock()
	if s.readErr == nil {
		s.readErr = fmt.Errorf("wsquic: stream reset by peer, code %d", code)
	}
	s.readMu.Unlock()
	s.wake()
}

func (s *wsStream) pushAbort(err error) {
	s.readMu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.readMu.Unlock()
	s.wake()
}

func (s *wsStream) stopSending(code uint64) {
	s.writeDone.Store(true)
}

func (s *wsStream) Read(p []byte) (int, error) {
	if !s.canRead {
		return 0, fmt.Errorf("wsquic: stream %d is send-only", s.id)
	}
	for {
		s.readMu.Lock()
		if s.readBuf.Len() > 0 {
			n, _ := s.readBuf.Read(p)
			s.readMu.Unlock()
			return n, nil
		}
		if s.readErr != nil {
			err := s.readErr
			s.readMu.Unlock()
			return 0, err
		}
		s.readMu.Unlock()
		<-s.readCh
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if !s.canWrite {
		return 0, fmt.Errorf("wsquic: stream %d is receive-only", s.id)
	}
	if s.writeDone.Load() {
		return 0, fmt.Errorf("wsquic: stream %d write side closed", s.id)
	}
	const maxChunk = 16 << 10
	total := 0
	for len(p) > 0 {
		n := len(p)
		if n > maxChunk {
			n = maxChunk
		}
		if err := s.sess.writeFrame(frameData, s.id, p[:n]); err != nil {
			return total, err
		}
		total += n
		p = p[n:]
	}
	return total, nil
}

func (s *wsStream) Close() error {
	s.writeDone.Store(true)
	return s.sess.writeFrame(frameFin, s.id, nil)
}

func (s *wsStream) CancelWrite(code uint64) {
	s.writeDone.Store(true)
	payload := wire.AppendU62(nil, code)
	_ = s.sess.writeFrame(frameReset, s.id, payload)
}

func (s *wsStream) CancelRead(code uint64) {
	s.readMu.Lock()
	if s.readErr == nil {
		s.readErr = fmt.Errorf("wsquic: local read cancel, code %d", code)
	}
	s.readMu.Unlock()
	s.wake()
	payload := wire.AppendU62(nil, code)
	_ = s.sess.writeFrame(frameStopSending, s.id, payload)
}
